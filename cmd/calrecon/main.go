package main

import (
	"os"

	"calrecon/internal/cli"
	appLog "calrecon/internal/log"
)

var version = "dev"

func main() {
	cli.SetVersion(version)

	if err := cli.Execute(); err != nil {
		appLog.Error("calrecon failed", err)
		os.Exit(1)
	}
}
