// Package cli implements the calrecon command line.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	memoryMode bool
	listenAddr string
)

// rootCmd is the root command for calrecon.
var rootCmd = &cobra.Command{
	Use:     "calrecon",
	Version: "dev",
	Short:   "Reconcile app reservations with a shared rental calendar",
	Long: `calrecon computes blocked days from app reservations and a shared
calendar, detects double-bookings and mails administrators once per new
conflict. Calendar entries that form one stay can be grouped and ungrouped.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

func SetVersion(v string) {
	if v == "" {
		return
	}
	rootCmd.Version = v
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/calrecon/config.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&memoryMode, "memory", false, "Use in-memory stores even if a database is configured")

	rootCmd.AddGroup(&cobra.Group{ID: "service", Title: "Service:"})
	rootCmd.AddGroup(&cobra.Group{ID: "operations", Title: "Operations:"})

	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config if set)")

	rootCmd.AddCommand(serveCmd, blockedCmd, conflictsCmd, notifyCmd, groupCmd, ungroupCmd)
}
