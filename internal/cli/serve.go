package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	appLog "calrecon/internal/log"
	"calrecon/internal/mq"
	"calrecon/internal/scheduler"
	"calrecon/internal/web"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the admin API, maintenance schedule and booking consumer",
	Args:    cobra.NoArgs,
	GroupID: "service",
	RunE: func(cmd *cobra.Command, args []string) error {
		appLog.Info("calrecon starting", "version", rootCmd.Version)

		// Root context with cancellation on SIGINT/SIGTERM.
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigCh
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		}()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if listenAddr != "" {
			a.cfg.Listen = listenAddr
		}

		sched, err := scheduler.New(a.cfg.MaintenanceCron, a.engine, a.locker, a.cfg.DetectTimeout*2)
		if err != nil {
			return err
		}
		sched.Start(ctx)

		if a.cfg.RabbitURL != "" {
			consumer := mq.NewConsumer(mq.ConsumerConfig{
				URL:      a.cfg.RabbitURL,
				Exchange: a.cfg.BookingExchange,
				Queue:    a.cfg.BookingQueue,
			}, a.engine)
			if err := consumer.Connect(); err != nil {
				return err
			}
			defer consumer.Close()
			go func() {
				if err := consumer.Run(ctx); err != nil {
					appLog.Error("booking consumer stopped", err)
					cancel()
				}
			}()
		}

		err = web.StartServer(ctx, a.cfg, a.engine)

		// Let the scheduler and consumer observe cancellation.
		cancel()
		time.Sleep(100 * time.Millisecond)
		appLog.Info("calrecon exiting")
		return err
	},
}
