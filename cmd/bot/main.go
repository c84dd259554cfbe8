package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pbaumgartner/ivcrush/internal/dashboard"
)

var cfgFile string

func main() {
	// .env is optional; deployments usually set the environment directly.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "ivcrush",
		Short: "Earnings calendar-spread trading bot",
		Long: `Scans a ticker universe ahead of earnings, gates candidates through
liquidity and volatility filters, sizes approved calendar spreads, and
manages the resulting orders through their lifecycle.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "path to configuration file")

	rootCmd.AddCommand(newRunCmd(), newScanCmd(), newMonitorCmd(), newServeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the combined scan and monitor loops",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgFile)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			a.logger.Printf("Starting bot in %s mode", a.cfg.Environment.Mode)
			if !a.cfg.IsPaperTrading() {
				a.logger.Println("LIVE TRADING MODE - real money at risk, waiting 10s to confirm...")
				select {
				case <-time.After(10 * time.Second):
				case <-ctx.Done():
					return nil
				}
			}

			if err := a.runLoops(ctx); err != nil {
				return err
			}
			a.logger.Println("Bot stopped")
			return nil
		},
	}
}

func newScanCmd() *cobra.Command {
	var scanDate string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan cycle over the configured tickers, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgFile)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return a.scanCycle(ctx, scanDate)
		},
	}
	cmd.Flags().StringVar(&scanDate, "date", "", "scan date key for persistence (YYYY-MM-DD, default today)")
	return cmd
}

func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run one monitor pass over open orders, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgFile)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return a.monitorPass(ctx)
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON dashboard over persisted decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfgFile)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			srv := dashboard.NewServer(a.store, a.logrus, a.cfg.Dashboard.Port, a.cfg.Dashboard.AuthToken)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
