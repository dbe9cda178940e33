package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raaihank/docguard/internal/config"
	"github.com/raaihank/docguard/internal/ledger"
	"github.com/raaihank/docguard/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"

	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "docguard",
		Short: "PII-protecting document intake pipeline",
		Long: `docguard polls an intake container, converts each document to markdown,
replaces personal data with tokens or masks, and indexes the protected
result into a per-folder knowledge base.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	rootCmd.AddCommand(
		runCmd(),
		onceCmd(),
		compareCmd(),
		exportCmd(),
		healthCheckCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, config.ErrConfiguration) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// setup loads configuration and the logger shared by every command
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	return cfg, log, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the intake container and serve diagnostics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			log.Info("Starting docguard",
				zap.String("version", version),
				zap.String("commit", commit),
				zap.String("build_date", date),
			)

			a, err := buildApp(cfg, log)
			if err != nil {
				log.Error("Startup failed", zap.Error(err))
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if viper.ConfigFileUsed() != "" {
				a.watchConfig()
			}
			a.probeSecretStore(ctx)

			go a.hub.Run(ctx)

			serverErrors := make(chan error, 1)
			if cfg.Server.Enabled {
				go func() {
					serverErrors <- a.server.Start()
				}()
			}

			driverDone := make(chan error, 1)
			go func() {
				driverDone <- a.driver.Run(ctx)
			}()

			select {
			case err := <-serverErrors:
				if err != nil {
					log.Error("Server error", zap.Error(err))
				}
				stop()
			case <-ctx.Done():
				log.Info("Shutdown signal received")
			}

			<-driverDone

			if cfg.Server.Enabled {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := a.server.Stop(shutdownCtx); err != nil {
					log.Error("Failed to shutdown server gracefully", zap.Error(err))
					return err
				}
			}
			log.Info("Shutdown complete")
			return nil
		},
	}
}

func onceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single polling cycle and print its report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			a, err := buildApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report, err := a.driver.RunOnce(ctx)
			printJSON(report)
			return err
		},
	}
}

func compareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <name>",
		Short: "Show the protected artifact and metadata of a processed document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			a, err := buildApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.close()

			comparison, err := a.pipeline.Compare(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("comparison data not available: %w", err)
			}
			printJSON(comparison)
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export-commits",
		Short: "Write the commit ledger to a parquet file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			l, err := ledger.Open(cfg.Ledger, log)
			if err != nil {
				return err
			}
			defer l.Close()

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			n, err := ledger.ExportParquet(cmd.Context(), l, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Printf("Exported %d commits to %s\n", n, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "commits.parquet", "Output parquet file")
	return cmd
}

func healthCheckCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "health-check",
		Short: "Check a running docguard instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 5 * time.Second}

			resp, err := client.Get(addr + "/health")
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("health check failed: HTTP %d", resp.StatusCode)
			}
			fmt.Println("Health check passed")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "Base URL of the diagnostic server")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("docguard %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
