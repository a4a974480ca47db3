// Package main implements the codepush-storage command line tool for
// provisioning, inspecting, and monitoring the code-push storage backend.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JiseokYu/code-push-server/config"
	"github.com/JiseokYu/code-push-server/metric"
	"github.com/JiseokYu/code-push-server/storage"
	"github.com/JiseokYu/code-push-server/storage/natsstore"
)

// Build information constants.
const (
	Version = "0.1.0"
	appName = "codepush-storage"
)

var (
	flagLogLevel  string
	flagLogFormat string
	flagEnvFile   string
)

func main() {
	root := &cobra.Command{
		Use:     appName,
		Short:   "Manage the code-push storage backend",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flagEnvFile != "" {
				if err := godotenv.Load(flagEnvFile); err != nil {
					return fmt.Errorf("load env file %s: %w", flagEnvFile, err)
				}
			} else {
				// Best-effort default; a missing .env is fine.
				_ = godotenv.Load()
			}
			slog.SetDefault(setupLogger(flagLogLevel, flagLogFormat))
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "json", "log format (json, text)")
	root.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "path to a .env file with CODEPUSH_* variables")

	root.AddCommand(setupCommand(), healthCommand(), serveMetricsCommand())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, opts ...natsstore.StoreOption) (*natsstore.Store, config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, config.Config{}, err
	}
	store, err := natsstore.Open(ctx, cfg, append(opts, natsstore.WithStoreLogger(slog.Default()))...)
	if err != nil {
		return nil, config.Config{}, err
	}
	return store, cfg, nil
}

func setupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Provision collections, the blob bucket, and health sentinels",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			store, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close(ctx)

			if err := store.Setup(ctx); err != nil {
				return err
			}
			slog.Info("backend provisioned")
			return nil
		},
	}
}

func healthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Run the composite health check and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			store, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close(ctx)

			facade := storage.New(store.Documents(), store.Blobs(),
				storage.WithLogger(slog.Default()))

			report := facade.Health().Report(ctx)
			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))

			if !report.IsHealthy() {
				return fmt.Errorf("storage backend is %s", report.Status)
			}
			return nil
		},
	}
}

func serveMetricsCommand() *cobra.Command {
	var (
		port     int
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve-metrics",
		Short: "Expose storage metrics and probe backend health periodically",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			metrics := metric.NewStorageMetrics()
			store, _, err := openStore(ctx, natsstore.WithStoreMetrics(metrics))
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			facade := storage.New(store.Documents(), store.Blobs(),
				storage.WithLogger(slog.Default()),
				storage.WithMetrics(metrics),
				storage.WithSetup(store.Setup))

			server := metric.NewServer(port, "/metrics", metrics)
			if err := server.Start(); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Stop(shutdownCtx)
			}()
			slog.Info("metrics server started", "port", port)

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				if err := facade.Health().Check(ctx); err != nil {
					slog.Warn("health probe failed", "error", err)
				}
				select {
				case <-ctx.Done():
					slog.Info("shutting down")
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().IntVar(&port, "port", 9090, "metrics listen port")
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "health probe interval")
	return cmd
}
