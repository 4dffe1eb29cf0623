// cmd/diet-diary/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hoonseung2/aidietdiary/internal/config"
	"github.com/hoonseung2/aidietdiary/internal/foods"
	"github.com/hoonseung2/aidietdiary/internal/logging"
	"github.com/hoonseung2/aidietdiary/internal/server"
	"github.com/hoonseung2/aidietdiary/internal/storage"
)

var (
	version    = "dev"
	configPath string
	dbPath     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "diet-diary",
		Short: "Photo-based diet diary",
		Long: `diet-diary recognises food photos, matches them against a local
nutrition table and keeps a per-user diet log with daily summaries.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config (defaults to $DIET_DIARY_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db-path", "", "Database path (overrides config)")

	rootCmd.AddCommand(newServeCmd(), newImportFoodsCmd(), &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("diet-diary %s\n", version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	return cfg, logging.New(cfg.Logging.Level), nil
}

func newServeCmd() *cobra.Command {
	var (
		host    string
		address string
		port    int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP tool server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			// Use address if provided, otherwise use host
			if address != "" {
				host = address
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			srv, err := server.NewDiaryServer(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(ctx); err != nil {
					errCh <- err
				}
			}()

			var runErr error
			select {
			case <-sigCh:
				logger.Info("received shutdown signal")
			case runErr = <-errCh:
				logger.Error("server error", "error", runErr)
			}

			logger.Info("shutting down")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				logger.Error("error during shutdown", "error", err)
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address")
	cmd.Flags().StringVar(&address, "address", "", "Address (alias for host)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port for HTTP transport")
	return cmd
}

func newImportFoodsCmd() *cobra.Command {
	var replace bool

	cmd := &cobra.Command{
		Use:   "import-foods <file.yaml>",
		Short: "Load nutrition reference rows into the food metadata table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			rows, err := foods.LoadFile(args[0])
			if err != nil {
				return err
			}

			stor, err := storage.NewSQLiteStorage(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer stor.Close()

			n, err := stor.ImportFoods(cmd.Context(), rows, replace)
			if err != nil {
				return err
			}
			logger.Info("imported foods", "count", n, "db", cfg.Database.Path, "replace", replace)
			return nil
		},
	}

	cmd.Flags().BoolVar(&replace, "replace", false, "Delete existing rows before importing")
	return cmd
}
