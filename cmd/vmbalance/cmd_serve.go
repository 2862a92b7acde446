package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vmbalance/internal/config"
	"vmbalance/internal/run"
	"vmbalance/internal/server"
	"vmbalance/internal/solver"
	"vmbalance/internal/store"
)

var (
	serveAddr  string
	serveWatch bool
)

// serveCmd runs the HTTP API
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Starts the JSON API that backs the demo: scenario generation, balance
scoring, background solves with cancellation, and run history.

Example:
  vmbalance serve --addr :8050 --watch`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.Server.Listen = serveAddr
	}

	client := solver.NewWithConfig(solver.Config{
		APIKey:     cfg.Solver.APIKey,
		BaseURL:    cfg.Solver.BaseURL,
		MaxRetries: cfg.Solver.MaxRetries,
	})

	var runStore *store.RunStore
	if cfg.Storage.DatabasePath != "" {
		var err error
		runStore, err = store.NewRunStore(cfg.Storage.DatabasePath)
		if err != nil {
			logger.Warn("Run history disabled", zap.Error(err))
		} else {
			defer runStore.Close()
		}
	}

	manager, err := run.NewManager(run.ManagerConfig{
		Sampler: client,
		Store:   runStore,
		Logger:  logger,
		Label:   cfg.Solver.Label,
	})
	if err != nil {
		return err
	}
	defer manager.Close()

	srv := server.New(cfg, manager, runStore, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	if serveWatch {
		// Limits and cluster settings apply to later requests; solver
		// credentials and the listen address need a restart.
		watcher, err := config.NewWatcher(cfgFile, logger, func(next *config.Config) {
			srv.SetConfig(next)
		})
		if err != nil {
			logger.Warn("Config watching disabled", zap.Error(err))
		} else if err := watcher.Start(ctx); err != nil {
			logger.Warn("Config watching disabled", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	return srv.Run(ctx)
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Reload the config file on change")
	rootCmd.AddCommand(serveCmd)
}
