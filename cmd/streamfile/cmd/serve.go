package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/javi11/streamfile/internal/api"
	"github.com/javi11/streamfile/internal/backend/httpbackend"
	"github.com/javi11/streamfile/internal/config"
	"github.com/javi11/streamfile/internal/diskcache"
	"github.com/javi11/streamfile/internal/logging"
	"github.com/javi11/streamfile/internal/metrics"
	"github.com/javi11/streamfile/internal/streamtracker"
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the streamfile HTTP proxy and admin API",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}
	logging.New(cfg.Log)

	var spill *diskcache.Store
	if cfg.DiskCache.Enabled {
		spill, err = diskcache.New(afero.NewOsFs(), cfg.DiskCache.Dir, cfg.DiskCache.MaxBytes)
		if err != nil {
			return err
		}
	}

	factory := httpbackend.NewFactory(httpbackend.Config{
		UserAgent:     cfg.Backend.UserAgent,
		RetryAttempts: cfg.Backend.RetryAttempts,
		RetryDelay:    cfg.Backend.RetryDelay,
		RetryMaxDelay: cfg.Backend.RetryMaxDelay,
		ChunkSize:     int(cfg.Stream.ChunkSize),
		SpillCache:    spill,
	})
	tracker := streamtracker.New(200)
	col := metrics.New()

	srv := api.NewServer(api.Config{
		Addr:        cfg.Server.Addr,
		ChunkSize:   cfg.Stream.ChunkSize,
		CacheSize:   cfg.Stream.CacheSize,
		Progressive: cfg.Stream.Progressive,
		ReadAhead:   cfg.Stream.ReadAhead,
		SpillCache:  spill,
	}, tracker, col, factory)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.InfoContext(ctx, "streamfile serve starting", "addr", cfg.Server.Addr)
	return srv.Start(ctx)
}
