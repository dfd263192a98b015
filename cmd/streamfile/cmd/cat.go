package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/javi11/streamfile/internal/backend/httpbackend"
	"github.com/javi11/streamfile/internal/config"
	"github.com/javi11/streamfile/internal/diskcache"
	"github.com/javi11/streamfile/internal/stream"
)

func init() {
	catCmd := &cobra.Command{
		Use:   "cat [url]",
		Short: "Stream a remote resource to stdout",
		Args:  cobra.ExactArgs(1),
		RunE:  runCat,
	}
	rootCmd.AddCommand(catCmd)
}

func runCat(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}

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

	opener := stream.Opener{
		Backend:     factory,
		ChunkSize:   cfg.Stream.ChunkSize,
		CacheSize:   cfg.Stream.CacheSize,
		Progressive: cfg.Stream.Progressive,
		ReadAhead:   cfg.Stream.ReadAhead,
		SpillCache:  spill,
	}

	ctx := context.Background()
	f, err := opener.Open(ctx, args[0])
	if err != nil {
		return fmt.Errorf("cat: open %s: %w", args[0], err)
	}
	defer f.Close()

	_, err = io.Copy(os.Stdout, f)
	if err != nil && err != io.EOF {
		return fmt.Errorf("cat: copy: %w", err)
	}
	return nil
}
