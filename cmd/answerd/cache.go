package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/cache"
	"github.com/fyrsmithlabs/answerd/internal/config"
	"github.com/fyrsmithlabs/answerd/internal/storage/sqlite"
)

var evictDays int

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the semantic response cache",
}

var cacheEvictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Remove cache entries not used within the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if evictDays <= 0 {
			return fmt.Errorf("--days must be positive, got %d", evictDays)
		}

		// Eviction only touches local storage; skip provider
		// credential checks so it runs on any host.
		cfg, err := config.LoadStorage(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		db, err := sqlite.NewStore(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close() //nolint:errcheck

		// Eviction only needs the repository; no embedder is required.
		svc, err := cache.New(db.CacheRepository(), nil, cfg.Cache, zap.NewNop())
		if err != nil {
			return fmt.Errorf("init cache: %w", err)
		}

		removed, err := svc.EvictOlderThan(cmd.Context(), evictDays)
		if err != nil {
			return fmt.Errorf("evict cache entries: %w", err)
		}
		fmt.Printf("evicted %d cache entries unused for more than %d days\n", removed, evictDays)
		return nil
	},
}

func init() {
	cacheEvictCmd.Flags().IntVar(&evictDays, "days", 30, "evict entries not used in this many days")
	cacheCmd.AddCommand(cacheEvictCmd)
}
