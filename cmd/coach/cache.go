package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	cmd.AddCommand(newCacheStatsCmd(), newCacheClearCmd())
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Cache.Enabled {
				fmt.Println("Cache is disabled.")
				return nil
			}
			if cfg.Cache.Backend == "memory" {
				fmt.Println("The memory cache lives inside the running server; query /api/monitor/dashboard instead.")
				return nil
			}

			c, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("Entries:   %d\n", stats.Entries)
			fmt.Printf("Hits:      %d\n", stats.Hits)
			fmt.Printf("Misses:    %d\n", stats.Misses)
			fmt.Printf("Evictions: %d\n", stats.Evictions)
			return nil
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	var expired bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cached responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Cache.Enabled || cfg.Cache.Backend == "memory" {
				fmt.Println("Nothing to clear: the memory cache is emptied when the server restarts.")
				return nil
			}

			c, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if err := c.Clear(expired); err != nil {
				return err
			}
			if expired {
				fmt.Println("Expired cache entries cleared.")
			} else {
				fmt.Println("Cache cleared.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&expired, "expired", false, "only clear expired entries")
	return cmd
}
