package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/freedive-ai/coach/pkg/telemetry"
)

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the coach HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if cfg.OpenAI.APIKey == "" {
				log.Warn().Msg("no OpenAI API key configured, every chat will fall back")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
			if err != nil {
				return fmt.Errorf("init telemetry: %w", err)
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(flushCtx); err != nil {
					log.Warn().Err(err).Msg("telemetry shutdown")
				}
			}()

			metrics, err := telemetry.NewMetrics()
			if err != nil {
				return fmt.Errorf("init metrics: %w", err)
			}

			a, err := openApp(ctx, cfg, metrics)
			if err != nil {
				return err
			}
			defer a.close()

			log.Info().
				Str("config", configPath).
				Str("cache", cacheMode(cfg.Cache.Enabled, cfg.Cache.Backend)).
				Str("circuit_store", cfg.Resilience.Store).
				Str("dive_logs", cfg.DiveLogs.Backend).
				Bool("retrieval", cfg.Retrieval.Enabled).
				Bool("budget", cfg.Budget.Enabled).
				Msg("starting coach")
			return a.server(metrics).ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "override listen address")
	return cmd
}

func cacheMode(enabled bool, backend string) string {
	if !enabled {
		return "disabled"
	}
	return backend
}
