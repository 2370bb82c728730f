package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/freedive-ai/coach/pkg/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve monitoring tools to MCP clients over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// Stdout carries the protocol. Logs go to stderr.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer a.close()

			return mcp.New(a.standaloneMonitor(), a.budget, version).Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
