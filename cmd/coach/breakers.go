package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/freedive-ai/coach/pkg/config"
	"github.com/freedive-ai/coach/pkg/resilience"
	resiliencesqlite "github.com/freedive-ai/coach/pkg/resilience/sqlite"
)

func newBreakersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breakers",
		Short: "List or reset circuit breakers in the shared store",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, cleanup, err := openBreakers()
			if err != nil || reg == nil {
				return err
			}
			defer cleanup()

			states, err := reg.States(context.Background())
			if err != nil {
				return err
			}
			if len(states) == 0 {
				fmt.Println("No circuit breakers recorded.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ENDPOINT\tSTATE\tFAILURES\tLAST FAILURE\tNEXT ATTEMPT")
			for _, s := range states {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					s.Endpoint, s.State, s.FailureCount, fmtTime(s.LastFailureTime), fmtTime(s.NextAttemptTime))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "reset <endpoint>",
		Short: "Close a circuit and clear its failure count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, cleanup, err := openBreakers()
			if err != nil || reg == nil {
				return err
			}
			defer cleanup()

			if err := reg.Reset(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Circuit for %s reset\n", args[0])
			return nil
		},
	})
	return cmd
}

// openBreakers returns a nil registry when circuit state is process-local.
func openBreakers() (*resilience.Registry, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Resilience.Store != "sqlite" {
		fmt.Println("Circuit state is kept in memory by the running server; use /api/monitor/circuits instead.")
		return nil, nil, nil
	}
	return openSQLiteBreakers(cfg)
}

func openSQLiteBreakers(cfg *config.Config) (*resilience.Registry, func(), error) {
	store, err := resiliencesqlite.New(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	reg := resilience.NewRegistry(store, cfg.Resilience.FailureThreshold, cfg.Resilience.Cooldown)
	return reg, func() { _ = store.Close() }, nil
}

func fmtTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02T15:04:05")
}
