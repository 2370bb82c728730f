package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/freedive-ai/coach/pkg/budget"
	"github.com/freedive-ai/coach/pkg/tracker"
)

func newBudgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect cost budgets and policies",
	}

	var userID string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show budget usage vs limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Budget.Enabled {
				fmt.Println("Budget enforcement is disabled.")
				return nil
			}
			if len(cfg.Budget.Policies) == 0 {
				fmt.Println("No budget policies configured.")
				return nil
			}

			if userID == "" {
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "USER\tPERIOD\tLIMIT")
				for _, p := range cfg.Budget.Policies {
					fmt.Fprintf(w, "%s\t%s\t$%.2f\n", p.UserID, p.Period, p.MaxCostUSD)
				}
				return w.Flush()
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			enforcer := budget.New(cfg.Budget.Policies, tr)
			statuses, err := enforcer.Status(context.Background(), userID)
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Printf("No budget policies apply to %s.\n", userID)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PERIOD\tLIMIT\tSPENT\tREMAINING")
			for _, s := range statuses {
				fmt.Fprintf(w, "%s\t$%.4f\t$%.4f\t$%.4f\n",
					s.Policy.Period, s.Policy.MaxCostUSD, s.Spent, s.Remaining)
			}
			return w.Flush()
		},
	}

	statusCmd.Flags().StringVar(&userID, "user", "", "user ID to report on (default: list policies)")

	cmd.AddCommand(statusCmd)
	return cmd
}
