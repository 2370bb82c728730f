package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/freedive-ai/coach/pkg/models"
	"github.com/freedive-ai/coach/pkg/tracker"
)

func newUsageCmd() *cobra.Command {
	var (
		hours    int
		hourly   bool
		endpoint string
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show request and token usage by endpoint and model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			ctx := context.Background()
			since := time.Now().Add(-time.Duration(hours) * time.Hour)

			if hourly {
				rollups, err := tr.Rollups(ctx, since, endpoint)
				if err != nil {
					return err
				}
				if len(rollups) == 0 {
					fmt.Println("No usage data found.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "HOUR\tENDPOINT\tREQUESTS\tSUCCESS\tAVG MS\tTOKENS\tCOST")
				for _, r := range rollups {
					fmt.Fprintf(w, "%s\t%s\t%d\t%.1f%%\t%.0f\t%d\t$%.4f\n",
						r.Hour.Format("2006-01-02T15:04"), r.Endpoint, r.RequestCount,
						r.SuccessRate*100, r.AvgResponseMs, r.TotalTokens, r.TotalCost)
				}
				return w.Flush()
			}

			totals, err := tr.Totals(ctx, since)
			if err != nil {
				return err
			}
			summaries, err := tr.Summary(ctx, since)
			if err != nil {
				return err
			}
			fmt.Print(formatUsageTable(hours, totals, summaries))
			return nil
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 24, "look-back window in hours")
	cmd.Flags().BoolVar(&hourly, "hourly", false, "show hourly rollups")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "filter hourly rollups by endpoint")
	return cmd
}

func formatUsageTable(hours int, totals models.UsageTotals, summaries []models.UsageSummary) string {
	if totals.RequestCount == 0 {
		return "No usage data found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Last %dh: %d requests, %.1f%% success, avg %.0fms, %d tokens, $%.4f\n\n",
		hours, totals.RequestCount, totals.SuccessRate*100, totals.AvgResponseMs, totals.TotalTokens, totals.TotalCost)

	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ENDPOINT\tMODEL\tREQUESTS\tSUCCESS\tAVG MS\tTOKENS\tCOST")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.0f\t%d\t$%.4f\n",
			s.Endpoint, defaultStr(s.Model, "(none)"), s.RequestCount, s.SuccessCount,
			s.AvgResponseMs, s.TotalTokens, s.TotalCost)
	}
	_ = w.Flush()
	return b.String()
}

func newCostCmd() *cobra.Command {
	var since string

	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Show estimated costs by endpoint and model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			sinceTime := beginningOfMonth()
			if since != "" {
				t, err := parseDate(since)
				if err != nil {
					return err
				}
				sinceTime = t
			}

			reports, err := tr.CostReport(context.Background(), sinceTime)
			if err != nil {
				return err
			}
			fmt.Print(formatCostTable(reports))
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD, default: start of month)")
	return cmd
}

func formatCostTable(reports []models.CostReport) string {
	if len(reports) == 0 {
		return "No cost data found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-20s %8s %12s %10s\n",
		"ENDPOINT", "MODEL", "REQUESTS", "TOKENS", "EST. COST")
	b.WriteString(strings.Repeat("-", 74) + "\n")

	var totalCost float64
	for _, r := range reports {
		fmt.Fprintf(&b, "%-20s %-20s %8d %12d $%9.4f\n",
			r.Endpoint, defaultStr(r.Model, "(none)"), r.RequestCount, r.TotalTokens, r.EstimatedCost)
		totalCost += r.EstimatedCost
	}
	b.WriteString(strings.Repeat("-", 74) + "\n")
	fmt.Fprintf(&b, "%62s $%9.4f\n", "TOTAL:", totalCost)
	return b.String()
}

func beginningOfMonth() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
	}
	return t, nil
}

func defaultStr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
