package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/freedive-ai/coach/pkg/errorlog"
	"github.com/freedive-ai/coach/pkg/models"
)

func newErrorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Query and manage the upstream error log",
	}

	cmd.AddCommand(
		newErrorsSearchCmd(),
		newErrorsStatsCmd(),
		newErrorsResolveCmd(),
		newErrorsCleanupCmd(),
	)
	return cmd
}

func openErrorLog() (*errorlog.Logger, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	l, err := errorlog.New(cfg.DBPath, cfg.ErrorLog.RetentionDays)
	if err != nil {
		return nil, nil, err
	}
	return l, func() { _ = l.Close() }, nil
}

func newErrorsSearchCmd() *cobra.Command {
	var (
		since      string
		severity   string
		endpoint   string
		errorType  string
		unresolved bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search error log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := models.ErrorQueryOpts{
				Severity:       models.Severity(severity),
				Endpoint:       endpoint,
				ErrorType:      errorType,
				UnresolvedOnly: unresolved,
				Limit:          limit,
			}
			if severity != "" && !opts.Severity.Valid() {
				return fmt.Errorf("invalid --severity %q (use low, medium, high or critical)", severity)
			}
			if since != "" {
				t, err := parseDate(since)
				if err != nil {
					return err
				}
				opts.Since = t
			}

			l, cleanup, err := openErrorLog()
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := l.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatErrorEntries(entries))
			return nil
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "filter by endpoint")
	cmd.Flags().StringVar(&errorType, "type", "", "filter by error type")
	cmd.Flags().BoolVar(&unresolved, "unresolved", false, "only unresolved entries")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")
	return cmd
}

func formatErrorEntries(entries []models.ErrorLogEntry) string {
	if len(entries) == 0 {
		return "No error log entries found.\n"
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tENDPOINT\tTYPE\tSEVERITY\tATTEMPT\tRESOLVED\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%t\t%s\n",
			e.ID, e.CreatedAt.Format("2006-01-02T15:04:05"), e.Endpoint, e.ErrorType,
			e.Severity, e.Attempt, e.Resolved, truncate(e.ErrorMessage, 60))
	}
	_ = w.Flush()
	return b.String()
}

func newErrorsStatsCmd() *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show error counts by type and severity",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openErrorLog()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			since := time.Now().Add(-time.Duration(hours) * time.Hour)
			stats, err := l.Stats(ctx, since)
			if err != nil {
				return err
			}
			unresolved, err := l.Count(ctx, since, true)
			if err != nil {
				return err
			}
			if len(stats) == 0 {
				fmt.Printf("No errors in the last %dh.\n", hours)
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tSEVERITY\tCOUNT")
			total := 0
			for _, s := range stats {
				fmt.Fprintf(w, "%s\t%s\t%d\n", s.ErrorType, s.Severity, s.Count)
				total += s.Count
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\n%d error(s) in the last %dh, %d unresolved\n", total, hours, unresolved)
			return nil
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 24, "look-back window in hours")
	return cmd
}

func newErrorsResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark an error log entry resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openErrorLog()
			if err != nil {
				return err
			}
			defer cleanup()

			ok, err := l.Resolve(context.Background(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no error log entry with id %s", args[0])
			}
			fmt.Printf("Resolved %s\n", args[0])
			return nil
		},
	}
}

func newErrorsCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete entries past the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openErrorLog()
			if err != nil {
				return err
			}
			defer cleanup()

			n, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d expired entries\n", n)
			return nil
		},
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
