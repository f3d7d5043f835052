package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/ringsync/internal/store"
)

// withStore loads the config and opens the sample store for fn
func withStore(cmd *cobra.Command, fn func(ctx context.Context, st store.Store, logger *logrus.Logger) error) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	cmd.SilenceUsage = true
	return fn(ctx, st, logger)
}

func newLatestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the most recently stored sample",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, _ := cmd.Flags().GetString("format")
			if err := validateFormat(format); err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, st store.Store, _ *logrus.Logger) error {
				rec, err := st.Latest(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if format == formatJSON {
					return printJSON(out, rec)
				}
				if rec == nil {
					fmt.Fprintln(out, "No samples stored")
					return nil
				}
				return printRecord(out, *rec)
			})
		},
	}
	cmd.Flags().StringP("format", "f", formatText, "Output format (text, json)")
	return cmd
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored samples, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			if limit <= 0 {
				return fmt.Errorf("invalid limit %d: must be positive", limit)
			}
			return withStore(cmd, func(ctx context.Context, st store.Store, _ *logrus.Logger) error {
				records, err := st.List(ctx, limit)
				if err != nil {
					return err
				}
				return printRecordsTable(cmd.OutOrStdout(), records)
			})
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of samples to show")
	return cmd
}

// parseTimeArg accepts RFC3339, a plain date or a duration back from now ("24h")
func parseTimeArg(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, time.Local); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q: use RFC3339, YYYY-MM-DD or a duration like 24h", s)
}

func newRangeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "range",
		Short: "List stored samples taken within a time range",
		Long: `List stored samples whose sample timestamp lies within [--from, --to],
both bounds inclusive, most recent first.`,
		Example: `  ringsync range --from 24h
  ringsync range --from 2024-03-01 --to 2024-03-02T12:00:00Z`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			fromStr, _ := cmd.Flags().GetString("from")
			toStr, _ := cmd.Flags().GetString("to")
			from, err := parseTimeArg(fromStr, now)
			if err != nil {
				return err
			}
			to := now
			if toStr != "" {
				if to, err = parseTimeArg(toStr, now); err != nil {
					return err
				}
			}
			if to.Before(from) {
				return fmt.Errorf("invalid range: --to %s is before --from %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
			}

			return withStore(cmd, func(ctx context.Context, st store.Store, _ *logrus.Logger) error {
				records, err := st.ListInRange(ctx, from, to)
				if err != nil {
					return err
				}
				return printRecordsTable(cmd.OutOrStdout(), records)
			})
		},
	}
	cmd.Flags().String("from", "24h", "Range start")
	cmd.Flags().String("to", "", "Range end (default now)")
	return cmd
}

func newPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Permanently delete every stored sample",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			return withStore(cmd, func(ctx context.Context, st store.Store, logger *logrus.Logger) error {
				count, err := st.Count(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if count == 0 {
					fmt.Fprintln(out, "No samples stored")
					return nil
				}

				if !yes {
					fmt.Fprintf(out, "Delete %d stored samples? This cannot be undone [y/N]: ", count)
					answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
					switch strings.ToLower(strings.TrimSpace(answer)) {
					case "y", "yes":
					default:
						fmt.Fprintln(out, "Aborted")
						return nil
					}
				}

				if err := st.DeleteAll(ctx); err != nil {
					return err
				}
				logger.WithField("count", count).Info("Samples purged")
				warnColor.Fprintf(out, "Deleted %d samples\n", count)
				return nil
			})
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	return cmd
}
