package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"flui/internal/app"
)

func newRolloverCmd(o *Options) *cobra.Command {
	var at, workerID string
	cmd := &cobra.Command{
		Use:   "rollover",
		Short: "Reset the monthly budget of every account whose cycle has ended",
		Long: "rollover runs the same sweep as the cycle-roller Lambda. --at replays a " +
			"sweep for a past or future instant, e.g. to backfill a missed run.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := o.Now().UTC()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				now = t.UTC()
			}
			if workerID == "" {
				host, _ := os.Hostname()
				workerID = fmt.Sprintf("ledgerctl@%s", host)
			}

			return withApp(cmd, o, func(ctx context.Context, a *app.App) error {
				result, err := a.NewCycleRoller(workerID).RollDue(ctx, now)
				if err != nil {
					return err
				}
				if result.Locked {
					_, _ = fmt.Fprintln(o.Out, "Another worker holds the rollover lock; nothing done.")
					return nil
				}
				_, _ = fmt.Fprintf(o.Out, "Rolled %d, skipped %d, failed %d in %s\n",
					result.Rolled, result.Skipped, result.Failed, result.Elapsed.Round(time.Millisecond))
				if result.Failed > 0 {
					return fmt.Errorf("%d accounts failed to roll over", result.Failed)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "reference time (RFC3339), defaults to now")
	cmd.Flags().StringVar(&workerID, "worker", "", "job lock owner, defaults to ledgerctl@hostname")
	return cmd
}
