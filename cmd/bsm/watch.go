package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/oldmantran/backlogsmith/internal/staging"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time. Returns 0 on parse error.
func nextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	next := sched.Next(time.Now())
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

func newWatchCmd() *cobra.Command {
	var (
		configPath string
		jobID      string
		schedule   string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Periodically retry failed items on a schedule",
		Long:  "Runs a retry sweep for a job's failed items on a 5-field cron schedule until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if nextCronDuration(schedule) == 0 {
				if _, err := cronParser.Parse(schedule); err != nil {
					return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
				}
			}

			cfg, gormDB, err := openDB(configPath)
			if err != nil {
				return err
			}
			client := newRemoteClient(cfg)
			if err := requireRemote(client, cfg); err != nil {
				return err
			}
			store := staging.NewStore(gormDB)
			up := newUploader(cfg, store, client, cmd.OutOrStdout())

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Watching job %s, retry schedule %q\n", jobID, schedule)

			timer := time.NewTimer(nextCronDuration(schedule))
			defer timer.Stop()
			for {
				select {
				case <-ctx.Done():
					fmt.Fprintln(out, "Watch stopped.")
					return nil
				case <-timer.C:
					res, err := up.RetryFailedItems(ctx, jobID, nil)
					if err != nil {
						fmt.Fprintf(out, "retry sweep: %v\n", err)
					} else if res.Retried > 0 {
						fmt.Fprintf(out, "Retried %d items: %d succeeded, %d still failed\n",
							res.Retried, res.Succeeded, res.StillFailed)
					}
					if d := nextCronDuration(schedule); d > 0 {
						timer.Reset(d)
					} else {
						timer.Reset(time.Minute)
					}
				}
			}
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "backlogsmith.yaml", "path to config file")
	cmd.Flags().StringVarP(&jobID, "job", "j", "", "job ID to watch")
	cmd.Flags().StringVarP(&schedule, "schedule", "s", "*/15 * * * *", "cron expression for retry sweeps")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}
