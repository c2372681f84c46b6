package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/oldmantran/backlogsmith/internal/backlog"
	"github.com/oldmantran/backlogsmith/internal/dashboard"
	"github.com/oldmantran/backlogsmith/internal/staging"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var (
		configPath string
		jobID      string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show run history or one job's staging summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, jobID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "backlogsmith.yaml", "path to config file")
	cmd.Flags().StringVarP(&jobID, "job", "j", "", "job ID to summarize (omit for run history)")
	return cmd
}

func runStatus(cmd *cobra.Command, configPath, jobID string) error {
	_, gormDB, err := openDB(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if jobID == "" {
		runs, err := dashboard.ListRuns(gormDB, 20)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(out, "No runs recorded.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "JOB\tTITLE\tSTAGE\tSTATUS\tSTAGED\tUPLOADED\tFAILED\tSKIPPED")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
				r.ID, r.VisionTitle, r.Stage, r.Status, r.Staged, r.Uploaded, r.Failed, r.Skipped)
		}
		return w.Flush()
	}

	sum, err := staging.NewStore(gormDB).Summary(jobID)
	if err != nil {
		return err
	}
	if sum.Total == 0 {
		fmt.Fprintf(out, "No staging rows for job %s (already purged or unknown job).\n", jobID)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tPENDING\tUPLOADING\tSUCCESS\tFAILED\tSKIPPED")
	for _, t := range backlog.AllTypes {
		counts, ok := sum.ByType[string(t)]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\n", t,
			counts[staging.StatusPending], counts[staging.StatusUploading],
			counts[staging.StatusSuccess], counts[staging.StatusFailed],
			counts[staging.StatusSkipped])
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "total: %d\n", sum.Total)
	return nil
}
