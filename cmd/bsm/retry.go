package main

import (
	"fmt"

	"github.com/oldmantran/backlogsmith/internal/backlog"
	"github.com/oldmantran/backlogsmith/internal/staging"
	"github.com/spf13/cobra"
)

func newRetryCmd() *cobra.Command {
	var (
		configPath string
		jobID      string
		typeName   string
	)

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-attempt a job's failed uploads",
		Long:  "Requeues failed staging rows (optionally filtered by work item type) and re-attempts each one. Safe to run repeatedly after partial failures.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetry(cmd, configPath, jobID, typeName)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "backlogsmith.yaml", "path to config file")
	cmd.Flags().StringVarP(&jobID, "job", "j", "", "job ID to retry (required)")
	cmd.Flags().StringVar(&typeName, "type", "", "only retry this work item type (e.g. Feature)")
	cmd.MarkFlagRequired("job")
	return cmd
}

func runRetry(cmd *cobra.Command, configPath, jobID, typeName string) error {
	cfg, gormDB, err := openDB(configPath)
	if err != nil {
		return err
	}

	var types []backlog.WorkItemType
	if typeName != "" {
		t, err := backlog.ParseType(typeName)
		if err != nil {
			return err
		}
		types = append(types, t)
	}

	client := newRemoteClient(cfg)
	if err := requireRemote(client, cfg); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	store := staging.NewStore(gormDB)
	uploader := newUploader(cfg, store, client, out)

	res, err := uploader.RetryFailedItems(cmd.Context(), jobID, types)
	if res != nil {
		fmt.Fprintf(out, "retried: %d, succeeded: %d, still failed: %d\n",
			res.Retried, res.Succeeded, res.StillFailed)
	}
	return err
}
