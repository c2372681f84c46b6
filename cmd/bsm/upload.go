package main

import (
	"fmt"

	"github.com/oldmantran/backlogsmith/internal/staging"
	"github.com/spf13/cobra"
)

func newUploadCmd() *cobra.Command {
	var (
		configPath string
		jobID      string
		resume     bool
	)

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Drain a staged job into Azure DevOps",
		Long:  "Uploads a job's staged work items in hierarchy order. With --resume, rows left failed or skipped by a prior drain are requeued first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, configPath, jobID, resume)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "backlogsmith.yaml", "path to config file")
	cmd.Flags().StringVarP(&jobID, "job", "j", "", "job ID to upload (required)")
	cmd.Flags().BoolVar(&resume, "resume", false, "requeue failed and skipped rows before draining")
	cmd.MarkFlagRequired("job")
	return cmd
}

func runUpload(cmd *cobra.Command, configPath, jobID string, resume bool) error {
	cfg, gormDB, err := openDB(configPath)
	if err != nil {
		return err
	}

	client := newRemoteClient(cfg)
	if err := requireRemote(client, cfg); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	store := staging.NewStore(gormDB)
	uploader := newUploader(cfg, store, client, out)

	res, err := uploader.UploadJob(cmd.Context(), jobID, resume)
	if res != nil {
		fmt.Fprintf(out, "uploaded: %d, failed: %d, skipped: %d\n", res.Uploaded, res.Failed, res.Skipped)
		for _, e := range res.Errors {
			fmt.Fprintf(out, "  - %s\n", e)
		}
	}
	return err
}
