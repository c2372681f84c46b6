package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/oldmantran/backlogsmith/internal/agents"
	"github.com/oldmantran/backlogsmith/internal/notify"
	"github.com/oldmantran/backlogsmith/internal/staging"
	"github.com/oldmantran/backlogsmith/internal/supervisor"
	"github.com/oldmantran/backlogsmith/internal/sweeper"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		configPath string
		visionPath string
		title      string
		skipUpload bool
		sequential bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate a backlog from a product vision and upload it",
		Long:  "Runs the full pipeline: vision → epics → features → stories → tasks → tests, stages the tree in the local outbox, and uploads it to Azure DevOps.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, configPath, visionPath, title, skipUpload, sequential)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "backlogsmith.yaml", "path to config file")
	cmd.Flags().StringVarP(&visionPath, "vision", "f", "", "path to product vision text file (required)")
	cmd.Flags().StringVarP(&title, "title", "t", "", "product title (defaults to vision filename)")
	cmd.Flags().BoolVar(&skipUpload, "skip-upload", false, "generate and stage only, do not upload")
	cmd.Flags().BoolVar(&sequential, "sequential", false, "disable parallel epic decomposition")
	cmd.MarkFlagRequired("vision")
	return cmd
}

func runRun(cmd *cobra.Command, configPath, visionPath, title string, skipUpload, sequential bool) error {
	cfg, gormDB, err := openDB(configPath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(visionPath)
	if err != nil {
		return fmt.Errorf("read vision: %w", err)
	}
	statement := strings.TrimSpace(string(data))
	if statement == "" {
		return fmt.Errorf("vision file %s is empty", visionPath)
	}
	if title == "" {
		title = visionTitle(visionPath)
	}

	client := newRemoteClient(cfg)
	if !skipUpload {
		if err := requireRemote(client, cfg); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	store := staging.NewStore(gormDB)
	uploader := newUploader(cfg, store, client, out)

	agent, err := agents.NewAnthropicAgent(cfg.LLM.Model, cfg.LLM.APIKeyEnv)
	if err != nil {
		return err
	}
	registry := agents.NewRegistry(map[string]agents.Agent{
		agents.NameEpic:    agent,
		agents.NameFeature: agent,
		agents.NameStory:   agent,
		agents.NameTask:    agent,
		agents.NameTest:    agent,
	})

	parallelism := cfg.Supervisor.Parallelism
	if sequential {
		parallelism = 1
	}

	sup, err := supervisor.New(supervisor.Deps{
		Registry: registry,
		Sweeper:  sweeper.Structural{},
		Staging:  store,
		Uploader: uploader,
		DB:       gormDB,
		Notifier: notify.FromConfig(cfg.Notify),
	}, supervisor.Options{
		MaxItemRetries: cfg.Supervisor.MaxItemRetries,
		MaxStagePasses: cfg.Supervisor.MaxStagePasses,
		Parallelism:    parallelism,
		StageTimeout:   time.Duration(cfg.Supervisor.StageTimeoutSec) * time.Second,
		MaxEpics:       cfg.LLM.MaxEpics,
		MaxFeatures:    cfg.LLM.MaxFeatures,
		MaxStories:     cfg.LLM.MaxStories,
		MaxTasks:       cfg.LLM.MaxTasks,
		MaxTests:       cfg.LLM.MaxTests,
		SkipUpload:     skipUpload,
		Out:            out,
	})
	if err != nil {
		return err
	}

	res, err := sup.Run(cmd.Context(), title, statement)
	if res != nil {
		printRunResult(out, res)
	}
	return err
}

func visionTitle(path string) string {
	base := path
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}

func printRunResult(out io.Writer, res *supervisor.Result) {
	fmt.Fprintf(out, "\nJob %s finished in %s\n", res.JobID, res.Duration.Round(time.Second))
	fmt.Fprintf(out, "  staged: %d\n", res.Staged)
	if res.Upload != nil {
		fmt.Fprintf(out, "  uploaded: %d, failed: %d, skipped: %d\n",
			res.Upload.Uploaded, res.Upload.Failed, res.Upload.Skipped)
	}
	if len(res.Errors) > 0 {
		fmt.Fprintf(out, "  errors (%d):\n", len(res.Errors))
		for _, e := range res.Errors {
			fmt.Fprintf(out, "    - %s\n", e)
		}
	}
}
