// Package supervisor drives the generation pipeline as an ordered
// sequence of stages. Each generation stage runs, is checked by the
// sweeper, and is re-run while specific items remain incomplete and under
// their retry ceiling; the tree is then staged and drained by the outbox
// uploader.
package supervisor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oldmantran/backlogsmith/internal/agents"
	"github.com/oldmantran/backlogsmith/internal/backlog"
	"github.com/oldmantran/backlogsmith/internal/models"
	"github.com/oldmantran/backlogsmith/internal/notify"
	"github.com/oldmantran/backlogsmith/internal/outbox"
	"github.com/oldmantran/backlogsmith/internal/staging"
	"github.com/oldmantran/backlogsmith/internal/sweeper"
	"gorm.io/gorm"
)

// Options tunes the supervisor's retry and concurrency behavior.
type Options struct {
	MaxItemRetries int           // sweeper retry ceiling per item (default 5)
	MaxStagePasses int           // full-stage rerun cap (default 10)
	Parallelism    int           // workers for per-epic decomposition (default 4, 1 = sequential)
	StageTimeout   time.Duration // watchdog per agent call (default 5m)
	MaxEpics       int
	MaxFeatures    int // per epic
	MaxStories     int // per feature
	MaxTasks       int // per story
	MaxTests       int // per story
	SkipUpload     bool      // generate and stage only
	Out            io.Writer // progress output, nil for silent
}

// Deps holds the supervisor's collaborators.
type Deps struct {
	Registry *agents.Registry
	Sweeper  sweeper.Sweeper
	Staging  *staging.Store
	Uploader *outbox.Uploader
	DB       *gorm.DB        // for JobRun records; nil disables history
	Notifier notify.Notifier // nil disables notifications
}

// Supervisor runs the pipeline.
type Supervisor struct {
	deps Deps
	opts Options
}

// New validates collaborators and builds a Supervisor.
func New(deps Deps, opts Options) (*Supervisor, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("supervisor: agent registry is required")
	}
	if deps.Sweeper == nil {
		return nil, fmt.Errorf("supervisor: sweeper is required")
	}
	if deps.Staging == nil {
		return nil, fmt.Errorf("supervisor: staging store is required")
	}
	if deps.Uploader == nil && !opts.SkipUpload {
		return nil, fmt.Errorf("supervisor: uploader is required unless upload is skipped")
	}
	if opts.MaxItemRetries <= 0 {
		opts.MaxItemRetries = 5
	}
	if opts.MaxStagePasses <= 0 {
		opts.MaxStagePasses = 10
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 5 * time.Minute
	}
	return &Supervisor{deps: deps, opts: opts}, nil
}

// Result is the best-effort outcome of a run. Callers must inspect Errors
// as well: a nil error from Run does not imply full success.
type Result struct {
	JobID    string          `json:"job_id"`
	Vision   *backlog.Vision `json:"vision"`
	Staged   int             `json:"staged"`
	Upload   *outbox.Result  `json:"upload,omitempty"`
	Errors   []string        `json:"errors"`
	Duration time.Duration   `json:"duration"`
}

// fatalErrorTexts marks stage errors that abort the run even outside the
// first stage.
var fatalErrorTexts = []string{
	"quality assessment failed",
}

func isFatal(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, text := range fatalErrorTexts {
		if strings.Contains(msg, text) {
			return true
		}
	}
	return false
}

// runState is the mutable per-run workspace shared across stages.
type runState struct {
	jobID  string
	vision *backlog.Vision
	errors []string
}

// stage is one named step of the pipeline. Critical stages abort the run
// on error; others record a warning and let the pipeline proceed with
// partial data.
type stage struct {
	name     string
	critical bool
	run      func(ctx context.Context, st *runState) error
}

func (s *Supervisor) stages() []stage {
	return []stage{
		{name: "epics", critical: true, run: s.runEpics},
		{name: "features", run: s.runFeatures},
		{name: "stories", run: s.runStories},
		{name: "tasks", run: s.runTasks},
		{name: "tests", run: s.runTests},
	}
}

// Run executes the full pipeline for a product vision and returns a
// best-effort result.
func (s *Supervisor) Run(ctx context.Context, title, statement string) (*Result, error) {
	start := time.Now()
	state := &runState{
		jobID:  uuid.NewString(),
		vision: &backlog.Vision{Title: title, Statement: statement},
	}
	res := &Result{JobID: state.jobID, Vision: state.vision}

	s.createJobRun(state, title, statement)
	s.logf("job %s: starting run for %q", state.jobID, title)

	for _, st := range s.stages() {
		s.setJobStage(state.jobID, st.name)
		if err := s.runStage(ctx, st, state); err != nil {
			if st.critical || isFatal(err) {
				state.errors = append(state.errors, fmt.Sprintf("stage %s: %v", st.name, err))
				res.Errors = state.errors
				res.Duration = time.Since(start)
				s.finishJobRun(state, "failed", res)
				return res, fmt.Errorf("supervisor: stage %s: %w", st.name, err)
			}
			// Non-critical: record and proceed with whatever exists.
			state.errors = append(state.errors, fmt.Sprintf("stage %s: %v", st.name, err))
			s.logf("job %s: stage %s failed (continuing): %v", state.jobID, st.name, err)
		}
	}

	s.setJobStage(state.jobID, "staging")
	staged, err := s.deps.Staging.StageTree(state.jobID, state.vision)
	if err != nil {
		state.errors = append(state.errors, fmt.Sprintf("staging: %v", err))
		res.Errors = state.errors
		res.Duration = time.Since(start)
		s.finishJobRun(state, "failed", res)
		return res, fmt.Errorf("supervisor: %w", err)
	}
	res.Staged = staged
	if want := backlog.CountNodes(state.vision); staged != want {
		state.errors = append(state.errors,
			fmt.Sprintf("staging: staged %d rows, tree has %d nodes", staged, want))
	}
	s.logf("job %s: staged %d work items", state.jobID, staged)

	if !s.opts.SkipUpload {
		s.setJobStage(state.jobID, "upload")
		upl, err := s.deps.Uploader.UploadJob(ctx, state.jobID, false)
		if upl != nil {
			res.Upload = upl
			state.errors = append(state.errors, upl.Errors...)
		}
		if err != nil {
			state.errors = append(state.errors, fmt.Sprintf("upload: %v", err))
			res.Errors = state.errors
			res.Duration = time.Since(start)
			s.finishJobRun(state, "failed", res)
			return res, fmt.Errorf("supervisor: %w", err)
		}
	}

	res.Errors = state.errors
	res.Duration = time.Since(start)
	status := "success"
	if res.Upload != nil && (res.Upload.Failed > 0 || res.Upload.Skipped > 0) {
		status = "partial"
	}
	s.finishJobRun(state, status, res)
	s.notifyRun(ctx, res)
	return res, nil
}

// runStage executes one generation stage under the sweeper retry loop.
// The per-item ledger bounds how often the same reported item can force a
// rerun; MaxStagePasses bounds total reruns even when the sweeper reports
// different items each pass.
func (s *Supervisor) runStage(ctx context.Context, st stage, state *runState) error {
	retries := make(map[string]int)
	exhausted := make(map[string]bool)

	for pass := 1; ; pass++ {
		if pass > s.opts.MaxStagePasses {
			state.errors = append(state.errors,
				fmt.Sprintf("stage %s: gave up after %d passes with items still incomplete", st.name, s.opts.MaxStagePasses))
			return nil
		}

		if err := st.run(ctx, state); err != nil {
			return err
		}
		backlog.AssignIDs(state.vision)

		if issues := backlog.ValidateStage(st.name, state.vision); len(issues) > 0 {
			s.logf("job %s: stage %s: %d structural issues (non-blocking)", state.jobID, st.name, len(issues))
		}

		findings, err := s.deps.Sweeper.Validate(ctx, st.name, state.vision)
		if err != nil {
			// The sweeper is advisory; a broken sweeper must not block
			// the pipeline.
			state.errors = append(state.errors, fmt.Sprintf("stage %s: sweeper: %v", st.name, err))
			return nil
		}
		if len(findings) == 0 {
			return nil
		}

		still := 0
		for _, f := range findings {
			if f.WorkItemID == "" {
				log.Printf("supervisor: stage %s: skipping malformed sweeper finding (no work item id): %s", st.name, f.Description)
				continue
			}
			if exhausted[f.WorkItemID] {
				continue
			}
			retries[f.WorkItemID]++
			if retries[f.WorkItemID] > s.opts.MaxItemRetries {
				exhausted[f.WorkItemID] = true
				state.errors = append(state.errors,
					fmt.Sprintf("stage %s: %s still incomplete after %d retries: %s", st.name, f.WorkItemID, s.opts.MaxItemRetries, f.Description))
				continue
			}
			still++
		}
		if still == 0 {
			return nil
		}
		s.logf("job %s: stage %s: %d items incomplete, re-running (pass %d)", state.jobID, st.name, still, pass)
	}
}

// notifyRun delivers the completion event, best effort.
func (s *Supervisor) notifyRun(ctx context.Context, res *Result) {
	if s.deps.Notifier == nil {
		return
	}
	ev := notify.Event{
		JobID:    res.JobID,
		Title:    res.Vision.Title,
		Staged:   res.Staged,
		Errors:   res.Errors,
		Duration: res.Duration,
	}
	if res.Upload != nil {
		ev.Uploaded = res.Upload.Uploaded
		ev.Failed = res.Upload.Failed
		ev.Skipped = res.Upload.Skipped
	}
	if err := s.deps.Notifier.RunCompleted(ctx, ev); err != nil {
		log.Printf("supervisor: notify: %v", err)
	}
}

func (s *Supervisor) createJobRun(state *runState, title, statement string) {
	if s.deps.DB == nil {
		return
	}
	digest := sha256.Sum256([]byte(statement))
	run := models.JobRun{
		ID:           state.jobID,
		VisionTitle:  title,
		VisionDigest: hex.EncodeToString(digest[:])[:16],
		Stage:        "epics",
		Status:       "running",
	}
	if err := s.deps.DB.Create(&run).Error; err != nil {
		log.Printf("supervisor: create job run: %v", err)
	}
}

func (s *Supervisor) setJobStage(jobID, stage string) {
	if s.deps.DB == nil {
		return
	}
	if err := s.deps.DB.Model(&models.JobRun{}).Where("id = ?", jobID).
		Update("stage", stage).Error; err != nil {
		log.Printf("supervisor: update job stage: %v", err)
	}
}

func (s *Supervisor) finishJobRun(state *runState, status string, res *Result) {
	if s.deps.DB == nil {
		return
	}
	now := time.Now()
	errsJSON, _ := json.Marshal(res.Errors)
	updates := map[string]interface{}{
		"status":       status,
		"staged":       res.Staged,
		"errors":       string(errsJSON),
		"completed_at": &now,
	}
	if res.Upload != nil {
		updates["uploaded"] = res.Upload.Uploaded
		updates["failed"] = res.Upload.Failed
		updates["skipped"] = res.Upload.Skipped
	}
	if err := s.deps.DB.Model(&models.JobRun{}).Where("id = ?", state.jobID).
		Updates(updates).Error; err != nil {
		log.Printf("supervisor: finish job run: %v", err)
	}
}

func (s *Supervisor) logf(format string, args ...interface{}) {
	if s.opts.Out != nil {
		fmt.Fprintf(s.opts.Out, format+"\n", args...)
	}
}
