package outbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oldmantran/backlogsmith/internal/backlog"
	"github.com/oldmantran/backlogsmith/internal/models"
	"github.com/oldmantran/backlogsmith/internal/remote"
	"github.com/oldmantran/backlogsmith/internal/staging"
)

// Options tunes the uploader's batching, pacing, and retry behavior.
type Options struct {
	BatchSize  int           // rows per batch (default 10)
	ItemDelay  time.Duration // pause between items in a batch (default 250ms)
	BatchDelay time.Duration // pause between batches (default 2s)
	MaxRetries int           // remote create retries per item (default 3)
	BaseDelay  time.Duration // initial backoff interval (default 1s)
	AreaPath   string        // area path stamped on every created item
	Out        io.Writer     // progress output, nil for silent
}

// Uploader drains staging rows into the remote store in phase order.
// It is single-threaded per job; that, plus the staging store's narrow
// operation set, is what makes status updates race-free.
type Uploader struct {
	staging *staging.Store
	remote  remote.Store
	opts    Options
}

// New builds an Uploader.
func New(st *staging.Store, rs remote.Store, opts Options) *Uploader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.ItemDelay == 0 {
		opts.ItemDelay = 250 * time.Millisecond
	}
	if opts.BatchDelay == 0 {
		opts.BatchDelay = 2 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay == 0 {
		opts.BaseDelay = time.Second
	}
	return &Uploader{staging: st, remote: rs, opts: opts}
}

// PhaseResult holds one phase's counts.
type PhaseResult struct {
	Name     string `json:"name"`
	Uploaded int    `json:"uploaded"`
	Failed   int    `json:"failed"`
	Skipped  int    `json:"skipped"`
}

// Result is the outcome of a full drain. Errors lists per-item failures;
// an empty error return from UploadJob does not imply Failed == 0.
type Result struct {
	JobID    string           `json:"job_id"`
	Uploaded int              `json:"uploaded"`
	Failed   int              `json:"failed"`
	Skipped  int              `json:"skipped"`
	Phases   []PhaseResult    `json:"phases"`
	Errors   []string         `json:"errors"`
	Summary  *staging.Summary `json:"summary"`
}

// RetryResult reports a RetryFailedItems pass.
type RetryResult struct {
	Retried     int `json:"retried"`
	Succeeded   int `json:"succeeded"`
	StillFailed int `json:"still_failed"`
}

type outcome int

const (
	outcomeUploaded outcome = iota
	outcomeFailed
	outcomeSkipped
)

// UploadJob drains every phase of a job. With resume=true, rows left
// failed or skipped by a prior drain are requeued first so the pass picks
// them up. Returns a best-effort Result plus a final staging summary
// snapshot; once every row has uploaded, the job's rows are purged.
func (u *Uploader) UploadJob(ctx context.Context, jobID string, resume bool) (*Result, error) {
	if jobID == "" {
		return nil, fmt.Errorf("outbox: job ID is required")
	}

	if resume {
		n, err := u.staging.Requeue(jobID, true, nil)
		if err != nil {
			return nil, err
		}
		u.logf("requeued %d rows for job %s", n, jobID)
	}

	res := &Result{JobID: jobID}
	for _, phase := range Phases {
		pr, err := u.uploadPhase(ctx, jobID, phase, res)
		res.Phases = append(res.Phases, *pr)
		res.Uploaded += pr.Uploaded
		res.Failed += pr.Failed
		res.Skipped += pr.Skipped
		if err != nil {
			return res, err
		}
	}

	sum, err := u.staging.Summary(jobID)
	if err != nil {
		return res, err
	}
	res.Summary = sum

	// Success rows double as the parent ID map for later retries, so a
	// partial drain keeps them; purge only once the whole job is uploaded.
	if sum.Complete() {
		purged, err := u.staging.PurgeSucceeded(jobID, true)
		if err != nil {
			return res, err
		}
		u.logf("purged %d uploaded rows for job %s", purged, jobID)
	}
	return res, nil
}

// uploadPhase drains one phase in fixed-size batches with inter-item and
// inter-batch delays to respect remote rate limits.
func (u *Uploader) uploadPhase(ctx context.Context, jobID string, phase Phase, res *Result) (*PhaseResult, error) {
	pr := &PhaseResult{Name: phase.Name}

	rows, err := u.staging.QueuePhase(jobID, []string{staging.StatusPending}, phase.Level, phase.Types)
	if err != nil {
		return pr, err
	}
	if len(rows) == 0 {
		return pr, nil
	}
	u.logf("phase %s: %d items", phase.Name, len(rows))

	for start := 0; start < len(rows); start += u.opts.BatchSize {
		if start > 0 {
			if err := sleepCtx(ctx, u.opts.BatchDelay); err != nil {
				return pr, fmt.Errorf("outbox: phase %s: %w", phase.Name, err)
			}
		}
		end := start + u.opts.BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		for i := start; i < end; i++ {
			if i > start {
				if err := sleepCtx(ctx, u.opts.ItemDelay); err != nil {
					return pr, fmt.Errorf("outbox: phase %s: %w", phase.Name, err)
				}
			}
			out, err := u.uploadSingleItem(ctx, &rows[i], res)
			if err != nil {
				return pr, err
			}
			switch out {
			case outcomeUploaded:
				pr.Uploaded++
			case outcomeFailed:
				pr.Failed++
			case outcomeSkipped:
				pr.Skipped++
			}
		}
	}
	return pr, nil
}

// uploadSingleItem attempts one staging row. Skips when the parent (or,
// for test cases, the owning suite) has not succeeded; retries transient
// remote failures with exponential backoff; records the terminal state in
// staging. The returned error is reserved for conditions that abort the
// whole run (unknown type, disabled client, storage failure).
func (u *Uploader) uploadSingleItem(ctx context.Context, row *models.StagedWorkItem, res *Result) (outcome, error) {
	itemType, err := backlog.ParseType(row.Type)
	if err != nil {
		// Configuration error, not a remote fault: raise immediately.
		return outcomeFailed, fmt.Errorf("outbox: row %d: %w", row.ID, err)
	}

	payload, err := staging.DecodePayload(row)
	if err != nil {
		return outcomeFailed, err
	}

	var remoteParent *int
	if row.LocalParentID != nil {
		remoteParent, err = u.staging.ResolveRemoteParent(*row.LocalParentID)
		if err != nil {
			return outcomeFailed, err
		}
		if remoteParent == nil {
			reason := fmt.Sprintf("parent %d not uploaded", *row.LocalParentID)
			if err := u.staging.MarkSkipped(row.ID, reason); err != nil {
				return outcomeFailed, err
			}
			return outcomeSkipped, nil
		}
	}

	var suiteID *int
	if payload.SuiteRef != 0 {
		suiteID, err = u.staging.ResolveRemoteParent(payload.SuiteRef)
		if err != nil {
			return outcomeFailed, err
		}
		if suiteID == nil {
			reason := fmt.Sprintf("test suite %d not uploaded", payload.SuiteRef)
			if err := u.staging.MarkSkipped(row.ID, reason); err != nil {
				return outcomeFailed, err
			}
			return outcomeSkipped, nil
		}
	}

	if err := u.staging.MarkUploading(row.ID); err != nil {
		return outcomeFailed, err
	}

	fields := remote.Fields{
		Title:       row.Title,
		Description: payload.Description,
		Acceptance:  payload.Acceptance,
		Priority:    payload.Priority,
		AreaPath:    u.opts.AreaPath,
		Steps:       payload.Steps,
		Expected:    payload.Expected,
		Estimate:    payload.Estimate,
		ParentID:    remoteParent,
		SuiteID:     suiteID,
	}

	item, lastErr := u.createWithRetry(ctx, itemType, fields, row.ID)
	if lastErr != nil {
		if errors.Is(lastErr, remote.ErrDisabled) {
			// Record the terminal state before aborting the run; a row left
			// in uploading has no requeue path.
			if err := u.staging.MarkFailed(row.ID, lastErr.Error()); err != nil {
				return outcomeFailed, err
			}
			return outcomeFailed, fmt.Errorf("outbox: row %d: %w", row.ID, lastErr)
		}
		if err := u.staging.MarkFailed(row.ID, lastErr.Error()); err != nil {
			return outcomeFailed, err
		}
		res.Errors = append(res.Errors, fmt.Sprintf("%s %q (row %d): %v", row.Type, row.Title, row.ID, lastErr))
		return outcomeFailed, nil
	}

	if remoteParent != nil {
		if err := u.remote.LinkParent(ctx, item.ID, *remoteParent); err != nil {
			// The child exists but is unlinked; record it without failing
			// the item, since the remote create is already confirmed.
			res.Errors = append(res.Errors, fmt.Sprintf("%s %q (row %d): link parent: %v", row.Type, row.Title, row.ID, err))
		}
	}

	if err := u.staging.MarkSuccess(row.ID, item.ID, remoteParent); err != nil {
		return outcomeFailed, err
	}
	return outcomeUploaded, nil
}

// createWithRetry calls the remote create with bounded exponential
// backoff, recording each failed attempt on the staging row.
func (u *Uploader) createWithRetry(ctx context.Context, t backlog.WorkItemType, f remote.Fields, rowID uint) (*remote.Item, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = u.opts.BaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(u.opts.MaxRetries)), ctx)

	var item *remote.Item
	op := func() error {
		created, err := u.remote.Create(ctx, t, f)
		if err != nil {
			if recErr := u.staging.RecordAttempt(rowID, err.Error()); recErr != nil {
				return backoff.Permanent(recErr)
			}
			if errors.Is(err, remote.ErrMissingID) || errors.Is(err, remote.ErrDisabled) {
				return backoff.Permanent(err)
			}
			return err
		}
		item = created
		return nil
	}
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return item, nil
}

// RetryFailedItems requeues a job's failed rows (optionally filtered by
// type) and re-attempts each one individually. This is the resumability
// contract: callers may invoke it repeatedly after partial failures
// without regenerating or re-staging anything. With no failed rows it
// returns zero counts and mutates nothing.
func (u *Uploader) RetryFailedItems(ctx context.Context, jobID string, types []backlog.WorkItemType) (*RetryResult, error) {
	if jobID == "" {
		return nil, fmt.Errorf("outbox: job ID is required")
	}

	rows, err := u.staging.Queue(jobID, staging.StatusFailed)
	if err != nil {
		return nil, err
	}
	if len(types) > 0 {
		filtered := rows[:0]
		for _, row := range rows {
			for _, t := range types {
				if row.Type == string(t) {
					filtered = append(filtered, row)
					break
				}
			}
		}
		rows = filtered
	}

	res := &RetryResult{}
	if len(rows) == 0 {
		return res, nil
	}

	dummy := &Result{}
	for i := range rows {
		if err := u.staging.RequeueRow(rows[i].ID); err != nil {
			return res, err
		}
		rows[i].Status = staging.StatusPending
		res.Retried++

		out, err := u.uploadSingleItem(ctx, &rows[i], dummy)
		if err != nil {
			return res, err
		}
		switch out {
		case outcomeUploaded:
			res.Succeeded++
		default:
			res.StillFailed++
		}
	}
	return res, nil
}

func (u *Uploader) logf(format string, args ...interface{}) {
	if u.opts.Out != nil {
		fmt.Fprintf(u.opts.Out, format+"\n", args...)
	}
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
