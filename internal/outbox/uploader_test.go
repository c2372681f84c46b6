package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oldmantran/backlogsmith/internal/backlog"
	"github.com/oldmantran/backlogsmith/internal/models"
	"github.com/oldmantran/backlogsmith/internal/remote"
	"github.com/oldmantran/backlogsmith/internal/staging"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeRemote is a scripted remote.Store. Failures are keyed by title:
// failures[title] is the number of transient errors to return before
// succeeding, -1 for always-fail.
type fakeRemote struct {
	mu       sync.Mutex
	nextID   int
	failures map[string]int
	disabled bool
	linkErr  error

	created []string
	links   [][2]int // child, parent
}

func (f *fakeRemote) Create(ctx context.Context, t backlog.WorkItemType, fields remote.Fields) (*remote.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disabled {
		return nil, remote.ErrDisabled
	}
	if n, ok := f.failures[fields.Title]; ok && n != 0 {
		if n > 0 {
			f.failures[fields.Title] = n - 1
		}
		return nil, fmt.Errorf("503 service unavailable")
	}
	f.nextID++
	f.created = append(f.created, fields.Title)
	return &remote.Item{ID: f.nextID, Title: fields.Title}, nil
}

func (f *fakeRemote) LinkParent(ctx context.Context, childID, parentID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.linkErr != nil {
		return f.linkErr
	}
	f.links = append(f.links, [2]int{childID, parentID})
	return nil
}

func (f *fakeRemote) Delete(ctx context.Context, id int) error { return nil }

func (f *fakeRemote) QueryByTypeAndArea(ctx context.Context, t backlog.WorkItemType, areaPath string) ([]int, error) {
	return nil, nil
}

// testUploader wires a staging store over in-memory SQLite to a fake
// remote, with delays collapsed so tests run fast.
func testUploader(t *testing.T, fake *fakeRemote) (*Uploader, *staging.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.StagedWorkItem{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	store := staging.NewStore(db)
	up := New(store, fake, Options{
		BatchSize:  2,
		ItemDelay:  time.Nanosecond,
		BatchDelay: time.Nanosecond,
		MaxRetries: 3,
		BaseDelay:  time.Nanosecond,
		AreaPath:   "Proj\\Area",
	})
	return up, store
}

// stageTestJob stages one epic with a feature, a story, one task, and one
// test case: 7 rows including the synthetic plan and suite.
func stageTestJob(t *testing.T, store *staging.Store, jobID string) {
	t.Helper()
	v := &backlog.Vision{Epics: []backlog.Epic{{
		Title:    "Payments",
		Priority: 1,
		Features: []backlog.Feature{{
			Title: "Card checkout",
			Stories: []backlog.UserStory{{
				Title:      "Pay with card",
				Acceptance: "Payment confirmed",
				Tasks:      []backlog.Task{{Title: "Charge token"}},
				TestCases: []backlog.TestCase{{
					Title:    "Successful charge",
					Steps:    []string{"submit"},
					Expected: "receipt",
				}},
			}},
		}},
	}}}
	if _, err := store.StageTree(jobID, v); err != nil {
		t.Fatalf("StageTree: %v", err)
	}
}

func TestUploadJob_HappyPath(t *testing.T) {
	fake := &fakeRemote{}
	up, store := testUploader(t, fake)
	stageTestJob(t, store, "job-1")

	res, err := up.UploadJob(context.Background(), "job-1", false)
	if err != nil {
		t.Fatalf("UploadJob: %v", err)
	}
	if res.Uploaded != 7 || res.Failed != 0 || res.Skipped != 0 {
		t.Fatalf("uploaded/failed/skipped = %d/%d/%d, want 7/0/0", res.Uploaded, res.Failed, res.Skipped)
	}
	if len(res.Errors) != 0 {
		t.Errorf("errors = %v, want none", res.Errors)
	}

	// Creation respects phase order: epic before feature, feature before
	// story, suite before case.
	order := map[string]int{}
	for i, title := range fake.created {
		order[title] = i
	}
	pairs := [][2]string{
		{"Payments", "Card checkout"},
		{"Payments", "Payments Test Plan"},
		{"Card checkout", "Pay with card"},
		{"Pay with card", "Charge token"},
		{"Payments Test Plan", "Pay with card Suite"},
		{"Pay with card Suite", "Successful charge"},
	}
	for _, p := range pairs {
		if order[p[0]] > order[p[1]] {
			t.Errorf("%q created after %q", p[0], p[1])
		}
	}

	// Every non-root item got linked to its remote parent.
	if len(fake.links) != 6 {
		t.Errorf("linked %d items, want 6", len(fake.links))
	}

	// Summary snapshot precedes the purge; the purge then clears the rows.
	if !res.Summary.Complete() {
		t.Errorf("summary not complete: %+v", res.Summary)
	}
	sum, _ := store.Summary("job-1")
	if sum.Total != 0 {
		t.Errorf("%d rows left after purge, want 0", sum.Total)
	}
}

func TestUploadJob_ParentFailureCascades(t *testing.T) {
	fake := &fakeRemote{failures: map[string]int{"Payments": -1}}
	up, store := testUploader(t, fake)
	stageTestJob(t, store, "job-1")

	res, err := up.UploadJob(context.Background(), "job-1", false)
	if err != nil {
		t.Fatalf("UploadJob: %v", err)
	}
	if res.Uploaded != 0 {
		t.Errorf("uploaded = %d, want 0", res.Uploaded)
	}
	if res.Failed != 1 {
		t.Errorf("failed = %d, want 1 (the epic)", res.Failed)
	}
	if res.Skipped != 6 {
		t.Errorf("skipped = %d, want 6 descendants", res.Skipped)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "Payments") {
		t.Errorf("errors = %v, want one epic failure", res.Errors)
	}

	// Skipped rows carry the parent-not-uploaded reason.
	rows, _ := store.Queue("job-1", staging.StatusSkipped)
	if len(rows) != 6 {
		t.Fatalf("%d skipped rows, want 6", len(rows))
	}
	for _, r := range rows {
		if !strings.Contains(r.ErrorMessage, "not uploaded") {
			t.Errorf("row %d (%s) reason = %q", r.ID, r.Type, r.ErrorMessage)
		}
	}
}

func TestUploadJob_PartialDrainKeepsParentRows(t *testing.T) {
	fake := &fakeRemote{failures: map[string]int{"Card checkout": -1}}
	up, store := testUploader(t, fake)

	v := &backlog.Vision{Epics: []backlog.Epic{{
		Title: "Payments",
		Features: []backlog.Feature{{
			Title: "Card checkout",
			Stories: []backlog.UserStory{{
				Title: "Pay with card",
				Tasks: []backlog.Task{{Title: "Charge token"}},
			}},
		}},
	}}}
	if _, err := store.StageTree("job-1", v); err != nil {
		t.Fatalf("StageTree: %v", err)
	}

	res, err := up.UploadJob(context.Background(), "job-1", false)
	if err != nil {
		t.Fatalf("UploadJob: %v", err)
	}
	if res.Uploaded != 1 || res.Failed != 1 || res.Skipped != 2 {
		t.Fatalf("uploaded/failed/skipped = %d/%d/%d, want 1/1/2", res.Uploaded, res.Failed, res.Skipped)
	}

	// The uploaded epic row must survive the partial drain: the failed
	// feature still needs it to resolve its remote parent on retry.
	sum, _ := store.Summary("job-1")
	if sum.ByStatus[staging.StatusSuccess] != 1 {
		t.Fatalf("success rows after partial drain = %d, want the epic kept", sum.ByStatus[staging.StatusSuccess])
	}

	fake.mu.Lock()
	fake.failures = nil
	fake.mu.Unlock()

	rr, err := up.RetryFailedItems(context.Background(), "job-1", nil)
	if err != nil {
		t.Fatalf("RetryFailedItems: %v", err)
	}
	if rr.Retried != 1 || rr.Succeeded != 1 || rr.StillFailed != 0 {
		t.Fatalf("retried/succeeded/stillFailed = %d/%d/%d, want 1/1/0",
			rr.Retried, rr.Succeeded, rr.StillFailed)
	}
	rows, _ := store.Queue("job-1", staging.StatusSuccess)
	for _, r := range rows {
		if r.Type == string(backlog.TypeFeature) && r.RemoteParentID == nil {
			t.Errorf("retried feature has no remote parent recorded")
		}
	}

	// A resumed drain picks up the skipped story and task; only then is
	// the job complete and the rows purged.
	res, err = up.UploadJob(context.Background(), "job-1", true)
	if err != nil {
		t.Fatalf("resumed UploadJob: %v", err)
	}
	if res.Uploaded != 2 {
		t.Errorf("uploaded = %d on resume, want the story and task", res.Uploaded)
	}
	if !res.Summary.Complete() {
		t.Errorf("summary not complete after resume: %+v", res.Summary)
	}
	sum, _ = store.Summary("job-1")
	if sum.Total != 0 {
		t.Errorf("%d rows left after complete drain, want 0", sum.Total)
	}
}

func TestUploadJob_ResumeAfterFailure(t *testing.T) {
	fake := &fakeRemote{failures: map[string]int{"Payments": -1}}
	up, store := testUploader(t, fake)
	stageTestJob(t, store, "job-1")

	if _, err := up.UploadJob(context.Background(), "job-1", false); err != nil {
		t.Fatalf("first UploadJob: %v", err)
	}

	// Remote recovers; resume requeues the failed epic and all skipped
	// descendants without re-staging anything.
	fake.mu.Lock()
	fake.failures = nil
	fake.mu.Unlock()

	res, err := up.UploadJob(context.Background(), "job-1", true)
	if err != nil {
		t.Fatalf("resumed UploadJob: %v", err)
	}
	if res.Uploaded != 7 || res.Failed != 0 || res.Skipped != 0 {
		t.Fatalf("uploaded/failed/skipped = %d/%d/%d, want 7/0/0", res.Uploaded, res.Failed, res.Skipped)
	}
	if !res.Summary.Complete() {
		t.Errorf("summary not complete after resume: %+v", res.Summary)
	}
}

func TestUploadJob_WithoutResumeLeavesFailedRows(t *testing.T) {
	fake := &fakeRemote{failures: map[string]int{"Payments": -1}}
	up, store := testUploader(t, fake)
	stageTestJob(t, store, "job-1")

	up.UploadJob(context.Background(), "job-1", false)
	fake.mu.Lock()
	fake.failures = nil
	fake.mu.Unlock()

	// resume=false drains only pending rows; there are none left.
	res, err := up.UploadJob(context.Background(), "job-1", false)
	if err != nil {
		t.Fatalf("UploadJob: %v", err)
	}
	if res.Uploaded != 0 {
		t.Errorf("uploaded = %d, want 0 without resume", res.Uploaded)
	}
}

func TestUploadSingleItem_TransientRetrySucceeds(t *testing.T) {
	fake := &fakeRemote{failures: map[string]int{"Payments": 2}}
	up, store := testUploader(t, fake)
	stageTestJob(t, store, "job-1")
	rows, _ := store.Queue("job-1", staging.StatusPending)
	epic := rows[0]

	res := &Result{}
	out, err := up.uploadSingleItem(context.Background(), &epic, res)
	if err != nil {
		t.Fatalf("uploadSingleItem: %v", err)
	}
	if out != outcomeUploaded {
		t.Fatalf("outcome = %v, want uploaded", out)
	}

	got, _ := store.Get(epic.ID)
	if got.RetryCount != 2 {
		t.Errorf("retry_count = %d, want 2 recorded attempts before success", got.RetryCount)
	}
	if got.Status != staging.StatusSuccess {
		t.Errorf("status = %q, want success", got.Status)
	}
	if got.ErrorMessage != "" {
		t.Errorf("error message = %q, want cleared on success", got.ErrorMessage)
	}
}

func TestUploadSingleItem_ExhaustsRetries(t *testing.T) {
	fake := &fakeRemote{failures: map[string]int{"Payments": -1}}
	up, store := testUploader(t, fake)
	stageTestJob(t, store, "job-1")
	rows, _ := store.Queue("job-1", staging.StatusPending)
	epic := rows[0]

	res := &Result{}
	out, err := up.uploadSingleItem(context.Background(), &epic, res)
	if err != nil {
		t.Fatalf("uploadSingleItem: %v", err)
	}
	if out != outcomeFailed {
		t.Fatalf("outcome = %v, want failed", out)
	}

	got, _ := store.Get(epic.ID)
	if got.Status != staging.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	// Initial attempt plus MaxRetries retries.
	if got.RetryCount != 4 {
		t.Errorf("retry_count = %d, want 4", got.RetryCount)
	}
	if !strings.Contains(got.ErrorMessage, "503") {
		t.Errorf("error message = %q, want last remote error", got.ErrorMessage)
	}
}

func TestUploadJob_DisabledRemoteAborts(t *testing.T) {
	fake := &fakeRemote{disabled: true}
	up, store := testUploader(t, fake)
	stageTestJob(t, store, "job-1")

	_, err := up.UploadJob(context.Background(), "job-1", false)
	if !errors.Is(err, remote.ErrDisabled) {
		t.Fatalf("error = %v, want ErrDisabled", err)
	}

	// The aborted row lands in failed, not uploading, so a later requeue
	// can reach it.
	if rows, _ := store.Queue("job-1", staging.StatusUploading); len(rows) != 0 {
		t.Errorf("%d rows stuck in uploading after abort, want 0", len(rows))
	}
	rows, _ := store.Queue("job-1", staging.StatusFailed)
	if len(rows) != 1 || !strings.Contains(rows[0].ErrorMessage, "disabled") {
		t.Errorf("failed rows = %+v, want the aborted epic with the disabled reason", rows)
	}
}

func TestUploadJob_LinkFailureDoesNotFailItem(t *testing.T) {
	fake := &fakeRemote{linkErr: fmt.Errorf("link rejected")}
	up, store := testUploader(t, fake)
	stageTestJob(t, store, "job-1")

	res, err := up.UploadJob(context.Background(), "job-1", false)
	if err != nil {
		t.Fatalf("UploadJob: %v", err)
	}
	if res.Uploaded != 7 {
		t.Errorf("uploaded = %d, want 7 despite link failures", res.Uploaded)
	}
	if len(res.Errors) != 6 {
		t.Errorf("%d link errors recorded, want 6", len(res.Errors))
	}
}

func TestRetryFailedItems(t *testing.T) {
	fake := &fakeRemote{failures: map[string]int{"Payments": -1}}
	up, store := testUploader(t, fake)
	stageTestJob(t, store, "job-1")
	up.UploadJob(context.Background(), "job-1", false)

	fake.mu.Lock()
	fake.failures = nil
	fake.mu.Unlock()

	res, err := up.RetryFailedItems(context.Background(), "job-1", nil)
	if err != nil {
		t.Fatalf("RetryFailedItems: %v", err)
	}
	if res.Retried != 1 || res.Succeeded != 1 || res.StillFailed != 0 {
		t.Fatalf("retried/succeeded/stillFailed = %d/%d/%d, want 1/1/0",
			res.Retried, res.Succeeded, res.StillFailed)
	}
}

func TestRetryFailedItems_NoFailedRows(t *testing.T) {
	fake := &fakeRemote{}
	up, store := testUploader(t, fake)
	stageTestJob(t, store, "job-1")

	res, err := up.RetryFailedItems(context.Background(), "job-1", nil)
	if err != nil {
		t.Fatalf("RetryFailedItems: %v", err)
	}
	if res.Retried != 0 || res.Succeeded != 0 || res.StillFailed != 0 {
		t.Fatalf("got %+v, want zero counts", res)
	}
	// Nothing was mutated: all rows still pending.
	sum, _ := store.Summary("job-1")
	if sum.ByStatus[staging.StatusPending] != 7 {
		t.Errorf("pending = %d, want 7 untouched", sum.ByStatus[staging.StatusPending])
	}
}

func TestRetryFailedItems_TypeFilter(t *testing.T) {
	fake := &fakeRemote{failures: map[string]int{"Payments": 3, "Card checkout": -1}}
	up, store := testUploader(t, fake)
	stageTestJob(t, store, "job-1")
	up.UploadJob(context.Background(), "job-1", false)

	// The epic's 3 transient failures are absorbed by in-drain retries, so
	// after the drain only the feature is failed.
	res, err := up.RetryFailedItems(context.Background(), "job-1", []backlog.WorkItemType{backlog.TypeTask})
	if err != nil {
		t.Fatalf("RetryFailedItems: %v", err)
	}
	if res.Retried != 0 {
		t.Errorf("retried = %d, want 0 (no failed tasks)", res.Retried)
	}

	fake.mu.Lock()
	fake.failures = nil
	fake.mu.Unlock()
	res, err = up.RetryFailedItems(context.Background(), "job-1", []backlog.WorkItemType{backlog.TypeFeature})
	if err != nil {
		t.Fatalf("RetryFailedItems: %v", err)
	}
	if res.Retried != 1 || res.Succeeded != 1 {
		t.Errorf("retried/succeeded = %d/%d, want 1/1", res.Retried, res.Succeeded)
	}
}

func TestUploadJob_ContextCancelled(t *testing.T) {
	fake := &fakeRemote{}
	up, store := testUploader(t, fake)

	// Two epics so the epics phase has an inter-item pause to interrupt.
	v := &backlog.Vision{Epics: []backlog.Epic{{Title: "First"}, {Title: "Second"}}}
	if _, err := store.StageTree("job-1", v); err != nil {
		t.Fatalf("StageTree: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := up.UploadJob(ctx, "job-1", false)
	if err == nil {
		t.Fatal("cancelled context did not abort the drain")
	}
	if res.Uploaded > 1 {
		t.Errorf("uploaded = %d after cancel, want at most 1", res.Uploaded)
	}
}
