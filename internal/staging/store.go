// Package staging implements the durable outbox between backlog
// generation and remote upload. Every generated work item becomes one
// staging row; the uploader drains rows in hierarchy order and records
// outcomes back here, so a crash mid-upload loses nothing.
package staging

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oldmantran/backlogsmith/internal/backlog"
	"github.com/oldmantran/backlogsmith/internal/models"
	"gorm.io/gorm"
)

// Staging row statuses.
const (
	StatusPending   = "pending"
	StatusUploading = "uploading"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// ValidTransitions maps each status to its valid next statuses. The
// uploader is the only writer, so violations indicate a bug, not a race.
var ValidTransitions = map[string][]string{
	StatusPending:   {StatusUploading, StatusSkipped},
	StatusUploading: {StatusSuccess, StatusFailed},
	StatusFailed:    {StatusPending},
	StatusSkipped:   {StatusPending},
}

// Payload carries the generated fields a staging row needs to construct
// its remote work item.
type Payload struct {
	Description string   `json:"description,omitempty"`
	Acceptance  string   `json:"acceptance_criteria,omitempty"`
	Priority    int      `json:"priority,omitempty"`
	Steps       []string `json:"steps,omitempty"`
	Expected    string   `json:"expected,omitempty"`
	Estimate    float64  `json:"estimate_hours,omitempty"`

	// SuiteRef is the local staging ID of the owning test suite. Set only
	// on test case rows; the uploader resolves it with the same
	// parent-ready rule it applies to LocalParentID.
	SuiteRef uint `json:"suite_ref,omitempty"`
}

// Store is the staging store, a thin operation set over the staging table.
type Store struct {
	db *gorm.DB
}

// NewStore wraps a GORM connection in a staging store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// StageTree flattens a generated backlog tree into staging rows for jobID,
// replacing any prior rows for the same job. Each row's LocalParentID is
// the surrogate ID just assigned to its parent, so parents always have
// lower IDs than their children. Returns the number of rows staged.
func (s *Store) StageTree(jobID string, v *backlog.Vision) (int, error) {
	if jobID == "" {
		return 0, fmt.Errorf("staging: job ID is required")
	}
	if v == nil {
		return 0, fmt.Errorf("staging: vision is required")
	}

	staged := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", jobID).Delete(&models.StagedWorkItem{}).Error; err != nil {
			return fmt.Errorf("staging: clear prior rows for job %s: %w", jobID, err)
		}

		for ei := range v.Epics {
			n, err := stageEpic(tx, jobID, &v.Epics[ei])
			if err != nil {
				return err
			}
			staged += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return staged, nil
}

// stageEpic inserts one epic subtree: the epic, its features, stories,
// tasks, and the synthetic test plan/suite/case rows.
func stageEpic(tx *gorm.DB, jobID string, e *backlog.Epic) (int, error) {
	staged := 0
	epicRow, err := insertRow(tx, jobID, backlog.TypeEpic, e.Title, nil, Payload{
		Description: e.Description,
		Priority:    e.Priority,
	})
	if err != nil {
		return 0, err
	}
	staged++

	// One test plan per epic that has any test cases; suites hang off it.
	var planRow *models.StagedWorkItem
	if e.HasTestCases() {
		planRow, err = insertRow(tx, jobID, backlog.TypeTestPlan, e.Title+" Test Plan", &epicRow.ID, Payload{
			Description: "Test plan covering " + e.Title,
		})
		if err != nil {
			return 0, err
		}
		staged++
	}

	for fi := range e.Features {
		f := &e.Features[fi]
		featureRow, err := insertRow(tx, jobID, backlog.TypeFeature, f.Title, &epicRow.ID, Payload{
			Description: f.Description,
		})
		if err != nil {
			return 0, err
		}
		staged++

		for si := range f.Stories {
			st := &f.Stories[si]
			storyRow, err := insertRow(tx, jobID, backlog.TypeUserStory, st.Title, &featureRow.ID, Payload{
				Description: st.Description,
				Acceptance:  st.Acceptance,
			})
			if err != nil {
				return 0, err
			}
			staged++

			for ti := range st.Tasks {
				t := &st.Tasks[ti]
				if _, err := insertRow(tx, jobID, backlog.TypeTask, t.Title, &storyRow.ID, Payload{
					Description: t.Description,
					Estimate:    t.EstimateHours,
				}); err != nil {
					return 0, err
				}
				staged++
			}

			if len(st.TestCases) == 0 {
				continue
			}

			suiteRow, err := insertRow(tx, jobID, backlog.TypeTestSuite, st.Title+" Suite", &planRow.ID, Payload{
				Description: "Test suite for " + st.Title,
			})
			if err != nil {
				return 0, err
			}
			staged++

			for ci := range st.TestCases {
				tc := &st.TestCases[ci]
				if _, err := insertRow(tx, jobID, backlog.TypeTestCase, tc.Title, &storyRow.ID, Payload{
					Steps:    tc.Steps,
					Expected: tc.Expected,
					SuiteRef: suiteRow.ID,
				}); err != nil {
					return 0, err
				}
				staged++
			}
		}
	}
	return staged, nil
}

func insertRow(tx *gorm.DB, jobID string, t backlog.WorkItemType, title string, parentID *uint, p Payload) (*models.StagedWorkItem, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("staging: marshal payload for %q: %w", title, err)
	}
	row := models.StagedWorkItem{
		JobID:          jobID,
		Type:           string(t),
		Title:          title,
		LocalParentID:  parentID,
		Status:         StatusPending,
		Payload:        string(data),
		HierarchyLevel: t.Level(),
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("staging: insert %s %q: %w", t, title, err)
	}
	return &row, nil
}

// Queue returns all rows for a job matching status, ordered by
// (hierarchy_level, id). This ordering is what guarantees parents are
// visited before children within a level-respecting drain.
func (s *Store) Queue(jobID, status string) ([]models.StagedWorkItem, error) {
	var rows []models.StagedWorkItem
	err := s.db.Where("job_id = ? AND status = ?", jobID, status).
		Order("hierarchy_level ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("staging: queue for job %s: %w", jobID, err)
	}
	return rows, nil
}

// QueuePhase returns rows for a job at one hierarchy level, optionally
// filtered by type and restricted to the given statuses, in (level, id)
// order. The uploader drains one phase at a time through this.
func (s *Store) QueuePhase(jobID string, statuses []string, level int, types []backlog.WorkItemType) ([]models.StagedWorkItem, error) {
	q := s.db.Where("job_id = ? AND hierarchy_level = ? AND status IN ?", jobID, level, statuses)
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		q = q.Where("type IN ?", names)
	}
	var rows []models.StagedWorkItem
	if err := q.Order("hierarchy_level ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("staging: phase queue for job %s level %d: %w", jobID, level, err)
	}
	return rows, nil
}

// Get loads a single staging row.
func (s *Store) Get(id uint) (*models.StagedWorkItem, error) {
	var row models.StagedWorkItem
	if err := s.db.First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("staging: row %d not found", id)
		}
		return nil, fmt.Errorf("staging: load row %d: %w", id, err)
	}
	return &row, nil
}

// ResolveRemoteParent returns the remote ID of the given local row, but
// only once that row has uploaded successfully. A nil result means "not
// ready": the caller should skip the child rather than attempt it.
func (s *Store) ResolveRemoteParent(localParentID uint) (*int, error) {
	row, err := s.Get(localParentID)
	if err != nil {
		return nil, err
	}
	if row.Status != StatusSuccess || row.RemoteID == nil {
		return nil, nil
	}
	return row.RemoteID, nil
}

// MarkUploading transitions a row to uploading.
func (s *Store) MarkUploading(id uint) error {
	return s.transition(id, StatusUploading, map[string]interface{}{})
}

// MarkSuccess transitions a row to success, recording the remote ID and
// clearing any prior error.
func (s *Store) MarkSuccess(id uint, remoteID int, remoteParentID *int) error {
	now := time.Now()
	return s.transition(id, StatusSuccess, map[string]interface{}{
		"remote_id":        remoteID,
		"remote_parent_id": remoteParentID,
		"error_message":    "",
		"uploaded_at":      &now,
	})
}

// MarkFailed transitions a row to failed with the last attempt's error.
func (s *Store) MarkFailed(id uint, msg string) error {
	now := time.Now()
	return s.transition(id, StatusFailed, map[string]interface{}{
		"error_message": msg,
		"last_retry_at": &now,
	})
}

// MarkSkipped transitions a pending row to skipped, recording why (the
// parent was not in a success state at drain time).
func (s *Store) MarkSkipped(id uint, reason string) error {
	return s.transition(id, StatusSkipped, map[string]interface{}{
		"error_message": reason,
	})
}

// RecordAttempt increments a row's retry count after a failed upload
// attempt, without changing status. Terminal failure is recorded
// separately via MarkFailed once retries are exhausted.
func (s *Store) RecordAttempt(id uint, msg string) error {
	now := time.Now()
	res := s.db.Model(&models.StagedWorkItem{}).Where("id = ?", id).Updates(map[string]interface{}{
		"retry_count":   gorm.Expr("retry_count + 1"),
		"error_message": msg,
		"last_retry_at": &now,
	})
	if res.Error != nil {
		return fmt.Errorf("staging: record attempt on row %d: %w", id, res.Error)
	}
	return nil
}

// Requeue resets failed (and optionally skipped) rows back to pending so
// a later drain picks them up. Returns the number of rows requeued.
func (s *Store) Requeue(jobID string, includeSkipped bool, types []backlog.WorkItemType) (int64, error) {
	statuses := []string{StatusFailed}
	if includeSkipped {
		statuses = append(statuses, StatusSkipped)
	}
	q := s.db.Model(&models.StagedWorkItem{}).Where("job_id = ? AND status IN ?", jobID, statuses)
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		q = q.Where("type IN ?", names)
	}
	res := q.Update("status", StatusPending)
	if res.Error != nil {
		return 0, fmt.Errorf("staging: requeue job %s: %w", jobID, res.Error)
	}
	return res.RowsAffected, nil
}

// RequeueRow resets a single failed or skipped row back to pending.
func (s *Store) RequeueRow(id uint) error {
	return s.transition(id, StatusPending, map[string]interface{}{})
}

// transition loads the row, checks the status transition is valid, and
// applies it along with the extra column updates.
func (s *Store) transition(id uint, to string, updates map[string]interface{}) error {
	row, err := s.Get(id)
	if err != nil {
		return err
	}
	if !isValidTransition(row.Status, to) {
		return fmt.Errorf("staging: invalid transition %s → %s for row %d", row.Status, to, id)
	}
	updates["status"] = to
	if err := s.db.Model(&models.StagedWorkItem{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("staging: transition row %d to %s: %w", id, to, err)
	}
	return nil
}

func isValidTransition(from, to string) bool {
	for _, next := range ValidTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DecodePayload unmarshals a row's payload JSON.
func DecodePayload(row *models.StagedWorkItem) (*Payload, error) {
	var p Payload
	if row.Payload == "" {
		return &p, nil
	}
	if err := json.Unmarshal([]byte(row.Payload), &p); err != nil {
		return nil, fmt.Errorf("staging: decode payload for row %d: %w", row.ID, err)
	}
	return &p, nil
}
