package staging

import (
	"fmt"

	"github.com/oldmantran/backlogsmith/internal/models"
)

// Summary aggregates a job's staging rows by type and status.
type Summary struct {
	JobID    string                    `json:"job_id"`
	Total    int                       `json:"total"`
	ByStatus map[string]int            `json:"by_status"`
	ByType   map[string]map[string]int `json:"by_type"` // type → status → count
}

// Complete reports whether every row reached a terminal success state.
func (s *Summary) Complete() bool {
	return s.Total > 0 && s.ByStatus[StatusSuccess] == s.Total
}

// Summary returns aggregate counts for a job's staging rows, used for
// progress reporting and completion checks.
func (s *Store) Summary(jobID string) (*Summary, error) {
	type bucket struct {
		Type   string
		Status string
		N      int
	}
	var buckets []bucket
	err := s.db.Model(&models.StagedWorkItem{}).
		Select("type, status, count(*) as n").
		Where("job_id = ?", jobID).
		Group("type, status").
		Scan(&buckets).Error
	if err != nil {
		return nil, fmt.Errorf("staging: summary for job %s: %w", jobID, err)
	}

	sum := &Summary{
		JobID:    jobID,
		ByStatus: make(map[string]int),
		ByType:   make(map[string]map[string]int),
	}
	for _, b := range buckets {
		sum.Total += b.N
		sum.ByStatus[b.Status] += b.N
		if sum.ByType[b.Type] == nil {
			sum.ByType[b.Type] = make(map[string]int)
		}
		sum.ByType[b.Type][b.Status] += b.N
	}
	return sum, nil
}

// PurgeSucceeded deletes a job's success rows once upload completes. With
// keepFailed=false it deletes every remaining row for the job instead,
// abandoning any failed or skipped work.
func (s *Store) PurgeSucceeded(jobID string, keepFailed bool) (int64, error) {
	q := s.db.Where("job_id = ?", jobID)
	if keepFailed {
		q = q.Where("status = ?", StatusSuccess)
	}
	res := q.Delete(&models.StagedWorkItem{})
	if res.Error != nil {
		return 0, fmt.Errorf("staging: purge job %s: %w", jobID, res.Error)
	}
	return res.RowsAffected, nil
}
