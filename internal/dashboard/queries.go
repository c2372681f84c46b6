package dashboard

import (
	"fmt"

	"github.com/oldmantran/backlogsmith/internal/models"
	"gorm.io/gorm"
)

// ListRuns returns the most recent job runs, newest first.
func ListRuns(db *gorm.DB, limit int) ([]models.JobRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []models.JobRun
	err := db.Order("created_at DESC").Limit(limit).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("dashboard: list runs: %w", err)
	}
	return runs, nil
}

// ListItems returns a job's staging rows, optionally filtered by status,
// in drain order.
func ListItems(db *gorm.DB, jobID, status string) ([]models.StagedWorkItem, error) {
	q := db.Where("job_id = ?", jobID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var items []models.StagedWorkItem
	err := q.Order("hierarchy_level ASC, id ASC").Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("dashboard: list items for job %s: %w", jobID, err)
	}
	return items, nil
}
