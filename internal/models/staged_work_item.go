package models

import "time"

// StagedWorkItem is one outbox row: a generated work item waiting to be
// created in the remote store. Rows are written in bulk by staging,
// mutated only by the uploader, and read by the supervisor for reporting.
type StagedWorkItem struct {
	ID             uint    `gorm:"primaryKey;autoIncrement"`
	JobID          string  `gorm:"size:64;not null;index:idx_job_status"`
	Type           string  `gorm:"size:16;not null"`
	Title          string  `gorm:"not null"`
	LocalParentID  *uint   `gorm:"index"`
	RemoteParentID *int
	RemoteID       *int
	Status         string `gorm:"size:16;default:pending;index:idx_job_status"`
	RetryCount     int    `gorm:"default:0"`
	ErrorMessage   string `gorm:"type:text"`
	Payload        string `gorm:"type:text"` // JSON of generated fields
	HierarchyLevel int    `gorm:"not null;index"`
	CreatedAt      time.Time
	UploadedAt     *time.Time
	LastRetryAt    *time.Time

	Parent   *StagedWorkItem  `gorm:"foreignKey:LocalParentID"`
	Children []StagedWorkItem `gorm:"foreignKey:LocalParentID"`
}
