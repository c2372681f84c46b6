package models

import "time"

// JobRun records one end-to-end pipeline run so status reporting and the
// dashboard can show history after staging rows are purged.
type JobRun struct {
	ID           string `gorm:"primaryKey;size:64"`
	VisionTitle  string
	VisionDigest string `gorm:"size:64"`
	Stage        string `gorm:"size:32"` // last stage reached
	Status       string `gorm:"size:16;default:running;index"`
	Staged       int
	Uploaded     int
	Failed       int
	Skipped      int
	Errors       string `gorm:"type:text"` // JSON array of error strings
	CreatedAt    time.Time
	CompletedAt  *time.Time
}
