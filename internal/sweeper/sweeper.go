// Package sweeper defines the validator collaborator the supervisor runs
// after each generation stage, plus a structural implementation.
package sweeper

import (
	"context"

	"github.com/oldmantran/backlogsmith/internal/backlog"
)

// Finding is one incomplete or invalid item reported for a stage. The
// contract requires a non-empty WorkItemID, but callers tolerate
// violations by skipping the record rather than crashing.
type Finding struct {
	WorkItemID  string `json:"work_item_id"`
	Description string `json:"description"`
	Stage       string `json:"stage,omitempty"`
}

// Sweeper inspects the tree after a stage and reports incomplete items.
type Sweeper interface {
	Validate(ctx context.Context, stage string, v *backlog.Vision) ([]Finding, error)
}
