// Package remote defines the interface to the remote hierarchical
// work-item store and its error taxonomy. The Azure DevOps implementation
// lives in the azdevops subpackage; the uploader depends only on this
// interface.
package remote

import (
	"context"
	"errors"

	"github.com/oldmantran/backlogsmith/internal/backlog"
)

var (
	// ErrDisabled is returned by every call on a client constructed
	// without credentials. Disabled clients never attempt network I/O.
	ErrDisabled = errors.New("remote: client disabled, credentials not configured")

	// ErrMissingID is returned when a create call succeeds at the HTTP
	// level but the response carries no work item ID. Treated as a
	// failure: a success is never fabricated for an unconfirmed item.
	ErrMissingID = errors.New("remote: create response missing work item id")
)

// Item is the remote store's view of a created work item.
type Item struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
	State string `json:"state"`
}

// Fields holds the remote-facing fields for a work item create call.
type Fields struct {
	Title       string
	Description string
	Acceptance  string
	Priority    int
	AreaPath    string
	Steps       []string
	Expected    string
	Estimate    float64
	ParentID    *int // remote parent, linked after create when set
	SuiteID     *int // remote test suite, test cases only
}

// Store creates and links work items in the remote system. Create is not
// idempotent: retrying a timed-out-but-succeeded create may produce a
// duplicate, and callers must not assume otherwise.
type Store interface {
	Create(ctx context.Context, t backlog.WorkItemType, f Fields) (*Item, error)
	LinkParent(ctx context.Context, childID, parentID int) error
	Delete(ctx context.Context, id int) error
	QueryByTypeAndArea(ctx context.Context, t backlog.WorkItemType, areaPath string) ([]int, error)
}
