// Package backlog defines the work item taxonomy and the generated
// backlog tree that flows from the agents into staging.
package backlog

import "fmt"

// WorkItemType is the closed set of work item kinds Backlogsmith creates.
type WorkItemType string

const (
	TypeEpic      WorkItemType = "Epic"
	TypeFeature   WorkItemType = "Feature"
	TypeUserStory WorkItemType = "User Story"
	TypeTask      WorkItemType = "Task"
	TypeTestPlan  WorkItemType = "Test Plan"
	TypeTestSuite WorkItemType = "Test Suite"
	TypeTestCase  WorkItemType = "Test Case"
)

// AllTypes lists every work item type in upload-phase order.
var AllTypes = []WorkItemType{
	TypeEpic,
	TypeFeature,
	TypeTestPlan,
	TypeUserStory,
	TypeTask,
	TypeTestSuite,
	TypeTestCase,
}

// levels maps each type to its hierarchy level. Adding a type without a
// level entry is caught by Valid/Level at staging time.
var levels = map[WorkItemType]int{
	TypeEpic:      0,
	TypeFeature:   1,
	TypeTestPlan:  1,
	TypeUserStory: 2,
	TypeTask:      3,
	TypeTestSuite: 3,
	TypeTestCase:  3,
}

// Valid reports whether t is a known work item type.
func (t WorkItemType) Valid() bool {
	_, ok := levels[t]
	return ok
}

// Level returns the hierarchy level for t (0=Epic through 3=Task/Test
// Suite/Test Case). Panics on unknown types; callers validate first.
func (t WorkItemType) Level() int {
	lvl, ok := levels[t]
	if !ok {
		panic(fmt.Sprintf("backlog: unknown work item type %q", t))
	}
	return lvl
}

// ParseType converts a string into a WorkItemType.
func ParseType(s string) (WorkItemType, error) {
	t := WorkItemType(s)
	if !t.Valid() {
		return "", fmt.Errorf("backlog: unknown work item type %q", s)
	}
	return t, nil
}
