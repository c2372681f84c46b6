// Package outbox drains the staging store into the remote work-item
// store. Dependency correctness is the governing rule: an item is never
// attempted before its parent's remote ID is known, so phases run in a
// fixed total order and unready children are skipped, not retried blindly.
package outbox

import "github.com/oldmantran/backlogsmith/internal/backlog"

// Phase identifies one slice of the drain: a hierarchy level plus a type
// filter. Features and Test Plans share a level but upload in separate
// phases, so every Feature exists remotely before any User Story is
// attempted; likewise Test Suites complete before Test Cases.
type Phase struct {
	Name  string
	Level int
	Types []backlog.WorkItemType
}

// Phases is the fixed drain order.
var Phases = []Phase{
	{Name: "epics", Level: 0, Types: []backlog.WorkItemType{backlog.TypeEpic}},
	{Name: "features", Level: 1, Types: []backlog.WorkItemType{backlog.TypeFeature}},
	{Name: "test-plans", Level: 1, Types: []backlog.WorkItemType{backlog.TypeTestPlan}},
	{Name: "stories", Level: 2, Types: []backlog.WorkItemType{backlog.TypeUserStory}},
	{Name: "tasks", Level: 3, Types: []backlog.WorkItemType{backlog.TypeTask}},
	{Name: "test-suites", Level: 3, Types: []backlog.WorkItemType{backlog.TypeTestSuite}},
	{Name: "test-cases", Level: 3, Types: []backlog.WorkItemType{backlog.TypeTestCase}},
}
