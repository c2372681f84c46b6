package backlog

import "fmt"

// Vision is the root of a generated backlog tree.
type Vision struct {
	Title     string `json:"title"`
	Statement string `json:"statement"`
	Epics     []Epic `json:"epics"`
}

// Epic is a top-level backlog item decomposed from the vision.
type Epic struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    int       `json:"priority"` // 0=critical → 4=backlog
	Features    []Feature `json:"features"`
}

// Feature groups related user stories under an epic.
type Feature struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Stories     []UserStory `json:"stories"`
}

// UserStory is a user-facing unit of value with tasks and test cases.
type UserStory struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Acceptance  string     `json:"acceptance_criteria"`
	Tasks       []Task     `json:"tasks"`
	TestCases   []TestCase `json:"test_cases"`
}

// Task is an implementation step under a user story.
type Task struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	EstimateHours float64 `json:"estimate_hours"`
}

// TestCase verifies a user story.
type TestCase struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Steps    []string `json:"steps"`
	Expected string   `json:"expected"`
}

// AssignIDs walks the tree and gives every node a stable positional ID
// (epic-1, feature-1-2, story-1-2-3, ...). Sweeper findings and the
// supervisor's per-item retry ledger key on these IDs, so they must be
// deterministic across regeneration passes.
func AssignIDs(v *Vision) {
	for i := range v.Epics {
		e := &v.Epics[i]
		e.ID = fmt.Sprintf("epic-%d", i+1)
		for j := range e.Features {
			f := &e.Features[j]
			f.ID = fmt.Sprintf("feature-%d-%d", i+1, j+1)
			for k := range f.Stories {
				s := &f.Stories[k]
				s.ID = fmt.Sprintf("story-%d-%d-%d", i+1, j+1, k+1)
				for m := range s.Tasks {
					s.Tasks[m].ID = fmt.Sprintf("task-%d-%d-%d-%d", i+1, j+1, k+1, m+1)
				}
				for m := range s.TestCases {
					s.TestCases[m].ID = fmt.Sprintf("test-%d-%d-%d-%d", i+1, j+1, k+1, m+1)
				}
			}
		}
	}
}

// CountNodes returns the number of staging rows the tree will produce,
// including the synthetic Test Plan and Test Suite nodes derived from
// epics and stories that carry test cases.
func CountNodes(v *Vision) int {
	n := 0
	for _, e := range v.Epics {
		n++ // epic
		epicHasTests := false
		for _, f := range e.Features {
			n++ // feature
			for _, s := range f.Stories {
				n++ // story
				n += len(s.Tasks)
				n += len(s.TestCases)
				if len(s.TestCases) > 0 {
					n++ // test suite
					epicHasTests = true
				}
			}
		}
		if epicHasTests {
			n++ // test plan
		}
	}
	return n
}

// HasTestCases reports whether any story under the epic has test cases.
func (e *Epic) HasTestCases() bool {
	for _, f := range e.Features {
		for _, s := range f.Stories {
			if len(s.TestCases) > 0 {
				return true
			}
		}
	}
	return false
}
