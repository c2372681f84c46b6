package sweeper

import (
	"context"

	"github.com/oldmantran/backlogsmith/internal/backlog"
)

// Structural reports items whose required content is missing: epics
// without features, features without stories, stories without titles,
// acceptance criteria, or tasks. It never errors.
type Structural struct{}

// Validate implements Sweeper.
func (Structural) Validate(_ context.Context, stage string, v *backlog.Vision) ([]Finding, error) {
	if v == nil {
		return nil, nil
	}

	var findings []Finding
	report := func(id, desc string) {
		findings = append(findings, Finding{WorkItemID: id, Description: desc, Stage: stage})
	}

	switch stage {
	case "epics":
		for _, e := range v.Epics {
			if e.Title == "" {
				report(e.ID, "epic has no title")
			}
		}
	case "features":
		for _, e := range v.Epics {
			if len(e.Features) == 0 {
				report(e.ID, "epic has no features")
				continue
			}
			for _, f := range e.Features {
				if f.Title == "" {
					report(f.ID, "feature has no title")
				}
			}
		}
	case "stories":
		for _, e := range v.Epics {
			for _, f := range e.Features {
				if len(f.Stories) == 0 {
					report(f.ID, "feature has no stories")
					continue
				}
				for _, s := range f.Stories {
					if s.Title == "" {
						report(s.ID, "story has no title")
					} else if s.Acceptance == "" {
						report(s.ID, "story has no acceptance criteria")
					}
				}
			}
		}
	case "tasks":
		for _, e := range v.Epics {
			for _, f := range e.Features {
				for _, s := range f.Stories {
					if len(s.Tasks) == 0 {
						report(s.ID, "story has no tasks")
						continue
					}
					for _, t := range s.Tasks {
						if t.Title == "" {
							report(t.ID, "task has no title")
						}
					}
				}
			}
		}
	case "tests":
		for _, e := range v.Epics {
			for _, f := range e.Features {
				for _, s := range f.Stories {
					for _, tc := range s.TestCases {
						if tc.Title == "" {
							report(tc.ID, "test case has no title")
						}
					}
				}
			}
		}
	}
	return findings, nil
}
