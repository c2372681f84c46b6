package sweeper

import (
	"context"
	"testing"

	"github.com/oldmantran/backlogsmith/internal/backlog"
)

func completeVision() *backlog.Vision {
	v := &backlog.Vision{Epics: []backlog.Epic{{
		Title: "Checkout",
		Features: []backlog.Feature{{
			Title: "Cart",
			Stories: []backlog.UserStory{{
				Title:      "Add item",
				Acceptance: "Item in cart",
				Tasks:      []backlog.Task{{Title: "Wire endpoint"}},
				TestCases:  []backlog.TestCase{{Title: "Add one item"}},
			}},
		}},
	}}}
	backlog.AssignIDs(v)
	return v
}

func TestStructural_CompleteTreeIsClean(t *testing.T) {
	v := completeVision()
	for _, stage := range []string{"epics", "features", "stories", "tasks", "tests"} {
		findings, err := Structural{}.Validate(context.Background(), stage, v)
		if err != nil {
			t.Fatalf("stage %s: %v", stage, err)
		}
		if len(findings) != 0 {
			t.Errorf("stage %s: findings = %v, want none", stage, findings)
		}
	}
}

func TestStructural_Findings(t *testing.T) {
	tests := []struct {
		name     string
		stage    string
		mutate   func(v *backlog.Vision)
		wantID   string
		wantDesc string
	}{
		{
			name:     "epic without features",
			stage:    "features",
			mutate:   func(v *backlog.Vision) { v.Epics[0].Features = nil },
			wantID:   "epic-1",
			wantDesc: "epic has no features",
		},
		{
			name:     "feature without stories",
			stage:    "stories",
			mutate:   func(v *backlog.Vision) { v.Epics[0].Features[0].Stories = nil },
			wantID:   "feature-1-1",
			wantDesc: "feature has no stories",
		},
		{
			name:     "story without acceptance",
			stage:    "stories",
			mutate:   func(v *backlog.Vision) { v.Epics[0].Features[0].Stories[0].Acceptance = "" },
			wantID:   "story-1-1-1",
			wantDesc: "story has no acceptance criteria",
		},
		{
			name:     "story without tasks",
			stage:    "tasks",
			mutate:   func(v *backlog.Vision) { v.Epics[0].Features[0].Stories[0].Tasks = nil },
			wantID:   "story-1-1-1",
			wantDesc: "story has no tasks",
		},
		{
			name:     "test case without title",
			stage:    "tests",
			mutate:   func(v *backlog.Vision) { v.Epics[0].Features[0].Stories[0].TestCases[0].Title = "" },
			wantID:   "test-1-1-1-1",
			wantDesc: "test case has no title",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := completeVision()
			tt.mutate(v)
			findings, err := Structural{}.Validate(context.Background(), tt.stage, v)
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if len(findings) != 1 {
				t.Fatalf("findings = %v, want exactly 1", findings)
			}
			f := findings[0]
			if f.WorkItemID != tt.wantID {
				t.Errorf("WorkItemID = %q, want %q", f.WorkItemID, tt.wantID)
			}
			if f.Description != tt.wantDesc {
				t.Errorf("Description = %q, want %q", f.Description, tt.wantDesc)
			}
			if f.Stage != tt.stage {
				t.Errorf("Stage = %q, want %q", f.Stage, tt.stage)
			}
		})
	}
}

func TestStructural_NilVision(t *testing.T) {
	findings, err := Structural{}.Validate(context.Background(), "epics", nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if findings != nil {
		t.Errorf("findings = %v, want nil", findings)
	}
}

func TestStructural_UnknownStage(t *testing.T) {
	findings, err := Structural{}.Validate(context.Background(), "deploy", completeVision())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("findings = %v, want none for unknown stage", findings)
	}
}
