package agents

import (
	"context"
	"fmt"
	"reflect"
	"testing"
)

func TestRegistry_Get(t *testing.T) {
	want := &StaticAgent{Items: []Item{{Title: "A"}}}
	reg := NewRegistry(map[string]Agent{NameEpic: want})

	got, err := reg.Get(NameEpic)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != want {
		t.Error("Get returned a different agent")
	}

	if _, err := reg.Get(NameTask); err == nil {
		t.Error("Get for unregistered name did not error")
	}
}

func TestRegistry_CopiesInput(t *testing.T) {
	src := map[string]Agent{NameEpic: &StaticAgent{}}
	reg := NewRegistry(src)
	src[NameTask] = &StaticAgent{}

	if _, err := reg.Get(NameTask); err == nil {
		t.Error("mutation of the source map leaked into the registry")
	}
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry(map[string]Agent{
		NameTask:  &StaticAgent{},
		NameEpic:  &StaticAgent{},
		NameStory: &StaticAgent{},
	})
	want := []string{"epic", "story", "task"}
	if got := reg.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestStaticAgent_Truncates(t *testing.T) {
	a := &StaticAgent{Items: []Item{{Title: "1"}, {Title: "2"}, {Title: "3"}}}

	items, err := a.Generate(context.Background(), "", Constraints{MaxItems: 2})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("got %d items, want 2", len(items))
	}

	// MaxItems of 0 means unbounded.
	items, _ = a.Generate(context.Background(), "", Constraints{})
	if len(items) != 3 {
		t.Errorf("got %d items, want all 3", len(items))
	}
}

func TestStaticAgent_Error(t *testing.T) {
	a := &StaticAgent{Err: fmt.Errorf("boom")}
	if _, err := a.Generate(context.Background(), "", Constraints{}); err == nil {
		t.Error("canned error not returned")
	}
}

func TestParseItems(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    int
		wantErr bool
	}{
		{
			name: "bare array",
			text: `[{"title":"A","priority":1},{"title":"B"}]`,
			want: 2,
		},
		{
			name: "fenced",
			text: "```json\n[{\"title\":\"A\"}]\n```",
			want: 1,
		},
		{
			name: "surrounding prose",
			text: "Here are the epics:\n[{\"title\":\"A\"}]\nLet me know if you need more.",
			want: 1,
		},
		{
			name: "empty array",
			text: "[]",
			want: 0,
		},
		{
			name:    "no array",
			text:    "I could not produce a backlog.",
			wantErr: true,
		},
		{
			name:    "malformed json",
			text:    `[{"title":}]`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := parseItems(tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseItems error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && len(items) != tt.want {
				t.Errorf("got %d items, want %d", len(items), tt.want)
			}
		})
	}
}

func TestParseItems_Fields(t *testing.T) {
	text := `[{"title":"Verify login","steps":["open page","enter creds"],"expected":"dashboard shown","estimate_hours":1.5,"acceptance_criteria":"works"}]`
	items, err := parseItems(text)
	if err != nil {
		t.Fatalf("parseItems: %v", err)
	}
	it := items[0]
	if it.Title != "Verify login" || len(it.Steps) != 2 || it.Expected != "dashboard shown" ||
		it.EstimateHours != 1.5 || it.Acceptance != "works" {
		t.Errorf("decoded item = %+v", it)
	}
}

func TestNewAnthropicAgent_RequiresKey(t *testing.T) {
	t.Setenv("BSM_TEST_MISSING_KEY", "")
	if _, err := NewAnthropicAgent("claude-haiku-4-5", "BSM_TEST_MISSING_KEY"); err == nil {
		t.Error("missing API key did not error")
	}

	t.Setenv("BSM_TEST_KEY", "sk-test")
	if _, err := NewAnthropicAgent("claude-haiku-4-5", "BSM_TEST_KEY"); err != nil {
		t.Errorf("NewAnthropicAgent with key set: %v", err)
	}
}
