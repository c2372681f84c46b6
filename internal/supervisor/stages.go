package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/oldmantran/backlogsmith/internal/agents"
	"github.com/oldmantran/backlogsmith/internal/backlog"
)

// callAgent resolves the named agent and invokes it under the stage
// watchdog. Generation runs in its own goroutine so a hung collaborator
// surfaces as a timeout error to the retry loop instead of wedging the
// pipeline.
func (s *Supervisor) callAgent(ctx context.Context, name, parentContext string, maxItems int) ([]agents.Item, error) {
	agent, err := s.deps.Registry.Get(name)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, s.opts.StageTimeout)
	defer cancel()

	type genResult struct {
		items []agents.Item
		err   error
	}
	ch := make(chan genResult, 1)
	go func() {
		items, err := agent.Generate(cctx, parentContext, agents.Constraints{MaxItems: maxItems, Kind: name})
		ch <- genResult{items, err}
	}()

	select {
	case r := <-ch:
		return r.items, r.err
	case <-cctx.Done():
		return nil, fmt.Errorf("%s agent timed out after %s: %w", name, s.opts.StageTimeout, cctx.Err())
	}
}

// runEpics decomposes the vision into epics.
func (s *Supervisor) runEpics(ctx context.Context, state *runState) error {
	parent := fmt.Sprintf("Product: %s\n\nVision:\n%s", state.vision.Title, state.vision.Statement)
	items, err := s.callAgent(ctx, agents.NameEpic, parent, s.opts.MaxEpics)
	if err != nil {
		return err
	}

	epics := make([]backlog.Epic, 0, len(items))
	for _, it := range items {
		epics = append(epics, backlog.Epic{
			Title:       it.Title,
			Description: it.Description,
			Priority:    it.Priority,
		})
	}
	state.vision.Epics = epics
	return nil
}

// runFeatures decomposes each epic into features. Epics are independent,
// so decomposition runs on a worker pool when parallelism is enabled and
// more than one epic exists; results are written back by epic index, so
// the final tree is deterministic regardless of completion order.
func (s *Supervisor) runFeatures(ctx context.Context, state *runState) error {
	return s.forEachEpic(ctx, state, func(ctx context.Context, e *backlog.Epic) error {
		parent := fmt.Sprintf("Vision: %s\n\nEpic: %s\n%s", state.vision.Statement, e.Title, e.Description)
		items, err := s.callAgent(ctx, agents.NameFeature, parent, s.opts.MaxFeatures)
		if err != nil {
			return fmt.Errorf("epic %q: %w", e.Title, err)
		}
		features := make([]backlog.Feature, 0, len(items))
		for _, it := range items {
			features = append(features, backlog.Feature{
				Title:       it.Title,
				Description: it.Description,
			})
		}
		e.Features = features
		return nil
	})
}

// runStories decomposes each feature into user stories.
func (s *Supervisor) runStories(ctx context.Context, state *runState) error {
	return s.forEachEpic(ctx, state, func(ctx context.Context, e *backlog.Epic) error {
		for fi := range e.Features {
			f := &e.Features[fi]
			parent := fmt.Sprintf("Epic: %s\n\nFeature: %s\n%s", e.Title, f.Title, f.Description)
			items, err := s.callAgent(ctx, agents.NameStory, parent, s.opts.MaxStories)
			if err != nil {
				return fmt.Errorf("feature %q: %w", f.Title, err)
			}
			stories := make([]backlog.UserStory, 0, len(items))
			for _, it := range items {
				stories = append(stories, backlog.UserStory{
					Title:       it.Title,
					Description: it.Description,
					Acceptance:  it.Acceptance,
				})
			}
			f.Stories = stories
		}
		return nil
	})
}

// runTasks breaks each user story into implementation tasks.
func (s *Supervisor) runTasks(ctx context.Context, state *runState) error {
	return s.forEachEpic(ctx, state, func(ctx context.Context, e *backlog.Epic) error {
		for fi := range e.Features {
			f := &e.Features[fi]
			for si := range f.Stories {
				st := &f.Stories[si]
				items, err := s.callAgent(ctx, agents.NameTask, storyContext(f, st), s.opts.MaxTasks)
				if err != nil {
					return fmt.Errorf("story %q: %w", st.Title, err)
				}
				tasks := make([]backlog.Task, 0, len(items))
				for _, it := range items {
					tasks = append(tasks, backlog.Task{
						Title:         it.Title,
						Description:   it.Description,
						EstimateHours: it.EstimateHours,
					})
				}
				st.Tasks = tasks
			}
		}
		return nil
	})
}

// runTests writes test cases for each user story.
func (s *Supervisor) runTests(ctx context.Context, state *runState) error {
	return s.forEachEpic(ctx, state, func(ctx context.Context, e *backlog.Epic) error {
		for fi := range e.Features {
			f := &e.Features[fi]
			for si := range f.Stories {
				st := &f.Stories[si]
				items, err := s.callAgent(ctx, agents.NameTest, storyContext(f, st), s.opts.MaxTests)
				if err != nil {
					return fmt.Errorf("story %q: %w", st.Title, err)
				}
				cases := make([]backlog.TestCase, 0, len(items))
				for _, it := range items {
					cases = append(cases, backlog.TestCase{
						Title:    it.Title,
						Steps:    it.Steps,
						Expected: it.Expected,
					})
				}
				st.TestCases = cases
			}
		}
		return nil
	})
}

func storyContext(f *backlog.Feature, st *backlog.UserStory) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Feature: %s\n\nStory: %s\n%s", f.Title, st.Title, st.Description)
	if st.Acceptance != "" {
		fmt.Fprintf(&b, "\n\nAcceptance criteria:\n%s", st.Acceptance)
	}
	return b.String()
}

// forEachEpic applies fn to every epic, in parallel when enabled. Workers
// write into per-index error slots and never touch each other's epics, so
// there is no shared-state race; the caller blocks until all complete.
func (s *Supervisor) forEachEpic(ctx context.Context, state *runState, fn func(ctx context.Context, e *backlog.Epic) error) error {
	epics := state.vision.Epics
	if s.opts.Parallelism <= 1 || len(epics) <= 1 {
		for i := range epics {
			if err := fn(ctx, &epics[i]); err != nil {
				return err
			}
		}
		return nil
	}

	errs := make([]error, len(epics))
	sem := make(chan struct{}, s.opts.Parallelism)
	var wg sync.WaitGroup
	for i := range epics {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			errs[i] = fn(ctx, &epics[i])
		}(i)
	}
	wg.Wait()

	return errors.Join(errs...)
}
