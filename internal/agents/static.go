package agents

import "context"

// StaticAgent returns canned items regardless of context. Used for dry
// runs and as the standard test double for generation.
type StaticAgent struct {
	Items []Item
	Err   error
}

// Generate returns the canned items (truncated to the constraint) or the
// canned error.
func (s *StaticAgent) Generate(_ context.Context, _ string, c Constraints) ([]Item, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	items := s.Items
	if c.MaxItems > 0 && len(items) > c.MaxItems {
		items = items[:c.MaxItems]
	}
	return items, nil
}
