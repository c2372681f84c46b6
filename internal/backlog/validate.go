package backlog

import "fmt"

// ValidateStage checks the structural shape the named pipeline stage is
// expected to have produced. Returns a list of problems (empty if valid).
// These checks are advisory; the supervisor logs them without blocking.
func ValidateStage(stage string, v *Vision) []string {
	if v == nil {
		return []string{"vision is nil"}
	}

	var errs []string
	switch stage {
	case "epics":
		if len(v.Epics) == 0 {
			errs = append(errs, "no epics generated")
		}
		for i, e := range v.Epics {
			if e.Title == "" {
				errs = append(errs, fmt.Sprintf("epics[%d]: title is required", i))
			}
			if e.Priority < 0 || e.Priority > 4 {
				errs = append(errs, fmt.Sprintf("epics[%d] (%s): priority %d out of range 0-4", i, e.ID, e.Priority))
			}
		}
	case "features":
		for i, e := range v.Epics {
			if len(e.Features) == 0 {
				errs = append(errs, fmt.Sprintf("epics[%d] (%s): no features generated", i, e.ID))
			}
			for j, f := range e.Features {
				if f.Title == "" {
					errs = append(errs, fmt.Sprintf("epics[%d].features[%d]: title is required", i, j))
				}
			}
		}
	case "stories":
		forEachFeature(v, func(path string, f *Feature) {
			if len(f.Stories) == 0 {
				errs = append(errs, fmt.Sprintf("%s (%s): no stories generated", path, f.ID))
			}
			for k, s := range f.Stories {
				if s.Title == "" {
					errs = append(errs, fmt.Sprintf("%s.stories[%d]: title is required", path, k))
				}
				if s.Acceptance == "" {
					errs = append(errs, fmt.Sprintf("%s.stories[%d] (%s): acceptance criteria required", path, k, s.ID))
				}
			}
		})
	case "tasks":
		forEachStory(v, func(path string, s *UserStory) {
			if len(s.Tasks) == 0 {
				errs = append(errs, fmt.Sprintf("%s (%s): no tasks generated", path, s.ID))
			}
			for m, t := range s.Tasks {
				if t.Title == "" {
					errs = append(errs, fmt.Sprintf("%s.tasks[%d]: title is required", path, m))
				}
			}
		})
	case "tests":
		forEachStory(v, func(path string, s *UserStory) {
			for m, tc := range s.TestCases {
				if tc.Title == "" {
					errs = append(errs, fmt.Sprintf("%s.test_cases[%d]: title is required", path, m))
				}
			}
		})
	}
	return errs
}

func forEachFeature(v *Vision, fn func(path string, f *Feature)) {
	for i := range v.Epics {
		for j := range v.Epics[i].Features {
			fn(fmt.Sprintf("epics[%d].features[%d]", i, j), &v.Epics[i].Features[j])
		}
	}
}

func forEachStory(v *Vision, fn func(path string, s *UserStory)) {
	forEachFeature(v, func(path string, f *Feature) {
		for k := range f.Stories {
			fn(fmt.Sprintf("%s.stories[%d]", path, k), &f.Stories[k])
		}
	})
}
