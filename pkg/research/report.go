package research

import (
	"github.com/mikeboe/deep-research/pkg/provider"
)

// dedupeSources merges the sources of tasks by URL, keeping first-seen order.
func dedupeSources(tasks []Task) []provider.Source {
	seen := make(map[string]struct{})
	out := []provider.Source{}
	for _, t := range tasks {
		for _, src := range t.Sources {
			if _, dup := seen[src.URL]; dup || src.URL == "" {
				continue
			}
			seen[src.URL] = struct{}{}
			out = append(out, src)
		}
	}
	return out
}

func dedupeImages(tasks []Task) []provider.ImageSource {
	seen := make(map[string]struct{})
	out := []provider.ImageSource{}
	for _, t := range tasks {
		for _, img := range t.Images {
			if _, dup := seen[img.URL]; dup || img.URL == "" {
				continue
			}
			seen[img.URL] = struct{}{}
			out = append(out, img)
		}
	}
	return out
}

func (s *session) result(report string) *Result {
	tasks := s.tasks.Snapshot()
	completed := s.tasks.Completed()

	var failed []string
	for _, t := range tasks {
		if t.State == TaskFailed {
			failed = append(failed, t.Query)
		}
	}

	done := s.e.now()
	return &Result{
		Report:  report,
		Plan:    s.plan,
		Sources: dedupeSources(completed),
		Images:  dedupeImages(completed),
		Tasks:   tasks,
		Metadata: Metadata{
			ResearchID:     s.id,
			Kind:           kindLabel(s.req.Kind),
			SearchDepth:    string(s.req.Depth),
			Goal:           s.req.Goal,
			CompanyName:    s.req.CompanyName,
			Industry:       s.req.Industry,
			Competitors:    s.req.Competitors,
			Companies:      s.req.Companies,
			Market:         s.req.Market,
			Language:       s.req.Language,
			ThinkingModel:  modelLabel(s.req.Thinking),
			TaskModel:      modelLabel(s.req.Task),
			SearchProvider: s.req.SearchProvider,
			Iterations:     s.iterations,
			TaskCount:      len(tasks),
			FailedTasks:    failed,
			StartedAt:      s.startedAt,
			CompletedAt:    done,
			DurationMs:     s.elapsed().Milliseconds(),
		},
	}
}
