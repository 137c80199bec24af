package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mikeboe/deep-research/pkg/cache"
	"github.com/mikeboe/deep-research/pkg/concurrency"
	"github.com/mikeboe/deep-research/pkg/errs"
	"github.com/mikeboe/deep-research/pkg/policy"
	"github.com/mikeboe/deep-research/pkg/provider"
	"github.com/mikeboe/deep-research/pkg/stream"
)

// guarded runs one outbound call under the session's retry policy. Each
// attempt holds a permit, is bounded by the per-call timeout and is registered
// with the request manager under the session id so Abort reaches it.
func guarded[T any](ctx context.Context, s *session, op string, params any, fn func(ctx context.Context) (T, error)) (T, error) {
	opts := s.budget.RetryOptions(op)
	opts.Logger = s.log
	msg := policy.CallTimeoutMessage(op, s.req.Depth, s.budget.CallTimeout)
	return policy.Retry(ctx, opts, func(ctx context.Context) (T, error) {
		return concurrency.RunWithPermit(ctx, s.e.sem, func(ctx context.Context) (T, error) {
			return policy.WithTimeout(ctx, s.budget.CallTimeout, msg, func(ctx context.Context) (T, error) {
				return concurrency.Deduplicate(ctx, s.e.requests, s.id+"/"+op, params, fn)
			})
		})
	})
}

type generateParams struct {
	System string `json:"system"`
	Prompt string `json:"prompt"`
}

// generate asks model for a completion and retries until validate accepts it.
func (s *session) generate(ctx context.Context, model provider.TextModel, op, system, prompt string, jsonMode bool, validate func(string) error) (string, error) {
	opts := provider.GenerateOptions{System: system, JSON: jsonMode}
	return guarded(ctx, s, op, generateParams{System: system, Prompt: prompt}, func(ctx context.Context) (string, error) {
		out, err := model.Generate(ctx, prompt, opts)
		if err != nil {
			return "", err
		}
		if validate != nil {
			if err := validate(out); err != nil {
				return "", fmt.Errorf("invalid %s response: %w", op, err)
			}
		}
		return out, nil
	})
}

// extractJSON strips Markdown fences and prose around a JSON object.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return content
	}
	return content[start : end+1]
}

func (s *session) lookup(ctx context.Context) (*Result, bool) {
	if s.e.cache == nil {
		return nil, false
	}
	key, err := cache.BuildCacheKey(s.req.Kind, s.req.cacheParams())
	if err != nil {
		s.log.Debug("Request is not cacheable", "reason", err)
		return nil, false
	}
	s.cacheKey = key
	if s.req.NoCache {
		return nil, false
	}

	entry, err := s.e.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("Cache lookup failed", "error", err)
		return nil, false
	}
	if entry == nil {
		return nil, false
	}
	var res Result
	if err := json.Unmarshal(entry.Data, &res); err != nil {
		s.log.Warn("Discarding unreadable cache entry", "key", key, "error", err)
		return nil, false
	}
	res.Metadata.Cached = true
	res.Metadata.ResearchID = s.id
	res.Metadata.StartedAt = s.startedAt
	res.Metadata.CompletedAt = s.e.now()
	res.Metadata.DurationMs = res.Metadata.CompletedAt.Sub(s.startedAt).Milliseconds()
	s.log.Info("Serving cached result", "key", key, "hits", entry.HitCount)
	return &res, true
}

// store caches res. Only cacheable requests have a key, and results without a
// single learning are not worth keeping.
func (s *session) store(ctx context.Context, res *Result) {
	if s.e.cache == nil || s.cacheKey == "" {
		return
	}
	if len(s.tasks.Completed()) == 0 {
		return
	}
	if err := s.e.cache.Set(context.WithoutCancel(ctx), s.cacheKey, res, 0); err != nil {
		s.log.Warn("Failed to cache result", "key", s.cacheKey, "error", err)
	}
}

type planResponse struct {
	Plan  string     `json:"plan"`
	Tasks []TaskStub `json:"tasks"`
}

func (s *session) planTasks(ctx context.Context) error {
	s.setStage(StagePlanning)
	s.progress(StepPlan, StatusStart, "", nil)

	data := newPromptData(s.req, s.startedAt)
	data.MaxTasks = s.budget.TasksPerRound
	data.Schema = planSchema
	prompt, err := render("plan", data)
	if err != nil {
		return err
	}

	var plan planResponse
	_, err = s.generate(ctx, s.thinking, "plan", planSystem, prompt, true, func(content string) error {
		plan = planResponse{}
		if err := json.Unmarshal([]byte(extractJSON(content)), &plan); err != nil {
			return fmt.Errorf("json parse error: %w", err)
		}
		if len(plan.Tasks) == 0 {
			return errors.New("empty task list")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.plan = plan.Plan
	s.progress(StepPlan, StatusEnd, "", TextChunk{Content: plan.Plan})

	stubs := plan.Tasks
	if n := s.budget.TasksPerRound; n > 0 && len(stubs) > n {
		stubs = stubs[:n]
	}
	added := s.tasks.Add(1, stubs...)
	s.log.Info("Planned search tasks", "count", len(added))
	s.progress(StepQueries, StatusEnd, "", added)
	return nil
}

type searchParams struct {
	Provider string `json:"provider"`
	Query    string `json:"query"`
}

type found struct {
	task   Task
	result provider.SearchResult
}

// searchRound runs the Searching and Synthesizing stages for every
// unprocessed task. Each stage is a barrier: it returns once all its tasks
// have settled. Only a session-level cancellation fails the round.
func (s *session) searchRound(ctx context.Context, round int) error {
	s.setStage(StageSearching)
	pending := s.tasks.Unprocessed()
	s.log.Info("Starting search round", "round", round, "tasks", len(pending))

	results := make([]*found, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range pending {
		if !s.tasks.Start(t.Query) {
			continue
		}
		s.progress(StepTask, StatusStart, t.Query, nil)
		g.Go(func() error {
			res, err := s.searchOne(gctx, t.Query)
			if err == nil && len(res.Results) == 0 && res.Answer == "" {
				err = &errs.UpstreamError{Provider: s.req.SearchProvider, Op: "search", Err: errors.New("no results")}
			}
			if err != nil {
				if ctx.Err() != nil {
					s.tasks.Fail(t.Query, err)
					return ctx.Err()
				}
				s.failTask(t, err)
				return nil
			}
			results[i] = &found{task: t, result: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.setStage(StageSynthesizing)
	g, gctx = errgroup.WithContext(ctx)
	for _, f := range results {
		if f == nil {
			continue
		}
		g.Go(func() error {
			learning, err := s.learn(gctx, f)
			if err != nil {
				if ctx.Err() != nil {
					s.tasks.Fail(f.task.Query, err)
					return ctx.Err()
				}
				s.failTask(f.task, err)
				return nil
			}
			sources := make([]provider.Source, 0, len(f.result.Results))
			for _, src := range f.result.Results {
				sources = append(sources, provider.Source{URL: src.URL, Title: src.Title})
			}
			if s.tasks.Complete(f.task.Query, learning, sources, f.result.Images) {
				s.taskSettled("completed")
				s.progress(StepTask, StatusEnd, f.task.Query, TextChunk{Content: learning})
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *session) searchOne(ctx context.Context, query string) (provider.SearchResult, error) {
	opts := provider.SearchOptions{
		MaxResults: 5,
		Advanced:   s.req.Depth == policy.DepthDeep,
		Language:   s.req.Language,
	}
	return guarded(ctx, s, "search", searchParams{Provider: s.req.SearchProvider, Query: query}, func(ctx context.Context) (provider.SearchResult, error) {
		return s.search.Search(ctx, query, opts)
	})
}

func (s *session) learn(ctx context.Context, f *found) (string, error) {
	sources := f.result.Results
	per := s.e.maxSourceChars
	if len(sources) > 0 {
		per = s.e.maxSourceChars / len(sources)
	}
	clipped := make([]provider.Source, len(sources))
	for i, src := range sources {
		src.Content = s.e.splitter.Clip(src.Content, per)
		clipped[i] = src
	}

	data := newPromptData(s.req, s.startedAt)
	data.Query = f.task.Query
	data.ResearchGoal = f.task.ResearchGoal
	data.Answer = f.result.Answer
	data.Sources = clipped
	prompt, err := render("learn", data)
	if err != nil {
		return "", err
	}
	out, err := s.generate(ctx, s.task, "learn", learnSystem, prompt, false, nonEmpty)
	return strings.TrimSpace(out), err
}

func nonEmpty(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("empty response")
	}
	return nil
}

func (s *session) failTask(t Task, err error) {
	if !s.tasks.Fail(t.Query, err) {
		return
	}
	s.taskSettled("failed")
	s.log.Warn("Search task failed", "query", t.Query, "error", err)
	s.progress(StepTask, StatusFailed, t.Query, map[string]string{"error": err.Error()})
}

func (s *session) taskSettled(outcome string) {
	if s.e.observer != nil {
		s.e.observer.TaskSettled(outcome)
	}
}

type reviewResponse struct {
	Sufficient bool       `json:"sufficient"`
	Reasoning  string     `json:"reasoning"`
	Tasks      []TaskStub `json:"tasks"`
}

// review decides whether another round is needed and returns the follow-up
// tasks it added. A failed review ends the loop instead of the session.
func (s *session) review(ctx context.Context, round int) ([]Task, error) {
	s.setStage(StageDeciding)
	s.progress(StepReview, StatusStart, "", nil)

	all := s.tasks.Snapshot()
	queries := make([]string, len(all))
	for i, t := range all {
		queries[i] = t.Query
	}
	data := newPromptData(s.req, s.startedAt)
	data.Plan = s.plan
	data.Learnings = s.tasks.Completed()
	data.Queries = queries
	data.MaxTasks = s.budget.TasksPerRound
	data.Schema = reviewSchema
	prompt, err := render("review", data)
	if err != nil {
		return nil, err
	}

	var decision reviewResponse
	_, err = s.generate(ctx, s.thinking, "review", reviewSystem, prompt, true, func(content string) error {
		decision = reviewResponse{}
		return json.Unmarshal([]byte(extractJSON(content)), &decision)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		s.log.Warn("Review failed, moving on to the report", "error", err)
		s.progress(StepReview, StatusFailed, "", map[string]string{"error": err.Error()})
		return nil, nil
	}

	if decision.Reasoning != "" {
		s.events.Send(stream.EventReasoning, TextChunk{Content: decision.Reasoning})
	}
	var added []Task
	if !decision.Sufficient {
		stubs := decision.Tasks
		if n := s.budget.TasksPerRound; n > 0 && len(stubs) > n {
			stubs = stubs[:n]
		}
		added = s.tasks.Add(round+1, stubs...)
	}
	s.log.Info("Review finished", "sufficient", decision.Sufficient, "follow_up", len(added))
	s.progress(StepReview, StatusEnd, "", map[string]any{"sufficient": decision.Sufficient, "tasks": added})
	return added, nil
}

// writeReport streams the final report as message events.
func (s *session) writeReport(ctx context.Context) (string, error) {
	s.setStage(StageReporting)
	s.progress(StepReport, StatusStart, "", nil)

	data := newPromptData(s.req, s.startedAt)
	data.Plan = s.plan
	data.Learnings = s.tasks.Completed()
	data.Sources = dedupeSources(data.Learnings)
	prompt, err := render("report", data)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	opts := provider.GenerateOptions{System: reportSystem}
	err = s.e.sem.Run(ctx, func(ctx context.Context) error {
		for chunk, err := range s.thinking.Stream(ctx, prompt, opts) {
			if err != nil {
				return err
			}
			b.WriteString(chunk)
			s.events.Send(stream.EventMessage, TextChunk{Content: chunk})
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	report := strings.TrimSpace(b.String())
	if report == "" {
		return "", &errs.UpstreamError{Provider: s.req.Thinking.ProviderID, Op: "report", Err: errors.New("model returned an empty report")}
	}
	s.progress(StepReport, StatusEnd, "", nil)
	return report, nil
}

func (s *session) elapsed() time.Duration { return s.e.now().Sub(s.startedAt) }
