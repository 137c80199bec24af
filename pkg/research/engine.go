// Package research runs research sessions: plan search queries, fan them out
// to a search provider, condense each result into a learning, decide whether
// to dig further and finally stream a report.
package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/cache"
	"github.com/mikeboe/deep-research/pkg/concurrency"
	"github.com/mikeboe/deep-research/pkg/errs"
	"github.com/mikeboe/deep-research/pkg/policy"
	"github.com/mikeboe/deep-research/pkg/provider"
	"github.com/mikeboe/deep-research/pkg/splitter"
	"github.com/mikeboe/deep-research/pkg/stream"
)

// Providers resolves the capabilities a session uses.
type Providers interface {
	TextModel(ctx context.Context, cfg provider.ModelConfig) (provider.TextModel, error)
	Search(ctx context.Context, id, apiKey string) (provider.SearchProvider, error)
}

// Events receives the events of one session.
type Events interface {
	Send(typ stream.EventType, data any) bool
}

// Observer is told how sessions and tasks ended.
type Observer interface {
	SessionFinished(kind, depth, outcome string)
	TaskSettled(outcome string)
}

// Stage is a state of the session state machine.
type Stage string

const (
	StagePlanning     Stage = "planning"
	StageSearching    Stage = "searching"
	StageSynthesizing Stage = "synthesizing"
	StageDeciding     Stage = "deciding"
	StageReporting    Stage = "reporting"
	StageDone         Stage = "done"
	StageErrored      Stage = "errored"
)

// DefaultMaxSourceChars bounds the search content given to the task model for
// one task.
const DefaultMaxSourceChars = 12000

type Options struct {
	// Cache is optional; without it nothing is cached.
	Cache *cache.Cache
	// Semaphore bounds outbound calls across all sessions.
	Semaphore *concurrency.Semaphore
	Requests  *concurrency.RequestManager
	Budgets   policy.Table
	Defaults  Defaults
	Observer  Observer
	Logger    *slog.Logger

	MaxSourceChars int
}

// Engine runs research sessions. One Engine serves many concurrent sessions;
// they share only the cache and the semaphore.
type Engine struct {
	Logger *slog.Logger

	providers      Providers
	cache          *cache.Cache
	sem            *concurrency.Semaphore
	requests       *concurrency.RequestManager
	budgets        policy.Table
	defaults       Defaults
	observer       Observer
	splitter       *splitter.TextSplitter
	maxSourceChars int
	now            func() time.Time

	mu       sync.Mutex
	sessions map[string]context.CancelCauseFunc
}

func NewEngine(providers Providers, opts Options) *Engine {
	e := &Engine{
		Logger:         opts.Logger,
		providers:      providers,
		cache:          opts.Cache,
		sem:            opts.Semaphore,
		requests:       opts.Requests,
		budgets:        opts.Budgets,
		defaults:       opts.Defaults,
		observer:       opts.Observer,
		maxSourceChars: opts.MaxSourceChars,
		splitter:       splitter.NewRecursiveCharacterTextSplitter(1000, 0),
		now:            time.Now,
		sessions:       make(map[string]context.CancelCauseFunc),
	}
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	if e.sem == nil {
		e.sem = concurrency.NewSemaphore(concurrency.DefaultPermits)
	}
	if e.requests == nil {
		e.requests = concurrency.NewRequestManager(concurrency.DefaultDedupWindow)
	}
	if e.budgets == nil {
		e.budgets = policy.DefaultTable()
	}
	if e.maxSourceChars <= 0 {
		e.maxSourceChars = DefaultMaxSourceChars
	}
	return e
}

// Semaphore returns the permit pool shared by all sessions.
func (e *Engine) Semaphore() *concurrency.Semaphore { return e.sem }

// Abort cancels the running session id and every in-flight request it owns.
func (e *Engine) Abort(id string) bool {
	e.mu.Lock()
	cancel, ok := e.sessions[id]
	e.mu.Unlock()
	if !ok {
		return false
	}
	cancel(&errs.CancellationError{Key: id})
	e.requests.AbortRequests(id + "/")
	return true
}

// Sessions lists the ids of running sessions.
func (e *Engine) Sessions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Engine) register(id string, cancel context.CancelCauseFunc) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.sessions[id]; dup {
		return false
	}
	e.sessions[id] = cancel
	return true
}

func (e *Engine) unregister(id string) {
	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()
}

// Prepare fills blank fields of req from the engine defaults and assigns a
// research id. Run calls it; it is exported for callers that need the final
// request before the session starts.
func (e *Engine) Prepare(req Request) Request {
	req = e.defaults.apply(req)
	if req.ResearchID == "" {
		req.ResearchID = uuid.NewString()
	}
	return req
}

// Run executes one session, sending its events to events. It always sends an
// info event first and exactly one terminal event (complete or error) last.
// The caller owns events and closes it after Run returns.
func (e *Engine) Run(ctx context.Context, req Request, events Events) (*Result, error) {
	req = e.Prepare(req)
	budget := e.budgets.For(req.Depth)
	logger := e.Logger
	if req.Logger != nil {
		logger = req.Logger
	}

	s := &session{
		e:         e,
		id:        req.ResearchID,
		req:       req,
		budget:    budget,
		events:    events,
		tasks:     NewTaskList(),
		stage:     StagePlanning,
		startedAt: e.now(),
		log: logger.With(
			"research_id", req.ResearchID,
			"kind", kindLabel(req.Kind),
			"depth", req.Depth,
		),
	}
	events.Send(stream.EventInfo, s.info())

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if !e.register(s.id, cancel) {
		err := fmt.Errorf("research %s is already running", s.id)
		s.finish(nil, err, "error")
		return nil, err
	}
	defer e.unregister(s.id)
	defer e.requests.AbortRequests(s.id + "/")

	ctx, stop := context.WithTimeoutCause(ctx, budget.SessionTimeout, &errs.TimeoutError{
		Message: policy.TimeoutMessage(req.Depth, budget.SessionTimeout),
		After:   budget.SessionTimeout,
	})
	defer stop()

	s.log.Info("Starting research", "subject", req.Subject(), "timeout", budget.SessionTimeout)
	res, cached, err := s.run(ctx)
	s.tasks.Freeze()
	if err != nil {
		err = s.classify(ctx, err)
		s.finish(nil, err, Outcome(err))
		return nil, err
	}
	outcome := "complete"
	if cached {
		outcome = "cached"
	}
	s.finish(res, nil, outcome)
	return res, nil
}

// Outcome names how a session that returned err ended: complete, canceled,
// timeout or error.
func Outcome(err error) string {
	var te *errs.TimeoutError
	switch {
	case err == nil:
		return "complete"
	case errors.Is(err, errs.ErrCanceled):
		return "canceled"
	case errors.As(err, &te):
		return "timeout"
	default:
		return "error"
	}
}

type session struct {
	e      *Engine
	id     string
	req    Request
	budget policy.Budget
	events Events
	tasks  *TaskList
	log    *slog.Logger

	thinking provider.TextModel
	task     provider.TextModel
	search   provider.SearchProvider

	cacheKey   string
	plan       string
	iterations int
	startedAt  time.Time

	mu    sync.Mutex
	stage Stage
}

func (s *session) setStage(st Stage) {
	s.mu.Lock()
	s.stage = st
	s.mu.Unlock()
	s.log.Info("Entering stage", "stage", st)
}

func (s *session) currentStage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

func (s *session) progress(step, status, name string, data any) {
	s.events.Send(stream.EventProgress, Progress{Step: step, Status: status, Name: name, Data: data})
}

func (s *session) info() Info {
	return Info{
		ResearchID:     s.id,
		Kind:           kindLabel(s.req.Kind),
		SearchDepth:    string(s.req.Depth),
		ThinkingModel:  modelLabel(s.req.Thinking),
		TaskModel:      modelLabel(s.req.Task),
		SearchProvider: s.req.SearchProvider,
		StartedAt:      s.startedAt,
	}
}

func modelLabel(m provider.ModelConfig) string {
	if m.ProviderID == "" {
		return m.ModelID
	}
	return m.ProviderID + "/" + m.ModelID
}

func (s *session) run(ctx context.Context) (*Result, bool, error) {
	if res, ok := s.lookup(ctx); ok {
		return res, true, nil
	}
	if err := s.resolve(ctx); err != nil {
		return nil, false, err
	}
	if err := s.planTasks(ctx); err != nil {
		return nil, false, err
	}

	for round := 1; ; round++ {
		s.iterations = round
		if err := s.searchRound(ctx, round); err != nil {
			return nil, false, err
		}
		if round >= s.budget.Iterations {
			break
		}
		more, err := s.review(ctx, round)
		if err != nil {
			return nil, false, err
		}
		if len(more) == 0 {
			break
		}
	}

	report, err := s.writeReport(ctx)
	if err != nil {
		return nil, false, err
	}
	res := s.result(report)
	s.store(ctx, res)
	return res, false, nil
}

// resolve builds the models and search provider once for the whole session.
func (s *session) resolve(ctx context.Context) error {
	var err error
	if s.thinking, err = s.e.providers.TextModel(ctx, s.req.Thinking); err != nil {
		return err
	}
	if s.task, err = s.e.providers.TextModel(ctx, s.req.Task); err != nil {
		return err
	}
	if s.search, err = s.e.providers.Search(ctx, s.req.SearchProvider, s.req.SearchAPIKey); err != nil {
		return err
	}
	return nil
}

// classify replaces err with the session-level cause when the session itself
// was aborted or ran out of time, and tags it with the failing stage.
func (s *session) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		var te *errs.TimeoutError
		var ce *errs.CancellationError
		switch {
		case errors.As(cause, &te), errors.As(cause, &ce):
			err = cause
		case errors.Is(cause, context.Canceled):
			err = &errs.CancellationError{Key: s.id}
		}
	}
	return &errs.StageError{Stage: string(s.currentStage()), Err: err}
}

// finish sends the single terminal event and records the outcome.
func (s *session) finish(res *Result, err error, outcome string) {
	if s.e.observer != nil {
		s.e.observer.SessionFinished(kindLabel(s.req.Kind), string(s.req.Depth), outcome)
	}
	if err != nil {
		stage := s.currentStage()
		msg := err.Error()
		var se *errs.StageError
		if errors.As(err, &se) {
			msg = se.Err.Error()
		}
		s.setStage(StageErrored)
		if outcome == "canceled" {
			s.log.Warn("Research canceled", "stage", stage)
		} else {
			s.log.Error("Research failed", "stage", stage, "error", err)
		}
		s.events.Send(stream.EventError, Failure{
			Message:    msg,
			ResearchID: s.id,
			Stage:      string(stage),
			Tasks:      s.tasks.Snapshot(),
		})
		return
	}
	s.setStage(StageDone)
	s.log.Info("Research complete", "outcome", outcome, "tasks", len(res.Tasks), "sources", len(res.Sources))
	s.events.Send(stream.EventComplete, res)
}
