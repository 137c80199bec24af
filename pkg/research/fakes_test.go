package research

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/cache"
	"github.com/mikeboe/deep-research/pkg/policy"
	"github.com/mikeboe/deep-research/pkg/provider"
	"github.com/mikeboe/deep-research/pkg/stream"
)

// fakeModel answers by system prompt, the way each stage identifies itself.
type fakeModel struct {
	mu      sync.Mutex
	calls   map[string]int
	respond func(ctx context.Context, system, prompt string) (string, error)
}

func (m *fakeModel) record(system string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[system]++
}

func (m *fakeModel) count(system string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[system]
}

func (m *fakeModel) Generate(ctx context.Context, prompt string, opts provider.GenerateOptions) (string, error) {
	m.record(opts.System)
	return m.respond(ctx, opts.System, prompt)
}

func (m *fakeModel) Stream(ctx context.Context, prompt string, opts provider.GenerateOptions) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		m.record(opts.System)
		out, err := m.respond(ctx, opts.System, prompt)
		if err != nil {
			yield("", err)
			return
		}
		for _, word := range strings.SplitAfter(out, " ") {
			if !yield(word, nil) {
				return
			}
		}
	}
}

const acmePlan = `{"plan":"Profile Acme Corp","tasks":[
	{"query":"acme corp overview","researchGoal":"business basics"},
	{"query":"acme corp revenue","researchGoal":"financials"},
	{"query":"acme corp competitors","researchGoal":"landscape"}
]}`

func scriptedModel() *fakeModel {
	return &fakeModel{respond: func(ctx context.Context, system, prompt string) (string, error) {
		switch system {
		case planSystem:
			return "```json\n" + acmePlan + "\n```", nil
		case learnSystem:
			query, _, _ := strings.Cut(strings.TrimPrefix(prompt, "Query: "), "\n")
			return "Learned about " + query, nil
		case reviewSystem:
			return `{"sufficient":true,"reasoning":"coverage is complete","tasks":[]}`, nil
		case reportSystem:
			return "# Acme Corp\n\nAcme makes anvils [1].", nil
		}
		return "", nil
	}}
}

// fakeSearch counts calls per query.
type fakeSearch struct {
	mu     sync.Mutex
	calls  map[string]int
	search func(ctx context.Context, query string) (provider.SearchResult, error)
}

func (f *fakeSearch) Search(ctx context.Context, query string, opts provider.SearchOptions) (provider.SearchResult, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[query]++
	f.mu.Unlock()
	return f.search(ctx, query)
}

func (f *fakeSearch) count(query string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[query]
}

func (f *fakeSearch) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func staticSearch() *fakeSearch {
	return &fakeSearch{search: func(ctx context.Context, query string) (provider.SearchResult, error) {
		return provider.SearchResult{
			Results: []provider.Source{
				{URL: "https://acme.example/about", Title: "About Acme", Content: "Acme makes anvils."},
				{URL: "https://news.example/" + strings.ReplaceAll(query, " ", "-"), Title: query, Content: "News on " + query},
			},
			Images: []provider.ImageSource{{URL: "https://acme.example/logo.png"}},
		}, nil
	}}
}

func blockingSearch() *fakeSearch {
	return &fakeSearch{search: func(ctx context.Context, query string) (provider.SearchResult, error) {
		<-ctx.Done()
		return provider.SearchResult{}, ctx.Err()
	}}
}

func testBudgets() policy.Table {
	b := policy.Budget{
		SessionTimeout: 5 * time.Second,
		CallTimeout:    time.Second,
		Iterations:     1,
		MaxRetries:     1,
		InitialDelay:   time.Millisecond,
		TasksPerRound:  3,
	}
	medium := b
	medium.Iterations = 2
	deep := b
	deep.Iterations = 3
	return policy.Table{policy.DepthFast: b, policy.DepthMedium: medium, policy.DepthDeep: deep}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type engineOpts struct {
	cache   *cache.Cache
	budgets policy.Table
	obs     Observer
}

func newTestEngine(t *testing.T, model *fakeModel, search *fakeSearch, o engineOpts) *Engine {
	t.Helper()
	reg := provider.NewRegistry(nil)
	reg.RegisterModel("fake", provider.ModelBackend{Name: "Fake",
		Build: func(ctx context.Context, cfg provider.ModelConfig, s provider.ProviderSettings) (provider.TextModel, error) {
			return model, nil
		}})
	reg.RegisterSearch("fake", provider.SearchBackend{Name: "Fake",
		Build: func(ctx context.Context, s provider.ProviderSettings) (provider.SearchProvider, error) {
			return search, nil
		}})
	if o.budgets == nil {
		o.budgets = testBudgets()
	}
	return NewEngine(reg, Options{
		Cache:   o.cache,
		Budgets: o.budgets,
		Defaults: Defaults{
			Thinking:       provider.ModelConfig{ProviderID: "fake", ModelID: "thinker"},
			Task:           provider.ModelConfig{ProviderID: "fake", ModelID: "worker"},
			SearchProvider: "fake",
		},
		Observer: o.obs,
		Logger:   discardLogger(),
	})
}

// run executes req through a real emitter and returns the delivered events.
func runSession(t *testing.T, e *Engine, req Request) (*Result, []stream.Event, error) {
	t.Helper()
	rec := &stream.Recorder{}
	em := stream.NewEmitter(rec, stream.WithKeepalive(0), stream.WithLogger(discardLogger()))
	res, err := e.Run(context.Background(), req, em)
	em.Close()
	events := rec.Events()
	require.NotEmpty(t, events)
	return res, events, err
}

func ofType(events []stream.Event, typ stream.EventType) []stream.Event {
	var out []stream.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func progressOf(events []stream.Event, step string) []Progress {
	var out []Progress
	for _, ev := range ofType(events, stream.EventProgress) {
		if p, ok := ev.Data.(Progress); ok && p.Step == step {
			out = append(out, p)
		}
	}
	return out
}

type countingObserver struct {
	mu       sync.Mutex
	sessions []string
	tasks    map[string]int
}

func (o *countingObserver) SessionFinished(kind, depth, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions = append(o.sessions, kind+"/"+depth+"/"+outcome)
}

func (o *countingObserver) TaskSettled(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.tasks == nil {
		o.tasks = make(map[string]int)
	}
	o.tasks[outcome]++
}
