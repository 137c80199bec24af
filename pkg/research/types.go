package research

import (
	"log/slog"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/cache"
	"github.com/mikeboe/deep-research/pkg/policy"
	"github.com/mikeboe/deep-research/pkg/provider"
)

// Request is the caller's configuration of one session. Blank model and
// search fields fall back to the engine defaults when the session starts.
type Request struct {
	// ResearchID identifies the session; one is generated when empty.
	ResearchID string
	Kind       cache.Kind

	Goal        string
	CompanyName string
	Industry    string
	Competitors []string
	Companies   []string
	Market      string

	Depth    policy.SearchDepth
	Thinking provider.ModelConfig
	Task     provider.ModelConfig

	SearchProvider string
	SearchAPIKey   string

	Language string
	// Suggestion steers the plan of a continued session.
	Suggestion string
	// NoCache skips the cache lookup. A cacheable result is still stored.
	NoCache bool
	// Logger replaces the engine logger for this session.
	Logger *slog.Logger
}

// Subject is the human-readable target of the request.
func (r Request) Subject() string {
	switch r.Kind {
	case cache.KindCompany:
		return r.CompanyName
	case cache.KindMarket:
		return r.Market
	case cache.KindBulk:
		return joinList(r.Companies)
	default:
		return r.Goal
	}
}

func (r Request) cacheParams() cache.Params {
	return cache.Params{
		Goal:             r.Goal,
		CompanyName:      r.CompanyName,
		Industry:         r.Industry,
		Competitors:      r.Competitors,
		Companies:        r.Companies,
		Market:           r.Market,
		SearchDepth:      string(r.Depth),
		Language:         r.Language,
		ThinkingProvider: r.Thinking.ProviderID,
		ThinkingModel:    r.Thinking.ModelID,
		TaskProvider:     r.Task.ProviderID,
		TaskModel:        r.Task.ModelID,
		SearchProvider:   r.SearchProvider,
		Suggestion:       r.Suggestion,
	}
}

// Defaults fill blank request fields.
type Defaults struct {
	Thinking       provider.ModelConfig `mapstructure:"thinking"`
	Task           provider.ModelConfig `mapstructure:"task"`
	SearchProvider string               `mapstructure:"search_provider"`
	Depth          policy.SearchDepth   `mapstructure:"depth"`
	Language       string               `mapstructure:"language"`
}

func (d Defaults) apply(r Request) Request {
	r.Thinking = fillModel(r.Thinking, d.Thinking)
	r.Task = fillModel(r.Task, d.Task)
	if r.Task.ProviderID == "" {
		r.Task = r.Thinking
	}
	if r.SearchProvider == "" {
		r.SearchProvider = d.SearchProvider
	}
	if r.Depth == "" {
		r.Depth = d.Depth
	}
	if r.Depth == "" {
		r.Depth = policy.DepthMedium
	}
	if r.Language == "" {
		r.Language = d.Language
	}
	if r.Kind == "" {
		r.Kind = cache.KindFreeForm
	}
	return r
}

func fillModel(m, def provider.ModelConfig) provider.ModelConfig {
	if m.ProviderID == "" {
		m.ProviderID = def.ProviderID
	}
	if m.ModelID == "" && strings.EqualFold(m.ProviderID, def.ProviderID) {
		m.ModelID = def.ModelID
	}
	if m.ReasoningEffort == "" {
		m.ReasoningEffort = def.ReasoningEffort
	}
	return m
}

// Info is the payload of the first event of a session.
type Info struct {
	ResearchID     string    `json:"researchId"`
	Kind           string    `json:"kind"`
	SearchDepth    string    `json:"searchDepth"`
	ThinkingModel  string    `json:"thinkingModel"`
	TaskModel      string    `json:"taskModel"`
	SearchProvider string    `json:"searchProvider"`
	StartedAt      time.Time `json:"startedAt"`
}

// Progress is the payload of a progress event.
type Progress struct {
	Step   string `json:"step"`
	Status string `json:"status"`
	Name   string `json:"name,omitempty"`
	Data   any    `json:"data,omitempty"`
}

const (
	StepPlan     = "report-plan"
	StepQueries  = "serp-query"
	StepTask     = "search-task"
	StepReview   = "review"
	StepReport   = "final-report"
	StatusStart  = "start"
	StatusEnd    = "end"
	StatusFailed = "failed"
)

// TextChunk is the payload of message and reasoning events.
type TextChunk struct {
	Content string `json:"text"`
}

func (c TextChunk) Text() string { return c.Content }

// Metadata describes how a result was produced.
type Metadata struct {
	ResearchID     string    `json:"researchId"`
	Kind           string    `json:"kind"`
	SearchDepth    string    `json:"searchDepth"`
	Goal           string    `json:"goal,omitempty"`
	CompanyName    string    `json:"companyName,omitempty"`
	Industry       string    `json:"industry,omitempty"`
	Competitors    []string  `json:"competitors,omitempty"`
	Companies      []string  `json:"companies,omitempty"`
	Market         string    `json:"market,omitempty"`
	Language       string    `json:"language,omitempty"`
	ThinkingModel  string    `json:"thinkingModel"`
	TaskModel      string    `json:"taskModel"`
	SearchProvider string    `json:"searchProvider"`
	Iterations     int       `json:"iterations"`
	TaskCount      int       `json:"taskCount"`
	FailedTasks    []string  `json:"failedTasks,omitempty"`
	Cached         bool      `json:"cached"`
	StartedAt      time.Time `json:"startedAt"`
	CompletedAt    time.Time `json:"completedAt"`
	DurationMs     int64     `json:"durationMs"`
}

// Result is the payload of the complete event.
type Result struct {
	Report   string                 `json:"report"`
	Plan     string                 `json:"plan,omitempty"`
	Sources  []provider.Source      `json:"sources"`
	Images   []provider.ImageSource `json:"images"`
	Tasks    []Task                 `json:"tasks"`
	Metadata Metadata               `json:"metadata"`
}

// Failure is the payload of the error event. Tasks holds whatever was
// gathered before the failure.
type Failure struct {
	Message    string `json:"message"`
	ResearchID string `json:"researchId"`
	Stage      string `json:"stage"`
	Tasks      []Task `json:"tasks"`
}
