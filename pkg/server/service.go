package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mikeboe/deep-research/pkg/cache"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/provider"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/stream"
)

// History persists sessions and their logs. *database.PostgresDB implements
// it.
type History interface {
	LogSink
	CreateSession(ctx context.Context, s database.Session) error
	FinishSession(ctx context.Context, id, status, report, errMsg string) error
	GetSession(ctx context.Context, id string) (*database.Session, error)
	ListSessions(ctx context.Context, limit int) ([]database.Session, error)
	SessionLogs(ctx context.Context, sessionID string) ([]database.LogEntry, error)
}

type Service struct {
	Engine *research.Engine
	// Cache, History and Registry are optional.
	Cache     *cache.Cache
	History   History
	Registry  *provider.Registry
	Keepalive time.Duration
	Logger    *slog.Logger
}

func NewService(engine *research.Engine) *Service {
	return &Service{
		Engine:    engine,
		Keepalive: stream.DefaultKeepalive,
		Logger:    slog.Default(),
	}
}

// requestSummary is what gets stored with a session; credentials are left out.
type requestSummary struct {
	Goal           string               `json:"goal,omitempty"`
	CompanyName    string               `json:"companyName,omitempty"`
	Industry       string               `json:"industry,omitempty"`
	Competitors    []string             `json:"competitors,omitempty"`
	Companies      []string             `json:"companies,omitempty"`
	Market         string               `json:"market,omitempty"`
	Language       string               `json:"language,omitempty"`
	Suggestion     string               `json:"suggestion,omitempty"`
	Thinking       provider.ModelConfig `json:"thinking"`
	Task           provider.ModelConfig `json:"task"`
	SearchProvider string               `json:"searchProvider"`
	NoCache        bool                 `json:"noCache,omitempty"`
}

func summarize(req research.Request) json.RawMessage {
	raw, err := json.Marshal(requestSummary{
		Goal:           req.Goal,
		CompanyName:    req.CompanyName,
		Industry:       req.Industry,
		Competitors:    req.Competitors,
		Companies:      req.Companies,
		Market:         req.Market,
		Language:       req.Language,
		Suggestion:     req.Suggestion,
		Thinking:       req.Thinking,
		Task:           req.Task,
		SearchProvider: req.SearchProvider,
		NoCache:        req.NoCache,
	})
	if err != nil {
		return nil
	}
	return raw
}

// Run executes req, streaming its events to sink, and records the session
// when a history store is configured. A research id already in the history is
// rejected with an error event. The sink is closed before Run returns.
func (s *Service) Run(ctx context.Context, req research.Request, sink stream.Sink) (*research.Result, error) {
	req = s.Engine.Prepare(req)
	logger := s.Logger.With("research_id", req.ResearchID)

	em := stream.NewEmitter(sink, stream.WithKeepalive(s.Keepalive), stream.WithLogger(logger))
	defer em.Close()

	recorded := false
	if s.History != nil {
		err := s.History.CreateSession(ctx, database.Session{
			ID:      req.ResearchID,
			Kind:    string(req.Kind),
			Subject: req.Subject(),
			Depth:   string(req.Depth),
			Request: summarize(req),
		})
		switch {
		case errors.Is(err, database.ErrDuplicateSession):
			err = fmt.Errorf("research id %s is already in use", req.ResearchID)
			em.Send(stream.EventError, research.Failure{
				Message:    err.Error(),
				ResearchID: req.ResearchID,
				Stage:      string(research.StagePlanning),
				Tasks:      []research.Task{},
			})
			return nil, err
		case err != nil:
			logger.Warn("Failed to record session", "error", err)
		default:
			recorded = true
			req.Logger = slog.New(teeHandler{s.Logger.Handler(), NewDBLogHandler(s.History, req.ResearchID)})
		}
	}

	res, err := s.Engine.Run(ctx, req, em)

	if recorded {
		var report, errMsg string
		if res != nil {
			report = res.Report
		}
		if err != nil {
			errMsg = err.Error()
		}
		if ferr := s.History.FinishSession(context.WithoutCancel(ctx), req.ResearchID, research.Outcome(err), report, errMsg); ferr != nil {
			logger.Warn("Failed to record session outcome", "error", ferr)
		}
	}
	return res, err
}
