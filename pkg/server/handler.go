package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mikeboe/deep-research/pkg/cache"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/policy"
	"github.com/mikeboe/deep-research/pkg/provider"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/stream"
)

type Handler struct {
	Service *Service
	// Metrics and MCP are mounted when set.
	Metrics http.Handler
	MCP     http.Handler
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics))
	}
	if h.MCP != nil {
		r.Any("/mcp", gin.WrapH(h.MCP))
	}

	api := r.Group("/api")
	{
		api.POST("/research", h.research(cache.KindFreeForm))
		api.POST("/company-research", h.research(cache.KindCompany))
		api.POST("/market-research", h.research(cache.KindMarket))
		api.POST("/bulk-company-research", h.research(cache.KindBulk))
		api.GET("/research", h.listRunning)
		api.DELETE("/research/:id", h.abort)

		api.GET("/providers", h.listProviders)

		api.GET("/sessions", h.listSessions)
		api.GET("/sessions/:id", h.getSession)
		api.GET("/sessions/:id/logs", h.getSessionLogs)

		api.GET("/cache/stats", h.cacheStats)
		api.POST("/cache/cleanup", h.cacheCleanup)
		api.DELETE("/cache/:key", h.cacheDelete)
	}
}

type modelRequest struct {
	ProviderID      string `json:"providerId"`
	ModelID         string `json:"modelId"`
	APIKey          string `json:"apiKey"`
	ReasoningEffort string `json:"reasoningEffort"`
}

func (m modelRequest) config() provider.ModelConfig {
	return provider.ModelConfig{
		ProviderID:      strings.TrimSpace(m.ProviderID),
		ModelID:         strings.TrimSpace(m.ModelID),
		APIKey:          m.APIKey,
		ReasoningEffort: m.ReasoningEffort,
	}
}

type searchRequest struct {
	ProviderID string `json:"providerId"`
	APIKey     string `json:"apiKey"`
}

// ResearchRequest is the body of every research route. Which subject field
// is required depends on the route.
type ResearchRequest struct {
	ResearchID  string        `json:"researchId"`
	Goal        string        `json:"goal"`
	CompanyName string        `json:"companyName"`
	Industry    string        `json:"industry"`
	Competitors []string      `json:"competitors"`
	Companies   []string      `json:"companies"`
	Market      string        `json:"market"`
	SearchDepth string        `json:"searchDepth"`
	Language    string        `json:"language"`
	Suggestion  string        `json:"suggestion"`
	NoCache     bool          `json:"noCache"`
	Thinking    modelRequest  `json:"thinking"`
	Task        modelRequest  `json:"task"`
	Search      searchRequest `json:"search"`
}

// Request validates r for kind and converts it.
func (r ResearchRequest) Request(kind cache.Kind) (research.Request, error) {
	depth := policy.SearchDepth("")
	if r.SearchDepth != "" {
		d, err := policy.ParseDepth(r.SearchDepth)
		if err != nil {
			return research.Request{}, err
		}
		depth = d
	}

	req := research.Request{
		ResearchID:     strings.TrimSpace(r.ResearchID),
		Kind:           kind,
		Goal:           strings.TrimSpace(r.Goal),
		CompanyName:    strings.TrimSpace(r.CompanyName),
		Industry:       strings.TrimSpace(r.Industry),
		Competitors:    trimAll(r.Competitors),
		Companies:      trimAll(r.Companies),
		Market:         strings.TrimSpace(r.Market),
		Depth:          depth,
		Thinking:       r.Thinking.config(),
		Task:           r.Task.config(),
		SearchProvider: strings.TrimSpace(r.Search.ProviderID),
		SearchAPIKey:   r.Search.APIKey,
		Language:       strings.TrimSpace(r.Language),
		Suggestion:     strings.TrimSpace(r.Suggestion),
		NoCache:        r.NoCache,
	}

	switch kind {
	case cache.KindCompany:
		if req.CompanyName == "" {
			return req, errors.New("companyName is required")
		}
	case cache.KindMarket:
		if req.Market == "" {
			return req, errors.New("market is required")
		}
	case cache.KindBulk:
		if len(req.Companies) == 0 {
			return req, errors.New("companies must list at least one company")
		}
	default:
		if req.Goal == "" {
			return req, errors.New("goal is required")
		}
	}
	return req, nil
}

func trimAll(items []string) []string {
	var out []string
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// research streams one session as server-sent events. Failures after the
// stream has started are reported as error events, not status codes.
func (h *Handler) research(kind cache.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body ResearchRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req, err := body.Request(kind)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.Status(http.StatusOK)
		sink := stream.NewSSESink(c.Writer)
		// The outcome has already been streamed.
		_, _ = h.Service.Run(c.Request.Context(), req, sink)
	}
}

func (h *Handler) listRunning(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.Service.Engine.Sessions()})
}

func (h *Handler) abort(c *gin.Context) {
	id := c.Param("id")
	if !h.Service.Engine.Abort(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no running research with id " + id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"aborted": id})
}

func (h *Handler) listProviders(c *gin.Context) {
	if h.Service.Registry == nil {
		c.JSON(http.StatusOK, gin.H{"models": []string{}, "search": []string{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"models": h.Service.Registry.Models(),
		"search": h.Service.Registry.Searches(),
	})
}

func (h *Handler) history(c *gin.Context) (History, bool) {
	if h.Service.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session history requires DATABASE_URL"})
		return nil, false
	}
	return h.Service.History, true
}

func (h *Handler) listSessions(c *gin.Context) {
	history, ok := h.history(c)
	if !ok {
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, 500)
	}
	sessions, err := history.ListSessions(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

func (h *Handler) getSession(c *gin.Context) {
	history, ok := h.history(c)
	if !ok {
		return
	}
	session, err := history.GetSession(c.Request.Context(), c.Param("id"))
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) getSessionLogs(c *gin.Context) {
	history, ok := h.history(c)
	if !ok {
		return
	}
	logs, err := history.SessionLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (h *Handler) cache(c *gin.Context) (*cache.Cache, bool) {
	if h.Service.Cache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "result cache is disabled"})
		return nil, false
	}
	return h.Service.Cache, true
}

func (h *Handler) cacheStats(c *gin.Context) {
	rc, ok := h.cache(c)
	if !ok {
		return
	}
	stats, err := rc.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) cacheCleanup(c *gin.Context) {
	rc, ok := h.cache(c)
	if !ok {
		return
	}
	removed, err := rc.Cleanup(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *Handler) cacheDelete(c *gin.Context) {
	rc, ok := h.cache(c)
	if !ok {
		return
	}
	deleted, err := rc.Invalidate(c.Request.Context(), c.Param("key"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "Cache entry not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": c.Param("key")})
}
