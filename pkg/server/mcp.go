package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mikeboe/deep-research/pkg/cache"
	"github.com/mikeboe/deep-research/pkg/provider"
	"github.com/mikeboe/deep-research/pkg/stream"
)

type DeepResearchInput struct {
	Goal        string `json:"goal" jsonschema:"the question or topic to research"`
	SearchDepth string `json:"searchDepth,omitempty" jsonschema:"fast, medium or deep; defaults to medium"`
	Language    string `json:"language,omitempty" jsonschema:"language tag of the report, e.g. en or de"`
}

type DeepResearchOutput struct {
	ResearchID string            `json:"researchId"`
	Report     string            `json:"report"`
	Sources    []provider.Source `json:"sources"`
	Cached     bool              `json:"cached"`
}

// NewMCPServer exposes the service as a deep_research tool.
func NewMCPServer(s *Service) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "deep-research", Version: "1.0.0"}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "deep_research",
		Description: "Research a topic on the web and return a cited Markdown report.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in DeepResearchInput) (*mcp.CallToolResult, DeepResearchOutput, error) {
		body := ResearchRequest{Goal: in.Goal, SearchDepth: in.SearchDepth, Language: in.Language}
		req, err := body.Request(cache.KindFreeForm)
		if err != nil {
			return nil, DeepResearchOutput{}, err
		}
		// Progress is only logged; the tool returns the finished report.
		discard := stream.SinkFunc(func(stream.Event) error { return nil })
		res, err := s.Run(ctx, req, discard)
		if err != nil {
			return nil, DeepResearchOutput{}, fmt.Errorf("research failed: %w", err)
		}
		out := DeepResearchOutput{
			ResearchID: res.Metadata.ResearchID,
			Report:     res.Report,
			Sources:    res.Sources,
			Cached:     res.Metadata.Cached,
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: res.Report}}}, out, nil
	})
	return server
}

// NewMCPHandler serves server over streamable HTTP.
func NewMCPHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}
