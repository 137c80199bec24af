package provider

import (
	"context"
	"iter"

	"google.golang.org/genai"

	"github.com/mikeboe/deep-research/pkg/errs"
)

// GeminiModel talks to Gemini through the genai SDK.
type GeminiModel struct {
	client *genai.Client
	model  string
	quirks ModelQuirk
	effort string
}

func newGeminiClient(ctx context.Context, settings ProviderSettings) (*genai.Client, error) {
	cfg := &genai.ClientConfig{
		APIKey:  settings.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if settings.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: settings.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, &errs.ConfigurationError{Provider: "Google", Reason: "failed to create Gemini API client: " + err.Error()}
	}
	return client, nil
}

func newGemini(ctx context.Context, cfg ModelConfig, settings ProviderSettings) (TextModel, error) {
	client, err := newGeminiClient(ctx, settings)
	if err != nil {
		return nil, err
	}
	return &GeminiModel{
		client: client,
		model:  cfg.ModelID,
		quirks: QuirksFor(cfg.ProviderID, cfg.ModelID),
		effort: cfg.ReasoningEffort,
	}, nil
}

func (m *GeminiModel) config(opts GenerateOptions) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if opts.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(opts.System, genai.RoleUser)
	}
	if opts.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	if m.quirks.Has(QuirkThinkingBudget) {
		if budget, ok := thinkingBudget(m.effort); ok {
			cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(budget)}
		}
	}
	return cfg
}

func (m *GeminiModel) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	prompt, opts = m.quirks.normalize(prompt, opts)
	resp, err := m.client.Models.GenerateContent(ctx, m.model, genai.Text(prompt), m.config(opts))
	if err != nil {
		return "", upstream("google", "generate", err)
	}
	return resp.Text(), nil
}

func (m *GeminiModel) Stream(ctx context.Context, prompt string, opts GenerateOptions) iter.Seq2[string, error] {
	prompt, opts = m.quirks.normalize(prompt, opts)
	return func(yield func(string, error) bool) {
		for resp, err := range m.client.Models.GenerateContentStream(ctx, m.model, genai.Text(prompt), m.config(opts)) {
			if err != nil {
				yield("", upstream("google", "stream", err))
				return
			}
			if text := resp.Text(); text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
	}
}

// GeminiSearch answers queries with Gemini's Google Search grounding tool and
// reports the grounding chunks as sources.
type GeminiSearch struct {
	client *genai.Client
	model  string
}

// DefaultGeminiSearchModel is used when no search model is configured.
const DefaultGeminiSearchModel = "gemini-2.5-flash"

func newGeminiSearch(ctx context.Context, settings ProviderSettings) (SearchProvider, error) {
	model := settings.Model
	if model == "" {
		model = DefaultGeminiSearchModel
	}
	if !QuirksFor("google", model).Has(QuirkNativeSearch) {
		return nil, &errs.ConfigurationError{Provider: "Google", Reason: "model " + model + " cannot ground answers with Google Search"}
	}
	client, err := newGeminiClient(ctx, settings)
	if err != nil {
		return nil, err
	}
	return &GeminiSearch{client: client, model: model}, nil
}

func (g *GeminiSearch) Search(ctx context.Context, query string, opts SearchOptions) (SearchResult, error) {
	cfg := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}
	prompt := "Search the web and report the most relevant, factual findings for: " + query
	if opts.Language != "" {
		prompt += "\nRespond in " + opts.Language + "."
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return SearchResult{}, upstream("google", "search", err)
	}

	out := SearchResult{Answer: resp.Text()}
	if len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return out, nil
	}
	for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if chunk == nil || chunk.Web == nil || !validURL(chunk.Web.URI) {
			continue
		}
		out.Results = append(out.Results, Source{URL: chunk.Web.URI, Title: chunk.Web.Title})
		if len(out.Results) >= opts.limit() {
			break
		}
	}
	return out, nil
}
