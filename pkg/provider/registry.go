package provider

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mikeboe/deep-research/pkg/concurrency"
	"github.com/mikeboe/deep-research/pkg/errs"
)

// ProviderSettings is the server-side configuration of one backend.
type ProviderSettings struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	// Model is only read by backends that need one to search (google).
	Model string `mapstructure:"model"`
}

// ModelBackend describes how to build a TextModel for one provider id.
type ModelBackend struct {
	Name        string
	EnvVar      string
	KeyRequired bool
	Build       func(ctx context.Context, cfg ModelConfig, settings ProviderSettings) (TextModel, error)
}

// SearchBackend describes how to build a SearchProvider for one provider id.
type SearchBackend struct {
	Name        string
	EnvVar      string
	KeyRequired bool
	Build       func(ctx context.Context, settings ProviderSettings) (SearchProvider, error)
}

// Registry resolves provider ids to configured backends. Request-supplied
// keys take precedence over the server's.
type Registry struct {
	mu       sync.RWMutex
	settings map[string]ProviderSettings
	models   map[string]ModelBackend
	searches map[string]SearchBackend

	client *http.Client
	// brave allows one request per second per key.
	brave *concurrency.Sequencer
}

// NewRegistry registers the stock backends with settings keyed by provider id.
func NewRegistry(settings map[string]ProviderSettings) *Registry {
	r := &Registry{
		settings: make(map[string]ProviderSettings, len(settings)),
		models:   make(map[string]ModelBackend),
		searches: make(map[string]SearchBackend),
		client:   &http.Client{},
		brave:    concurrency.NewSequencer(time.Second),
	}
	for id, s := range settings {
		r.settings[strings.ToLower(id)] = s
	}

	compat := func(baseURL string) func(context.Context, ModelConfig, ProviderSettings) (TextModel, error) {
		return func(_ context.Context, cfg ModelConfig, s ProviderSettings) (TextModel, error) {
			if s.BaseURL == "" {
				s.BaseURL = baseURL
			}
			return newOpenAICompatible(cfg, s)
		}
	}
	r.RegisterModel("openai", ModelBackend{Name: "OpenAI", EnvVar: "OPENAI_API_KEY", KeyRequired: true, Build: compat("")})
	r.RegisterModel("deepseek", ModelBackend{Name: "DeepSeek", EnvVar: "DEEPSEEK_API_KEY", KeyRequired: true, Build: compat("https://api.deepseek.com/v1")})
	r.RegisterModel("openrouter", ModelBackend{Name: "OpenRouter", EnvVar: "OPENROUTER_API_KEY", KeyRequired: true, Build: compat("https://openrouter.ai/api/v1")})
	r.RegisterModel("xai", ModelBackend{Name: "xAI", EnvVar: "XAI_API_KEY", KeyRequired: true, Build: compat("https://api.x.ai/v1")})
	r.RegisterModel("anthropic", ModelBackend{Name: "Anthropic", EnvVar: "ANTHROPIC_API_KEY", KeyRequired: true,
		Build: func(_ context.Context, cfg ModelConfig, s ProviderSettings) (TextModel, error) {
			return newAnthropic(cfg, s)
		}})
	r.RegisterModel("google", ModelBackend{Name: "Google", EnvVar: "GOOGLE_API_KEY", KeyRequired: true, Build: newGemini})
	r.RegisterModel("ollama", ModelBackend{Name: "Ollama", EnvVar: "OLLAMA_BASE_URL",
		Build: func(_ context.Context, cfg ModelConfig, s ProviderSettings) (TextModel, error) {
			return newOllama(cfg, s)
		}})

	r.RegisterSearch("tavily", SearchBackend{Name: "Tavily", EnvVar: "TAVILY_API_KEY", KeyRequired: true,
		Build: func(_ context.Context, s ProviderSettings) (SearchProvider, error) {
			return &Tavily{APIKey: s.APIKey, BaseURL: s.BaseURL, Client: r.client}, nil
		}})
	r.RegisterSearch("brave", SearchBackend{Name: "Brave", EnvVar: "BRAVE_API_KEY", KeyRequired: true,
		Build: func(_ context.Context, s ProviderSettings) (SearchProvider, error) {
			return &Brave{APIKey: s.APIKey, BaseURL: s.BaseURL, Client: r.client, Limiter: r.brave}, nil
		}})
	r.RegisterSearch("searxng", SearchBackend{Name: "SearXNG", EnvVar: "SEARXNG_BASE_URL",
		Build: func(_ context.Context, s ProviderSettings) (SearchProvider, error) {
			if s.BaseURL == "" {
				return nil, &errs.ConfigurationError{Provider: "SearXNG", Reason: "No SearXNG base URL configured. Set SEARXNG_BASE_URL in the server environment."}
			}
			return &SearXNG{BaseURL: s.BaseURL, Client: r.client}, nil
		}})
	r.RegisterSearch("arxiv", SearchBackend{Name: "arXiv",
		Build: func(_ context.Context, s ProviderSettings) (SearchProvider, error) {
			return &Arxiv{BaseURL: s.BaseURL, Client: r.client}, nil
		}})
	r.RegisterSearch("google", SearchBackend{Name: "Google", EnvVar: "GOOGLE_API_KEY", KeyRequired: true, Build: newGeminiSearch})
	return r
}

// RegisterModel adds or replaces a model backend.
func (r *Registry) RegisterModel(id string, b ModelBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[strings.ToLower(id)] = b
}

// RegisterSearch adds or replaces a search backend.
func (r *Registry) RegisterSearch(id string, b SearchBackend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searches[strings.ToLower(id)] = b
}

// Models lists the registered model provider ids.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Searches lists the registered search provider ids.
func (r *Registry) Searches() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.searches))
	for id := range r.searches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) resolve(id, apiKey string) ProviderSettings {
	r.mu.RLock()
	s := r.settings[id]
	r.mu.RUnlock()
	if apiKey != "" {
		s.APIKey = apiKey
	}
	return s
}

// TextModel builds the model named by cfg. A missing key, unknown provider or
// empty model id is a ConfigurationError.
func (r *Registry) TextModel(ctx context.Context, cfg ModelConfig) (TextModel, error) {
	id := strings.ToLower(strings.TrimSpace(cfg.ProviderID))
	r.mu.RLock()
	b, ok := r.models[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &errs.ConfigurationError{Provider: cfg.ProviderID, Reason: "Unsupported model provider: " + cfg.ProviderID}
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		return nil, &errs.ConfigurationError{Provider: b.Name, Reason: "No model configured for provider " + b.Name + "."}
	}
	s := r.resolve(id, cfg.APIKey)
	if b.KeyRequired && s.APIKey == "" {
		return nil, &errs.ConfigurationError{Provider: b.Name, EnvVar: b.EnvVar}
	}
	cfg.ProviderID = id
	return b.Build(ctx, cfg, s)
}

// Search builds the search backend named by id.
func (r *Registry) Search(ctx context.Context, id, apiKey string) (SearchProvider, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	r.mu.RLock()
	b, ok := r.searches[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &errs.ConfigurationError{Provider: id, Reason: "Unsupported search provider: " + id}
	}
	s := r.resolve(id, apiKey)
	if b.KeyRequired && s.APIKey == "" {
		return nil, &errs.ConfigurationError{Provider: b.Name, EnvVar: b.EnvVar}
	}
	return b.Build(ctx, s)
}
