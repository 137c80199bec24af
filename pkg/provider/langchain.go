package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/mikeboe/deep-research/pkg/errs"
)

// LangChainModel adapts a langchaingo llms.Model to TextModel.
type LangChainModel struct {
	llm      llms.Model
	provider string
	quirks   ModelQuirk
}

// NewLangChainModel wraps llm. provider labels errors.
func NewLangChainModel(llm llms.Model, provider string, quirks ModelQuirk) *LangChainModel {
	return &LangChainModel{llm: llm, provider: provider, quirks: quirks}
}

func newOpenAICompatible(cfg ModelConfig, settings ProviderSettings) (TextModel, error) {
	opts := []openai.Option{openai.WithToken(settings.APIKey), openai.WithModel(cfg.ModelID)}
	if settings.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(settings.BaseURL))
	}
	quirks := QuirksFor(cfg.ProviderID, cfg.ModelID)
	if quirks.Has(QuirkReasoningEffort) && cfg.ReasoningEffort != "" {
		effort, ok := reasoningEffort(cfg.ReasoningEffort)
		if !ok {
			return nil, &errs.ConfigurationError{Provider: cfg.ProviderID, Reason: "unsupported reasoning effort " + cfg.ReasoningEffort + " for " + cfg.ModelID}
		}
		opts = append(opts, openai.WithHTTPClient(effortDoer{next: http.DefaultClient, effort: effort}))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, &errs.ConfigurationError{Provider: cfg.ProviderID, Reason: "failed to init " + cfg.ProviderID + " client: " + err.Error()}
	}
	return NewLangChainModel(llm, cfg.ProviderID, quirks), nil
}

func reasoningEffort(effort string) (string, bool) {
	switch e := strings.ToLower(strings.TrimSpace(effort)); e {
	case "minimal", "low", "medium", "high":
		return e, true
	default:
		return "", false
	}
}

// effortDoer sets reasoning_effort on chat completion bodies; the langchaingo
// openai client has no call option for it.
type effortDoer struct {
	next   *http.Client
	effort string
}

func (d effortDoer) Do(req *http.Request) (*http.Response, error) {
	if req.Body == nil || req.Method != http.MethodPost || !strings.HasSuffix(req.URL.Path, "/chat/completions") {
		return d.next.Do(req)
	}
	raw, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err == nil {
		body["reasoning_effort"], _ = json.Marshal(d.effort)
		if patched, err := json.Marshal(body); err == nil {
			raw = patched
		}
	}
	req.Body = io.NopCloser(bytes.NewReader(raw))
	req.ContentLength = int64(len(raw))
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(raw)), nil }
	return d.next.Do(req)
}

func newAnthropic(cfg ModelConfig, settings ProviderSettings) (TextModel, error) {
	opts := []anthropic.Option{anthropic.WithToken(settings.APIKey), anthropic.WithModel(cfg.ModelID)}
	if settings.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(settings.BaseURL))
	}
	llm, err := anthropic.New(opts...)
	if err != nil {
		return nil, &errs.ConfigurationError{Provider: "Anthropic", Reason: "failed to init Anthropic client: " + err.Error()}
	}
	return NewLangChainModel(llm, cfg.ProviderID, QuirksFor(cfg.ProviderID, cfg.ModelID)), nil
}

func newOllama(cfg ModelConfig, settings ProviderSettings) (TextModel, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.ModelID)}
	if settings.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(settings.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, &errs.ConfigurationError{Provider: "Ollama", Reason: "failed to init Ollama client: " + err.Error()}
	}
	return NewLangChainModel(llm, cfg.ProviderID, QuirksFor(cfg.ProviderID, cfg.ModelID)), nil
}

func (m *LangChainModel) request(prompt string, opts GenerateOptions) ([]llms.MessageContent, []llms.CallOption) {
	prompt, opts = m.quirks.normalize(prompt, opts)

	var msgs []llms.MessageContent
	if opts.System != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, opts.System))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	var callOpts []llms.CallOption
	if opts.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(*opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	if opts.JSON {
		callOpts = append(callOpts, llms.WithJSONMode())
	}
	return msgs, callOpts
}

func (m *LangChainModel) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	msgs, callOpts := m.request(prompt, opts)
	resp, err := m.llm.GenerateContent(ctx, msgs, callOpts...)
	if err != nil {
		return "", m.wrap("generate", err)
	}
	if len(resp.Choices) == 0 {
		return "", &errs.UpstreamError{Provider: m.provider, Op: "generate", Err: errors.New("model returned no choices")}
	}
	return resp.Choices[0].Content, nil
}

func (m *LangChainModel) Stream(ctx context.Context, prompt string, opts GenerateOptions) iter.Seq2[string, error] {
	msgs, callOpts := m.request(prompt, opts)
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		chunks := make(chan string)
		result := make(chan error, 1)
		go func() {
			defer close(chunks)
			stream := llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				select {
				case chunks <- string(chunk):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
			_, err := m.llm.GenerateContent(ctx, msgs, append(callOpts, stream)...)
			result <- err
		}()

		for chunk := range chunks {
			if chunk == "" {
				continue
			}
			if !yield(chunk, nil) {
				cancel()
				for range chunks {
				}
				return
			}
		}
		if err := <-result; err != nil {
			yield("", m.wrap("stream", err))
		}
	}
}

func (m *LangChainModel) wrap(op string, err error) error {
	return upstream(m.provider, op, err)
}
