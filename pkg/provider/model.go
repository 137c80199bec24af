// Package provider hides AI and search vendors behind two capabilities,
// TextModel and SearchProvider. Vendor differences are normalized here so the
// research engine never branches on vendor identity.
package provider

import (
	"context"
	"iter"
	"strings"
)

// GenerateOptions tunes one model call.
type GenerateOptions struct {
	System      string
	Temperature *float64
	MaxTokens   int
	// JSON asks the model for a bare JSON document.
	JSON bool
}

// Temperature is a helper for GenerateOptions.Temperature.
func Temperature(t float64) *float64 { return &t }

// TextModel generates text from a prompt.
type TextModel interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	// Stream yields the completion chunk by chunk. Breaking out of the loop
	// cancels the underlying call.
	Stream(ctx context.Context, prompt string, opts GenerateOptions) iter.Seq2[string, error]
}

// ModelConfig selects a model for a session. It is resolved once before the
// research loop starts and not mutated afterwards.
type ModelConfig struct {
	ProviderID      string `json:"providerId" mapstructure:"provider"`
	ModelID         string `json:"modelId" mapstructure:"model"`
	APIKey          string `json:"-" mapstructure:"-"`
	ReasoningEffort string `json:"reasoningEffort,omitempty" mapstructure:"reasoning_effort"`
}

// ModelQuirk is a set of vendor behaviours the adapters compensate for.
type ModelQuirk uint8

const (
	// QuirkNoTemperature marks reasoning models that reject a temperature.
	QuirkNoTemperature ModelQuirk = 1 << iota
	// QuirkNoSystemPrompt marks models without a system role; the system
	// prompt is folded into the user turn.
	QuirkNoSystemPrompt
	// QuirkReasoningEffort marks models accepting a reasoning effort hint.
	QuirkReasoningEffort
	// QuirkThinkingBudget marks models configured through a thinking token budget.
	QuirkThinkingBudget
	// QuirkNativeSearch marks models that can ground answers with the
	// vendor's own web search tool.
	QuirkNativeSearch
)

var quirkNames = []struct {
	q    ModelQuirk
	name string
}{
	{QuirkNoTemperature, "no-temperature"},
	{QuirkNoSystemPrompt, "no-system-prompt"},
	{QuirkReasoningEffort, "reasoning-effort"},
	{QuirkThinkingBudget, "thinking-budget"},
	{QuirkNativeSearch, "native-search"},
}

func (q ModelQuirk) Has(flag ModelQuirk) bool { return q&flag != 0 }

func (q ModelQuirk) String() string {
	var parts []string
	for _, n := range quirkNames {
		if q.Has(n.q) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// QuirksFor returns the quirks of a provider/model pair.
func QuirksFor(providerID, modelID string) ModelQuirk {
	model := strings.ToLower(modelID)
	var q ModelQuirk
	switch providerID {
	case "openai", "openrouter", "xai":
		name := model
		if i := strings.LastIndex(name, "/"); i >= 0 {
			name = name[i+1:]
		}
		switch {
		case strings.HasPrefix(name, "o1-mini"), strings.HasPrefix(name, "o1-preview"):
			q |= QuirkNoTemperature | QuirkNoSystemPrompt
		case isOSeries(name):
			q |= QuirkNoTemperature | QuirkReasoningEffort
		case strings.HasPrefix(name, "gpt-5") && !strings.Contains(name, "chat"):
			q |= QuirkNoTemperature | QuirkReasoningEffort
		}
	case "deepseek":
		if strings.Contains(model, "reasoner") {
			q |= QuirkNoTemperature
		}
	case "google":
		if strings.HasPrefix(model, "gemini") {
			q |= QuirkNativeSearch
		}
		if strings.HasPrefix(model, "gemini-2.5") || strings.HasPrefix(model, "gemini-3") {
			q |= QuirkThinkingBudget
		}
	}
	return q
}

func isOSeries(name string) bool {
	return len(name) >= 2 && name[0] == 'o' && name[1] >= '1' && name[1] <= '9'
}

// normalize applies quirks to call options and returns the prompt pair to send.
func (q ModelQuirk) normalize(prompt string, opts GenerateOptions) (string, GenerateOptions) {
	if q.Has(QuirkNoTemperature) {
		opts.Temperature = nil
	}
	if q.Has(QuirkNoSystemPrompt) && opts.System != "" {
		prompt = opts.System + "\n\n" + prompt
		opts.System = ""
	}
	return prompt, opts
}

// thinkingBudget maps a reasoning effort to a Gemini thinking token budget.
func thinkingBudget(effort string) (int32, bool) {
	switch strings.ToLower(effort) {
	case "low":
		return 1024, true
	case "medium":
		return 8192, true
	case "high":
		return 24576, true
	default:
		return 0, false
	}
}
