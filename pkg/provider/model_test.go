package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuirksFor(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		model    string
		want     ModelQuirk
	}{
		{"gpt-4o plain", "openai", "gpt-4o", 0},
		{"o1-mini drops system", "openai", "o1-mini", QuirkNoTemperature | QuirkNoSystemPrompt},
		{"o3 reasoning", "openai", "o3-mini", QuirkNoTemperature | QuirkReasoningEffort},
		{"gpt-5", "openai", "gpt-5", QuirkNoTemperature | QuirkReasoningEffort},
		{"gpt-5 chat", "openai", "gpt-5-chat-latest", 0},
		{"openrouter prefix", "openrouter", "openai/o4-mini", QuirkNoTemperature | QuirkReasoningEffort},
		{"deepseek reasoner", "deepseek", "deepseek-reasoner", QuirkNoTemperature},
		{"deepseek chat", "deepseek", "deepseek-chat", 0},
		{"gemini 2.0", "google", "gemini-2.0-flash", QuirkNativeSearch},
		{"gemini 2.5", "google", "gemini-2.5-pro", QuirkNativeSearch | QuirkThinkingBudget},
		{"claude", "anthropic", "claude-sonnet-4-5", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, QuirksFor(tt.provider, tt.model), QuirksFor(tt.provider, tt.model).String())
		})
	}
}

func TestQuirkString(t *testing.T) {
	assert.Equal(t, "none", ModelQuirk(0).String())
	assert.Equal(t, "no-temperature,reasoning-effort", (QuirkNoTemperature | QuirkReasoningEffort).String())
}

func TestNormalize(t *testing.T) {
	opts := GenerateOptions{System: "be terse", Temperature: Temperature(0.3)}

	prompt, got := QuirkNoTemperature.normalize("hi", opts)
	assert.Equal(t, "hi", prompt)
	assert.Nil(t, got.Temperature)
	assert.Equal(t, "be terse", got.System)

	prompt, got = (QuirkNoTemperature | QuirkNoSystemPrompt).normalize("hi", opts)
	assert.Equal(t, "be terse\n\nhi", prompt)
	assert.Empty(t, got.System)

	prompt, got = ModelQuirk(0).normalize("hi", opts)
	assert.Equal(t, "hi", prompt)
	assert.Equal(t, 0.3, *got.Temperature)
}

func TestThinkingBudget(t *testing.T) {
	b, ok := thinkingBudget("HIGH")
	assert.True(t, ok)
	assert.Equal(t, int32(24576), b)
	_, ok = thinkingBudget("")
	assert.False(t, ok)
}
