package errs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigurationErrorMessage(t *testing.T) {
	err := &ConfigurationError{Provider: "OpenAI", EnvVar: "OPENAI_API_KEY"}
	assert.Regexp(t, regexp.MustCompile(`(?i)No OpenAI API key`), err.Error())
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")

	custom := &ConfigurationError{Provider: "Tavily", Reason: "unknown search provider"}
	assert.Equal(t, "unknown search provider", custom.Error())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"upstream", &UpstreamError{Provider: "tavily", Op: "search", Err: errors.New("502")}, true},
		{"timeout", &TimeoutError{Message: "slow"}, true},
		{"configuration", fmt.Errorf("wrap: %w", &ConfigurationError{Provider: "OpenAI"}), false},
		{"canceled", &CancellationError{Key: "k"}, false},
		{"sentinel", ErrCanceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestCanceled(t *testing.T) {
	err := Canceled("search", fmt.Errorf("call: %w", context.Canceled))
	var ce *CancellationError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, "search", ce.Key)
	assert.ErrorIs(t, err, ErrCanceled)

	deadline := Canceled("search", context.DeadlineExceeded)
	assert.NotErrorIs(t, deadline, ErrCanceled)
}

func TestStageErrorUnwrap(t *testing.T) {
	inner := &UpstreamError{Provider: "openai", Op: "generate", Err: errors.New("rate limited")}
	err := &StageError{Stage: "planning", Err: inner}
	var up *UpstreamError
	assert.ErrorAs(t, err, &up)
	assert.Equal(t, "planning: openai generate failed: rate limited", err.Error())
}
