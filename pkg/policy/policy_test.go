package policy

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/errs"
)

func TestParseDepth(t *testing.T) {
	tests := []struct {
		in      string
		want    SearchDepth
		wantErr bool
	}{
		{"fast", DepthFast, false},
		{" Deep ", DepthDeep, false},
		{"MEDIUM", DepthMedium, false},
		{"", DepthMedium, false},
		{"turbo", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDepth(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultTableOrdering(t *testing.T) {
	table := DefaultTable()
	fast, medium, deep := table.For(DepthFast), table.For(DepthMedium), table.For(DepthDeep)

	assert.Less(t, fast.SessionTimeout, medium.SessionTimeout)
	assert.Less(t, medium.SessionTimeout, deep.SessionTimeout)
	assert.LessOrEqual(t, fast.Iterations, medium.Iterations)
	assert.LessOrEqual(t, medium.Iterations, deep.Iterations)
	assert.Equal(t, 2, fast.MaxRetries)
	assert.Equal(t, 1, deep.MaxRetries)
	assert.GreaterOrEqual(t, fast.MaxRetries, medium.MaxRetries)
	assert.GreaterOrEqual(t, medium.MaxRetries, deep.MaxRetries)
}

func TestTableForFallsBack(t *testing.T) {
	custom := Table{DepthFast: {Iterations: 7}}
	assert.Equal(t, 7, custom.For(DepthFast).Iterations)
	assert.Equal(t, DefaultTable()[DepthDeep], custom.For(DepthDeep))
}

func TestTimeoutMessageSuggestsFasterMode(t *testing.T) {
	msg := TimeoutMessage(DepthDeep, 10*time.Minute)
	assert.Contains(t, msg, "timed out after 10m0s")
	assert.Contains(t, msg, "fast search depth")
}

func TestTimeoutHintFollowsDepth(t *testing.T) {
	fast := CallTimeoutMessage("search", DepthFast, 30*time.Second)
	assert.Equal(t, "search call timed out after 30s in fast mode. Try a faster model or narrow the question.", fast)
	assert.NotContains(t, TimeoutMessage(DepthFast, time.Minute), "fast search depth")

	medium := CallTimeoutMessage("plan", DepthMedium, 45*time.Second)
	assert.Contains(t, medium, "Try the fast search depth")
}

func TestWithTimeout(t *testing.T) {
	t.Run("completes", func(t *testing.T) {
		v, err := WithTimeout(context.Background(), time.Second, "slow", func(ctx context.Context) (int, error) {
			return 42, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	})

	t.Run("times out", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		_, err := WithTimeout(context.Background(), 10*time.Millisecond, "search timed out", func(ctx context.Context) (int, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return 1, nil
		})
		var te *errs.TimeoutError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "search timed out", te.Error())
		assert.Equal(t, 10*time.Millisecond, te.After)
	})

	t.Run("propagates error", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := WithTimeout(context.Background(), time.Second, "", func(ctx context.Context) (int, error) {
			return 0, boom
		})
		assert.Same(t, boom, err)
	})

	t.Run("parent canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := WithTimeout(ctx, time.Second, "", func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})
		assert.ErrorIs(t, err, errs.ErrCanceled)
	})
}

func TestRetry(t *testing.T) {
	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		v, err := Retry(context.Background(), RetryOptions{MaxRetries: 2, InitialDelay: time.Millisecond}, func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", fmt.Errorf("attempt %d", calls)
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
		assert.Equal(t, 3, calls)
	})

	t.Run("propagates last failure unchanged", func(t *testing.T) {
		calls := 0
		var last error
		_, err := Retry(context.Background(), RetryOptions{MaxRetries: 2, InitialDelay: time.Millisecond}, func(ctx context.Context) (int, error) {
			calls++
			last = &errs.UpstreamError{Provider: "tavily", Op: "search", Err: fmt.Errorf("attempt %d", calls)}
			return 0, last
		})
		assert.Equal(t, 3, calls)
		assert.Same(t, last, err)
	})

	t.Run("configuration errors are permanent", func(t *testing.T) {
		calls := 0
		cfgErr := &errs.ConfigurationError{Provider: "OpenAI", EnvVar: "OPENAI_API_KEY"}
		_, err := Retry(context.Background(), RetryOptions{MaxRetries: 3, InitialDelay: time.Millisecond}, func(ctx context.Context) (int, error) {
			calls++
			return 0, cfgErr
		})
		assert.Equal(t, 1, calls)
		assert.Same(t, cfgErr, err)
	})

	t.Run("exponential delays", func(t *testing.T) {
		start := time.Now()
		_, _ = Retry(context.Background(), RetryOptions{MaxRetries: 2, InitialDelay: 20 * time.Millisecond}, func(ctx context.Context) (int, error) {
			return 0, errors.New("fail")
		})
		// 20ms + 40ms
		assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	})

	t.Run("zero retries", func(t *testing.T) {
		calls := 0
		_, err := Retry(context.Background(), DefaultTable().For(DepthFast).RetryOptions("x"), func(ctx context.Context) (int, error) {
			calls++
			return calls, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})
}
