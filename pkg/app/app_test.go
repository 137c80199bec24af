package app

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/deep-research/pkg/cache"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/provider"
	"github.com/mikeboe/deep-research/pkg/research"
)

func baseConfig() *config.Config {
	return &config.Config{
		Cache: config.CacheConfig{Backend: "memory", Config: cache.DefaultConfig()},
		Research: config.ResearchConfig{
			Defaults: research.Defaults{
				Thinking:       provider.ModelConfig{ProviderID: "openai", ModelID: "gpt-4o"},
				SearchProvider: "tavily",
			},
			MaxConcurrency: 3,
			DedupWindow:    time.Second,
		},
		Providers: map[string]provider.ProviderSettings{
			"tavily": {APIKey: "tvly-test"},
		},
	}
}

func TestNewMemory(t *testing.T) {
	a, err := New(context.Background(), baseConfig(), NewLogger("error", io.Discard))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.Equal(t, 3, a.Engine.Semaphore().Size())

	ctx := context.Background()
	require.NoError(t, a.Cache.Set(ctx, "research:market-research:abc", map[string]string{"report": "r"}, 0))
	stats, err := a.Cache.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)

	_, err = a.Registry.Search(ctx, "tavily", "")
	require.NoError(t, err, "server-side key is configured")
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.Cache.Backend = "redis"
	cfg.Redis = config.RedisConfig{Addr: mr.Addr(), Prefix: "test:"}

	a, err := New(context.Background(), cfg, NewLogger("error", io.Discard))
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	require.NoError(t, a.Cache.Set(ctx, "research:company-research:abc", map[string]string{"report": "r"}, 0))
	assert.True(t, mr.Exists("test:entry:research:company-research:abc"))
}

func TestNewPostgresCacheNeedsDatabase(t *testing.T) {
	cfg := baseConfig()
	cfg.Cache.Backend = "postgres"
	_, err := New(context.Background(), cfg, NewLogger("error", io.Discard))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("warn", &buf)
	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	NewLogger("nonsense", &buf).Info("info by default")
	assert.Contains(t, buf.String(), "info by default")
}
