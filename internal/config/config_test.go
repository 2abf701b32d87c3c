package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, ProviderOllama, cfg.Analyze.DefaultProvider)
	assert.Equal(t, 1, cfg.Analyze.MaxRetries)
	assert.Equal(t, int64(50<<20), cfg.Image.MaxInputBytes)
	assert.Equal(t, 2048, cfg.Image.MaxDimension)
	assert.Equal(t, RateLimitBlock, cfg.RateLimit.Mode)
	assert.Equal(t, 10, cfg.Ollama.Limits.MaxConcurrent)
	assert.Equal(t, time.Minute, cfg.Ollama.Limits.Window)
	assert.Equal(t, "moondream", cfg.Ollama.Model)
	assert.False(t, cfg.OpenAIEnabled())
	assert.Equal(t, []string{ProviderOllama}, cfg.Providers())
}

func TestLoadProviderPrefixes(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_MAX_CONCURRENT", "3")
	t.Setenv("OPENAI_REQUESTS_PER_WINDOW", "60")
	t.Setenv("OPENAI_MODELS", "gpt-4o,gpt-4o-mini")
	t.Setenv("ANALYZE_DEFAULT_PROVIDER", "openai")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.OpenAIEnabled())
	assert.Equal(t, 3, cfg.OpenAI.Limits.MaxConcurrent)
	assert.Equal(t, 60, cfg.OpenAI.Limits.RequestsPerWindow)
	assert.Equal(t, []string{"gpt-4o", "gpt-4o-mini"}, cfg.OpenAI.Models)
	assert.ElementsMatch(t, []string{ProviderOllama, ProviderOpenAI}, cfg.Providers())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown mode":              {"RATE_LIMIT_MODE": "queue"},
		"unknown default format":    {"ANALYZE_DEFAULT_FORMAT": "xml"},
		"unknown backend":           {"RATE_LIMIT_BACKEND": "etcd"},
		"disabled default":          {"ANALYZE_DEFAULT_PROVIDER": "openai"},
		"zero concurrency":          {"OLLAMA_MAX_CONCURRENT": "0"},
		"inverted quality range":    {"IMAGE_MIN_QUALITY": "90", "IMAGE_QUALITY": "80"},
		"non-positive budget":       {"IMAGE_PAYLOAD_BUDGET": "0"},
		"non-positive acquire wait": {"RATE_LIMIT_ACQUIRE_TIMEOUT": "0s"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range vars {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
