package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/kdduha/eyeris/internal/prompt"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	RateLimitBlock  = "block"
	RateLimitReject = "reject"

	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Config struct {
	Server    ServerConfig
	Analyze   AnalyzeConfig
	Image     ImageConfig
	RateLimit RateLimitConfig
	OpenAI    OpenAIConfig `envPrefix:"OPENAI_"`
	Ollama    OllamaConfig `envPrefix:"OLLAMA_"`
	Redis     RedisConfig  `envPrefix:"REDIS_"`
	Log       LogConfig
}

type ServerConfig struct {
	Port            string        `env:"SERVER_PORT" envDefault:"8080"`
	Timeout         time.Duration `env:"SERVER_TIMEOUT" envDefault:"2m"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	ThrottleLimit   int           `env:"SERVER_THROTTLE_LIMIT" envDefault:"50"`
	MaxUploadSize   int64         `env:"SERVER_MAX_UPLOAD_SIZE" envDefault:"104857600"`
}

type AnalyzeConfig struct {
	DefaultProvider string        `env:"ANALYZE_DEFAULT_PROVIDER" envDefault:"ollama"`
	DefaultFormat   string        `env:"ANALYZE_DEFAULT_FORMAT" envDefault:"json"`
	MaxRetries      int           `env:"ANALYZE_MAX_RETRIES" envDefault:"1"`
	RetryDelay      time.Duration `env:"ANALYZE_RETRY_DELAY" envDefault:"0s"`
}

type ImageConfig struct {
	MaxInputBytes int64 `env:"IMAGE_MAX_INPUT_BYTES" envDefault:"52428800"`
	MaxDimension  int   `env:"IMAGE_MAX_DIMENSION" envDefault:"2048"`
	PayloadBudget int   `env:"IMAGE_PAYLOAD_BUDGET" envDefault:"4194304"`
	Quality       int   `env:"IMAGE_QUALITY" envDefault:"85"`
	MinQuality    int   `env:"IMAGE_MIN_QUALITY" envDefault:"30"`
	QualityStep   int   `env:"IMAGE_QUALITY_STEP" envDefault:"10"`
	MaxPixels     int   `env:"IMAGE_MAX_PIXELS" envDefault:"100000000"`
	Workers       int   `env:"IMAGE_WORKERS" envDefault:"0"`
}

type RateLimitConfig struct {
	Mode           string        `env:"RATE_LIMIT_MODE" envDefault:"block"`
	AcquireTimeout time.Duration `env:"RATE_LIMIT_ACQUIRE_TIMEOUT" envDefault:"10s"`
	Backend        string        `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
}

// LimitConfig is the per-provider ceiling; it is embedded under each provider prefix.
type LimitConfig struct {
	MaxConcurrent     int           `env:"MAX_CONCURRENT" envDefault:"10"`
	RequestsPerWindow int           `env:"REQUESTS_PER_WINDOW" envDefault:"0"`
	Window            time.Duration `env:"WINDOW" envDefault:"1m"`
}

type OpenAIConfig struct {
	APIKey    string        `env:"API_KEY"`
	BaseURL   string        `env:"BASE_URL" envDefault:"https://api.openai.com/v1"`
	Model     string        `env:"MODEL" envDefault:"gpt-4o-mini"`
	Models    []string      `env:"MODELS" envSeparator:","`
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"30s"`
	MaxTokens int64         `env:"MAX_TOKENS" envDefault:"1000"`
	JSONMode  bool          `env:"JSON_MODE" envDefault:"false"`
	Limits    LimitConfig
}

type OllamaConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"http://localhost:11434"`
	Model   string        `env:"MODEL" envDefault:"moondream"`
	Models  []string      `env:"MODELS" envSeparator:","`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
	Limits  LimitConfig
}

type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"redis:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// OpenAIEnabled reports whether the OpenAI provider has credentials.
func (c *Config) OpenAIEnabled() bool {
	return c.OpenAI.APIKey != ""
}

// Providers lists the enabled provider names.
func (c *Config) Providers() []string {
	names := []string{ProviderOllama}
	if c.OpenAIEnabled() {
		names = append(names, ProviderOpenAI)
	}
	return names
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Image.MaxInputBytes <= 0 || c.Image.PayloadBudget <= 0 || c.Image.MaxDimension <= 0 {
		return fmt.Errorf("image budgets must be > 0 (got input=%d, payload=%d, dimension=%d)",
			c.Image.MaxInputBytes, c.Image.PayloadBudget, c.Image.MaxDimension)
	}
	if c.Image.MinQuality < 1 || c.Image.Quality > 100 || c.Image.MinQuality > c.Image.Quality || c.Image.QualityStep <= 0 {
		return fmt.Errorf("invalid jpeg quality range %d..%d step %d",
			c.Image.MinQuality, c.Image.Quality, c.Image.QualityStep)
	}
	if c.Server.Timeout <= 0 || c.OpenAI.Timeout <= 0 || c.Ollama.Timeout <= 0 || c.RateLimit.AcquireTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0")
	}
	if _, err := prompt.ParseFormat(c.Analyze.DefaultFormat); err != nil {
		return fmt.Errorf("ANALYZE_DEFAULT_FORMAT: %w", err)
	}
	if c.RateLimit.Mode != RateLimitBlock && c.RateLimit.Mode != RateLimitReject {
		return fmt.Errorf("RATE_LIMIT_MODE must be %q or %q, got %q", RateLimitBlock, RateLimitReject, c.RateLimit.Mode)
	}
	if c.RateLimit.Backend != BackendMemory && c.RateLimit.Backend != BackendRedis {
		return fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q, got %q", BackendMemory, BackendRedis, c.RateLimit.Backend)
	}
	for name, limits := range map[string]LimitConfig{ProviderOpenAI: c.OpenAI.Limits, ProviderOllama: c.Ollama.Limits} {
		if limits.MaxConcurrent <= 0 {
			return fmt.Errorf("%s max concurrent must be > 0", name)
		}
		if limits.RequestsPerWindow < 0 || (limits.RequestsPerWindow > 0 && limits.Window <= 0) {
			return fmt.Errorf("%s request window is invalid", name)
		}
	}
	if !slices.Contains(c.Providers(), c.Analyze.DefaultProvider) {
		return fmt.Errorf("default provider %q is not enabled (enabled: %v)", c.Analyze.DefaultProvider, c.Providers())
	}
	return nil
}
