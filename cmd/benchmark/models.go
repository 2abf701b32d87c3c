package main

import "time"

type Config struct {
	Endpoint    string        `env:"BENCH_ENDPOINT" envDefault:"http://localhost:8080/api/v1/analyze"`
	DataDir     string        `env:"BENCH_DATA_DIR" envDefault:"./data"`
	Provider    string        `env:"BENCH_PROVIDER"`
	Model       string        `env:"BENCH_MODEL"`
	Formats     []string      `env:"BENCH_FORMATS" envSeparator:"," envDefault:"json,concise,detailed,list"`
	Concurrency int           `env:"BENCH_CONCURRENCY" envDefault:"4"`
	Timeout     time.Duration `env:"BENCH_TIMEOUT" envDefault:"2m"`
}

type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type AnalysisResult struct {
	Analysis   string     `json:"analysis"`
	TokenUsage TokenUsage `json:"token_usage"`
	Attempts   int        `json:"attempts"`
}

type APIResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    *AnalysisResult `json:"data"`
}

type BenchResult struct {
	File     string
	Format   string
	Duration time.Duration
	Tokens   int64
	Status   int
	Err      error
	Size     int64
}

type Agg struct {
	Count      int
	Failed     int
	Total      time.Duration
	TotalBytes int64
	Tokens     int64
}
