package models

import "fmt"

// AnalysisRequest is one inbound analysis. Image is owned by the request
// and never mutated after it is received.
type AnalysisRequest struct {
	Image    []byte
	Format   string
	Provider string
	Model    string
}

// AnalyzeJSONRequest is the JSON body variant of the analyze endpoint.
type AnalyzeJSONRequest struct {
	ImageBase64 string `json:"image_base64" example:"iVBORw0KGgoAAAANSUhEUgAA..."`
	Format      string `json:"format" example:"json" enums:"json,concise,detailed,list"`
	Provider    string `json:"provider" example:"ollama"`
	Model       string `json:"model" example:"moondream"`
}

func (r AnalyzeJSONRequest) Validate() error {
	if r.ImageBase64 == "" {
		return fmt.Errorf("image_base64 is empty")
	}
	return nil
}

// TokenUsage is zero-filled when the provider reports nothing.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type AnalysisResult struct {
	RequestID  string     `json:"request_id" example:"5f0c6a8e-2b1d-4e0a-9c8f-1a2b3c4d5e6f"`
	Provider   string     `json:"provider" example:"ollama"`
	Model      string     `json:"model" example:"moondream"`
	Format     string     `json:"format" example:"json"`
	Analysis   string     `json:"analysis" example:"{\"summary\":\"a red square\"}"`
	TokenUsage TokenUsage `json:"token_usage"`
	Attempts   int        `json:"attempts" example:"1"`
	DurationMs int64      `json:"duration_ms" example:"1532"`
}

// APIResponse is the envelope every endpoint answers with.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type HealthStatus struct {
	Healthy   bool     `json:"healthy"`
	Providers []string `json:"providers"`
}

type ProviderUsage struct {
	Requests         int64 `json:"requests"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type UsageReport struct {
	Providers map[string]ProviderUsage `json:"providers"`
	Total     ProviderUsage            `json:"total"`
}
