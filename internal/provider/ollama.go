package provider

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/kdduha/eyeris/internal/apperrors"
	"github.com/kdduha/eyeris/internal/config"
	"github.com/kdduha/eyeris/internal/preprocess"
	"github.com/kdduha/eyeris/internal/prompt"
)

const (
	ollamaGeneratePath = "/api/generate"
	maxErrorBody       = 4 << 10
	maxResponseBody    = 16 << 20
)

type ollamaRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images"`
	Stream bool     `json:"stream"`
	Format string   `json:"format,omitempty"`
}

type ollamaChunk struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int64  `json:"prompt_eval_count"`
	EvalCount       int64  `json:"eval_count"`
	Error           string `json:"error"`
}

// Ollama calls a local Ollama server. No credentials are involved.
type Ollama struct {
	modelSet
	client   *http.Client
	endpoint string
}

func NewOllama(cfg config.OllamaConfig) *Ollama {
	return &Ollama{
		modelSet: modelSet{defaultModel: cfg.Model, allowed: cfg.Models},
		client:   &http.Client{Timeout: cfg.Timeout},
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + ollamaGeneratePath,
	}
}

func (o *Ollama) Name() string {
	return config.ProviderOllama
}

func (o *Ollama) Analyze(ctx context.Context, img *preprocess.PreparedImage, payload prompt.Payload, model string) (Response, error) {
	reqBody := ollamaRequest{
		Model:  model,
		Prompt: payload.Text,
		Images: []string{img.Base64()},
	}
	if payload.ExpectJSON {
		reqBody.Format = "json"
	}

	body, err := sonic.Marshal(reqBody)
	if err != nil {
		return Response{}, apperrors.Internal("encode ollama request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, apperrors.Internal("build ollama request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return Response{}, transportError(ctx, o.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Response{}, apperrors.ProviderError(o.Name(), resp.StatusCode, string(errBody))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Response{}, transportError(ctx, o.Name(), err)
	}

	return o.parse(raw)
}

// parse accepts both a single JSON object and an NDJSON stream of chunks.
func (o *Ollama) parse(raw []byte) (Response, error) {
	var (
		text  strings.Builder
		usage Usage
	)

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64<<10), maxResponseBody)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaChunk
		if err := sonic.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Error != "" {
			return Response{}, apperrors.MalformedAnalysis(o.Name(), fmt.Sprintf("ollama stream error: %s", chunk.Error), nil)
		}

		text.WriteString(chunk.Response)
		usage.PromptTokens += chunk.PromptEvalCount
		usage.CompletionTokens += chunk.EvalCount
	}
	if err := scanner.Err(); err != nil {
		return Response{}, apperrors.MalformedAnalysis(o.Name(), "read ollama response", err)
	}

	out := strings.TrimSpace(text.String())
	if out == "" {
		return Response{}, apperrors.MalformedAnalysis(o.Name(), "empty response from ollama", nil)
	}

	return Response{Text: out, Usage: usage.normalize()}, nil
}
