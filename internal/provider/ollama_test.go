package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdduha/eyeris/internal/apperrors"
	"github.com/kdduha/eyeris/internal/config"
	"github.com/kdduha/eyeris/internal/prompt"
)

func ollamaConfig(url string) config.OllamaConfig {
	return config.OllamaConfig{
		BaseURL: url,
		Model:   "moondream",
		Timeout: 2 * time.Second,
	}
}

func ollamaServer(t *testing.T, status int, body string, got *ollamaRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate", r.URL.Path)
		if got != nil {
			raw, _ := io.ReadAll(r.Body)
			assert.NoError(t, sonic.Unmarshal(raw, got))
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllama_SingleObject(t *testing.T) {
	var got ollamaRequest
	srv := ollamaServer(t, http.StatusOK,
		`{"model":"moondream","response":"{\"summary\":\"cat\"}","done":true,"prompt_eval_count":40,"eval_count":12}`,
		&got)

	p := NewOllama(ollamaConfig(srv.URL + "/"))
	resp, err := p.Analyze(context.Background(), testImage(), mustPayload(t, prompt.FormatJSON), "llava")
	require.NoError(t, err)

	assert.Equal(t, `{"summary":"cat"}`, resp.Text)
	assert.Equal(t, Usage{PromptTokens: 40, CompletionTokens: 12, TotalTokens: 52}, resp.Usage)

	assert.Equal(t, "llava", got.Model)
	assert.Equal(t, "json", got.Format)
	assert.False(t, got.Stream)
	require.Len(t, got.Images, 1)
	assert.Equal(t, testImage().Base64(), got.Images[0])
	assert.NotEmpty(t, got.Prompt)
}

func TestOllama_StreamedChunks(t *testing.T) {
	var got ollamaRequest
	stream := `{"response":"A small ","done":false}
{"response":"red ","done":false}

not json at all
{"response":"square.","done":true,"prompt_eval_count":10,"eval_count":3}
`
	srv := ollamaServer(t, http.StatusOK, stream, &got)

	p := NewOllama(ollamaConfig(srv.URL))
	resp, err := p.Analyze(context.Background(), testImage(), mustPayload(t, prompt.FormatConcise), "moondream")
	require.NoError(t, err)

	assert.Equal(t, "A small red square.", resp.Text)
	assert.Equal(t, int64(13), resp.Usage.TotalTokens)
	assert.Empty(t, got.Format)
}

func TestOllama_ZeroUsageWhenAbsent(t *testing.T) {
	srv := ollamaServer(t, http.StatusOK, `{"response":"fine","done":true}`, nil)

	p := NewOllama(ollamaConfig(srv.URL))
	resp, err := p.Analyze(context.Background(), testImage(), mustPayload(t, prompt.FormatList), "moondream")
	require.NoError(t, err)
	assert.Equal(t, Usage{}, resp.Usage)
}

func TestOllama_EmptyResponse(t *testing.T) {
	srv := ollamaServer(t, http.StatusOK, `{"response":"","done":true}`, nil)

	p := NewOllama(ollamaConfig(srv.URL))
	_, err := p.Analyze(context.Background(), testImage(), mustPayload(t, prompt.FormatJSON), "moondream")
	assert.True(t, apperrors.Is(err, apperrors.KindMalformedAnalysis), "got %v", err)
}

func TestOllama_StreamError(t *testing.T) {
	srv := ollamaServer(t, http.StatusOK, `{"error":"model runner crashed"}`, nil)

	p := NewOllama(ollamaConfig(srv.URL))
	_, err := p.Analyze(context.Background(), testImage(), mustPayload(t, prompt.FormatJSON), "moondream")
	assert.True(t, apperrors.Is(err, apperrors.KindMalformedAnalysis), "got %v", err)
}

func TestOllama_ErrorStatus(t *testing.T) {
	srv := ollamaServer(t, http.StatusNotFound, `{"error":"model 'llava' not found"}`, nil)

	p := NewOllama(ollamaConfig(srv.URL))
	_, err := p.Analyze(context.Background(), testImage(), mustPayload(t, prompt.FormatJSON), "llava")

	appErr, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindProviderError, appErr.Kind)
	assert.Equal(t, http.StatusNotFound, appErr.Status)
	assert.Contains(t, appErr.Body, "not found")
}

func TestOllama_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := ollamaConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond

	p := NewOllama(cfg)
	_, err := p.Analyze(context.Background(), testImage(), mustPayload(t, prompt.FormatJSON), "moondream")
	assert.True(t, apperrors.Is(err, apperrors.KindProviderTimeout), "got %v", err)
}

func TestOllama_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := NewOllama(ollamaConfig(url))
	_, err := p.Analyze(context.Background(), testImage(), mustPayload(t, prompt.FormatJSON), "moondream")
	assert.True(t, apperrors.Is(err, apperrors.KindProviderUnavailable), "got %v", err)
}
