package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdduha/eyeris/internal/apperrors"
	"github.com/kdduha/eyeris/internal/logger"
	"github.com/kdduha/eyeris/internal/models"
	"github.com/kdduha/eyeris/internal/usage"
)

type fakeService struct {
	got *models.AnalysisRequest
	err error
}

func (f *fakeService) Analyze(_ context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.AnalysisResult{
		RequestID: "req-1",
		Provider:  "ollama",
		Model:     "moondream",
		Format:    "json",
		Analysis:  `{"summary":"ok"}`,
	}, nil
}

type envelope struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data"`
}

func newHandler(svc analyzeService, tracker *usage.Tracker, maxUpload int64) *AnalyzeHandler {
	if tracker == nil {
		tracker = usage.NewTracker()
	}
	return NewAnalyzeHandler(svc, tracker, []string{"ollama", "openai"}, maxUpload, logger.Discard())
}

func multipartBody(t *testing.T, field string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if field != "" {
		fw, err := mw.CreateFormFile(field, "image.png")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestAnalyze_Multipart(t *testing.T) {
	svc := &fakeService{}
	h := newHandler(svc, nil, 1<<20)

	body, contentType := multipartBody(t, "image", []byte("png-bytes"), map[string]string{"provider": "ollama"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze?format=concise&model=llava", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Analyze(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	env := decode(t, rec)
	assert.True(t, env.Success)
	assert.Equal(t, "req-1", env.Data["request_id"])
	assert.Equal(t, `{"summary":"ok"}`, env.Data["analysis"])

	require.NotNil(t, svc.got)
	assert.Equal(t, []byte("png-bytes"), svc.got.Image)
	assert.Equal(t, "concise", svc.got.Format)
	assert.Equal(t, "ollama", svc.got.Provider)
	assert.Equal(t, "llava", svc.got.Model)
}

func TestAnalyze_JSONBody(t *testing.T) {
	svc := &fakeService{}
	h := newHandler(svc, nil, 1<<20)

	payload, err := sonic.Marshal(models.AnalyzeJSONRequest{
		ImageBase64: "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("raw")),
		Format:      "list",
		Provider:    "openai",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rec := httptest.NewRecorder()

	h.Analyze(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []byte("raw"), svc.got.Image)
	assert.Equal(t, "list", svc.got.Format)
	assert.Equal(t, "openai", svc.got.Provider)
}

func TestAnalyze_BadRequests(t *testing.T) {
	h := newHandler(&fakeService{}, nil, 1<<20)

	t.Run("missing file", func(t *testing.T) {
		body, contentType := multipartBody(t, "", nil, map[string]string{"format": "json"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()

		h.Analyze(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.False(t, decode(t, rec).Success)
	})

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewReader([]byte("{")))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		h.Analyze(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid base64", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewReader([]byte(`{"image_base64":"***"}`)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		h.Analyze(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAnalyze_BodyTooLarge(t *testing.T) {
	svc := &fakeService{}
	h := newHandler(svc, nil, 1024)

	body, contentType := multipartBody(t, "image", make([]byte, 4096), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Analyze(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.False(t, decode(t, rec).Success)
	assert.Nil(t, svc.got)
}

func TestAnalyze_ErrorKindsMapToStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.InvalidRequest("empty"), http.StatusBadRequest},
		{apperrors.Decode(nil), http.StatusBadRequest},
		{apperrors.InvalidFormat("xml"), http.StatusBadRequest},
		{apperrors.PayloadTooLarge("big"), http.StatusRequestEntityTooLarge},
		{apperrors.RateLimited("ollama", nil), http.StatusTooManyRequests},
		{apperrors.ProviderTimeout("ollama", nil), http.StatusGatewayTimeout},
		{apperrors.ProviderUnavailable("ollama", nil), http.StatusBadGateway},
		{apperrors.ProviderError("openai", 401, "bad key"), http.StatusBadGateway},
		{apperrors.MalformedAnalysis("ollama", "not json", nil), http.StatusBadGateway},
		{apperrors.Canceled(context.Canceled), apperrors.StatusClientClosedRequest},
		{apperrors.Internal("boom", nil), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		h := newHandler(&fakeService{err: tt.err}, nil, 1<<20)

		body, contentType := multipartBody(t, "image", []byte("x"), nil)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()

		h.Analyze(rec, req)

		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
		env := decode(t, rec)
		assert.False(t, env.Success)
		assert.NotEmpty(t, env.Message)
		assert.Nil(t, env.Data)
	}
}

func TestAnalyze_InternalMessageIsGeneric(t *testing.T) {
	h := newHandler(&fakeService{err: apperrors.Internal("db password is hunter2", nil)}, nil, 1<<20)

	body, contentType := multipartBody(t, "image", []byte("x"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.Analyze(rec, req)
	assert.Equal(t, "internal server error", decode(t, rec).Message)
}

func TestHealth(t *testing.T) {
	h := newHandler(&fakeService{}, nil, 1<<20)
	rec := httptest.NewRecorder()

	h.Health(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	assert.True(t, env.Success)
	assert.Equal(t, true, env.Data["healthy"])
	assert.Equal(t, []interface{}{"ollama", "openai"}, env.Data["providers"])
}

func TestUsage(t *testing.T) {
	tracker := usage.NewTracker()
	tracker.Add("ollama", 10, 5, 15)
	tracker.Add("openai", 100, 20, 120)

	h := newHandler(&fakeService{}, tracker, 1<<20)
	rec := httptest.NewRecorder()

	h.Usage(rec, httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	env := decode(t, rec)
	total, ok := env.Data["total"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 2, total["requests"])
	assert.EqualValues(t, 135, total["total_tokens"])
	assert.Contains(t, env.Data["providers"], "openai")
}
