package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"

	"github.com/kdduha/eyeris/internal/apperrors"
	"github.com/kdduha/eyeris/internal/models"
	"github.com/kdduha/eyeris/internal/usage"
)

const (
	imageField      = "image"
	multipartMemory = 32 << 20
)

type analyzeService interface {
	Analyze(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, error)
}

type usageSource interface {
	Snapshot() map[string]usage.Totals
}

type AnalyzeHandler struct {
	service       analyzeService
	usage         usageSource
	providers     []string
	maxUploadSize int64
	logger        *logrus.Logger
}

func NewAnalyzeHandler(service analyzeService, usage usageSource, providers []string, maxUploadSize int64, logger *logrus.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{
		service:       service,
		usage:         usage,
		providers:     providers,
		maxUploadSize: maxUploadSize,
		logger:        logger,
	}
}

// Analyze godoc
// @Summary Analyze image
// @Description Analyze an uploaded image with a vision provider. Send multipart/form-data with an "image" file, or JSON with image_base64.
// @Tags analyze
// @Accept multipart/form-data,json
// @Produce json
// @Param image formData file false "Image file (multipart)"
// @Param format query string false "Output format" Enums(json, concise, detailed, list)
// @Param provider query string false "Provider name" Enums(openai, ollama)
// @Param model query string false "Provider specific model"
// @Param request body models.AnalyzeJSONRequest false "JSON request"
// @Success 200 {object} models.APIResponse{data=models.AnalysisResult}
// @Failure 400 {object} models.APIResponse
// @Failure 413 {object} models.APIResponse
// @Failure 429 {object} models.APIResponse
// @Failure 502 {object} models.APIResponse
// @Failure 504 {object} models.APIResponse
// @Router /api/v1/analyze [post]
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUploadSize {
		h.writeError(w, r, apperrors.PayloadTooLarge(fmt.Sprintf("request body exceeds %d bytes", h.maxUploadSize)))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)

	req, err := h.readRequest(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.service.Analyze(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Analysis completed successfully",
		Data:    res,
	})
}

// Health godoc
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} models.APIResponse{data=models.HealthStatus}
// @Router /api/v1/health [get]
func (h *AnalyzeHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Service is healthy",
		Data:    models.HealthStatus{Healthy: true, Providers: h.providers},
	})
}

// Usage godoc
// @Summary Cumulative token usage
// @Description Token counters per provider since process start.
// @Tags system
// @Produce json
// @Success 200 {object} models.APIResponse{data=models.UsageReport}
// @Router /api/v1/usage [get]
func (h *AnalyzeHandler) Usage(w http.ResponseWriter, r *http.Request) {
	report := models.UsageReport{Providers: make(map[string]models.ProviderUsage)}
	for name, t := range h.usage.Snapshot() {
		pu := models.ProviderUsage(t)
		report.Providers[name] = pu
		report.Total.Requests += pu.Requests
		report.Total.PromptTokens += pu.PromptTokens
		report.Total.CompletionTokens += pu.CompletionTokens
		report.Total.TotalTokens += pu.TotalTokens
	}

	writeJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Token usage",
		Data:    report,
	})
}

func (h *AnalyzeHandler) readRequest(r *http.Request) (*models.AnalysisRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		return readJSON(r)
	}
	return readMultipart(r)
}

func readJSON(r *http.Request) (*models.AnalysisRequest, error) {
	var body models.AnalyzeJSONRequest
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&body); err != nil {
		if tooLarge(err) {
			return nil, err
		}
		return nil, apperrors.InvalidRequest(fmt.Sprintf("invalid JSON: %s", err))
	}
	if err := body.Validate(); err != nil {
		return nil, apperrors.InvalidRequest(err.Error())
	}

	encoded := body.ImageBase64
	if i := strings.Index(encoded, ";base64,"); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+len(";base64,"):]
	}
	img, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperrors.InvalidRequest(fmt.Sprintf("image_base64 is not valid base64: %s", err))
	}

	return &models.AnalysisRequest{
		Image:    img,
		Format:   firstNonEmpty(body.Format, r.URL.Query().Get("format")),
		Provider: firstNonEmpty(body.Provider, r.URL.Query().Get("provider")),
		Model:    firstNonEmpty(body.Model, r.URL.Query().Get("model")),
	}, nil
}

func readMultipart(r *http.Request) (*models.AnalysisRequest, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if tooLarge(err) {
			return nil, err
		}
		return nil, apperrors.InvalidRequest(fmt.Sprintf("invalid multipart form: %s", err))
	}

	file, _, err := r.FormFile(imageField)
	if err != nil {
		return nil, apperrors.InvalidRequest(fmt.Sprintf("missing %q file field", imageField))
	}
	defer file.Close()

	img, err := io.ReadAll(file)
	if err != nil {
		return nil, apperrors.InvalidRequest(fmt.Sprintf("read image: %s", err))
	}

	return &models.AnalysisRequest{
		Image:    img,
		Format:   r.FormValue("format"),
		Provider: r.FormValue("provider"),
		Model:    r.FormValue("model"),
	}, nil
}

func (h *AnalyzeHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if tooLarge(err) {
		err = apperrors.PayloadTooLarge(fmt.Sprintf("request body exceeds %d bytes", h.maxUploadSize))
	}

	status := apperrors.StatusCode(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal server error"
	}
	if status == http.StatusInternalServerError || status == http.StatusRequestEntityTooLarge {
		h.logger.WithError(err).WithField("path", r.URL.Path).Warn("request rejected")
	}

	writeJSON(w, status, models.APIResponse{
		Success: false,
		Message: message,
	})
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func writeJSON(w http.ResponseWriter, status int, body models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = sonic.ConfigDefault.NewEncoder(w).Encode(body)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
