package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kdduha/eyeris/internal/apperrors"
	"github.com/kdduha/eyeris/internal/metrics"
	"github.com/kdduha/eyeris/internal/models"
	"github.com/kdduha/eyeris/internal/preprocess"
	"github.com/kdduha/eyeris/internal/prompt"
	"github.com/kdduha/eyeris/internal/provider"
	"github.com/kdduha/eyeris/internal/ratelimit"
	"github.com/kdduha/eyeris/internal/usage"
)

type Preparer interface {
	Prepare(ctx context.Context, raw []byte) (*preprocess.PreparedImage, error)
}

type Limiter interface {
	Acquire(ctx context.Context, provider string) (*ratelimit.Permit, error)
}

type Providers interface {
	Lookup(name string) (provider.Provider, bool)
	DefaultName() string
}

// RetryPolicy allows at most one extra attempt after a transient failure.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

type Settings struct {
	MaxImageBytes int64
	DefaultFormat prompt.Format
	Retry         RetryPolicy
}

// TransitionFunc observes every state change of every analysis.
type TransitionFunc func(requestID string, state State)

type Option func(*AnalyzeService)

func WithTransitionHook(fn TransitionFunc) Option {
	return func(s *AnalyzeService) {
		s.onTransition = fn
	}
}

// AnalyzeService runs one analysis end to end: validate, preprocess,
// prompt, acquire a permit, call the provider and parse its answer.
type AnalyzeService struct {
	logger       *logrus.Logger
	preparer     Preparer
	limiter      Limiter
	providers    Providers
	usage        *usage.Tracker
	settings     Settings
	onTransition TransitionFunc
}

func NewAnalyzeService(
	logger *logrus.Logger,
	preparer Preparer,
	limiter Limiter,
	providers Providers,
	tracker *usage.Tracker,
	settings Settings,
	opts ...Option,
) *AnalyzeService {
	settings.Retry.MaxRetries = min(max(settings.Retry.MaxRetries, 0), 1)
	if settings.DefaultFormat == "" {
		settings.DefaultFormat = prompt.FormatJSON
	}

	s := &AnalyzeService{
		logger:    logger,
		preparer:  preparer,
		limiter:   limiter,
		providers: providers,
		usage:     tracker,
		settings:  settings,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run is the per-request state. It is never shared between goroutines.
type run struct {
	id       string
	state    State
	start    time.Time
	log      *logrus.Entry
	provider provider.Provider
	model    string
	format   prompt.Format
	attempts int
}

// Analyze never panics and every error it returns is an *apperrors.Error.
func (s *AnalyzeService) Analyze(ctx context.Context, req *models.AnalysisRequest) (result *models.AnalysisResult, err error) {
	r := &run{
		id:    uuid.NewString(),
		start: time.Now(),
	}
	r.log = s.logger.WithField("request_id", r.id)
	s.transition(r, StateReceived)

	defer func() {
		if p := recover(); p != nil {
			r.log.WithField("stack", string(debug.Stack())).Errorf("analysis panicked: %v", p)
			result, err = nil, apperrors.Internal(fmt.Sprintf("analysis panicked: %v", p), nil)
		}
		if err != nil {
			err = s.fail(ctx, r, err)
		}
	}()

	return s.analyze(ctx, r, req)
}

func (s *AnalyzeService) analyze(ctx context.Context, r *run, req *models.AnalysisRequest) (*models.AnalysisResult, error) {
	s.transition(r, StateValidating)
	if err := s.validate(r, req); err != nil {
		return nil, err
	}

	s.transition(r, StatePreprocessing)
	img, err := s.preparer.Prepare(ctx, req.Image)
	if err != nil {
		return nil, err
	}

	s.transition(r, StatePrompting)
	payload, err := prompt.Build(r.format)
	if err != nil {
		return nil, err
	}

	resp, err := s.callWithRetry(ctx, r, img, payload)
	if err != nil {
		return nil, err
	}

	s.transition(r, StateParsingResponse)
	analysis := resp.Text
	if payload.ExpectJSON {
		if analysis, err = parseJSONAnalysis(r.provider.Name(), resp.Text); err != nil {
			return nil, err
		}
	}

	s.transition(r, StateDone)
	return s.finish(r, analysis, resp.Usage), nil
}

func (s *AnalyzeService) validate(r *run, req *models.AnalysisRequest) error {
	if req == nil || len(req.Image) == 0 {
		return apperrors.InvalidRequest("image is empty")
	}
	if s.settings.MaxImageBytes > 0 && int64(len(req.Image)) > s.settings.MaxImageBytes {
		return apperrors.PayloadTooLarge(fmt.Sprintf("image is %d bytes, limit is %d", len(req.Image), s.settings.MaxImageBytes))
	}

	format := s.settings.DefaultFormat
	if req.Format != "" {
		parsed, err := prompt.ParseFormat(req.Format)
		if err != nil {
			return err
		}
		format = parsed
	}

	name := req.Provider
	if name == "" {
		name = s.providers.DefaultName()
	}
	p, ok := s.providers.Lookup(name)
	if !ok {
		return apperrors.InvalidRequest(fmt.Sprintf("unknown provider %q", name))
	}

	model := req.Model
	if model == "" {
		model = p.DefaultModel()
	}
	if !p.SupportsModel(model) {
		return apperrors.InvalidRequest(fmt.Sprintf("model %q is not supported by provider %q", model, name))
	}

	r.provider, r.model, r.format = p, model, format
	r.log = r.log.WithFields(logrus.Fields{
		"provider": name,
		"model":    model,
		"format":   format,
	})
	return nil
}

func (s *AnalyzeService) callWithRetry(ctx context.Context, r *run, img *preprocess.PreparedImage, payload prompt.Payload) (provider.Response, error) {
	for {
		resp, err := s.attempt(ctx, r, img, payload)
		if err == nil {
			return resp, nil
		}
		if !apperrors.Retryable(err) || r.attempts > s.settings.Retry.MaxRetries || ctx.Err() != nil {
			return provider.Response{}, err
		}

		r.log.WithError(err).WithField("attempt", r.attempts).Warn("transient provider failure, retrying")
		if delay := s.settings.Retry.Delay; delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return provider.Response{}, apperrors.Canceled(ctx.Err())
			}
		}
	}
}

// attempt holds one permit for exactly the duration of one provider call.
func (s *AnalyzeService) attempt(ctx context.Context, r *run, img *preprocess.PreparedImage, payload prompt.Payload) (provider.Response, error) {
	r.attempts++
	name := r.provider.Name()

	s.transition(r, StateAwaitingPermit)
	permit, err := s.limiter.Acquire(ctx, name)
	if err != nil {
		return provider.Response{}, err
	}
	defer permit.Release()

	s.transition(r, StateCalling)
	start := time.Now()
	resp, err := r.provider.Analyze(ctx, img, payload, r.model)
	if err != nil {
		if _, ok := apperrors.As(err); !ok {
			err = apperrors.ProviderUnavailable(name, err)
		}
	}
	metrics.ProviderCall(name, outcome(err), time.Since(start))
	return resp, err
}

func (s *AnalyzeService) finish(r *run, analysis string, u provider.Usage) *models.AnalysisResult {
	name := r.provider.Name()
	s.usage.Add(name, u.PromptTokens, u.CompletionTokens, u.TotalTokens)
	metrics.AnalysisFinished("ok")

	elapsed := time.Since(r.start)
	r.log.WithFields(logrus.Fields{
		"attempts":          r.attempts,
		"duration_ms":       elapsed.Milliseconds(),
		"prompt_tokens":     u.PromptTokens,
		"completion_tokens": u.CompletionTokens,
	}).Info("analysis completed")

	return &models.AnalysisResult{
		RequestID: r.id,
		Provider:  name,
		Model:     r.model,
		Format:    string(r.format),
		Analysis:  analysis,
		TokenUsage: models.TokenUsage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		},
		Attempts:   r.attempts,
		DurationMs: elapsed.Milliseconds(),
	}
}

// fail converts err into the tagged error returned to the caller and
// records the outcome.
func (s *AnalyzeService) fail(ctx context.Context, r *run, err error) error {
	appErr, ok := apperrors.As(err)
	if !ok {
		if ctx.Err() != nil {
			appErr = apperrors.Canceled(err)
		} else {
			appErr = apperrors.Internal("analysis failed", err)
		}
	}

	failedIn := r.state
	s.transition(r, StateFailed)
	metrics.AnalysisFinished(string(appErr.Kind))

	entry := r.log.WithError(appErr).WithFields(logrus.Fields{
		"kind":        appErr.Kind,
		"state":       failedIn.String(),
		"attempts":    r.attempts,
		"duration_ms": time.Since(r.start).Milliseconds(),
	})
	if appErr.StatusCode() >= 500 {
		entry.Error("analysis failed")
	} else {
		entry.Warn("analysis failed")
	}
	return appErr
}

func (s *AnalyzeService) transition(r *run, next State) {
	if r.state.Terminal() {
		return
	}
	r.state = next
	r.log.WithField("state", next.String()).Debug("state transition")
	if s.onTransition != nil {
		s.onTransition(r.id, next)
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperrors.KindOf(err))
}
