package preprocess

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kdduha/eyeris/internal/apperrors"
	"github.com/kdduha/eyeris/internal/metrics"
	"github.com/kdduha/eyeris/internal/workerpool"
)

// Preprocessor runs Prepare on a bounded worker pool so resizing bursts do
// not consume the goroutines that wait on providers.
type Preprocessor struct {
	pool        *workerpool.Pool
	constraints Constraints
	logger      *logrus.Logger
}

func NewPreprocessor(pool *workerpool.Pool, constraints Constraints, logger *logrus.Logger) *Preprocessor {
	return &Preprocessor{
		pool:        pool,
		constraints: constraints,
		logger:      logger,
	}
}

func (p *Preprocessor) Prepare(ctx context.Context, raw []byte) (*PreparedImage, error) {
	start := time.Now()
	sourceFormat := sniffFormat(raw)

	prepared, err := workerpool.Do(ctx, p.pool, func() (*PreparedImage, error) {
		return Prepare(raw, p.constraints)
	})
	if err != nil {
		metrics.ImagePreprocess("error", sourceFormat, time.Since(start))
		return nil, p.classify(ctx, err)
	}

	metrics.ImagePreprocess("ok", prepared.SourceFormat, time.Since(start))
	p.logger.WithFields(logrus.Fields{
		"source_format": prepared.SourceFormat,
		"source_bytes":  len(raw),
		"source_size":   [2]int{prepared.SourceWidth, prepared.SourceHeight},
		"prepared_size": [2]int{prepared.Width, prepared.Height},
		"output_bytes":  len(prepared.Data),
		"quality":       prepared.Quality,
		"duration_ms":   time.Since(start).Milliseconds(),
	}).Debug("image prepared")

	return prepared, nil
}

func (p *Preprocessor) classify(ctx context.Context, err error) error {
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if ctx.Err() != nil {
		return apperrors.Canceled(err)
	}
	if errors.Is(err, workerpool.ErrClosed) {
		return apperrors.Internal("image worker pool is shut down", err)
	}
	return apperrors.Decode(err)
}

func sniffFormat(raw []byte) string {
	ct := http.DetectContentType(raw)
	if format, ok := strings.CutPrefix(ct, "image/"); ok {
		return format
	}
	return "unknown"
}
