package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kdduha/eyeris/internal/apperrors"
	"github.com/kdduha/eyeris/internal/metrics"
)

// Mode decides what Acquire does when a provider is at capacity.
type Mode string

const (
	// ModeBlock waits for a free slot until the acquire timeout.
	ModeBlock Mode = "block"
	// ModeReject fails immediately.
	ModeReject Mode = "reject"
)

var (
	errConcurrency = errors.New("concurrent call ceiling reached")
	errWindow      = errors.New("request window exhausted")
)

// Limits is the ceiling for one provider. RequestsPerWindow <= 0 disables
// the window check.
type Limits struct {
	MaxConcurrent     int
	RequestsPerWindow int
	Window            time.Duration
}

// Window admits or denies one more request in the current interval.
// When denied, retryAfter hints how long until the next admission.
type Window interface {
	Allow(ctx context.Context) (ok bool, retryAfter time.Duration, err error)
}

// WindowFactory builds the window for one provider.
type WindowFactory func(provider string, limits Limits) Window

type Config struct {
	Mode           Mode
	AcquireTimeout time.Duration
}

type bucket struct {
	name   string
	sem    chan struct{}
	window Window
}

// Limiter hands out permits per provider. It is the only mutable state
// shared between requests and is safe for concurrent use.
type Limiter struct {
	cfg     Config
	buckets map[string]*bucket
	logger  *logrus.Logger
}

// New builds one bucket per provider. A nil factory uses in-memory windows.
func New(cfg Config, limits map[string]Limits, windows WindowFactory, logger *logrus.Logger) (*Limiter, error) {
	if cfg.Mode != ModeBlock && cfg.Mode != ModeReject {
		return nil, fmt.Errorf("unknown rate limit mode %q", cfg.Mode)
	}
	if windows == nil {
		windows = MemoryWindows
	}

	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket, len(limits)),
		logger:  logger,
	}
	for name, lim := range limits {
		if lim.MaxConcurrent <= 0 {
			return nil, fmt.Errorf("provider %q: max concurrent must be > 0", name)
		}
		b := &bucket{
			name: name,
			sem:  make(chan struct{}, lim.MaxConcurrent),
		}
		if lim.RequestsPerWindow > 0 && lim.Window > 0 {
			b.window = windows(name, lim)
		}
		l.buckets[name] = b
	}
	return l, nil
}

// Acquire returns a permit for provider or a rate_limited error. A deadline
// on ctx that passes while waiting is still rate_limited; only a canceled
// ctx yields canceled.
func (l *Limiter) Acquire(ctx context.Context, provider string) (*Permit, error) {
	b, ok := l.buckets[provider]
	if !ok {
		return nil, apperrors.Internal(fmt.Sprintf("no rate limit configured for provider %q", provider), nil)
	}

	waitCtx := ctx
	if l.cfg.Mode == ModeBlock && l.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.cfg.AcquireTimeout)
		defer cancel()
	}

	if err := l.takeSlot(waitCtx, b); err != nil {
		return nil, l.rejected(ctx, provider, err)
	}
	if err := l.admit(waitCtx, b); err != nil {
		<-b.sem
		return nil, l.rejected(ctx, provider, err)
	}

	metrics.PermitAcquired(provider)
	return &Permit{provider: provider, bucket: b}, nil
}

// InFlight reports how many permits for provider are currently held.
func (l *Limiter) InFlight(provider string) int {
	b, ok := l.buckets[provider]
	if !ok {
		return 0
	}
	return len(b.sem)
}

func (l *Limiter) takeSlot(ctx context.Context, b *bucket) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	default:
	}

	if l.cfg.Mode == ModeReject {
		return errConcurrency
	}

	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", errConcurrency, ctx.Err())
	}
}

func (l *Limiter) admit(ctx context.Context, b *bucket) error {
	if b.window == nil {
		return nil
	}

	for {
		ok, retryAfter, err := b.window.Allow(ctx)
		if err != nil {
			l.logger.WithError(err).WithField("provider", b.name).Warn("request window unavailable, allowing call")
			return nil
		}
		if ok {
			return nil
		}
		if l.cfg.Mode == ModeReject {
			return errWindow
		}

		if retryAfter <= 0 {
			retryAfter = 10 * time.Millisecond
		}
		timer := time.NewTimer(retryAfter)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", errWindow, ctx.Err())
		}
	}
}

func (l *Limiter) rejected(ctx context.Context, provider string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return apperrors.Canceled(ctx.Err())
	}
	metrics.RateLimitRejected(provider)
	l.logger.WithFields(logrus.Fields{
		"provider": provider,
		"mode":     l.cfg.Mode,
	}).WithError(err).Warn("permit not granted")
	return apperrors.RateLimited(provider, err)
}

// Permit is one slot for one outstanding provider call.
type Permit struct {
	provider string
	bucket   *bucket
	once     sync.Once
}

func (p *Permit) Provider() string {
	return p.provider
}

// Release frees the slot. Calls after the first are no-ops.
func (p *Permit) Release() {
	p.once.Do(func() {
		<-p.bucket.sem
		metrics.PermitReleased(p.provider)
	})
}
