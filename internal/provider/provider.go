package provider

import (
	"context"
	"errors"
	"net"
	"slices"
	"sort"

	"github.com/kdduha/eyeris/internal/apperrors"
	"github.com/kdduha/eyeris/internal/preprocess"
	"github.com/kdduha/eyeris/internal/prompt"
)

// Usage holds provider-reported token counters. Missing counters stay zero.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// normalize fills TotalTokens when a backend reports only the parts.
func (u Usage) normalize() Usage {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

// Response is the raw model answer before any format validation.
type Response struct {
	Text  string
	Usage Usage
}

// Provider is one vision backend. Implementations hold no per-request
// state and are safe for concurrent use.
type Provider interface {
	Name() string
	DefaultModel() string
	SupportsModel(model string) bool
	Analyze(ctx context.Context, img *preprocess.PreparedImage, payload prompt.Payload, model string) (Response, error)
}

// modelSet answers SupportsModel for adapters configured with an optional allow-list.
type modelSet struct {
	defaultModel string
	allowed      []string
}

func (m modelSet) DefaultModel() string {
	return m.defaultModel
}

func (m modelSet) SupportsModel(model string) bool {
	if model == "" {
		return false
	}
	if len(m.allowed) == 0 {
		return true
	}
	return model == m.defaultModel || slices.Contains(m.allowed, model)
}

// Registry is the immutable name -> provider lookup built at startup.
type Registry struct {
	providers   map[string]Provider
	defaultName string
}

func NewRegistry(defaultName string, providers ...Provider) (*Registry, error) {
	r := &Registry{
		providers:   make(map[string]Provider, len(providers)),
		defaultName: defaultName,
	}
	for _, p := range providers {
		if _, dup := r.providers[p.Name()]; dup {
			return nil, errors.New("duplicate provider " + p.Name())
		}
		r.providers[p.Name()] = p
	}
	if _, ok := r.providers[defaultName]; !ok {
		return nil, errors.New("default provider " + defaultName + " is not registered")
	}
	return r, nil
}

func (r *Registry) Lookup(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

func (r *Registry) DefaultName() string {
	return r.defaultName
}

// Names returns the registered provider names sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// transportError classifies a failed round trip. A canceled parent context
// wins over a timeout so callers that went away are not reported as slow
// backends.
func transportError(ctx context.Context, provider string, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return apperrors.Canceled(err)
	}
	if isTimeout(err) {
		return apperrors.ProviderTimeout(provider, err)
	}
	return apperrors.ProviderUnavailable(provider, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
