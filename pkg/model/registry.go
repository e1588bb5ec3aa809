package model

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/expectedparrot/edsl-sub003/pkg/config"
	"github.com/expectedparrot/edsl-sub003/pkg/errors"
)

// Registry routes requests to a caller by provider.
type Registry struct {
	mu      sync.RWMutex
	callers map[string]Caller
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{callers: make(map[string]Caller)}
}

// NewRegistryFromConfig registers the scripted caller plus every provider
// with credentials.
func NewRegistryFromConfig(cfg *config.Config) *Registry {
	r := NewRegistry()
	r.Register(ProviderScripted, NewScripted(nil))
	if cfg == nil {
		return r
	}
	if cfg.Providers.OpenAI.Ready() {
		r.Register(ProviderOpenAI, NewOpenAICaller(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.BaseURL))
	}
	if cfg.Providers.Anthropic.Ready() {
		r.Register(ProviderAnthropic, NewAnthropicCaller(cfg.Providers.Anthropic.APIKey, cfg.Providers.Anthropic.BaseURL))
	}
	return r
}

// Register adds or replaces the caller for provider.
func (r *Registry) Register(provider string, c Caller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callers[normalizeProvider(provider)] = c
}

// Providers returns the registered provider names, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.callers))
	for name := range r.callers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the caller for spec.
func (r *Registry) Resolve(spec Spec) (Caller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.callers[normalizeProvider(spec.Provider)]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeModelNotFound, "no caller registered for provider %q", spec.Provider).
			WithContext("model", spec.Name)
	}
	return c, nil
}

// Invoke routes req by its model's provider.
func (r *Registry) Invoke(ctx context.Context, req *Request) (*Response, error) {
	c, err := r.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	return c.Invoke(ctx, req)
}

func normalizeProvider(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}
