package provider

import (
	"fmt"
	"sync"
	"time"

	"conductor/pkg/config"
	"conductor/pkg/logx"
	"conductor/pkg/provider/llm"
	"conductor/pkg/provider/middleware/metrics"
)

// clientBuilder constructs a wrapped client for one provider/operation pair.
// Indirection point for tests.
type clientBuilder func(provider, model, operation string, opTimeout time.Duration) (llm.Client, error)

// Registry resolves a provider name to a ready-to-use client, substituting
// along the fallback order when the requested provider cannot be built.
// Clients are cached per operation and provider.
type Registry struct {
	mu            sync.RWMutex
	clients       map[string]llm.Client // key: operation + "/" + provider
	build         clientBuilder
	fallbackOrder []string
	recorder      *metrics.PrometheusRecorder
	logger        *logx.Logger
}

// NewRegistry creates a registry backed by the factory.
func NewRegistry(factory *Factory, cfg *config.Config) *Registry {
	order := cfg.FallbackOrder
	if len(order) == 0 {
		order = config.DefaultFallbackOrder
	}
	return &Registry{
		clients:       make(map[string]llm.Client),
		build:         factory.NewClient,
		fallbackOrder: order,
		recorder:      factory.recorder,
		logger:        logx.NewLogger("provider-registry"),
	}
}

// ClientFor returns a client for the requested provider, or the first
// provider along the fallback order that can be built. Substitution is
// logged and counted; it is not an error as long as some provider works.
func (r *Registry) ClientFor(operation, requested, model string, opTimeout time.Duration) (llm.Client, error) {
	// The requested provider keeps its configured model; fallback providers
	// use their own defaults since model names are not portable.
	if client, err := r.clientFor(operation, requested, model, opTimeout); err == nil {
		return client, nil
	} else {
		r.logger.Warn("provider %s unavailable for %s: %v", requested, operation, err)
	}

	for _, candidate := range r.fallbackOrder {
		if candidate == requested {
			continue
		}
		fallbackModel, err := DefaultModel(candidate)
		if err != nil {
			continue
		}
		client, err := r.clientFor(operation, candidate, fallbackModel, opTimeout)
		if err != nil {
			r.logger.Debug("fallback candidate %s unavailable for %s: %v", candidate, operation, err)
			continue
		}
		r.logger.Warn("substituting provider %s for %s on operation %s", candidate, requested, operation)
		if r.recorder != nil {
			r.recorder.IncFallback(requested, candidate)
		}
		return client, nil
	}

	return nil, fmt.Errorf("no provider client available for operation %s (requested %s)", operation, requested)
}

// NextAfter returns the fallback candidates that come after the given
// provider in the fallback order, used when a call fails mid-flight.
func (r *Registry) NextAfter(provider string) []string {
	var rest []string
	seen := false
	for _, candidate := range r.fallbackOrder {
		if candidate == provider {
			seen = true
			continue
		}
		if seen {
			rest = append(rest, candidate)
		}
	}
	if !seen {
		// Unknown provider: every candidate is fair game.
		return r.fallbackOrder
	}
	return rest
}

// RecordFallback counts a mid-flight substitution.
func (r *Registry) RecordFallback(from, to string) {
	if r.recorder != nil {
		r.recorder.IncFallback(from, to)
	}
}

func (r *Registry) clientFor(operation, provider, model string, opTimeout time.Duration) (llm.Client, error) {
	key := operation + "/" + provider

	r.mu.RLock()
	client, ok := r.clients[key]
	r.mu.RUnlock()
	if ok {
		return client, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[key]; ok {
		return client, nil
	}

	client, err := r.build(provider, model, operation, opTimeout)
	if err != nil {
		return nil, err
	}
	r.clients[key] = client
	return client, nil
}
