// Package metrics provides Prometheus-based metrics recording for provider
// operations.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"conductor/pkg/provider/llm"
	"conductor/pkg/provider/llmerrors"
)

// PrometheusRecorder records provider request metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	fallbackTotal   *prometheus.CounterVec
}

// NewPrometheusRecorder creates a new Prometheus-based metrics recorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		requestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_requests_total",
				Help: "Total number of provider requests by provider, model, operation, and status",
			},
			[]string{"provider", "model", "operation", "status", "error_type"},
		),
		tokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_tokens_total",
				Help: "Total number of tokens used in provider requests",
			},
			[]string{"provider", "model", "operation"},
		),
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provider_request_duration_seconds",
				Help:    "Duration of provider requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model", "operation"},
		),
		fallbackTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_fallback_total",
				Help: "Total number of fallback substitutions from one provider to another",
			},
			[]string{"from", "to"},
		),
	}
}

// ObserveRequest records metrics for a completed provider request.
func (p *PrometheusRecorder) ObserveRequest(
	provider, model, operation string,
	tokensUsed int,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := "success"
	if !success {
		status = "error"
	}

	p.requestsTotal.WithLabelValues(provider, model, operation, status, errorType).Inc()

	if success {
		p.tokensTotal.WithLabelValues(provider, model, operation).Add(float64(tokensUsed))
	}

	p.requestDuration.WithLabelValues(provider, model, operation).Observe(duration.Seconds())
}

// IncFallback counts a substitution from one provider to another.
func (p *PrometheusRecorder) IncFallback(from, to string) {
	p.fallbackTotal.WithLabelValues(from, to).Inc()
}

// Middleware returns a middleware function that records request metrics for
// every completion. The operation label distinguishes pipeline stages.
func Middleware(recorder *PrometheusRecorder, operation string) llm.Middleware {
	return func(next llm.Client) llm.Client {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				if err != nil {
					recorder.ObserveRequest(
						next.ProviderName(), next.ModelName(), operation,
						0, false, llmerrors.TypeOf(err).String(), duration,
					)
					return resp, err
				}

				recorder.ObserveRequest(
					next.ProviderName(), next.ModelName(), operation,
					resp.TokensUsed, true, "", duration,
				)
				return resp, nil
			},
			func() string {
				return next.ProviderName()
			},
			func() string {
				return next.ModelName()
			},
		)
	}
}
