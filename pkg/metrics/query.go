// Package metrics provides services for querying and aggregating metrics data.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// OperationMetrics represents aggregated metrics for one generation operation.
type OperationMetrics struct {
	Operation     string  `json:"operation"`
	TotalTokens   int64   `json:"total_tokens"`
	RequestCount  int64   `json:"request_count"`
	ErrorCount    int64   `json:"error_count"`
	FallbackCount int64   `json:"fallback_count"`
	AvgDuration   float64 `json:"avg_duration_seconds"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetOperationMetrics retrieves aggregated token and request metrics for a
// generation operation, summed across all providers and models.
func (q *QueryService) GetOperationMetrics(ctx context.Context, operation string) (*OperationMetrics, error) {
	metrics := &OperationMetrics{
		Operation: operation,
	}

	tokens, err := q.scalar(ctx, fmt.Sprintf(`sum(provider_tokens_total{operation=%q})`, operation))
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens: %w", err)
	}
	metrics.TotalTokens = int64(tokens)

	requests, err := q.scalar(ctx, fmt.Sprintf(`sum(provider_requests_total{operation=%q})`, operation))
	if err != nil {
		return nil, fmt.Errorf("failed to query request count: %w", err)
	}
	metrics.RequestCount = int64(requests)

	errorsCount, err := q.scalar(ctx, fmt.Sprintf(`sum(provider_requests_total{operation=%q, status="error"})`, operation))
	if err != nil {
		return nil, fmt.Errorf("failed to query error count: %w", err)
	}
	metrics.ErrorCount = int64(errorsCount)

	avgDuration, err := q.scalar(ctx, fmt.Sprintf(
		`sum(provider_request_duration_seconds_sum{operation=%q}) / sum(provider_request_duration_seconds_count{operation=%q})`,
		operation, operation))
	if err != nil {
		return nil, fmt.Errorf("failed to query average duration: %w", err)
	}
	metrics.AvgDuration = avgDuration

	return metrics, nil
}

// GetOperationMetricsByProvider breaks the aggregates down per provider,
// showing where fallback substitutions shifted the traffic.
func (q *QueryService) GetOperationMetricsByProvider(ctx context.Context, operation string) (map[string]*OperationMetrics, error) {
	result := make(map[string]*OperationMetrics)

	providersResult, _, err := q.queryAPI.Query(ctx,
		fmt.Sprintf(`group by (provider) (provider_requests_total{operation=%q})`, operation), time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query providers: %w", err)
	}

	var providers []string
	if vector, ok := providersResult.(model.Vector); ok {
		for _, sample := range vector {
			if provider, ok := sample.Metric["provider"]; ok {
				providers = append(providers, string(provider))
			}
		}
	}

	for _, provider := range providers {
		metrics := &OperationMetrics{Operation: operation}

		tokens, err := q.scalar(ctx, fmt.Sprintf(
			`sum(provider_tokens_total{operation=%q, provider=%q})`, operation, provider))
		if err != nil {
			return nil, fmt.Errorf("failed to query tokens for provider %s: %w", provider, err)
		}
		metrics.TotalTokens = int64(tokens)

		requests, err := q.scalar(ctx, fmt.Sprintf(
			`sum(provider_requests_total{operation=%q, provider=%q})`, operation, provider))
		if err != nil {
			return nil, fmt.Errorf("failed to query requests for provider %s: %w", provider, err)
		}
		metrics.RequestCount = int64(requests)

		result[provider] = metrics
	}

	return result, nil
}

// GetFallbackCounts returns substitution totals keyed by "from->to".
func (q *QueryService) GetFallbackCounts(ctx context.Context) (map[string]int64, error) {
	result := make(map[string]int64)

	fallbacks, _, err := q.queryAPI.Query(ctx, `sum by (from, to) (provider_fallback_total)`, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query fallbacks: %w", err)
	}

	if vector, ok := fallbacks.(model.Vector); ok {
		for _, sample := range vector {
			key := fmt.Sprintf("%s->%s", sample.Metric["from"], sample.Metric["to"])
			result[key] = int64(sample.Value)
		}
	}
	return result, nil
}

// scalar runs a query expected to yield a single-sample vector.
func (q *QueryService) scalar(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}
