// Package metrics provides services for querying and aggregating metrics data
// from the process-local Prometheus registry.
package metrics

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const (
	llmRequestsMetric = "llm_requests_total"
	llmTokensMetric   = "llm_tokens_total"
)

// UsageMetrics represents aggregated LLM usage for one model and caller.
type UsageMetrics struct {
	Model            string `json:"model"`
	Caller           string `json:"caller"`
	Requests         int64  `json:"requests"`
	Errors           int64  `json:"errors"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
}

// QueryService provides methods to query metrics from a Prometheus gatherer.
type QueryService struct {
	gatherer prometheus.Gatherer
}

// NewQueryService creates a new metrics query service. A nil gatherer uses the default registry.
func NewQueryService(gatherer prometheus.Gatherer) *QueryService {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &QueryService{gatherer: gatherer}
}

// GetUsageByModel retrieves token and request counts broken down by model and caller,
// sorted by model then caller.
func (q *QueryService) GetUsageByModel(ctx context.Context) ([]UsageMetrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck // context errors pass through
	}
	families, err := q.gatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	type key struct{ model, caller string }
	usage := make(map[key]*UsageMetrics)
	get := func(labels map[string]string) *UsageMetrics {
		k := key{labels["model"], labels["caller"]}
		u, ok := usage[k]
		if !ok {
			u = &UsageMetrics{Model: k.model, Caller: k.caller}
			usage[k] = u
		}
		return u
	}

	for _, mf := range families {
		switch mf.GetName() {
		case llmRequestsMetric:
			for _, m := range mf.GetMetric() {
				labels := labelMap(m)
				n := int64(m.GetCounter().GetValue())
				u := get(labels)
				u.Requests += n
				if labels["status"] != "success" {
					u.Errors += n
				}
			}
		case llmTokensMetric:
			for _, m := range mf.GetMetric() {
				labels := labelMap(m)
				n := int64(m.GetCounter().GetValue())
				u := get(labels)
				switch labels["type"] {
				case "prompt":
					u.PromptTokens += n
				case "completion":
					u.CompletionTokens += n
				}
			}
		}
	}

	result := make([]UsageMetrics, 0, len(usage))
	for _, u := range usage {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
		result = append(result, *u)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Model != result[j].Model {
			return result[i].Model < result[j].Model
		}
		return result[i].Caller < result[j].Caller
	})
	return result, nil
}

// GetTotals sums usage across every model and caller.
func (q *QueryService) GetTotals(ctx context.Context) (*UsageMetrics, error) {
	byModel, err := q.GetUsageByModel(ctx)
	if err != nil {
		return nil, err
	}
	total := &UsageMetrics{}
	for i := range byModel {
		total.Requests += byModel[i].Requests
		total.Errors += byModel[i].Errors
		total.PromptTokens += byModel[i].PromptTokens
		total.CompletionTokens += byModel[i].CompletionTokens
	}
	total.TotalTokens = total.PromptTokens + total.CompletionTokens
	return total, nil
}

// WriteText dumps every gathered family in the Prometheus text exposition format.
func (q *QueryService) WriteText(w io.Writer) error {
	families, err := q.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

func labelMap(m *dto.Metric) map[string]string {
	labels := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	return labels
}
