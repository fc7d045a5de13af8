// Package observability exposes Prometheus metrics for upstream calls and spend.
package observability

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"promptkit/internal/llmclient"
)

const namespace = "promptkit"

// Metrics holds the collectors for one registry.
//
// Collected series:
//   - promptkit_provider_requests_total{provider,endpoint,model,status}
//   - promptkit_provider_request_duration_seconds{provider,endpoint,model}
//   - promptkit_tokens_total{model,direction}
//   - promptkit_cost_usd_total{model,kind}
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	tokens   *prometheus.CounterVec
	cost     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg falls back to prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Upstream attempts by provider, endpoint, model and status",
			},
			[]string{"provider", "endpoint", "model", "status"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Duration of upstream attempts",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 50},
			},
			[]string{"provider", "endpoint", "model"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tokens_total",
				Help:      "Tokens reported by completions, by model and direction",
			},
			[]string{"model", "direction"},
		),
		cost: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cost_usd_total",
				Help:      "Computed spend in USD by model and kind",
			},
			[]string{"model", "kind"},
		),
	}

	for _, c := range []prometheus.Collector{m.requests, m.latency, m.tokens, m.cost} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Hooks returns llmclient hooks that record every attempt, retries included.
func (m *Metrics) Hooks() llmclient.Hooks {
	return llmclient.Hooks{
		OnRequestEnd: func(_ context.Context, info llmclient.ResponseInfo) {
			m.requests.WithLabelValues(info.Provider, info.Endpoint, info.Model, statusLabel(info)).Inc()
			m.latency.WithLabelValues(info.Provider, info.Endpoint, info.Model).Observe(info.Duration.Seconds())
		},
	}
}

// RecordTokens adds completion usage.
func (m *Metrics) RecordTokens(model string, input, output int) {
	if input > 0 {
		m.tokens.WithLabelValues(model, "input").Add(float64(input))
	}
	if output > 0 {
		m.tokens.WithLabelValues(model, "output").Add(float64(output))
	}
}

// RecordCost adds usd to the spend counter. Non-positive values are ignored.
func (m *Metrics) RecordCost(model, kind string, usd float64) {
	if usd <= 0 {
		return
	}
	m.cost.WithLabelValues(model, kind).Add(usd)
}

func statusLabel(info llmclient.ResponseInfo) string {
	if info.StatusCode == 0 {
		return "error"
	}
	return strconv.Itoa(info.StatusCode)
}
