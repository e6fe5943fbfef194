// Package metrics records Prometheus metrics for agency dispatches, provider
// attempts and tool calls. A nil *Recorder is valid and records nothing.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Recorder holds the agencymesh collectors registered on one registry.
type Recorder struct {
	dispatches       *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	providerAttempts *prometheus.CounterVec
	toolCalls        *prometheus.CounterVec
	tokens           *prometheus.CounterVec
}

// NewRecorder creates the collectors and registers them on reg. Collectors
// that are already registered (e.g. a second agency on the default
// registry) are reused.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agencymesh_dispatch_total",
				Help: "Total number of messages dispatched to agents",
			},
			[]string{"agent", "outcome"}, // outcome: success|error
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agencymesh_dispatch_duration_seconds",
				Help:    "Agent dispatch duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"agent"},
		),
		providerAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agencymesh_provider_attempts_total",
				Help: "Total number of provider calls, by failure kind (ok on success)",
			},
			[]string{"provider", "kind"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agencymesh_tool_calls_total",
				Help: "Total number of tool invocations",
			},
			[]string{"tool", "outcome"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agencymesh_tokens_total",
				Help: "Total tokens reported by providers",
			},
			[]string{"agent", "type"}, // type: prompt|completion
		),
	}

	var err error
	r.dispatches, err = register(reg, r.dispatches)
	if err != nil {
		return nil, err
	}
	r.dispatchDuration, err = register(reg, r.dispatchDuration)
	if err != nil {
		return nil, err
	}
	r.providerAttempts, err = register(reg, r.providerAttempts)
	if err != nil {
		return nil, err
	}
	r.toolCalls, err = register(reg, r.toolCalls)
	if err != nil {
		return nil, err
	}
	r.tokens, err = register(reg, r.tokens)
	if err != nil {
		return nil, err
	}

	return r, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

// ObserveDispatch records one agent dispatch and its duration.
func (r *Recorder) ObserveDispatch(agent string, dur time.Duration, err error) {
	if r == nil {
		return
	}
	r.dispatches.WithLabelValues(agent, outcome(err)).Inc()
	r.dispatchDuration.WithLabelValues(agent).Observe(dur.Seconds())
}

// ObserveProviderAttempt records one provider call. kind is "ok" for a
// successful call, otherwise the provider error kind.
func (r *Recorder) ObserveProviderAttempt(provider, kind string) {
	if r == nil {
		return
	}
	r.providerAttempts.WithLabelValues(provider, kind).Inc()
}

// ObserveToolCall records one tool invocation.
func (r *Recorder) ObserveToolCall(tool string, err error) {
	if r == nil {
		return
	}
	r.toolCalls.WithLabelValues(tool, outcome(err)).Inc()
}

// ObserveTokens adds provider-reported token usage for agent.
func (r *Recorder) ObserveTokens(agent string, prompt, completion int) {
	if r == nil {
		return
	}
	if prompt > 0 {
		r.tokens.WithLabelValues(agent, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		r.tokens.WithLabelValues(agent, "completion").Add(float64(completion))
	}
}

// Handler exposes the metrics gathered by g over HTTP.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
