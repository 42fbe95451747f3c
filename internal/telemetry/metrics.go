package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the harness's prometheus counters on a private registry
// so independent instances (and tests) never collide. All increment methods
// are nil-safe: components run fine without metrics attached.
type Metrics struct {
	registry *prometheus.Registry

	chatRequests      *prometheus.CounterVec
	atifStepsWritten  prometheus.Counter
	testsGenerated    *prometheus.CounterVec
	skillsPromoted    prometheus.Counter
	loopIterations    *prometheus.CounterVec
	sandboxExecutions *prometheus.CounterVec
}

// NewMetrics creates and registers the counter set.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		chatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gym_chat_requests_total",
			Help: "Chat provider requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		atifStepsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gym_atif_steps_written_total",
			Help: "ATIF steps appended across all streaming writers.",
		}),
		testsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gym_tests_generated_total",
			Help: "Generated verification tests by category.",
		}, []string{"category"}),
		skillsPromoted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gym_skills_promoted_total",
			Help: "Patterns promoted to skills by the archivist.",
		}),
		loopIterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gym_loop_iterations_total",
			Help: "Training loop iterations by subset.",
		}, []string{"subset"}),
		sandboxExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gym_sandbox_executions_total",
			Help: "Sandbox command executions by backend and outcome.",
		}, []string{"backend", "outcome"}),
	}
	reg.MustRegister(
		m.chatRequests,
		m.atifStepsWritten,
		m.testsGenerated,
		m.skillsPromoted,
		m.loopIterations,
		m.sandboxExecutions,
	)
	return m
}

// Handler serves the registry in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncChatRequest counts one provider call with its outcome (ok, error kind).
func (m *Metrics) IncChatRequest(provider, outcome string) {
	if m == nil {
		return
	}
	m.chatRequests.WithLabelValues(provider, outcome).Inc()
}

// IncATIFStep counts one appended trajectory step.
func (m *Metrics) IncATIFStep() {
	if m == nil {
		return
	}
	m.atifStepsWritten.Inc()
}

// IncTestGenerated counts one generated test.
func (m *Metrics) IncTestGenerated(category string) {
	if m == nil {
		return
	}
	m.testsGenerated.WithLabelValues(category).Inc()
}

// IncSkillPromoted counts one skill promotion.
func (m *Metrics) IncSkillPromoted() {
	if m == nil {
		return
	}
	m.skillsPromoted.Inc()
}

// IncLoopIteration counts one loop iteration on a subset.
func (m *Metrics) IncLoopIteration(subset string) {
	if m == nil {
		return
	}
	m.loopIterations.WithLabelValues(subset).Inc()
}

// IncSandboxExecution counts one sandbox command by backend and outcome.
func (m *Metrics) IncSandboxExecution(backend, outcome string) {
	if m == nil {
		return
	}
	m.sandboxExecutions.WithLabelValues(backend, outcome).Inc()
}
