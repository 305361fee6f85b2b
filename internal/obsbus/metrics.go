package obsbus

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metrics covers the minimum counters/gauges of §4.2, grounded on the
// teacher's CounterVec/HistogramVec/GaugeVec structuring in
// pkg/observability/metrics.go.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions     prometheus.Gauge
	toolInvocations    *prometheus.CounterVec // label: tool
	containerOps       *prometheus.CounterVec // label: verb
	llmRequests        prometheus.Counter
	tokensPrompt       prometheus.Counter
	tokensCompletion   prometheus.Counter
	tokensTotal        prometheus.Counter
	runningContainers  prometheus.Gauge
	errorsByCode       *prometheus.CounterVec // label: code
	responseTime       prometheus.Histogram
}

// NewMetrics builds and registers the runtime's Prometheus collectors under
// namespace "aria".
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	ns := "aria"

	m := &Metrics{
		registry: reg,
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "active_sessions", Help: "Currently active sessions.",
		}),
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "tool_invocations_total", Help: "Tool invocations by tool name.",
		}, []string{"tool"}),
		containerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "container_operations_total", Help: "Container operations by verb.",
		}, []string{"verb"}),
		llmRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "llm_requests_total", Help: "LLM completion requests issued.",
		}),
		tokensPrompt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "llm_tokens_prompt_total", Help: "Prompt tokens consumed.",
		}),
		tokensCompletion: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "llm_tokens_completion_total", Help: "Completion tokens produced.",
		}),
		tokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "llm_tokens_total", Help: "Total tokens (prompt+completion).",
		}),
		runningContainers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "containers_running", Help: "Containers currently in state running.",
		}),
		errorsByCode: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "errors_total", Help: "Errors observed by code.",
		}, []string{"code"}),
		responseTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "response_time_seconds", Help: "End-to-end turn response time.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.activeSessions, m.toolInvocations, m.containerOps, m.llmRequests,
		m.tokensPrompt, m.tokensCompletion, m.tokensTotal, m.runningContainers,
		m.errorsByCode, m.responseTime,
	)
	return m
}

func (m *Metrics) SessionStarted()  { m.activeSessions.Inc() }
func (m *Metrics) SessionEnded()    { m.activeSessions.Dec() }
func (m *Metrics) ToolInvoked(tool string) { m.toolInvocations.WithLabelValues(tool).Inc() }
func (m *Metrics) ContainerOp(verb string) { m.containerOps.WithLabelValues(verb).Inc() }
func (m *Metrics) ContainerRunningDelta(delta int) {
	m.runningContainers.Add(float64(delta))
}
func (m *Metrics) LLMRequest(promptTokens, completionTokens int) {
	m.llmRequests.Inc()
	m.tokensPrompt.Add(float64(promptTokens))
	m.tokensCompletion.Add(float64(completionTokens))
	m.tokensTotal.Add(float64(promptTokens + completionTokens))
}
func (m *Metrics) ErrorObserved(code string) { m.errorsByCode.WithLabelValues(code).Inc() }
func (m *Metrics) ObserveResponseTimeSeconds(s float64) { m.responseTime.Observe(s) }

// Handler exposes the text exposition format for common scrapers.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// snapshot is the JSON-serializable shape returned by Snapshot.
type snapshot struct {
	ActiveSessions    float64            `json:"active_sessions"`
	RunningContainers float64            `json:"running_containers"`
	LLMRequests       float64            `json:"llm_requests"`
	TokensTotal       float64            `json:"tokens_total"`
}

// Snapshot gathers a cheap JSON view of the headline gauges/counters for
// dashboards that don't want to scrape Prometheus text format.
func (m *Metrics) Snapshot() ([]byte, error) {
	gather, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	snap := snapshot{}
	for _, mf := range gather {
		switch mf.GetName() {
		case "aria_active_sessions":
			snap.ActiveSessions = firstValue(mf)
		case "aria_containers_running":
			snap.RunningContainers = firstValue(mf)
		case "aria_llm_requests_total":
			snap.LLMRequests = firstValue(mf)
		case "aria_llm_tokens_total":
			snap.TokensTotal = firstValue(mf)
		}
	}
	return json.Marshal(snap)
}

func firstValue(mf *dto.MetricFamily) float64 {
	if len(mf.Metric) == 0 {
		return 0
	}
	if mf.Metric[0].Gauge != nil {
		return mf.Metric[0].Gauge.GetValue()
	}
	if mf.Metric[0].Counter != nil {
		return mf.Metric[0].Counter.GetValue()
	}
	return 0
}
