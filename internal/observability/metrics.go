package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nanoclaw"

type moduleMetrics struct {
	activeSessions     prometheus.Gauge
	sessionTermination *prometheus.CounterVec
	sessionIterations  prometheus.Histogram

	modelCallTotal    *prometheus.CounterVec
	modelCallDuration *prometheus.HistogramVec
	modelRetryTotal   *prometheus.CounterVec

	toolDispatchTotal    *prometheus.CounterVec
	toolDispatchDuration *prometheus.HistogramVec

	policyDecisionTotal *prometheus.CounterVec
	humanResponseTotal  *prometheus.CounterVec

	remoteServerUp    *prometheus.GaugeVec
	remoteToolCount   *prometheus.GaugeVec
	remoteResyncTotal *prometheus.CounterVec

	skillActivationTotal *prometheus.CounterVec
	contextCompactions   prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Sessions currently inside the agent loop.",
			}),
			sessionTermination: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_terminations_total",
				Help:      "Finished sessions by termination reason.",
			}, []string{"reason"}),
			sessionIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_iterations",
				Help:      "Resolved iterations per finished session.",
				Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
			}),
			modelCallTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_calls_total",
				Help:      "Model calls by provider and outcome.",
			}, []string{"provider", "outcome"}),
			modelCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_call_duration_seconds",
				Help:      "Model call latency in seconds by provider.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"provider"}),
			modelRetryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_retries_total",
				Help:      "Model call retries by provider.",
			}, []string{"provider"}),
			toolDispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_dispatch_total",
				Help:      "Tool dispatches by tool, origin and result status.",
			}, []string{"tool", "origin", "status"}),
			toolDispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_dispatch_duration_seconds",
				Help:      "Tool dispatch duration in seconds by tool.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"tool"}),
			policyDecisionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_decisions_total",
				Help:      "Policy decisions by approval mode and decision.",
			}, []string{"mode", "decision"}),
			humanResponseTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "human_responses_total",
				Help:      "Human confirmation responses by outcome.",
			}, []string{"outcome"}),
			remoteServerUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "remote_server_up",
				Help:      "Remote tool server availability (1 connected, 0 unavailable).",
			}, []string{"server"}),
			remoteToolCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "remote_server_tools",
				Help:      "Tools currently registered from a remote server.",
			}, []string{"server"}),
			remoteResyncTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_resyncs_total",
				Help:      "Transport restarts by server and cause.",
			}, []string{"server", "cause"}),
			skillActivationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "skill_activations_total",
				Help:      "Skill activations and deactivations by skill.",
			}, []string{"skill", "action"}),
			contextCompactions: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "context_compactions_total",
				Help:      "Model contexts built from a compacted transcript.",
			}),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionTermination,
			m.sessionIterations,
			m.modelCallTotal,
			m.modelCallDuration,
			m.modelRetryTotal,
			m.toolDispatchTotal,
			m.toolDispatchDuration,
			m.policyDecisionTotal,
			m.humanResponseTotal,
			m.remoteServerUp,
			m.remoteToolCount,
			m.remoteResyncTotal,
			m.skillActivationTotal,
			m.contextCompactions,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SessionStarted() {
	getMetrics().activeSessions.Inc()
}

func SessionFinished(reason string, iterations int) {
	m := getMetrics()
	m.activeSessions.Dec()
	m.sessionTermination.WithLabelValues(reason).Inc()
	m.sessionIterations.Observe(float64(iterations))
}

func RecordModelCall(provider string, duration time.Duration, err error) {
	m := getMetrics()
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.modelCallTotal.WithLabelValues(provider, outcome).Inc()
	m.modelCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordModelRetry(provider string) {
	getMetrics().modelRetryTotal.WithLabelValues(provider).Inc()
}

func RecordToolDispatch(tool, origin, status string, duration time.Duration) {
	m := getMetrics()
	m.toolDispatchTotal.WithLabelValues(tool, origin, status).Inc()
	m.toolDispatchDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordPolicyDecision(mode, decision string) {
	getMetrics().policyDecisionTotal.WithLabelValues(mode, decision).Inc()
}

func RecordHumanResponse(outcome string) {
	getMetrics().humanResponseTotal.WithLabelValues(outcome).Inc()
}

func SetRemoteServer(server string, up bool, tools int) {
	m := getMetrics()
	value := 0.0
	if up {
		value = 1.0
	}
	m.remoteServerUp.WithLabelValues(server).Set(value)
	m.remoteToolCount.WithLabelValues(server).Set(float64(tools))
}

func RecordRemoteResync(server, cause string) {
	getMetrics().remoteResyncTotal.WithLabelValues(server, cause).Inc()
}

func RecordSkill(skill, action string) {
	getMetrics().skillActivationTotal.WithLabelValues(skill, action).Inc()
}

func RecordCompaction() {
	getMetrics().contextCompactions.Inc()
}
