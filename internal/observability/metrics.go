package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveCalls       prometheus.Gauge
	CallEvents        *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	RelayedFrames     *prometheus.CounterVec
	Interruptions     prometheus.Counter
	ProviderErrors    *prometheus.CounterVec
	FirstAudioLatency prometheus.Histogram

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of live relay sessions.",
		}),
		CallEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Call lifecycle events by type.",
		}, []string{"event"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by transport, direction and type.",
		}, []string{"transport", "direction", "type"}),
		RelayedFrames: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_frames_total",
			Help:      "Audio frames relayed between the two transports.",
		}, []string{"direction"}),
		Interruptions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Barge-in interruptions that truncated an assistant utterance.",
		}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		FirstAudioLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from session start to the first assistant audio chunk in milliseconds.",
			Buckets:   []float64{200, 400, 700, 1000, 1500, 2000, 3000, 5000},
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe(StageFirstAudio, float64(d.Milliseconds()))
}

// ObserveStage records one rolling-window latency sample for a call-setup
// stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stages.Observe(stage, float64(d.Milliseconds()))
}

// MarkIndicator bumps a window-scoped event counter shown in latency
// snapshots.
func (m *Metrics) MarkIndicator(name string) {
	m.stages.ObserveIndicator(name)
}

// LatencySnapshot summarizes the recent call-setup latency window.
func (m *Metrics) LatencySnapshot() StageSnapshot {
	return m.stages.Snapshot()
}

// ResetLatencyWindow clears the rolling window and its indicators.
func (m *Metrics) ResetLatencyWindow() {
	m.stages.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
