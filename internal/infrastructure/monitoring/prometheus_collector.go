package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements the session recorder and the relay
// metrics sink. Register once per process; promauto uses the default
// registry.
type PrometheusCollector struct {
	sessionsActive     *prometheus.GaugeVec
	offersSent         *prometheus.CounterVec
	answersSent        prometheus.Counter
	candidatesQueued   prometheus.Counter
	candidatesApplied  prometheus.Counter
	signalsDiscarded   *prometheus.CounterVec
	negotiationsFailed *prometheus.CounterVec
	connectDuration    prometheus.Histogram

	relayClients  prometheus.Gauge
	framesRelayed *prometheus.CounterVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		sessionsActive: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peerwave_sessions_active",
			Help: "Active sessions by kind (call, broadcast, viewer)",
		}, []string{"kind"}),

		offersSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peerwave_offers_sent_total",
			Help: "Offers published, split by first send vs retry",
		}, []string{"retry"}),

		answersSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peerwave_answers_sent_total",
			Help: "Answers published",
		}),

		candidatesQueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peerwave_candidates_queued_total",
			Help: "Candidates buffered before the remote description was known",
		}),

		candidatesApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peerwave_candidates_drained_total",
			Help: "Queued candidates applied after the remote description",
		}),

		signalsDiscarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peerwave_signals_discarded_total",
			Help: "Signaling messages discarded by state guards",
		}, []string{"event"}),

		negotiationsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peerwave_negotiations_failed_total",
			Help: "Negotiations that ended in failure, by reason",
		}, []string{"reason"}),

		connectDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "peerwave_connect_duration_seconds",
			Help:    "Time from first offer to connected",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		relayClients: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peerwave_relay_clients",
			Help: "Clients connected to the relay",
		}),

		framesRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peerwave_relay_frames_total",
			Help: "Frames fanned out by the relay, by event",
		}, []string{"event"}),
	}
}

func (c *PrometheusCollector) SessionStarted(kind string) {
	c.sessionsActive.WithLabelValues(kind).Inc()
}

func (c *PrometheusCollector) SessionEnded(kind string) {
	c.sessionsActive.WithLabelValues(kind).Dec()
}

func (c *PrometheusCollector) OfferSent(retry bool) {
	label := "false"
	if retry {
		label = "true"
	}
	c.offersSent.WithLabelValues(label).Inc()
}

func (c *PrometheusCollector) AnswerSent() {
	c.answersSent.Inc()
}

func (c *PrometheusCollector) CandidateQueued() {
	c.candidatesQueued.Inc()
}

func (c *PrometheusCollector) CandidatesDrained(count int) {
	c.candidatesApplied.Add(float64(count))
}

func (c *PrometheusCollector) SignalDiscarded(event string) {
	c.signalsDiscarded.WithLabelValues(event).Inc()
}

func (c *PrometheusCollector) Connected(after time.Duration) {
	c.connectDuration.Observe(after.Seconds())
}

func (c *PrometheusCollector) NegotiationFailed(reason string) {
	c.negotiationsFailed.WithLabelValues(reason).Inc()
}

func (c *PrometheusCollector) ClientConnected() {
	c.relayClients.Inc()
}

func (c *PrometheusCollector) ClientDisconnected() {
	c.relayClients.Dec()
}

func (c *PrometheusCollector) FrameRelayed(event string) {
	c.framesRelayed.WithLabelValues(event).Inc()
}
