// Package metrics exposes pool, signaling and bitrate counters to prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "peerhub"

// Drop reasons.
const (
	DropNoSession    = "no_session"
	DropBadPayload   = "bad_payload"
	DropNegotiation  = "negotiation"
	DropCandidate    = "candidate"
	DropRateLimited  = "rate_limited"
	DropBackpressure = "backpressure"
	DropUnknownType  = "unknown_type"
)

// Metrics is safe to use as a nil pointer; every update is then dropped.
type Metrics struct {
	reg *prometheus.Registry

	sessions    *prometheus.GaugeVec
	messages    *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	answers     prometheus.Counter
	bitrate     *prometheus.GaugeVec
	averageLoss *prometheus.GaugeVec
}

func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		sessions: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Session slots by state.",
		}, []string{"state"}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_messages_total",
			Help:      "Inbound signaling messages by type.",
		}, []string{"type"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_total",
			Help:      "Dropped messages, candidates and frames by reason.",
		}, []string{"reason"}),
		answers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_sent_total",
			Help:      "Answers handed to the signaling client.",
		}),
		bitrate: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_bitrate",
			Help:      "Target bitrate per session slot; video in kbps, audio in bps.",
		}, []string{"session", "kind"}),
		averageLoss: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "average_loss_percent",
			Help:      "Smoothed loss percentage per session slot.",
		}, []string{"session"}),
	}
}

// InitSessionStates publishes a zero series for every state so dashboards see
// empty states before the first transition.
func (m *Metrics) InitSessionStates(states ...string) {
	if m == nil {
		return
	}
	for _, st := range states {
		m.sessions.WithLabelValues(st).Add(0)
	}
}

// SessionState moves one slot from one state gauge to another.
func (m *Metrics) SessionState(from, to string) {
	if m == nil {
		return
	}
	if from != "" {
		m.sessions.WithLabelValues(from).Dec()
	}
	m.sessions.WithLabelValues(to).Inc()
}

func (m *Metrics) Message(kind string) {
	if m != nil {
		m.messages.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) AnswerSent() {
	if m != nil {
		m.answers.Inc()
	}
}

func (m *Metrics) Bitrate(slot int, videoKbps, audioBps uint64, avgLoss float64) {
	if m == nil {
		return
	}
	s := strconv.Itoa(slot)
	m.bitrate.WithLabelValues(s, "video").Set(float64(videoKbps))
	m.bitrate.WithLabelValues(s, "audio").Set(float64(audioBps))
	m.averageLoss.WithLabelValues(s).Set(avgLoss)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
