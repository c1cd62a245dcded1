// Package metrics exposes connector telemetry as Prometheus collectors.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mediahub"

// LinkStates are the values the link_state gauge is labelled with.
var LinkStates = []string{"disconnected", "connecting", "connected", "backoff"}

// Metrics holds every collector of one connector.
type Metrics struct {
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	frames           *prometheus.CounterVec
	keepalives       prometheus.Counter
	connectFailures  prometheus.Counter
	linkState        *prometheus.GaugeVec
	eventsDropped    *prometheus.CounterVec
	subscriberErrors *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "REST requests by method and HTTP status (0 when no response).",
			},
			[]string{"method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "REST request latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "push_frames_total",
				Help:      "Push channel frames received by message type.",
			},
			[]string{"type"},
		),
		keepalives: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_keepalives_sent_total",
			Help:      "Keepalive frames sent.",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_connect_failures_total",
			Help:      "Failed push channel connection attempts.",
		}),
		linkState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "push_link_state",
				Help:      "1 for the current push link state, 0 otherwise.",
			},
			[]string{"state"},
		),
		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Events dropped because the dispatch queue was full.",
			},
			[]string{"kind"},
		),
		subscriberErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subscriber_failures_total",
				Help:      "Event subscribers that returned an error or panicked.",
			},
			[]string{"kind"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.requests, m.requestDuration, m.frames, m.keepalives,
			m.connectFailures, m.linkState, m.eventsDropped, m.subscriberErrors,
		)
	}

	m.SetLinkState("disconnected")

	return m
}

// ObserveRequest records one REST call.
func (m *Metrics) ObserveRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

// FrameReceived counts one inbound push frame.
func (m *Metrics) FrameReceived(messageType string) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues(messageType).Inc()
}

func (m *Metrics) KeepaliveSent() {
	if m == nil {
		return
	}
	m.keepalives.Inc()
}

func (m *Metrics) ConnectFailed() {
	if m == nil {
		return
	}
	m.connectFailures.Inc()
}

// SetLinkState marks state as current.
func (m *Metrics) SetLinkState(state string) {
	if m == nil {
		return
	}
	for _, s := range LinkStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.linkState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) EventDropped(kind string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(kind).Inc()
}

func (m *Metrics) SubscriberFailed(kind string) {
	if m == nil {
		return
	}
	m.subscriberErrors.WithLabelValues(kind).Inc()
}
