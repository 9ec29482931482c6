// Package metrics exposes the dual-channel transport's liveness and traffic
// counters as Prometheus collectors: connected-remote gauges, heartbeat and
// handshake counters, and per-channel message/byte counters. It mirrors the
// teacher's prometheus package's role (metric registration against a
// registerer) without that package's API-discovery/gin-console surface,
// which this module has no use for.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	liberr "github.com/kekchpek/live-capture-net/errors"
)

const (
	ErrCodeAlreadyRegistered = liberr.MinPkgMetrics + iota
)

// ErrAlreadyRegistered is returned by Register when called more than once
// against the same Collector.
var ErrAlreadyRegistered = liberr.New(ErrCodeAlreadyRegistered, "metrics collector already registered")

// Collector holds every counter/gauge this module reports. The zero value is
// not usable; construct one with New.
type Collector struct {
	namespace string

	ConnectedRemotes prometheus.Gauge
	Handshakes       *prometheus.CounterVec
	Disconnects      *prometheus.CounterVec
	Heartbeats       prometheus.Counter
	MessagesSent     *prometheus.CounterVec
	MessagesRecv     *prometheus.CounterVec
	BytesSent        *prometheus.CounterVec
	BytesRecv        *prometheus.CounterVec
	ReconnectAttempt prometheus.Counter

	registered bool
}

// New constructs a Collector whose metrics are namespaced under namespace
// (e.g. "livecapture_net"). Metrics are not registered with any Registerer
// until Register is called.
func New(namespace string) *Collector {
	return &Collector{
		namespace: namespace,

		ConnectedRemotes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_remotes",
			Help:      "Number of remotes with a live Connection.",
		}),
		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Completed INITIALIZATION handshakes, labelled by outcome.",
		}, []string{"outcome"}),
		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Connection closures, labelled by reason (GRACEFUL, TIMEOUT, ERROR, RECONNECTED).",
		}, []string{"reason"}),
		Heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeats_sent_total",
			Help:      "Heartbeat packets sent across every Connection.",
		}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "GENERIC messages sent, labelled by channel.",
		}, []string{"channel"}),
		MessagesRecv: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "GENERIC messages received, labelled by channel.",
		}, []string{"channel"}),
		BytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Payload bytes sent, labelled by channel.",
		}, []string{"channel"}),
		BytesRecv: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Payload bytes received, labelled by channel.",
		}, []string{"channel"}),
		ReconnectAttempt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_reconnect_attempts_total",
			Help:      "Reconnect loop dial attempts made by netclient.Client.",
		}),
	}
}

// Register registers every collector on reg. It is an error to call this
// more than once on the same Collector (Prometheus collectors may not be
// registered twice against the same registerer).
func (c *Collector) Register(reg prometheus.Registerer) error {
	if c.registered {
		return ErrAlreadyRegistered
	}

	collectors := []prometheus.Collector{
		c.ConnectedRemotes,
		c.Handshakes,
		c.Disconnects,
		c.Heartbeats,
		c.MessagesSent,
		c.MessagesRecv,
		c.BytesSent,
		c.BytesRecv,
		c.ReconnectAttempt,
	}
	for _, coll := range collectors {
		if err := reg.Register(coll); err != nil {
			return err
		}
	}

	c.registered = true
	return nil
}

// ObserveSend records one outbound GENERIC message of n payload bytes on
// channel (wire.Channel's String()).
func (c *Collector) ObserveSend(channel string, n int) {
	c.MessagesSent.WithLabelValues(channel).Inc()
	c.BytesSent.WithLabelValues(channel).Add(float64(n))
}

// ObserveReceive records one inbound GENERIC message of n payload bytes on
// channel.
func (c *Collector) ObserveReceive(channel string, n int) {
	c.MessagesRecv.WithLabelValues(channel).Inc()
	c.BytesRecv.WithLabelValues(channel).Add(float64(n))
}

// ObserveHandshake records one handshake attempt, succeeded or not.
func (c *Collector) ObserveHandshake(ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	c.Handshakes.WithLabelValues(outcome).Inc()
}

// ObserveDisconnect records one connection closure, labelled by its reason
// string (conn.Reason's String()).
func (c *Collector) ObserveDisconnect(reason string) {
	c.Disconnects.WithLabelValues(reason).Inc()
}
