// Package metrics exports embedding context telemetry to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trickstertwo/xembed"
)

// Observer records protocol events as Prometheus series. It is an
// xembed.Observer and can be attached with ContextBuilder.WithObserver.
type Observer struct {
	events   *prometheus.CounterVec
	changes  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewObserver registers the protocol event metrics on the provided registerer.
func NewObserver(reg prometheus.Registerer) *Observer {
	if reg == nil {
		return &Observer{}
	}
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xembed_events_total",
		Help: "Protocol events observed, by type.",
	}, []string{"type"})
	changes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xembed_changes_total",
		Help: "Change notifications emitted to the host, by name and level.",
	}, []string{"event", "level"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xembed_send_duration_seconds",
		Help:    "Time from posting a message to its correlated reply or timeout.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event", "outcome"})
	reg.MustRegister(events, changes, duration)
	return &Observer{
		events:   events,
		changes:  changes,
		duration: duration,
	}
}

// OnEvent implements xembed.Observer.
func (o *Observer) OnEvent(e xembed.Event) {
	if o == nil || o.events == nil {
		return
	}
	o.events.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case xembed.SendDone:
		o.duration.WithLabelValues(normalizeLabel(e.EventName), "replied").Observe(e.Duration.Seconds())
	case xembed.SendTimeout:
		o.duration.WithLabelValues(normalizeLabel(e.EventName), "timeout").Observe(e.Duration.Seconds())
	case xembed.Changed:
		if e.Change != nil {
			o.changes.WithLabelValues(normalizeLabel(string(e.Change.EventName)), normalizeLabel(string(e.Change.EventLevel))).Inc()
		}
	}
}

// Source is anything that can snapshot context metrics.
type Source interface {
	GetMetrics() xembed.Metrics
}

// RegisterContext exposes the counters of src as func-backed series labelled
// with contextID. Values are read at scrape time.
func RegisterContext(reg prometheus.Registerer, contextID string, src Source) error {
	if reg == nil || src == nil {
		return nil
	}
	labels := prometheus.Labels{"context": normalizeLabel(contextID)}
	counter := func(name, help string, fn func(xembed.Metrics) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(fn(src.GetMetrics())) })
	}

	collectors := []prometheus.Collector{
		counter("xembed_experiences_total", "Experiences embedded.", func(m xembed.Metrics) uint64 { return m.Experiences }),
		counter("xembed_sent_total", "Messages posted to frames.", func(m xembed.Metrics) uint64 { return m.Sent }),
		counter("xembed_replied_total", "Correlated replies received.", func(m xembed.Metrics) uint64 { return m.Replied }),
		counter("xembed_timed_out_total", "Sends that timed out.", func(m xembed.Metrics) uint64 { return m.TimedOut }),
		counter("xembed_relayed_total", "Inbound messages relayed to listeners.", func(m xembed.Metrics) uint64 { return m.Relayed }),
		counter("xembed_acknowledged_total", "Acknowledgments sent.", func(m xembed.Metrics) uint64 { return m.Acknowledged }),
		counter("xembed_dropped_total", "Inbound deliveries dropped.", func(m xembed.Metrics) uint64 { return m.Dropped }),
		counter("xembed_unrecognized_total", "Inbound messages with an unrecognized target.", func(m xembed.Metrics) uint64 { return m.Unrecognized }),
		counter("xembed_errors_total", "Send failures other than timeouts.", func(m xembed.Metrics) uint64 { return m.Errors }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        "xembed_round_trip_avg_milliseconds",
			Help:        "Moving average of send round trips.",
			ConstLabels: labels,
		}, func() float64 { return src.GetMetrics().AvgRoundTripMs }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
