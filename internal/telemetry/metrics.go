package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/emitter"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/fanout"
	"github.com/TELY01-DEV/stardust-my-firstcare-com-sub000/internal/model"
)

// FlowSink consumes pipeline flow events. It matches the emit side of
// the event-log emitter so a Metrics instance can sit in front of it.
type FlowSink interface {
	Emit(source string, ev model.FlowEvent)
}

// Metrics holds the Prometheus collectors for the ingest service.
type Metrics struct {
	FlowEventsTotal *prometheus.CounterVec
	DiscardsTotal   *prometheus.CounterVec
}

// NewMetrics creates the flow counters and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FlowEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stardust_flow_events_total",
				Help: "Flow events emitted by the ingest pipelines.",
			},
			[]string{"pipeline", "step", "status"},
		),
		DiscardsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stardust_discards_total",
				Help: "Messages discarded before reaching the terminal step.",
			},
			[]string{"pipeline", "kind"},
		),
	}
	reg.MustRegister(m.FlowEventsTotal, m.DiscardsTotal)
	return m
}

// WrapSink returns a sink that counts every flow event before handing it
// to next. Error events carry their kind into the discard counter.
func (m *Metrics) WrapSink(next FlowSink) FlowSink {
	return &countingSink{metrics: m, next: next}
}

type countingSink struct {
	metrics *Metrics
	next    FlowSink
}

func (s *countingSink) Emit(source string, ev model.FlowEvent) {
	s.metrics.FlowEventsTotal.WithLabelValues(source, string(ev.Step), string(ev.Status)).Inc()
	if ev.Status == model.FlowError && ev.ErrorKind != "" {
		s.metrics.DiscardsTotal.WithLabelValues(source, ev.ErrorKind).Inc()
	}
	s.next.Emit(source, ev)
}

// StatsCollector exports hub and emitter gauges straight from their
// Stats snapshots, so scrape values never lag behind the live state.
type StatsCollector struct {
	hub     func() fanout.Stats
	emitter func() emitter.Stats

	connections   *prometheus.Desc
	rooms         *prometheus.Desc
	droppedFrames *prometheus.Desc
	queued        *prometheus.Desc
	posted        *prometheus.Desc
	dropped       *prometheus.Desc
	failed        *prometheus.Desc
}

// NewStatsCollector builds a collector over the given snapshot funcs and
// registers it on reg. Either func may be nil when that side is disabled.
func NewStatsCollector(reg prometheus.Registerer, hub func() fanout.Stats, em func() emitter.Stats) *StatsCollector {
	c := &StatsCollector{
		hub:     hub,
		emitter: em,
		connections: prometheus.NewDesc("stardust_ws_connections",
			"Dashboard websocket connections currently attached.", nil, nil),
		rooms: prometheus.NewDesc("stardust_ws_rooms",
			"Rooms with at least one subscriber.", nil, nil),
		droppedFrames: prometheus.NewDesc("stardust_ws_dropped_frames_total",
			"Frames dropped on slow websocket clients.", nil, nil),
		queued: prometheus.NewDesc("stardust_emitter_queued",
			"Flow events waiting in the emitter queue.", nil, nil),
		posted: prometheus.NewDesc("stardust_emitter_posted_total",
			"Flow events delivered to the event-log endpoint.", nil, nil),
		dropped: prometheus.NewDesc("stardust_emitter_dropped_total",
			"Flow events evicted from a full emitter queue.", nil, nil),
		failed: prometheus.NewDesc("stardust_emitter_failed_total",
			"Flow events abandoned after delivery failures.", nil, nil),
	}
	reg.MustRegister(c)
	return c
}

func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connections
	ch <- c.rooms
	ch <- c.droppedFrames
	ch <- c.queued
	ch <- c.posted
	ch <- c.dropped
	ch <- c.failed
}

func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.hub != nil {
		s := c.hub()
		ch <- prometheus.MustNewConstMetric(c.connections, prometheus.GaugeValue, float64(s.Connections))
		ch <- prometheus.MustNewConstMetric(c.rooms, prometheus.GaugeValue, float64(s.Rooms))
		ch <- prometheus.MustNewConstMetric(c.droppedFrames, prometheus.CounterValue, float64(s.DroppedFrames))
	}
	if c.emitter != nil {
		s := c.emitter()
		ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(s.Queued))
		ch <- prometheus.MustNewConstMetric(c.posted, prometheus.CounterValue, float64(s.Posted))
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.Dropped))
		ch <- prometheus.MustNewConstMetric(c.failed, prometheus.CounterValue, float64(s.Failed))
	}
}
