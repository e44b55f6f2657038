// Package metrics exposes Prometheus counters for ingestion and realtime
// delivery.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what services and the realtime hub report to.
type Recorder interface {
	SampleIngested()
	SampleRejected(reason string)
	PlaceAlert(kind string)
	EventDelivered(event string, recipients int)
	DeliveryFailed(event string)
	ConnectionOpened()
	ConnectionClosed()
}

// Collector is the Prometheus Recorder.
type Collector struct {
	ingested    prometheus.Counter
	rejected    *prometheus.CounterVec
	placeAlerts *prometheus.CounterVec
	delivered   *prometheus.CounterVec
	failed      *prometheus.CounterVec
	connections prometheus.Gauge
}

// NewCollector registers the tracker metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_locations_ingested_total",
			Help: "Location samples accepted and stored.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_locations_rejected_total",
			Help: "Location samples rejected, by reason.",
		}, []string{"reason"}),
		placeAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_place_alerts_total",
			Help: "Place arrival and departure alerts raised.",
		}, []string{"type"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_events_delivered_total",
			Help: "Realtime events handed to connections, by event name.",
		}, []string{"event"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_event_delivery_failures_total",
			Help: "Realtime deliveries that failed for one recipient.",
		}, []string{"event"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_realtime_connections",
			Help: "Open realtime connections.",
		}),
	}
	reg.MustRegister(c.ingested, c.rejected, c.placeAlerts, c.delivered, c.failed, c.connections)
	return c
}

func (c *Collector) SampleIngested()              { c.ingested.Inc() }
func (c *Collector) SampleRejected(reason string) { c.rejected.WithLabelValues(reason).Inc() }
func (c *Collector) PlaceAlert(kind string)       { c.placeAlerts.WithLabelValues(kind).Inc() }
func (c *Collector) DeliveryFailed(event string)  { c.failed.WithLabelValues(event).Inc() }
func (c *Collector) ConnectionOpened()            { c.connections.Inc() }
func (c *Collector) ConnectionClosed()            { c.connections.Dec() }

func (c *Collector) EventDelivered(event string, recipients int) {
	c.delivered.WithLabelValues(event).Add(float64(recipients))
}

// Handler serves the scrape endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything. Used when metrics are disabled and in tests.
type Nop struct{}

func (Nop) SampleIngested()            {}
func (Nop) SampleRejected(string)      {}
func (Nop) PlaceAlert(string)          {}
func (Nop) EventDelivered(string, int) {}
func (Nop) DeliveryFailed(string)      {}
func (Nop) ConnectionOpened()          {}
func (Nop) ConnectionClosed()          {}
