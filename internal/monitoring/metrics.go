package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for every counting stream. Each
// instance owns a private registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	frames        *prometheus.CounterVec
	framesRejects *prometheus.CounterVec
	observations  *prometheus.CounterVec
	untracked     *prometheus.CounterVec
	crossings     *prometheus.CounterVec
	evicted       *prometheus.CounterVec
	activeTracks  *prometheus.GaugeVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linecount_frames_total",
			Help: "Frames processed to completion",
		}, []string{"stream"}),
		framesRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linecount_frames_rejected_total",
			Help: "Frames rejected before any state was changed",
		}, []string{"stream"}),
		observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linecount_observations_total",
			Help: "Tracked observations fed to the crossing engine",
		}, []string{"stream"}),
		untracked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linecount_untracked_dropped_total",
			Help: "Detections dropped because the tracker assigned no identity",
		}, []string{"stream"}),
		crossings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linecount_crossings_total",
			Help: "Directional crossings counted",
		}, []string{"stream", "direction", "class"}),
		evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linecount_tracks_evicted_total",
			Help: "Track states evicted by the idle horizon or table cap",
		}, []string{"stream"}),
		activeTracks: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "linecount_active_tracks",
			Help: "Track states currently held by the crossing engine",
		}, []string{"stream"}),
	}

	m.registry.MustRegister(
		m.frames,
		m.framesRejects,
		m.observations,
		m.untracked,
		m.crossings,
		m.evicted,
		m.activeTracks,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveFrame records one completed frame.
func (m *Metrics) ObserveFrame(stream string, observations, untracked, evicted, activeTracks int) {
	m.frames.WithLabelValues(stream).Inc()
	m.observations.WithLabelValues(stream).Add(float64(observations))
	m.untracked.WithLabelValues(stream).Add(float64(untracked))
	if evicted > 0 {
		m.evicted.WithLabelValues(stream).Add(float64(evicted))
	}
	m.activeTracks.WithLabelValues(stream).Set(float64(activeTracks))
}

// ObserveRejectedFrame records a frame refused by validation.
func (m *Metrics) ObserveRejectedFrame(stream string) {
	m.framesRejects.WithLabelValues(stream).Inc()
}

// ObserveCrossing records one counted crossing.
func (m *Metrics) ObserveCrossing(stream, direction, class string) {
	m.crossings.WithLabelValues(stream, direction, class).Inc()
}
