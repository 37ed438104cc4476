// Package metrics collects Prometheus metrics for one run and exports them
// in the node exporter textfile format.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder bundles the run metrics. A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	Targets         *prometheus.CounterVec
	CatalogRequests *prometheus.CounterVec
	Regions         *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec
	FetchDuration   prometheus.Histogram
}

// New registers the run metrics on a fresh registry.
func New() (*Recorder, error) {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		registry: reg,
		Targets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldscenes_targets_total",
			Help: "Acquisition targets by outcome.",
		}, []string{"outcome"}),
		CatalogRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldscenes_catalog_requests_total",
			Help: "Catalog searches by status.",
		}, []string{"status"}),
		Regions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldscenes_regions_total",
			Help: "Regions by outcome.",
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldscenes_http_requests_total",
			Help: "Outgoing HTTP requests by status code and method.",
		}, []string{"code", "method"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fieldscenes_fetch_duration_seconds",
			Help:    "Time to fetch and materialize one target.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}),
	}

	for _, c := range []prometheus.Collector{r.Targets, r.CatalogRequests, r.Regions, r.HTTPRequests, r.FetchDuration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return r, nil
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Target counts one target outcome.
func (r *Recorder) Target(outcome string) {
	if r == nil {
		return
	}
	r.Targets.WithLabelValues(outcome).Inc()
}

// Fetch records the duration of one executed target.
func (r *Recorder) Fetch(d time.Duration) {
	if r == nil {
		return
	}
	r.FetchDuration.Observe(d.Seconds())
}

// CatalogRequest counts one catalog search.
func (r *Recorder) CatalogRequest(err error) {
	if r == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.CatalogRequests.WithLabelValues(status).Inc()
}

// Region counts one region outcome.
func (r *Recorder) Region(outcome string) {
	if r == nil {
		return
	}
	r.Regions.WithLabelValues(outcome).Inc()
}

// InstrumentClient wraps the client's transport with a request counter.
func (r *Recorder) InstrumentClient(c *http.Client) *http.Client {
	if r == nil || c == nil {
		return c
	}
	next := c.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	wrapped := *c
	wrapped.Transport = promhttp.InstrumentRoundTripperCounter(r.HTTPRequests, next)
	return &wrapped
}

// WriteTextfile writes all metrics to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
