package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "olx_monitor"

// Metrics holds the monitor's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry      *prometheus.Registry
	FilterRuns    *prometheus.CounterVec
	ListingEvents *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	SearchLatency prometheus.Histogram
	LastRun       prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		FilterRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_runs_total",
			Help:      "Filter pipeline executions by outcome.",
		}, []string{"outcome"}),
		ListingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listing_events_total",
			Help:      "Reconciled listing events by kind.",
		}, []string{"kind"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification dispatches by method and result.",
		}, []string{"method", "result"}),
		SearchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Duration of a full paginated search for one filter.",
			Buckets:   prometheus.DefBuckets,
		}),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last monitoring run finished.",
		}),
	}

	registry.MustRegister(
		m.FilterRuns,
		m.ListingEvents,
		m.Notifications,
		m.SearchLatency,
		m.LastRun,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) FilterOutcome(outcome string) {
	if m == nil {
		return
	}
	m.FilterRuns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ListingEvent(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ListingEvents.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) Notification(method string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Notifications.WithLabelValues(method, result).Inc()
}

func (m *Metrics) ObserveSearch(d time.Duration) {
	if m == nil {
		return
	}
	m.SearchLatency.Observe(d.Seconds())
}

func (m *Metrics) RunFinished(t time.Time) {
	if m == nil {
		return
	}
	m.LastRun.Set(float64(t.Unix()))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		log.Printf("Metrics: no address configured, server not started")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Printf("Metrics: serving on %s/metrics", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
