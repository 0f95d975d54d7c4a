package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Collector struct {
	reg *prometheus.Registry

	Polls         *prometheus.CounterVec // result label: ok|fetch_error|store_error
	Fixes         *prometheus.CounterVec // outcome label, see ingest.Outcome
	Vehicles      prometheus.Gauge
	CycleDuration prometheus.Histogram
	StoreErrors   prometheus.Counter

	SnapRequests       *prometheus.CounterVec // result label: ok|fallback
	Plans              *prometheus.CounterVec // kind label: direct|transfer|failure
	RouteBuildDuration prometheus.Histogram

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	PollInterval prometheus.Gauge // seconds
}

func NewCollector(pollInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_polls_total",
			Help: "Feed polls by result.",
		}, []string{"result"}),
		Fixes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_fixes_total",
			Help: "Feed records by ingest outcome.",
		}, []string{"outcome"}),
		Vehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_vehicles",
			Help: "Number of vehicles with a stored trace.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_cycle_duration_seconds",
			Help:    "Duration of one fetch and ingest cycle.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_store_errors_total",
			Help: "Total trace store failures.",
		}),
		SnapRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_snap_requests_total",
			Help: "Road snapping attempts by result.",
		}, []string{"result"}),
		Plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_plans_total",
			Help: "Trip plans by kind.",
		}, []string{"kind"}),
		RouteBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_route_build_duration_seconds",
			Help:    "Duration to aggregate, clean and optionally snap all line routes.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		PollInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_poll_interval_seconds",
			Help: "Feed poll interval in seconds.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.Polls, c.Fixes, c.Vehicles, c.CycleDuration, c.StoreErrors,
		c.SnapRequests, c.Plans, c.RouteBuildDuration,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.PollInterval,
	)

	c.PollInterval.Set(pollInterval.Seconds())

	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics listening", zap.String("addr", addr))
	return srv
}

// The methods below let the collector satisfy the small metrics interfaces declared by
// the routes, publisher and tracker packages.

func (c *Collector) RouteBuildObserve(d time.Duration) { c.RouteBuildDuration.Observe(d.Seconds()) }
func (c *Collector) SnapResultInc(result string)      { c.SnapRequests.WithLabelValues(result).Inc() }
func (c *Collector) PlanInc(kind string)              { c.Plans.WithLabelValues(kind).Inc() }

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }
func (c *Collector) NATSSetConnected(b bool) {
	if b {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func (c *Collector) PollInc(result string)          { c.Polls.WithLabelValues(result).Inc() }
func (c *Collector) FixesAdd(outcome string, n int) { c.Fixes.WithLabelValues(outcome).Add(float64(n)) }
func (c *Collector) VehiclesSet(n int)              { c.Vehicles.Set(float64(n)) }
func (c *Collector) CycleObserve(d time.Duration)   { c.CycleDuration.Observe(d.Seconds()) }
func (c *Collector) StoreErrInc()                   { c.StoreErrors.Inc() }
