package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notice_requests_total",
			Help: "HTTP requests by route pattern and status code",
		}, []string{"route", "code"},
	)
	Latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notice_request_duration_seconds",
		Help:    "Request latency seconds by route pattern",
		Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2},
	}, []string{"route"})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notice_in_flight",
		Help: "In-flight HTTP requests",
	})
	RenderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notice_render_failures_total",
			Help: "Banner renders that were refused, by kind",
		}, []string{"kind"},
	)
	SnapshotCampaigns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "notice_snapshot_campaigns",
		Help: "Campaigns in the current delivery snapshot",
	})
	MessageCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notice_message_cache_total",
			Help: "Message cache lookups by result",
		}, []string{"result"},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight, RenderFailures, SnapshotCampaigns, MessageCache)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		// Label by pattern, not path: banner and campaign names are unbounded.
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		Latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(route, strconv.Itoa(rr.code)).Inc()
	})
}
