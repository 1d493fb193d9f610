package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "oracle_layer",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oracle_layer",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "oracle_layer",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oracle_layer",
			Subsystem: "consensus",
			Name:      "submissions_total",
			Help:      "Total number of price submissions by outcome.",
		},
		[]string{"outcome"},
	)

	roundsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "oracle_layer",
			Subsystem: "consensus",
			Name:      "rounds_closed_total",
			Help:      "Total number of consensus rounds completed.",
		},
	)

	consensusPrice = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "oracle_layer",
			Subsystem: "consensus",
			Name:      "latest_price",
			Help:      "Latest consensus price in fixed-point units.",
		},
	)

	slashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oracle_layer",
			Subsystem: "reputation",
			Name:      "slashes_total",
			Help:      "Total number of slashes applied, by reason.",
		},
		[]string{"reason"},
	)

	suspensions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "oracle_layer",
			Subsystem: "reputation",
			Name:      "suspensions_total",
			Help:      "Total number of source suspensions.",
		},
	)

	activeSources = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "oracle_layer",
			Subsystem: "registry",
			Name:      "active_sources",
			Help:      "Number of sources currently carrying weight.",
		},
	)

	avgReputation = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "oracle_layer",
			Subsystem: "registry",
			Name:      "average_reputation",
			Help:      "Mean reputation score across registered sources.",
		},
	)

	consensusAge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "oracle_layer",
			Subsystem: "consensus",
			Name:      "result_age_seconds",
			Help:      "Age of the latest consensus result.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		submissions,
		roundsClosed,
		consensusPrice,
		slashes,
		suspensions,
		activeSources,
		avgReputation,
		consensusAge,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordSubmission counts one submission attempt by outcome
// (accepted, rejected, verification_failed).
func RecordSubmission(outcome string) {
	submissions.WithLabelValues(outcome).Inc()
}

// RecordRound records a completed consensus round and its price.
func RecordRound(price int64) {
	roundsClosed.Inc()
	consensusPrice.Set(float64(price))
}

// RecordSlash counts one slash by reason.
func RecordSlash(reason string) {
	slashes.WithLabelValues(reason).Inc()
}

// RecordSuspension counts one source suspension.
func RecordSuspension() {
	suspensions.Inc()
}

// SetRegistryHealth publishes the registry gauges sampled by the monitor.
func SetRegistryHealth(active int, averageReputation float64) {
	activeSources.Set(float64(active))
	avgReputation.Set(averageReputation)
}

// SetConsensusAge publishes the age of the latest result.
func SetConsensusAge(age time.Duration) {
	consensusAge.Set(age.Seconds())
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Websocket upgrades need the raw ResponseWriter for hijacking.
		if r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/ws/") {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses identifier segments so label cardinality stays
// bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "sources":
		if len(parts) == 1 {
			return "/sources"
		}
		if len(parts) == 2 {
			return "/sources/:id"
		}
		return "/sources/:id/" + parts[2]
	case "governance":
		if len(parts) <= 2 {
			return "/" + trimmed
		}
		if len(parts) == 3 {
			return "/governance/" + parts[1] + "/:id"
		}
		return "/governance/" + parts[1] + "/:id/" + parts[3]
	default:
		return "/" + parts[0]
	}
}
