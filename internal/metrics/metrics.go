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
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sgp4d_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sgp4d_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	poolUnits = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sgp4d_pool_units",
			Help: "Execution units by state.",
		},
		[]string{"state"},
	)

	poolQueueLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sgp4d_pool_queue_length",
			Help: "Tasks waiting for an idle execution unit.",
		},
	)

	poolPendingTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sgp4d_pool_pending_tasks",
			Help: "Tasks submitted but not yet settled.",
		},
	)

	poolTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sgp4d_pool_tasks_total",
			Help: "Settled tasks by outcome.",
		},
		[]string{"outcome"},
	)

	poolTaskSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sgp4d_pool_task_duration_seconds",
			Help:    "Time from submission to settlement.",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
		},
		[]string{"outcome"},
	)

	poolQueueWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sgp4d_pool_queue_wait_seconds",
			Help:    "Time a task spent queued before dispatch.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
	)

	poolUnitCrashes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sgp4d_pool_unit_crashes_total",
			Help: "Execution unit crashes recovered or fatal.",
		},
	)

	propagationPoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sgp4d_propagation_points_total",
			Help: "State vectors computed, by engine and backend.",
		},
		[]string{"engine", "backend"},
	)

	propagationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sgp4d_propagation_request_seconds",
			Help:    "End-to-end propagation request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"engine"},
	)

	tleSatellites = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sgp4d_tle_catalog_satellites",
			Help: "Satellites in the loaded TLE catalog.",
		},
	)

	tleAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sgp4d_tle_catalog_age_seconds",
			Help: "Seconds since the loaded TLE catalog was fetched.",
		},
	)

	tleFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sgp4d_tle_fetch_total",
			Help: "TLE catalog fetch attempts by result.",
		},
		[]string{"result"},
	)

	streamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sgp4d_stream_clients",
			Help: "Connected SSE clients.",
		},
	)

	streamMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sgp4d_stream_messages_total",
			Help: "SSE data messages sent.",
		},
	)

	streamBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sgp4d_stream_bytes_total",
			Help: "Bytes written to SSE clients, keep-alives included.",
		},
	)

	streamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sgp4d_stream_errors_total",
			Help: "SSE stream errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpDurationSeconds)
	prometheus.MustRegister(poolUnits)
	prometheus.MustRegister(poolQueueLength)
	prometheus.MustRegister(poolPendingTasks)
	prometheus.MustRegister(poolTasksTotal)
	prometheus.MustRegister(poolTaskSeconds)
	prometheus.MustRegister(poolQueueWaitSeconds)
	prometheus.MustRegister(poolUnitCrashes)
	prometheus.MustRegister(propagationPoints)
	prometheus.MustRegister(propagationSeconds)
	prometheus.MustRegister(tleSatellites)
	prometheus.MustRegister(tleAgeSeconds)
	prometheus.MustRegister(tleFetchTotal)
	prometheus.MustRegister(streamClients)
	prometheus.MustRegister(streamMessages)
	prometheus.MustRegister(streamBytes)
	prometheus.MustRegister(streamErrors)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetPoolStats publishes the pool occupancy snapshot.
func SetPoolStats(size, busy, ready, queued, pending int) {
	poolUnits.WithLabelValues("busy").Set(float64(busy))
	poolUnits.WithLabelValues("ready").Set(float64(ready))
	poolUnits.WithLabelValues("unavailable").Set(float64(size - busy - ready))
	poolQueueLength.Set(float64(queued))
	poolPendingTasks.Set(float64(pending))
}

// RecordTask counts a settled task. outcome is success, error, rejected or abandoned.
func RecordTask(outcome string, d time.Duration) {
	poolTasksTotal.WithLabelValues(outcome).Inc()
	poolTaskSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveQueueWait records how long a task sat in the queue.
func ObserveQueueWait(d time.Duration) {
	poolQueueWaitSeconds.Observe(d.Seconds())
}

// RecordUnitCrash counts an execution unit panic.
func RecordUnitCrash() {
	poolUnitCrashes.Inc()
}

// RecordPropagation records one served propagation request.
func RecordPropagation(engine, backend string, points int, d time.Duration) {
	propagationPoints.WithLabelValues(engine, backend).Add(float64(points))
	propagationSeconds.WithLabelValues(engine).Observe(d.Seconds())
}

// SetCatalogSize publishes the number of satellites in the TLE catalog.
func SetCatalogSize(n int) {
	tleSatellites.Set(float64(n))
}

// SetCatalogAge publishes the age of the TLE catalog.
func SetCatalogAge(seconds float64) {
	tleAgeSeconds.Set(seconds)
}

// RecordFetch counts a TLE catalog fetch attempt.
func RecordFetch(ok bool) {
	if ok {
		tleFetchTotal.WithLabelValues("success").Inc()
		return
	}
	tleFetchTotal.WithLabelValues("error").Inc()
}

// StreamClientConnected and StreamClientDisconnected track SSE clients.
func StreamClientConnected()    { streamClients.Inc() }
func StreamClientDisconnected() { streamClients.Dec() }

// RecordStreamWrite counts bytes written to a stream; data messages also
// bump the message counter.
func RecordStreamWrite(bytes int, message bool) {
	streamBytes.Add(float64(bytes))
	if message {
		streamMessages.Inc()
	}
}

// RecordStreamError counts a stream failure such as client_limit or send_error.
func RecordStreamError(reason string) {
	streamErrors.WithLabelValues(reason).Inc()
}

var knownRoutes = map[string]bool{
	"/":                    true,
	"/healthz":             true,
	"/readyz":              true,
	"/metrics":             true,
	"/api/v1/propagate":    true,
	"/api/v1/pool/stats":   true,
	"/api/v1/models":       true,
	"/api/v1/backend":      true,
	"/api/v1/time/et":      true,
	"/api/v1/time/utc":     true,
	"/api/v1/tle/metadata": true,
	"/api/v1/tle/fetch":    true,
}

// normalizeRoute maps a request path to a bounded label set so that
// per-satellite paths and scanner noise do not explode label cardinality.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	for _, prefix := range []string{"/api/v1/propagate/", "/api/v1/passes/", "/api/v1/stream/propagate/"} {
		if id, ok := strings.CutPrefix(path, prefix); ok && isDigits(id) {
			return prefix + "{norad_id}"
		}
	}
	return "other"
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes through so SSE handlers keep working behind the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}
