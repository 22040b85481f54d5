package monitoring

import (
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is a point-in-time copy of the request counters.
type Metrics struct {
	RequestCount    int64            `json:"request_count"`
	RequestDuration time.Duration    `json:"avg_request_duration"`
	ActiveRequests  int64            `json:"active_requests"`
	ErrorCount      int64            `json:"error_count"`
	StatusCodes     map[string]int64 `json:"status_codes"`
	Endpoints       map[string]int64 `json:"endpoints"`
	StartTime       time.Time        `json:"start_time"`
	LastRequest     time.Time        `json:"last_request"`
}

type appMetrics struct {
	mu sync.RWMutex

	RequestCount    int64
	RequestDuration time.Duration
	ActiveRequests  int64
	ErrorCount      int64
	StatusCodes     map[string]int64
	Endpoints       map[string]int64
	StartTime       time.Time
	LastRequest     time.Time

	totalDuration time.Duration
}

var globalMetrics = &appMetrics{
	StatusCodes: make(map[string]int64),
	Endpoints:   make(map[string]int64),
	StartTime:   time.Now(),
}

// Registry holds every taskify collector. It is separate from the default
// registry so tests can build routers repeatedly.
var Registry = prometheus.NewRegistry()

var (
	httpRequests = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskify",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "taskify",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	httpInFlight = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "taskify",
		Name:      "http_requests_in_flight",
		Help:      "Requests currently being served.",
	})

	mutations = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskify",
		Name:      "task_mutations_total",
		Help:      "Optimistic task mutations by action and outcome.",
	}, []string{"action", "outcome"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		globalMetrics.mu.Lock()
		globalMetrics.ActiveRequests++
		globalMetrics.mu.Unlock()
		httpInFlight.Inc()

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		httpInFlight.Dec()
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(c.Request.Method, route).Observe(duration.Seconds())

		globalMetrics.mu.Lock()
		defer globalMetrics.mu.Unlock()
		globalMetrics.ActiveRequests--
		globalMetrics.RequestCount++
		globalMetrics.totalDuration += duration
		globalMetrics.RequestDuration = globalMetrics.totalDuration / time.Duration(globalMetrics.RequestCount)
		globalMetrics.LastRequest = time.Now()
		if status >= http.StatusInternalServerError {
			globalMetrics.ErrorCount++
		}
		globalMetrics.StatusCodes[http.StatusText(status)]++
		globalMetrics.Endpoints[c.Request.Method+" "+route]++
	}
}

// RecordMutation counts one dispatched task mutation. outcome is "ok",
// "failed" or "rejected".
func RecordMutation(action, outcome string) {
	mutations.WithLabelValues(action, outcome).Inc()
}

func GetMetrics() Metrics {
	globalMetrics.mu.RLock()
	defer globalMetrics.mu.RUnlock()

	m := Metrics{
		RequestCount:    globalMetrics.RequestCount,
		RequestDuration: globalMetrics.RequestDuration,
		ActiveRequests:  globalMetrics.ActiveRequests,
		ErrorCount:      globalMetrics.ErrorCount,
		StatusCodes:     make(map[string]int64, len(globalMetrics.StatusCodes)),
		Endpoints:       make(map[string]int64, len(globalMetrics.Endpoints)),
		StartTime:       globalMetrics.StartTime,
		LastRequest:     globalMetrics.LastRequest,
	}
	for k, v := range globalMetrics.StatusCodes {
		m.StatusCodes[k] = v
	}
	for k, v := range globalMetrics.Endpoints {
		m.Endpoints[k] = v
	}
	return m
}

type MemoryUsage struct {
	Alloc      uint64 `json:"alloc_mb"`
	TotalAlloc uint64 `json:"total_alloc_mb"`
	Sys        uint64 `json:"sys_mb"`
	NumGC      uint32 `json:"num_gc"`
}

type SystemMetrics struct {
	Uptime         time.Duration `json:"uptime"`
	GoroutineCount int           `json:"goroutines"`
	CPUCount       int           `json:"cpus"`
	GoVersion      string        `json:"go_version"`
	MemoryUsage    MemoryUsage   `json:"memory"`
}

func GetSystemMetrics() SystemMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	globalMetrics.mu.RLock()
	started := globalMetrics.StartTime
	globalMetrics.mu.RUnlock()

	return SystemMetrics{
		Uptime:         time.Since(started),
		GoroutineCount: runtime.NumGoroutine(),
		CPUCount:       runtime.NumCPU(),
		GoVersion:      runtime.Version(),
		MemoryUsage: MemoryUsage{
			Alloc:      bToMb(m.Alloc),
			TotalAlloc: bToMb(m.TotalAlloc),
			Sys:        bToMb(m.Sys),
			NumGC:      m.NumGC,
		},
	}
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}

// MetricsHandler reports the JSON summary used by the status page.
func MetricsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"application": GetMetrics(),
			"system":      GetSystemMetrics(),
			"timestamp":   time.Now().UTC(),
		})
	}
}

// PrometheusHandler exposes Registry in the text exposition format.
func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
	return gin.WrapH(h)
}
