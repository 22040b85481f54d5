package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func taskRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.GET("/api/tasks", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"tasks": []string{}}) })
	r.POST("/api/tasks", func(c *gin.Context) { c.JSON(http.StatusCreated, gin.H{"task": gin.H{}}) })
	r.PUT("/api/tasks/:id", func(c *gin.Context) {
		if c.Param("id") == "locked" {
			c.JSON(http.StatusConflict, gin.H{"error": "A change is already being saved"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not update task, please try again."})
	})
	return r
}

func serve(r http.Handler, method, path string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, w.Body.String())
	}
	return body
}

func TestMetricsMiddleware_TaskRoutes(t *testing.T) {
	resetGlobalMetrics()
	r := taskRouter()

	serve(r, "GET", "/api/tasks?dueDate=2031-01-02")
	serve(r, "GET", "/api/tasks")
	serve(r, "POST", "/api/tasks")
	serve(r, "PUT", "/api/tasks/9b2e")
	serve(r, "PUT", "/api/tasks/locked")
	serve(r, "DELETE", "/nowhere")

	m := GetMetrics()
	if m.RequestCount != 6 {
		t.Errorf("RequestCount = %d, want 6", m.RequestCount)
	}
	if m.ActiveRequests != 0 {
		t.Errorf("ActiveRequests = %d after all requests finished", m.ActiveRequests)
	}
	if m.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1 (only the 500 counts)", m.ErrorCount)
	}
	if m.LastRequest.IsZero() {
		t.Error("LastRequest was not recorded")
	}

	endpoints := map[string]int64{
		"GET /api/tasks":     2,
		"POST /api/tasks":    1,
		"PUT /api/tasks/:id": 2,
		"DELETE unmatched":   1,
	}
	for ep, want := range endpoints {
		if got := m.Endpoints[ep]; got != want {
			t.Errorf("Endpoints[%q] = %d, want %d", ep, got, want)
		}
	}

	codes := map[string]int64{"OK": 2, "Created": 1, "Conflict": 1, "Internal Server Error": 1, "Not Found": 1}
	for code, want := range codes {
		if got := m.StatusCodes[code]; got != want {
			t.Errorf("StatusCodes[%q] = %d, want %d", code, got, want)
		}
	}
}

func TestMetricsMiddleware_SnapshotIsCopied(t *testing.T) {
	resetGlobalMetrics()
	r := taskRouter()
	serve(r, "GET", "/api/tasks")

	m := GetMetrics()
	m.Endpoints["GET /api/tasks"] = 99
	if got := GetMetrics().Endpoints["GET /api/tasks"]; got != 1 {
		t.Errorf("editing a snapshot changed the counters: %d", got)
	}
}

func TestMetricsMiddleware_PrometheusLabelsByRoute(t *testing.T) {
	r := taskRouter()
	before := testutil.ToFloat64(httpRequests.WithLabelValues("PUT", "/api/tasks/:id", "409"))

	serve(r, "PUT", "/api/tasks/locked")
	serve(r, "PUT", "/api/tasks/locked")

	after := testutil.ToFloat64(httpRequests.WithLabelValues("PUT", "/api/tasks/:id", "409"))
	if after-before != 2 {
		t.Errorf("409 counter for PUT /api/tasks/:id grew by %v, want 2", after-before)
	}
	if got := testutil.ToFloat64(httpInFlight); got != 0 {
		t.Errorf("in-flight gauge = %v after requests finished", got)
	}
}

func TestMetricsMiddleware_ConcurrentListReads(t *testing.T) {
	resetGlobalMetrics()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.GET("/api/tasks", func(c *gin.Context) {
		time.Sleep(5 * time.Millisecond)
		c.Status(http.StatusOK)
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serve(r, "GET", "/api/tasks")
			_ = GetMetrics()
		}()
	}
	wg.Wait()

	m := GetMetrics()
	if m.RequestCount != 20 || m.Endpoints["GET /api/tasks"] != 20 {
		t.Errorf("RequestCount = %d, endpoint count = %d, want 20 each", m.RequestCount, m.Endpoints["GET /api/tasks"])
	}
	if m.RequestDuration < 5*time.Millisecond {
		t.Errorf("average duration %v is below the handler's sleep", m.RequestDuration)
	}
}

func TestRecordMutation_Outcomes(t *testing.T) {
	cases := []struct{ action, outcome string }{
		{"create", "ok"},
		{"update", "failed"},
		{"delete", "rejected"},
	}
	for _, tc := range cases {
		before := testutil.ToFloat64(mutations.WithLabelValues(tc.action, tc.outcome))
		RecordMutation(tc.action, tc.outcome)
		if got := testutil.ToFloat64(mutations.WithLabelValues(tc.action, tc.outcome)) - before; got != 1 {
			t.Errorf("%s/%s grew by %v, want 1", tc.action, tc.outcome, got)
		}
	}
}

func TestPrometheusHandler_Exposition(t *testing.T) {
	RecordMutation("update", "failed")
	serve(taskRouter(), "GET", "/api/tasks")

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", PrometheusHandler())
	w := serve(r, "GET", "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", w.Code)
	}

	body := w.Body.String()
	for _, want := range []string{
		`taskify_task_mutations_total{action="update",outcome="failed"}`,
		`taskify_http_requests_total{method="GET",route="/api/tasks",status="200"}`,
		"taskify_http_request_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition is missing %s", want)
		}
	}
}

func TestMetricsHandler_Summary(t *testing.T) {
	resetGlobalMetrics()
	serve(taskRouter(), "POST", "/api/tasks")

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics/app", MetricsHandler())
	w := serve(r, "GET", "/metrics/app")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics/app = %d", w.Code)
	}

	body := decode(t, w)
	app, ok := body["application"].(map[string]interface{})
	if !ok {
		t.Fatalf("application section missing: %v", body)
	}
	if app["request_count"] != float64(1) {
		t.Errorf("request_count = %v, want 1", app["request_count"])
	}
	sys, ok := body["system"].(map[string]interface{})
	if !ok || sys["go_version"] == "" || sys["goroutines"] == nil {
		t.Errorf("system section incomplete: %v", body["system"])
	}
	if _, ok := body["timestamp"]; !ok {
		t.Error("timestamp missing")
	}
}

func TestBToMb(t *testing.T) {
	for in, want := range map[uint64]uint64{0: 0, 1<<20 - 1: 0, 1 << 20: 1, 3 << 29: 1536} {
		if got := bToMb(in); got != want {
			t.Errorf("bToMb(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestRunHealthChecks_DatabaseAndCache(t *testing.T) {
	resetGlobalHealthChecker()
	RegisterHealthCheck("database", func(ctx context.Context) error { return nil })
	RegisterHealthCheck("cache", func(ctx context.Context) error { return errors.New("redis: connection refused") })

	checks := RunHealthChecks(context.Background())
	if len(checks) != 2 {
		t.Fatalf("got %d checks, want 2", len(checks))
	}
	if db := checks["database"]; db.Name != "database" || db.Status != "healthy" || db.Message != "" {
		t.Errorf("database check = %+v", db)
	}
	if c := checks["cache"]; c.Status != "unhealthy" || c.Message != "redis: connection refused" {
		t.Errorf("cache check = %+v", c)
	}

	RegisterHealthCheck("cache", func(ctx context.Context) error { return nil })
	if c := RunHealthChecks(context.Background())["cache"]; c.Status != "healthy" {
		t.Errorf("re-registered cache check = %+v, want healthy", c)
	}
}

func TestRunHealthChecks_SlowCheckSeesDeadline(t *testing.T) {
	resetGlobalHealthChecker()
	RegisterHealthCheck("database", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	check := RunHealthChecks(ctx)["database"]
	if time.Since(start) > time.Second {
		t.Error("a stuck check held up the run")
	}
	if check.Status != "unhealthy" || !strings.Contains(check.Message, "deadline") {
		t.Errorf("stuck check = %+v", check)
	}
}

func TestHealthEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		check      CheckFunc
		wantCode   int
		wantStatus string
	}{
		{"health ok", "/health", func(context.Context) error { return nil }, http.StatusOK, "healthy"},
		{"health down", "/health", func(context.Context) error { return errors.New("db down") }, http.StatusServiceUnavailable, "unhealthy"},
		{"ready ok", "/ready", func(context.Context) error { return nil }, http.StatusOK, "ready"},
		{"ready down", "/ready", func(context.Context) error { return errors.New("migrations pending") }, http.StatusServiceUnavailable, "not ready"},
		{"live while down", "/live", func(context.Context) error { return errors.New("db down") }, http.StatusOK, "alive"},
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", HealthHandler())
	r.GET("/ready", ReadinessHandler())
	r.GET("/live", LivenessHandler())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetGlobalHealthChecker()
			RegisterHealthCheck("database", tt.check)

			w := serve(r, "GET", tt.path)
			if w.Code != tt.wantCode {
				t.Errorf("GET %s = %d, want %d", tt.path, w.Code, tt.wantCode)
			}
			body := decode(t, w)
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %q", body["status"], tt.wantStatus)
			}
			if tt.wantCode != http.StatusOK && body["checks"] == nil {
				t.Error("failing response should list the checks")
			}
		})
	}
}

func resetGlobalMetrics() {
	globalMetrics.mu.Lock()
	defer globalMetrics.mu.Unlock()

	globalMetrics.RequestCount = 0
	globalMetrics.RequestDuration = 0
	globalMetrics.ActiveRequests = 0
	globalMetrics.ErrorCount = 0
	globalMetrics.StatusCodes = make(map[string]int64)
	globalMetrics.Endpoints = make(map[string]int64)
	globalMetrics.StartTime = time.Now()
	globalMetrics.LastRequest = time.Time{}
	globalMetrics.totalDuration = 0
}

func resetGlobalHealthChecker() {
	globalHealthChecker.mu.Lock()
	defer globalHealthChecker.mu.Unlock()
	globalHealthChecker.checks = make(map[string]HealthCheck)
}

func BenchmarkMetricsMiddleware(b *testing.B) {
	resetGlobalMetrics()
	r := taskRouter()
	req, _ := http.NewRequest("GET", "/api/tasks", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
}
