package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/tubemux/tubemux/internal/database"
	"github.com/tubemux/tubemux/internal/session"
	"github.com/tubemux/tubemux/pkg/httpclient"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	breakers  map[string]*httpclient.CircuitBreaker
	registry  *session.Registry
	db        *database.DB
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		breakers:  make(map[string]*httpclient.CircuitBreaker),
	}
}

// WithBreaker adds a named circuit breaker to health reporting.
func (h *HealthHandler) WithBreaker(name string, cb *httpclient.CircuitBreaker) *HealthHandler {
	h.breakers[name] = cb
	return h
}

// WithRegistry sets the session registry for active-session reporting.
func (h *HealthHandler) WithRegistry(reg *session.Registry) *HealthHandler {
	h.registry = reg
	return h
}

// WithDB sets the history database for health checks.
func (h *HealthHandler) WithDB(db *database.DB) *HealthHandler {
	h.db = db
	return h
}

// CircuitBreakerStatus reports one breaker's state.
type CircuitBreakerStatus struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	Failures      int    `json:"failures"`
	TotalRequests int64  `json:"total_requests"`
	TotalFailures int64  `json:"total_failures"`
}

// MemoryInfo reports process and system memory usage.
type MemoryInfo struct {
	SystemTotalMB  uint64  `json:"system_total_mb"`
	SystemUsedMB   uint64  `json:"system_used_mb"`
	SystemUsedPct  float64 `json:"system_used_pct"`
	ProcessAllocMB uint64  `json:"process_alloc_mb"`
	GoRoutines     int     `json:"goroutines"`
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status          string                 `json:"status"`
	Timestamp       string                 `json:"timestamp"`
	Version         string                 `json:"version"`
	Uptime          string                 `json:"uptime"`
	UptimeSeconds   float64                `json:"uptime_seconds"`
	Load1           float64                `json:"load_1m"`
	Memory          MemoryInfo             `json:"memory"`
	ActiveSessions  int                    `json:"active_sessions"`
	CircuitBreakers []CircuitBreakerStatus `json:"circuit_breakers"`
	Checks          map[string]string      `json:"checks"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	status := "healthy"
	checks := map[string]string{}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			checks["database"] = "unhealthy: " + err.Error()
			status = "degraded"
		} else {
			checks["database"] = "ok"
		}
	}

	breakers := make([]CircuitBreakerStatus, 0, len(h.breakers))
	for name, cb := range h.breakers {
		s := cb.Stats()
		breakers = append(breakers, CircuitBreakerStatus{
			Name:          name,
			State:         s.State.String(),
			Failures:      s.Failures,
			TotalRequests: s.TotalRequests,
			TotalFailures: s.TotalFailures,
		})
		if s.State == httpclient.CircuitOpen {
			status = "degraded"
		}
	}

	active := 0
	if h.registry != nil {
		active = h.registry.Count()
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:          status,
			Timestamp:       now.UTC().Format(time.RFC3339),
			Version:         h.version,
			Uptime:          uptime.Round(time.Second).String(),
			UptimeSeconds:   uptime.Seconds(),
			Load1:           h.load1(),
			Memory:          h.memoryInfo(),
			ActiveSessions:  active,
			CircuitBreakers: breakers,
			Checks:          checks,
		},
	}, nil
}

// load1 returns the 1-minute system load average, or 0 when unavailable.
func (h *HealthHandler) load1() float64 {
	avg, err := load.Avg()
	if err != nil {
		return 0
	}
	return avg.Load1
}

// memoryInfo gathers system and process memory usage.
func (h *HealthHandler) memoryInfo() MemoryInfo {
	var info MemoryInfo

	if vm, err := mem.VirtualMemory(); err == nil {
		info.SystemTotalMB = vm.Total / (1024 * 1024)
		info.SystemUsedMB = vm.Used / (1024 * 1024)
		info.SystemUsedPct = vm.UsedPercent
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	info.ProcessAllocMB = ms.Alloc / (1024 * 1024)
	info.GoRoutines = runtime.NumGoroutine()

	return info
}
