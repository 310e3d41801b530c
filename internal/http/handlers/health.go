package handlers

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"village_backend/internal/domain"
	"village_backend/internal/storage"

	"github.com/gin-gonic/gin"
)

// rotationGrace is how long an ended cycle may wait for the rotation worker
// before readiness reports the node as degraded
const rotationGrace = time.Minute

// ReadinessStore is the part of the store readiness inspects
type ReadinessStore interface {
	Ping(ctx context.Context) error
	LoadCycle(ctx context.Context) (*domain.WorldBossCycle, error)
}

type HealthHandler struct {
	store   ReadinessStore
	started time.Time
	version string
	now     func() time.Time
}

func NewHealthHandler(store ReadinessStore, version string) *HealthHandler {
	return &HealthHandler{store: store, started: time.Now(), version: version, now: time.Now}
}

type storeCheck struct {
	OK        bool   `json:"ok"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type cycleCheck struct {
	State      string    `json:"state"`
	CycleStart time.Time `json:"cycle_start,omitempty"`
	CycleEnd   time.Time `json:"cycle_end,omitempty"`
}

type runtimeCheck struct {
	Goroutines int     `json:"goroutines"`
	HeapMB     float64 `json:"heap_mb"`
}

// Readiness is the readiness payload served on /readyz
type Readiness struct {
	Status    string       `json:"status"`
	Version   string       `json:"version"`
	UptimeSec int64        `json:"uptime_sec"`
	Store     storeCheck   `json:"store"`
	WorldBoss cycleCheck   `json:"worldboss"`
	Runtime   runtimeCheck `json:"runtime"`
}

// Liveness returns simple alive status (for k8s liveness probe)
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness answers 503 only when the store is unreachable. A cycle left
// unrotated past its end is reported as degraded with 200.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	r := h.check(ctx)
	code := http.StatusOK
	if r.Status == "unavailable" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, r)
}

func (h *HealthHandler) check(ctx context.Context) Readiness {
	now := h.now()
	r := Readiness{
		Status:    "ready",
		Version:   h.version,
		UptimeSec: int64(now.Sub(h.started).Seconds()),
	}

	start := time.Now()
	err := h.store.Ping(ctx)
	r.Store = storeCheck{OK: err == nil, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		r.Store.Error = err.Error()
		r.Status = "unavailable"
		r.WorldBoss.State = "unknown"
	} else {
		r.WorldBoss = h.cycleState(ctx, now)
		if r.WorldBoss.State == "overdue" || r.WorldBoss.State == "unknown" {
			r.Status = "degraded"
		}
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	r.Runtime = runtimeCheck{
		Goroutines: runtime.NumGoroutine(),
		HeapMB:     float64(m.HeapAlloc) / (1 << 20),
	}
	return r
}

func (h *HealthHandler) cycleState(ctx context.Context, now time.Time) cycleCheck {
	cycle, err := h.store.LoadCycle(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return cycleCheck{State: "not_started"}
	case err != nil:
		return cycleCheck{State: "unknown"}
	}
	out := cycleCheck{State: "running", CycleStart: cycle.CycleStart, CycleEnd: cycle.CycleEnd}
	if now.After(cycle.CycleEnd.Add(rotationGrace)) {
		out.State = "overdue"
	}
	return out
}

// Health is the short form for load balancers
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": h.version})
}
