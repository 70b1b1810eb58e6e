package handlers

import (
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tranor/tranor/pkg/api/models"
	"github.com/tranor/tranor/pkg/api/response"
	"github.com/tranor/tranor/pkg/eventbus"
	"github.com/tranor/tranor/pkg/saga"
	"github.com/tranor/tranor/pkg/version"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	coordinator *saga.Coordinator
	rdb         redis.Cmdable
	bus         *eventbus.MemoryBus
	startedAt   time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(coord *saga.Coordinator, rdb redis.Cmdable, bus *eventbus.MemoryBus) *HealthHandler {
	return &HealthHandler{
		coordinator: coord,
		rdb:         rdb,
		bus:         bus,
		startedAt:   time.Now().UTC(),
	}
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint (readiness probe). The service is
// ready only when Redis answers, since every operation goes through it.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.rdb.Ping(r.Context()).Err(); err != nil {
		response.JSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready": false,
			"error": err.Error(),
		})
		return
	}
	response.JSON(w, http.StatusOK, map[string]bool{
		"ready": true,
	})
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := models.StatusResponse{
		Service:   "tranor",
		Version:   version.Version,
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		StartedAt: h.startedAt,
		Steps:     len(h.coordinator.Steps()),
	}
	if h.bus != nil {
		status.EventsDropped = h.bus.Dropped()
	}
	if stats, err := h.coordinator.QuarantineStats(ctx); err == nil {
		status.ActiveDLQ = stats.TotalActive
		status.ProcessedDLQ = stats.TotalProcessed
	}

	response.JSON(w, http.StatusOK, status)
}
