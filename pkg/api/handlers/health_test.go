package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tranor/tranor/pkg/api/models"
	"github.com/tranor/tranor/pkg/eventbus"
)

func (r *handlerRig) healthRouter(bus *eventbus.MemoryBus) http.Handler {
	h := NewHealthHandler(r.coord, r.rdb, bus)
	mux := chi.NewRouter()
	mux.Get("/health", h.Health)
	mux.Get("/ready", h.Ready)
	mux.Get("/status", h.Status)
	return mux
}

func TestHealth(t *testing.T) {
	rig := newHandlerRig(t)
	router := rig.healthRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v, want status ok", body)
	}
}

func TestReady(t *testing.T) {
	rig := newHandlerRig(t)
	router := rig.healthRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	// Redis down means not ready.
	rig.srv.SetError("redis is loading the dataset in memory")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503: %s", w.Code, w.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal body: %v", err)
	}
	if ready, _ := body["ready"].(bool); ready {
		t.Fatalf("body = %v, want ready false", body)
	}
}

func TestStatus(t *testing.T) {
	rig := newHandlerRig(t)
	bus := eventbus.NewMemoryBus()
	router := rig.healthRouter(bus)
	rig.registerStep(t, "charge_fee")
	seedQuarantine(t, rig, "job-st", "connection refused")

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var resp models.StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal status: %v", err)
	}
	if resp.Service != "tranor" {
		t.Fatalf("service = %s, want tranor", resp.Service)
	}
	if resp.Steps != 1 {
		t.Fatalf("steps = %d, want 1", resp.Steps)
	}
	if resp.ActiveDLQ != 1 {
		t.Fatalf("activeDLQ = %d, want 1", resp.ActiveDLQ)
	}
	if resp.StartedAt.IsZero() || resp.Uptime == "" {
		t.Fatalf("status = %+v, want uptime fields set", resp)
	}
}
