package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/tranor/tranor/pkg/api/models"
	"github.com/tranor/tranor/pkg/api/response"
	"github.com/tranor/tranor/pkg/logger"
	"github.com/tranor/tranor/pkg/quarantine"
	"github.com/tranor/tranor/pkg/queue"
	"github.com/tranor/tranor/pkg/saga"
)

// handlerRig wires real coordinator, queue and quarantine over miniredis
// for handler tests.
type handlerRig struct {
	srv      *miniredis.Miniredis
	rdb      *redis.Client
	registry *saga.Registry
	queue    *queue.Queue
	dlq      *quarantine.Store
	comp     *saga.Compensator
	coord    *saga.Coordinator
	log      logger.Logger
}

func newHandlerRig(t *testing.T) *handlerRig {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	registry := saga.NewRegistry()
	q, err := queue.New(rdb, nil)
	if err != nil {
		t.Fatalf("queue.New() unexpected error: %v", err)
	}
	dlq := quarantine.NewStore(rdb)
	comp := saga.NewCompensator(rdb, registry)
	coord, err := saga.NewCoordinator(q, rdb, registry,
		saga.WithQuarantine(dlq),
		saga.WithCompensator(comp),
	)
	if err != nil {
		t.Fatalf("NewCoordinator() unexpected error: %v", err)
	}

	return &handlerRig{
		srv:      srv,
		rdb:      rdb,
		registry: registry,
		queue:    q,
		dlq:      dlq,
		comp:     comp,
		coord:    coord,
		log: logger.New(&logger.Config{
			Level:  logger.ErrorLevel,
			Format: "json",
			Output: "stdout",
		}),
	}
}

func (r *handlerRig) registerStep(t *testing.T, name string) {
	t.Helper()
	err := r.registry.Register(saga.StepDefinition{
		Name: name,
		Execute: func(ctx context.Context, ec *saga.ExecContext) (any, error) {
			return map[string]any{"step": name}, nil
		},
		Compensate: func(ctx context.Context, cc *saga.CompensateContext) error {
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Register(%s) unexpected error: %v", name, err)
	}
}

func (r *handlerRig) transactionRouter() http.Handler {
	h := NewTransactionHandler(r.coord, r.log)
	mux := chi.NewRouter()
	mux.Post("/api/v1/transactions", h.SubmitTransaction)
	mux.Get("/api/v1/transactions/{id}", h.GetTransaction)
	mux.Get("/api/v1/transactions/{id}/journal", h.GetJournal)
	mux.Get("/api/v1/registry/steps", h.ListSteps)
	return mux
}

func decodeError(t *testing.T, body []byte) response.ErrorResponse {
	t.Helper()
	var errResp response.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("failed to unmarshal error response %s: %v", body, err)
	}
	return errResp
}

func TestSubmitTransaction_Accepted(t *testing.T) {
	rig := newHandlerRig(t)
	rig.registerStep(t, "charge_fee")
	router := rig.transactionRouter()

	body := `{
		"user_id": 7,
		"steps": ["charge_fee"],
		"resources": [{"type": "account", "id": "acc-1", "action": "debit"}],
		"idempotency_key": "transfer-7",
		"attempts": 3,
		"business_context": {"channel": "mobile"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body.String())
	}

	var resp models.TransactionSubmitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.JobID == "" {
		t.Fatal("expected non-empty job_id")
	}
	if resp.Status != string(queue.StateWaiting) {
		t.Fatalf("status = %q, want %q", resp.Status, queue.StateWaiting)
	}

	// Idempotent replay returns the same job id.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewBufferString(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("replay status = %d, want 202", w.Code)
	}
	var replay models.TransactionSubmitResponse
	if err := json.Unmarshal(w.Body.Bytes(), &replay); err != nil {
		t.Fatalf("failed to unmarshal replay response: %v", err)
	}
	if replay.JobID != resp.JobID {
		t.Fatalf("replay job_id = %s, want %s", replay.JobID, resp.JobID)
	}
}

func TestSubmitTransaction_InvalidBody(t *testing.T) {
	rig := newHandlerRig(t)
	router := rig.transactionRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	errResp := decodeError(t, w.Body.Bytes())
	if errResp.Error.Code != response.ErrCodeBadRequest {
		t.Fatalf("code = %s, want %s", errResp.Error.Code, response.ErrCodeBadRequest)
	}
}

func TestSubmitTransaction_ValidationFailed(t *testing.T) {
	rig := newHandlerRig(t)
	router := rig.transactionRouter()

	tests := []struct {
		name string
		body string
	}{
		{name: "missing steps", body: `{"user_id": 7}`},
		{name: "empty steps", body: `{"user_id": 7, "steps": []}`},
		{name: "missing user", body: `{"steps": ["charge_fee"]}`},
		{name: "blank step name", body: `{"user_id": 7, "steps": [""]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
			}
			errResp := decodeError(t, w.Body.Bytes())
			if errResp.Error.Code != response.ErrCodeValidationFailed {
				t.Fatalf("code = %s, want %s", errResp.Error.Code, response.ErrCodeValidationFailed)
			}
		})
	}
}

func TestGetTransaction_StatusAndNotFound(t *testing.T) {
	rig := newHandlerRig(t)
	rig.registerStep(t, "charge_fee")
	router := rig.transactionRouter()

	jobID, err := rig.coord.Execute(context.Background(), 12, []string{"charge_fee"})
	if err != nil {
		t.Fatalf("Execute() unexpected error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions/"+jobID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var status saga.Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to unmarshal status: %v", err)
	}
	if status.ID != jobID {
		t.Fatalf("id = %s, want %s", status.ID, jobID)
	}
	if status.Payload == nil || status.Payload.UserID != 12 {
		t.Fatalf("payload = %+v, want user 12", status.Payload)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/transactions/no-such-job", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	errResp := decodeError(t, w.Body.Bytes())
	if errResp.Error.Code != response.ErrCodeNotFound {
		t.Fatalf("code = %s, want %s", errResp.Error.Code, response.ErrCodeNotFound)
	}
}

func TestGetJournal_Empty(t *testing.T) {
	rig := newHandlerRig(t)
	router := rig.transactionRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions/job-j1/journal", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp models.JournalResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal journal: %v", err)
	}
	if resp.JobID != "job-j1" || resp.Count != 0 {
		t.Fatalf("journal = %+v, want empty for job-j1", resp)
	}
}

func TestListSteps(t *testing.T) {
	rig := newHandlerRig(t)
	rig.registerStep(t, "notify_user")
	rig.registerStep(t, "charge_fee")
	router := rig.transactionRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/registry/steps", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp models.StepListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal steps: %v", err)
	}
	if resp.Count != 2 || len(resp.Steps) != 2 {
		t.Fatalf("steps = %+v, want 2", resp)
	}
	if resp.Steps[0] != "charge_fee" || resp.Steps[1] != "notify_user" {
		t.Fatalf("steps = %v, want sorted [charge_fee notify_user]", resp.Steps)
	}
}
