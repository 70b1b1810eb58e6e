package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/tranor/tranor/pkg/api/events"
	"github.com/tranor/tranor/pkg/api/handlers"
	"github.com/tranor/tranor/pkg/api/models"
	"github.com/tranor/tranor/pkg/eventbus"
	"github.com/tranor/tranor/pkg/lock"
	"github.com/tranor/tranor/pkg/quarantine"
	"github.com/tranor/tranor/pkg/queue"
	"github.com/tranor/tranor/pkg/saga"
)

// brokeUserID makes deduct_balance fail so the failure path is reachable
// through the public API.
const brokeUserID = 13

// integrationRig is the full pipeline behind the HTTP surface: consumer,
// worker, journal, quarantine and the event bridge, all over miniredis.
type integrationRig struct {
	coord       *saga.Coordinator
	dlq         *quarantine.Store
	bus         *eventbus.MemoryBus
	compensated atomic.Int64
}

func setupIntegrationServer(t *testing.T) (*httptest.Server, *integrationRig) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := testLogger()
	rig := &integrationRig{}

	registry := saga.NewRegistry()
	defs := []saga.StepDefinition{
		{
			Name: "validate_balance",
			Execute: func(ctx context.Context, ec *saga.ExecContext) (any, error) {
				return map[string]any{"balance": 1000}, nil
			},
			Compensate: func(ctx context.Context, cc *saga.CompensateContext) error {
				rig.compensated.Add(1)
				return nil
			},
		},
		{
			Name: "deduct_balance",
			Execute: func(ctx context.Context, ec *saga.ExecContext) (any, error) {
				if ec.UserID == brokeUserID {
					return nil, fmt.Errorf("deduct_balance rejected: insufficient funds")
				}
				return map[string]any{"deducted": 100}, nil
			},
			Compensate: func(ctx context.Context, cc *saga.CompensateContext) error {
				rig.compensated.Add(1)
				return nil
			},
		},
		{
			Name: "notify_user",
			Execute: func(ctx context.Context, ec *saga.ExecContext) (any, error) {
				return "sent", nil
			},
		},
	}
	for _, def := range defs {
		if err := registry.Register(def); err != nil {
			t.Fatalf("Register(%s) unexpected error: %v", def.Name, err)
		}
	}

	q, err := queue.New(rdb, nil)
	if err != nil {
		t.Fatalf("queue.New() unexpected error: %v", err)
	}
	locks := lock.NewManager(rdb, lock.WithTTL(30*time.Second))
	dlq := quarantine.NewStore(rdb)
	comp := saga.NewCompensator(rdb, registry)

	journal, err := saga.OpenBadgerJournal(t.TempDir(), saga.JournalOptions{
		WriteMode: saga.JournalWriteSync,
	})
	if err != nil {
		t.Fatalf("OpenBadgerJournal() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })

	bus := eventbus.NewMemoryBus()
	pub, err := eventbus.NewPublisher("node-integration", bus, eventbus.DefaultRetryConfig(), nil)
	if err != nil {
		t.Fatalf("NewPublisher() unexpected error: %v", err)
	}

	worker, err := saga.NewWorker(registry, locks, q, comp,
		saga.WithWorkerQuarantine(dlq),
		saga.WithWorkerJournal(journal),
		saga.WithWorkerEvents(pub),
		saga.WithWorkerLogger(log),
	)
	if err != nil {
		t.Fatalf("NewWorker() unexpected error: %v", err)
	}

	coord, err := saga.NewCoordinator(q, rdb, registry,
		saga.WithQuarantine(dlq),
		saga.WithCompensator(comp),
		saga.WithCoordinatorJournal(journal),
		saga.WithCoordinatorEvents(pub),
		saga.WithCoordinatorLogger(log),
	)
	if err != nil {
		t.Fatalf("NewCoordinator() unexpected error: %v", err)
	}

	consumer, err := queue.NewConsumer(q, &queue.ConsumerConfig{
		Name:              "api-integration",
		Concurrency:       2,
		VisibilityTimeout: 2 * time.Second,
		BlockTimeout:      100 * time.Millisecond,
		JanitorInterval:   time.Second,
		MaxStalls:         1,
	}, worker.HandleDelivery)
	if err != nil {
		t.Fatalf("NewConsumer() unexpected error: %v", err)
	}
	if err := consumer.Run(); err != nil {
		t.Fatalf("consumer.Run() unexpected error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = consumer.Close(ctx)
	})

	// Bridge lifecycle events to websocket clients.
	broadcaster := events.NewBroadcaster()
	bridgeCtx, bridgeCancel := context.WithCancel(context.Background())
	go func() { _ = broadcaster.Pump(bridgeCtx, bus, 64) }()

	ws := handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{MaxConnections: 10})
	go ws.Run(bridgeCtx, broadcaster)
	t.Cleanup(func() {
		bridgeCancel()
		ws.Close()
		broadcaster.Close()
	})

	testHandlers := &Handlers{
		Transactions:  handlers.NewTransactionHandler(coord, log),
		Quarantine:    handlers.NewQuarantineHandler(coord, log),
		Compensations: handlers.NewCompensationHandler(coord, log),
		Health:        handlers.NewHealthHandler(coord, rdb, bus),
		WebSocket:     ws,
	}

	server := httptest.NewServer(NewRouter(testConfig(), log, testHandlers))
	t.Cleanup(server.Close)

	rig.coord = coord
	rig.dlq = dlq
	rig.bus = bus
	return server, rig
}

func submitTransaction(t *testing.T, baseURL string, req models.TransactionSubmitRequest) string {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	resp, err := http.Post(baseURL+"/api/v1/transactions", "application/json", bytes.NewBuffer(body))
	if err != nil {
		t.Fatalf("submit request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	var submitted models.TransactionSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitted); err != nil {
		t.Fatalf("failed to decode submit response: %v", err)
	}
	if submitted.JobID == "" {
		t.Fatal("submit response missing job id")
	}
	return submitted.JobID
}

func getTransactionStatus(t *testing.T, baseURL, jobID string) *saga.Status {
	t.Helper()
	resp, err := http.Get(baseURL + "/api/v1/transactions/" + jobID)
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status endpoint = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var status saga.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	return &status
}

// waitForTransactionState polls the status endpoint until the job
// reaches the wanted queue state.
func waitForTransactionState(t *testing.T, baseURL, jobID, want string) *saga.Status {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		status := getTransactionStatus(t, baseURL, jobID)
		if status.QueueState == want {
			return status
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach state %s in time", jobID, want)
	return nil
}

func TestIntegration_TransferCompletes(t *testing.T) {
	server, _ := setupIntegrationServer(t)

	jobID := submitTransaction(t, server.URL, models.TransactionSubmitRequest{
		UserID: 42,
		Steps:  []string{"validate_balance", "deduct_balance", "notify_user"},
		Resources: []models.ResourceRequest{
			{Type: "account", ID: "acct-42", Action: "debit"},
		},
	})

	status := waitForTransactionState(t, server.URL, jobID, string(queue.StateCompleted))
	if status.Progress != 100 {
		t.Fatalf("progress = %d, want 100", status.Progress)
	}
	for _, st := range status.Payload.Steps {
		if st.Status != saga.StepStatusCompleted {
			t.Fatalf("step %s status = %s, want completed", st.Name, st.Status)
		}
	}

	// The journal recorded the run.
	resp, err := http.Get(server.URL + "/api/v1/transactions/" + jobID + "/journal")
	if err != nil {
		t.Fatalf("journal request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("journal endpoint = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var journal models.JournalResponse
	if err := json.NewDecoder(resp.Body).Decode(&journal); err != nil {
		t.Fatalf("failed to decode journal: %v", err)
	}
	if journal.Count == 0 {
		t.Fatal("expected journal entries for a completed run")
	}
	if journal.Entries[0].Type != saga.JournalLockAcquired {
		t.Fatalf("first journal entry = %s, want %s", journal.Entries[0].Type, saga.JournalLockAcquired)
	}
	completions := 0
	for _, entry := range journal.Entries {
		if entry.Type == saga.JournalStepCompleted {
			completions++
		}
	}
	if completions != 3 {
		t.Fatalf("step completions in journal = %d, want 3", completions)
	}
}

func TestIntegration_FailureCompensatesAndQuarantines(t *testing.T) {
	server, rig := setupIntegrationServer(t)

	jobID := submitTransaction(t, server.URL, models.TransactionSubmitRequest{
		UserID:   brokeUserID,
		Steps:    []string{"validate_balance", "deduct_balance"},
		Attempts: 1,
	})

	status := waitForTransactionState(t, server.URL, jobID, string(queue.StateFailed))
	if !strings.Contains(status.FailedReason, "insufficient funds") {
		t.Fatalf("failed reason = %q, want insufficient funds", status.FailedReason)
	}
	if got := rig.compensated.Load(); got != 1 {
		t.Fatalf("compensations run = %d, want 1", got)
	}

	// The job landed in quarantine.
	resp, err := http.Get(server.URL + "/api/v1/quarantine")
	if err != nil {
		t.Fatalf("quarantine request failed: %v", err)
	}
	defer resp.Body.Close()
	var list models.QuarantineListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("failed to decode quarantine list: %v", err)
	}
	if list.Count != 1 {
		t.Fatalf("quarantine count = %d, want 1", list.Count)
	}
	rec := list.Records[0]
	if rec.OriginalJobID != jobID {
		t.Fatalf("quarantined job = %s, want %s", rec.OriginalJobID, jobID)
	}
	if rec.FailedStep != "deduct_balance" {
		t.Fatalf("failed step = %s, want deduct_balance", rec.FailedStep)
	}

	// Mark it handled through the API.
	handleBody := bytes.NewBufferString(`{"note": "refunded manually"}`)
	handleResp, err := http.Post(server.URL+"/api/v1/quarantine/"+rec.DLQID+"/handle", "application/json", handleBody)
	if err != nil {
		t.Fatalf("handle request failed: %v", err)
	}
	defer handleResp.Body.Close()
	if handleResp.StatusCode != http.StatusOK {
		t.Fatalf("handle endpoint = %d, want %d", handleResp.StatusCode, http.StatusOK)
	}

	stats, err := rig.dlq.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() unexpected error: %v", err)
	}
	if stats.TotalActive != 0 || stats.TotalProcessed != 1 {
		t.Fatalf("stats = %+v, want zero active and one processed", stats)
	}
}

func TestIntegration_IdempotentResubmit(t *testing.T) {
	server, _ := setupIntegrationServer(t)

	req := models.TransactionSubmitRequest{
		UserID:         42,
		Steps:          []string{"validate_balance", "notify_user"},
		IdempotencyKey: "transfer-2024-0001",
	}
	first := submitTransaction(t, server.URL, req)
	second := submitTransaction(t, server.URL, req)

	if first != second {
		t.Fatalf("resubmit returned job %s, want %s", second, first)
	}
}

func TestIntegration_EventsReachWebSocket(t *testing.T) {
	server, _ := setupIntegrationServer(t)

	wsAddr := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsAddr, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	jobID := submitTransaction(t, server.URL, models.TransactionSubmitRequest{
		UserID: 42,
		Steps:  []string{"validate_balance", "notify_user"},
	})
	waitForTransactionState(t, server.URL, jobID, string(queue.StateCompleted))

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	seen := map[string]bool{}
	for !seen["transaction.completed"] {
		var event events.Event
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("reading events failed before completion event, seen %v: %v", seen, err)
		}
		if event.JobID == jobID {
			seen[event.Type] = true
		}
	}
	if !seen["transaction.started"] {
		t.Fatalf("event stream missing transaction.started, seen %v", seen)
	}
	if !seen["step.completed"] {
		t.Fatalf("event stream missing step.completed, seen %v", seen)
	}
}
