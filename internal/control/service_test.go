package control

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/validly/dispatchd/internal/core/config"
	"github.com/validly/dispatchd/internal/core/domain"
	"github.com/validly/dispatchd/internal/dispatch/orchestrator"
)

func testConfig(providerURL string) config.AppConfig {
	return config.AppConfig{
		Server: config.ServerConfig{Port: 0},
		Tiers: map[string]config.TierConfig{
			"free": {Concurrency: 2},
		},
		Providers: []config.ProviderConfig{
			{Name: "main", Type: "http", URL: providerURL, Timeout: config.Duration(5 * time.Second)},
		},
		Health: config.HealthConfig{FailureThreshold: 5, CoolDown: config.Duration(time.Minute)},
		Retry:  config.RetryConfig{MaxAttempts: 1},
		Lock:   config.LockConfig{Store: "memory", TTL: config.Duration(time.Minute)},
	}
}

func items(payloads ...string) []domain.WorkItem {
	out := make([]domain.WorkItem, len(payloads))
	for i, p := range payloads {
		out[i] = domain.WorkItem{Index: i, Payload: p}
	}
	return out
}

func TestService_RunBatchPersistsLedgerAndArchive(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"approved"}`))
	}))
	defer ts.Close()

	svc, err := NewService(testConfig(ts.URL))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	ctx := context.Background()
	res, err := svc.RunBatch(ctx, orchestrator.Request{
		OwnerID:    "user-1",
		ProviderID: "main",
		Tier:       "free",
		Items:      items("a", "b", "c"),
	})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	if res.Billable != 3 {
		t.Errorf("billable = %d, want 3", res.Billable)
	}

	balance, err := svc.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 3 {
		t.Errorf("balance = %d, want 3", balance)
	}

	recent, err := svc.RecentBatches(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("RecentBatches failed: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("got %d archived batches, want 1", len(recent))
	}
	summary := recent[0]
	if summary.BatchID != res.BatchID {
		t.Errorf("archived batch id = %s, want %s", summary.BatchID, res.BatchID)
	}
	if summary.Approved != 3 || summary.Billable != 3 {
		t.Errorf("summary approved/billable = %d/%d, want 3/3", summary.Approved, summary.Billable)
	}
	if len(summary.ResultCodes) != 1 || summary.ResultCodes[0] != "approved" {
		t.Errorf("result codes = %v, want [approved]", summary.ResultCodes)
	}
}

func TestService_DeclinedBatchNotBilled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"do_not_honor"}`))
	}))
	defer ts.Close()

	svc, err := NewService(testConfig(ts.URL))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	ctx := context.Background()
	res, err := svc.RunBatch(ctx, orchestrator.Request{
		OwnerID:    "user-1",
		ProviderID: "main",
		Tier:       "free",
		Items:      items("a", "b"),
	})
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}

	if res.Billable != 0 {
		t.Errorf("billable = %d, want 0", res.Billable)
	}

	balance, err := svc.Balance(ctx, "user-1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}

	// The batch itself is still archived.
	recent, err := svc.RecentBatches(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("RecentBatches failed: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("got %d archived batches, want 1", len(recent))
	}
	if recent[0].Declined != 2 {
		t.Errorf("declined = %d, want 2", recent[0].Declined)
	}
}

func TestService_UnknownProviderFailsWiring(t *testing.T) {
	cfg := testConfig("http://localhost:1")
	cfg.Providers[0].Type = "carrier-pigeon"

	if _, err := NewService(cfg); err == nil {
		t.Fatal("expected error for unknown adapter type")
	}
}

func TestService_StartStop(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"approved"}`))
	}))
	defer ts.Close()

	svc, err := NewService(testConfig(ts.URL))
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
