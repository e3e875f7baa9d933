package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/mreyes/tradereflect/internal/testutil"
	"github.com/mreyes/tradereflect/pkg/config"
	"github.com/mreyes/tradereflect/pkg/types"
)

// newExchangeStub serves one BTCUSDT position and a single executed trade,
// enough for a full ingest-and-review pass.
func newExchangeStub(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v2/account", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"positions": []map[string]string{
				{"symbol": "BTCUSDT", "positionAmt": "0.1"},
			},
		})
	})
	mux.HandleFunc("/fapi/v1/userTrades", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]interface{}{
			{"id": 1, "symbol": "BTCUSDT", "side": "BUY", "price": "50000.00", "qty": "0.1", "time": 1700000000000},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func e2eConfig(exchangeURL, generatorURL string, deadline time.Duration) *config.Config {
	return &config.Config{
		LogLevel:              "debug",
		HTTPPort:              "0",
		BinanceBaseURL:        exchangeURL,
		BinanceHTTPTimeout:    5 * time.Second,
		PollInterval:          25 * time.Millisecond,
		PollLookback:          5 * time.Minute,
		BackfillLookback:      24 * time.Hour,
		AuthFailureBackoff:    10 * time.Minute,
		SymbolCacheTTL:        time.Minute,
		ReviewDeadline:        deadline,
		GenerationMaxAttempts: 3,
		GenerationBackoff:     10 * time.Millisecond,
		GeneratorURL:          generatorURL,
		GeneratorTimeout:      5 * time.Second,
		StorageMode:           "memory",
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.After(3 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEndToEndAutoReview(t *testing.T) {
	exchange := newExchangeStub(t)
	generator := testutil.NewMockGeneratorAPI("auto reflection on a clean long")
	t.Cleanup(generator.Close)

	cfg := e2eConfig(exchange.URL, generator.URL, 30*time.Millisecond)
	application, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	ctx := context.Background()
	err = application.store.UpsertAccount(ctx, testutil.CreateTestAccount("acct-1"))
	if err != nil {
		t.Fatalf("register account: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- application.Run()
	}()

	// The poller ingests the stubbed trade, the deadline passes with no user
	// submission, and the auto path resolves the review.
	var fillID int64
	waitFor(t, "fill ingestion", func() bool {
		fills, err := application.store.ListByAccount(ctx, "acct-1")
		if err != nil || len(fills) == 0 {
			return false
		}
		fillID = fills[0].ID
		return true
	})

	waitFor(t, "auto resolution", func() bool {
		review, err := application.store.Get(ctx, fillID)
		return err == nil && review != nil && review.Resolved
	})

	review, err := application.store.Get(ctx, fillID)
	if err != nil {
		t.Fatalf("get review: %v", err)
	}
	if review.Kind != types.ReviewKindAuto {
		t.Fatalf("expected auto review, got %q", review.Kind)
	}
	if review.Text != "auto reflection on a clean long" {
		t.Fatalf("unexpected review text %q", review.Text)
	}

	// Overlapping windows keep re-observing the same trade; still one fill.
	fills, err := application.store.ListByAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("list fills: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill after repeated polling, got %d", len(fills))
	}

	application.cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}
}

func TestEndToEndUserReview(t *testing.T) {
	exchange := newExchangeStub(t)
	generator := testutil.NewMockGeneratorAPI("your thought, sharpened")
	t.Cleanup(generator.Close)

	cfg := e2eConfig(exchange.URL, generator.URL, time.Hour)
	application, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	ctx := context.Background()
	err = application.store.UpsertAccount(ctx, testutil.CreateTestAccount("acct-1"))
	if err != nil {
		t.Fatalf("register account: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- application.Run()
	}()

	var fillID int64
	waitFor(t, "fill ingestion", func() bool {
		fills, err := application.store.ListByAccount(ctx, "acct-1")
		if err != nil || len(fills) == 0 {
			return false
		}
		fillID = fills[0].ID
		return true
	})

	review, won, err := application.scheduler.Submit(ctx, fillID, "momentum entry")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !won {
		t.Fatal("expected the submission to win with an hour-long deadline")
	}
	if review.Kind != types.ReviewKindUser || review.Text != "your thought, sharpened" {
		t.Fatalf("unexpected review %+v", review)
	}

	requests := generator.Requests()
	if len(requests) != 1 || requests[0].UserThought != "momentum entry" {
		t.Fatalf("expected the user thought forwarded to the generator, got %+v", requests)
	}

	application.cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}
}
