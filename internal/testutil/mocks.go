package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/mreyes/tradereflect/internal/events"
	"github.com/mreyes/tradereflect/pkg/types"
)

// MockGateway is a scripted replacement for the exchange client.
type MockGateway struct {
	// FetchFunc is called for every FetchFills; when nil the mock returns
	// the static Fills slice filtered to the account.
	FetchFunc func(ctx context.Context, account types.Account, start, end time.Time) ([]types.Fill, error)
	Fills     []types.Fill

	mu    sync.Mutex
	calls []FetchCall
}

// FetchCall records one FetchFills invocation.
type FetchCall struct {
	AccountID string
	Start     time.Time
	End       time.Time
}

// FetchFills implements the poller's Gateway interface.
func (m *MockGateway) FetchFills(ctx context.Context, account types.Account, start, end time.Time) ([]types.Fill, error) {
	m.mu.Lock()
	m.calls = append(m.calls, FetchCall{AccountID: account.ID, Start: start, End: end})
	m.mu.Unlock()

	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, account, start, end)
	}

	var out []types.Fill
	for _, f := range m.Fills {
		if f.AccountID == account.ID {
			out = append(out, f)
		}
	}
	return out, nil
}

// Calls returns a copy of the recorded FetchFills invocations.
func (m *MockGateway) Calls() []FetchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FetchCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockScheduler records which fills were handed over for review scheduling.
type MockScheduler struct {
	mu        sync.Mutex
	scheduled []types.Fill
}

// Schedule implements the poller's Scheduler interface.
func (m *MockScheduler) Schedule(fill types.Fill) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled = append(m.scheduled, fill)
}

// Scheduled returns a copy of the fills scheduled so far.
func (m *MockScheduler) Scheduled() []types.Fill {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Fill, len(m.scheduled))
	copy(out, m.scheduled)
	return out
}

// MockGenerator is a scripted review generator. It fails the first
// FailCount calls with Err, then returns Text.
type MockGenerator struct {
	Text      string
	Err       error
	FailCount int

	mu    sync.Mutex
	calls int
}

// Generate implements the scheduler's Generator interface.
func (m *MockGenerator) Generate(_ context.Context, fill *types.Fill, userThought *string) (string, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.mu.Unlock()

	if m.Err != nil && n <= m.FailCount {
		return "", m.Err
	}
	return m.Text, nil
}

// CallCount returns how many times Generate was invoked.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// CapturePublisher records published events for assertions.
type CapturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

// Publish implements events.Publisher.
func (p *CapturePublisher) Publish(_ context.Context, event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

// Close implements events.Publisher.
func (p *CapturePublisher) Close() error { return nil }

// Events returns a copy of everything published so far.
func (p *CapturePublisher) Events() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Event, len(p.events))
	copy(out, p.events)
	return out
}

// ByType returns the published events of one type.
func (p *CapturePublisher) ByType(eventType string) []events.Event {
	var out []events.Event
	for _, e := range p.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// MockGeneratorAPI is a mock HTTP server that simulates the review
// generation service.
type MockGeneratorAPI struct {
	*httptest.Server
	Review string
	Status int

	mu       sync.Mutex
	requests []GeneratorRequest
}

// GeneratorRequest is the captured body of one generation call.
type GeneratorRequest struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	UserThought string  `json:"user_thought"`
}

// NewMockGeneratorAPI creates a generator server that answers every
// /api/review call with the configured review text.
func NewMockGeneratorAPI(review string) *MockGeneratorAPI {
	mock := &MockGeneratorAPI{
		Review: review,
		Status: http.StatusOK,
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/review" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}

		var req GeneratorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		mock.mu.Lock()
		mock.requests = append(mock.requests, req)
		status := mock.Status
		review := mock.Review
		mock.mu.Unlock()

		if status != http.StatusOK {
			http.Error(w, "generation unavailable", status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"review": review})
	})

	mock.Server = httptest.NewServer(handler)
	return mock
}

// SetStatus changes the HTTP status returned to subsequent calls.
func (m *MockGeneratorAPI) SetStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Status = status
}

// Requests returns a copy of the captured generation requests.
func (m *MockGeneratorAPI) Requests() []GeneratorRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GeneratorRequest, len(m.requests))
	copy(out, m.requests)
	return out
}
