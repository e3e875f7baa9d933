package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mreyes/tradereflect/pkg/types"
)

// Event types emitted by the core.
const (
	TypeFillIngested   = "fill.ingested"
	TypeReviewResolved = "review.resolved"
)

// Event is a notification about something the core did. Consumers are the
// websocket feed and, when configured, a Redis stream.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Publisher delivers events to interested consumers. Publishing is
// best-effort: the core never blocks or fails an operation because a
// consumer is down.
type Publisher interface {
	Publish(ctx context.Context, event Event)
	Close() error
}

// NewFillIngested builds the event for a newly persisted fill.
func NewFillIngested(fill *types.Fill) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      TypeFillIngested,
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"fill_id":     fill.ID,
			"account_id":  fill.AccountID,
			"trade_id":    fill.TradeID,
			"symbol":      fill.Symbol,
			"side":        string(fill.Side),
			"price":       fill.Price.String(),
			"quantity":    fill.Quantity.String(),
			"executed_at": fill.ExecutedAt,
		},
	}
}

// NewReviewResolved builds the event for a resolved review.
func NewReviewResolved(fillID int64, kind types.ReviewKind) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      TypeReviewResolved,
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"fill_id": fillID,
			"kind":    string(kind),
		},
	}
}

// Broadcaster is anything that can push a message to connected clients,
// e.g. the websocket hub.
type Broadcaster interface {
	Broadcast(message interface{})
}

// BroadcastPublisher adapts a Broadcaster into a Publisher.
type BroadcastPublisher struct {
	b Broadcaster
}

// NewBroadcastPublisher wraps b as a Publisher.
func NewBroadcastPublisher(b Broadcaster) *BroadcastPublisher {
	return &BroadcastPublisher{b: b}
}

// Publish forwards the event to the broadcaster.
func (p *BroadcastPublisher) Publish(_ context.Context, event Event) {
	p.b.Broadcast(event)
}

// Close is a no-op; the broadcaster owns its own lifecycle.
func (p *BroadcastPublisher) Close() error { return nil }

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
func (NopPublisher) Close() error                   { return nil }

// Fanout publishes every event to all wrapped publishers.
type Fanout struct {
	publishers []Publisher
}

// NewFanout creates a publisher that forwards to each of pubs.
func NewFanout(pubs ...Publisher) *Fanout {
	return &Fanout{publishers: pubs}
}

// Publish forwards the event to every wrapped publisher.
func (f *Fanout) Publish(ctx context.Context, event Event) {
	for _, p := range f.publishers {
		p.Publish(ctx, event)
	}
}

// Close closes every wrapped publisher, returning the first error.
func (f *Fanout) Close() error {
	var firstErr error
	for _, p := range f.publishers {
		err := p.Close()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
