package events

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mreyes/tradereflect/pkg/types"
)

func TestNewFillIngested(t *testing.T) {
	fill := &types.Fill{
		ID:         3,
		AccountID:  "acct-1",
		TradeID:    "T1",
		Symbol:     "BTCUSDT",
		Side:       types.SideBuy,
		Price:      decimal.NewFromInt(50000),
		Quantity:   decimal.RequireFromString("0.1"),
		ExecutedAt: 1700000000000,
	}

	event := NewFillIngested(fill)

	if event.Type != TypeFillIngested {
		t.Fatalf("unexpected type %q", event.Type)
	}
	if event.ID == "" {
		t.Fatal("expected a generated event ID")
	}
	if event.Timestamp.IsZero() {
		t.Fatal("expected a timestamp")
	}
	if event.Data["fill_id"] != int64(3) || event.Data["symbol"] != "BTCUSDT" {
		t.Fatalf("unexpected payload %v", event.Data)
	}
	if event.Data["price"] != "50000" {
		t.Fatalf("expected decimal string price, got %v", event.Data["price"])
	}
}

func TestNewReviewResolved(t *testing.T) {
	event := NewReviewResolved(7, types.ReviewKindAuto)

	if event.Type != TypeReviewResolved {
		t.Fatalf("unexpected type %q", event.Type)
	}
	if event.Data["fill_id"] != int64(7) || event.Data["kind"] != "auto" {
		t.Fatalf("unexpected payload %v", event.Data)
	}
}

type countingPublisher struct {
	published int
	closed    bool
}

func (p *countingPublisher) Publish(context.Context, Event) { p.published++ }
func (p *countingPublisher) Close() error {
	p.closed = true
	return nil
}

func TestFanout(t *testing.T) {
	first := &countingPublisher{}
	second := &countingPublisher{}
	fanout := NewFanout(first, second)

	fanout.Publish(context.Background(), NewReviewResolved(1, types.ReviewKindUser))
	fanout.Publish(context.Background(), NewReviewResolved(2, types.ReviewKindAuto))

	if first.published != 2 || second.published != 2 {
		t.Fatalf("expected both publishers to see 2 events, got %d and %d",
			first.published, second.published)
	}

	if err := fanout.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !first.closed || !second.closed {
		t.Fatal("expected both publishers closed")
	}
}

type recordingBroadcaster struct {
	messages []interface{}
}

func (b *recordingBroadcaster) Broadcast(message interface{}) {
	b.messages = append(b.messages, message)
}

func TestBroadcastPublisher(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	publisher := NewBroadcastPublisher(broadcaster)

	event := NewReviewResolved(5, types.ReviewKindUser)
	publisher.Publish(context.Background(), event)

	if len(broadcaster.messages) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(broadcaster.messages))
	}
	got, ok := broadcaster.messages[0].(Event)
	if !ok || got.ID != event.ID {
		t.Fatalf("unexpected broadcast payload %v", broadcaster.messages[0])
	}

	if err := publisher.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
