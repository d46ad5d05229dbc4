package availability

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/diagnosis/staybook/pkg/events"
)

type fakeSubscriber struct {
	handlers map[string]func(*events.Message)
}

func (f *fakeSubscriber) Subscribe(subject string, handler func(*events.Message)) error {
	f.handlers[subject] = handler
	return nil
}

func (f *fakeSubscriber) QueueSubscribe(subject, _ string, handler func(*events.Message)) error {
	return f.Subscribe(subject, handler)
}

func (f *fakeSubscriber) Close() error { return nil }

func TestWatchChanges_InvalidatesChangedListing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.Save(ctx, NewLedger("lst-1", false))
	_ = store.Save(ctx, NewLedger("lst-2", false))

	sub := &fakeSubscriber{handlers: map[string]func(*events.Message){}}
	if err := WatchChanges(sub, store); err != nil {
		t.Fatal(err)
	}
	if len(sub.handlers) != 2 {
		t.Fatalf("subscribed to %d subjects, want 2", len(sub.handlers))
	}

	data, _ := json.Marshal(events.AvailabilityChangedEvent{ListingID: "lst-1", StartDate: "2099-01-01", At: time.Now()})
	sub.handlers[events.AvailabilityUnblocked](&events.Message{Subject: events.AvailabilityUnblocked, Data: data})
	sub.handlers[events.AvailabilityBlocked](&events.Message{Subject: events.AvailabilityBlocked, Data: []byte("garbage")})

	if _, found, _ := store.Load(ctx, "lst-1"); found {
		t.Fatal("lst-1 should have been invalidated")
	}
	if _, found, _ := store.Load(ctx, "lst-2"); !found {
		t.Fatal("lst-2 should still be cached")
	}
}
