package availability

import (
	"context"
	"encoding/json"

	"github.com/diagnosis/staybook/pkg/events"
	"github.com/diagnosis/staybook/pkg/logger"
)

// WatchChanges drops a cached ledger whenever any storefront instance blocks or
// unblocks dates on that listing. The next read refetches from the upstream.
func WatchChanges(sub events.Subscriber, store Store) error {
	handle := func(msg *events.Message) {
		var ev events.AvailabilityChangedEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil || ev.ListingID == "" {
			logger.Warn("Ignoring malformed availability event", "subject", msg.Subject, "error", err)
			return
		}
		if err := store.Invalidate(context.Background(), ev.ListingID); err != nil {
			logger.Warn("Failed to invalidate ledger cache", "error", err, "listing_id", ev.ListingID)
		}
	}

	for _, subject := range []string{events.AvailabilityBlocked, events.AvailabilityUnblocked} {
		if err := sub.Subscribe(subject, handle); err != nil {
			return err
		}
	}
	return nil
}
