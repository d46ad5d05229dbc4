package availability

import (
	"context"
	"fmt"
	"time"

	"github.com/diagnosis/staybook/internal/pricing"
	"github.com/diagnosis/staybook/pkg/events"
	"github.com/diagnosis/staybook/pkg/logger"
)

// Upstream is the slice of the marketplace API the ledger needs. Calls are made
// with the acting user's session.
type Upstream interface {
	GetAvailability(ctx context.Context, listingID string) ([]BlockedRange, error)
	BlockDates(ctx context.Context, listingID string, r pricing.StayRange, reason string) error
	UnblockDates(ctx context.Context, listingID string, key Key) error
}

type Service interface {
	Ledger(ctx context.Context, api Upstream, listingID string) (*Ledger, error)
	Block(ctx context.Context, api Upstream, vendorID, listingID string, r pricing.StayRange, reason string) (*Ledger, error)
	Unblock(ctx context.Context, api Upstream, vendorID, listingID string, key Key) (*Ledger, error)
	IsRangeBookable(ctx context.Context, api Upstream, listingID string, r pricing.StayRange) (bool, []BlockedRange, error)
}

type service struct {
	store    Store
	eventBus events.Publisher
	dedupe   bool
}

func NewService(store Store, eventBus events.Publisher, dedupe bool) Service {
	return &service{store: store, eventBus: eventBus, dedupe: dedupe}
}

func (s *service) Ledger(ctx context.Context, api Upstream, listingID string) (*Ledger, error) {
	if l, found, err := s.store.Load(ctx, listingID); err != nil {
		logger.WarnContext(ctx, "Ledger cache read failed", "error", err, "listing_id", listingID)
	} else if found {
		return l, nil
	}

	ranges, err := api.GetAvailability(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch availability: %w", err)
	}

	l := NewLedger(listingID, s.dedupe)
	for _, r := range ranges {
		r.ListingID = listingID
		r.Start = pricing.DateOnly(r.Start)
		r.End = pricing.DateOnly(r.End)
		l.Entries = append(l.Entries, r)
	}

	if err := s.store.Save(ctx, l); err != nil {
		logger.WarnContext(ctx, "Ledger cache write failed", "error", err, "listing_id", listingID)
	}
	return l, nil
}

func (s *service) Block(ctx context.Context, api Upstream, vendorID, listingID string, r pricing.StayRange, reason string) (*Ledger, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	l, err := s.Ledger(ctx, api, listingID)
	if err != nil {
		return nil, err
	}

	added, err := l.Block(listingID, r, reason)
	if err != nil {
		return nil, err
	}
	if !added {
		logger.InfoContext(ctx, "Range already blocked", "listing_id", listingID, "start", r.StartISO(), "end", r.EndISO())
		return l, nil
	}

	if err := api.BlockDates(ctx, listingID, r, reason); err != nil {
		return nil, fmt.Errorf("failed to block dates: %w", err)
	}

	if err := s.store.Save(ctx, l); err != nil {
		logger.WarnContext(ctx, "Ledger cache write failed", "error", err, "listing_id", listingID)
	}

	s.publish(ctx, events.AvailabilityBlocked, events.AvailabilityChangedEvent{
		ListingID: listingID,
		StartDate: r.StartISO(),
		EndDate:   r.EndISO(),
		Reason:    reason,
		VendorID:  vendorID,
		At:        time.Now(),
	})
	return l, nil
}

func (s *service) Unblock(ctx context.Context, api Upstream, vendorID, listingID string, key Key) (*Ledger, error) {
	if key.Start.IsZero() {
		return nil, &pricing.ValidationError{Field: "startDate", Code: "DATES_MISSING", Message: "a date to unblock is required", Err: pricing.ErrDatesMissing}
	}
	if !key.End.IsZero() && !key.End.After(key.Start) {
		return nil, &pricing.ValidationError{Field: "endDate", Code: "END_NOT_AFTER_START", Message: pricing.ErrEndNotAfterStart.Error(), Err: pricing.ErrEndNotAfterStart}
	}

	l, err := s.Ledger(ctx, api, listingID)
	if err != nil {
		return nil, err
	}

	if err := api.UnblockDates(ctx, listingID, key); err != nil {
		return nil, fmt.Errorf("failed to unblock dates: %w", err)
	}

	removed, err := l.Unblock(listingID, key)
	if err != nil {
		return nil, err
	}

	if err := s.store.Save(ctx, l); err != nil {
		logger.WarnContext(ctx, "Ledger cache write failed", "error", err, "listing_id", listingID)
	}

	ev := events.AvailabilityChangedEvent{
		ListingID: listingID,
		StartDate: key.Start.Format(pricing.DateLayout),
		VendorID:  vendorID,
		At:        time.Now(),
	}
	if !key.End.IsZero() {
		ev.EndDate = key.End.Format(pricing.DateLayout)
	}
	logger.InfoContext(ctx, "Dates unblocked", "listing_id", listingID, "removed", removed)
	s.publish(ctx, events.AvailabilityUnblocked, ev)
	return l, nil
}

func (s *service) IsRangeBookable(ctx context.Context, api Upstream, listingID string, r pricing.StayRange) (bool, []BlockedRange, error) {
	if err := r.Validate(); err != nil {
		return false, nil, err
	}
	l, err := s.Ledger(ctx, api, listingID)
	if err != nil {
		return false, nil, err
	}
	conflicts := l.Conflicts(r)
	return len(conflicts) == 0, conflicts, nil
}

func (s *service) publish(ctx context.Context, subject string, ev any) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(ctx, subject, ev); err != nil {
		logger.ErrorContext(ctx, "Failed to publish availability event", "error", err, "subject", subject)
	}
}
