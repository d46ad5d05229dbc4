package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/staybook/internal/availability"
	"github.com/diagnosis/staybook/internal/booking/repository"
	"github.com/diagnosis/staybook/internal/domain"
	"github.com/diagnosis/staybook/internal/pricing"
	"github.com/diagnosis/staybook/pkg/auth"
	"github.com/diagnosis/staybook/pkg/config"
	"github.com/diagnosis/staybook/pkg/events"
	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Upstream is the marketplace API as seen through one user's session.
type Upstream interface {
	availability.Upstream
	GetListing(ctx context.Context, id string) (*domain.Listing, error)
	CreateBooking(ctx context.Context, req domain.CreateBookingRequest, idempotencyKey string) (*domain.Booking, error)
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	MyBookings(ctx context.Context, params domain.PageParams) (*domain.Page[domain.Booking], error)
	VendorBookings(ctx context.Context, params domain.PageParams) (*domain.Page[domain.Booking], error)
	PendingBookings(ctx context.Context) ([]domain.Booking, error)
	AcceptBooking(ctx context.Context, id string) (*domain.Booking, error)
	DeclineBooking(ctx context.Context, id, reason string) (*domain.Booking, error)
	CancelBooking(ctx context.Context, id, reason string) (*domain.Booking, error)
}

type QuoteRequest struct {
	ListingID string `json:"listingId" validate:"required"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Guests    int    `json:"guests"`
}

type CreateRequest struct {
	ListingID       string `json:"listingId" validate:"required"`
	StartDate       string `json:"startDate"`
	EndDate         string `json:"endDate"`
	Guests          int    `json:"guests"`
	SpecialRequests string `json:"specialRequests" validate:"max=1000"`
}

// UnavailableError lists the blocked ranges a requested stay collides with.
type UnavailableError struct {
	Conflicts []availability.BlockedRange
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s: %d conflicting range(s)", availability.ErrUnavailable, len(e.Conflicts))
}

func (e *UnavailableError) Is(target error) bool { return target == availability.ErrUnavailable }

// Stats is the vendor dashboard summary.
type Stats struct {
	Total    int                          `json:"total"`
	ByStatus map[domain.BookingStatus]int `json:"byStatus"`
	Pending  int                          `json:"pending"`
	Revenue  int64                        `json:"revenue"`
	Currency string                       `json:"currency"`
}

type Service interface {
	Quote(ctx context.Context, api Upstream, user *auth.User, req QuoteRequest) (*domain.Quote, error)
	GetQuote(ctx context.Context, id string) (*domain.Quote, error)
	Create(ctx context.Context, api Upstream, user *auth.User, req CreateRequest, idempotencyKey string) (*domain.Booking, error)
	Get(ctx context.Context, api Upstream, id string) (*domain.Booking, error)
	Mine(ctx context.Context, api Upstream, params domain.PageParams) (*domain.Page[domain.Booking], error)
	Pending(ctx context.Context, api Upstream) ([]domain.Booking, error)
	Accept(ctx context.Context, api Upstream, actor *auth.User, id string) (*domain.Booking, error)
	Decline(ctx context.Context, api Upstream, actor *auth.User, id, reason string) (*domain.Booking, error)
	Cancel(ctx context.Context, api Upstream, actor *auth.User, id, reason string) (*domain.Booking, error)
	VendorStats(ctx context.Context, api Upstream) (*Stats, error)
	ListingQuotes(ctx context.Context, api Upstream, actor *auth.User, listingID string, limit int) ([]domain.Quote, error)
}

var (
	ErrQuoteAuditDisabled = errors.New("quote audit log is not configured")
	ErrNotListingOwner    = errors.New("listing belongs to another vendor")
)

// statsPageSize bounds how many vendor bookings the dashboard aggregates.
const statsPageSize = 500

type service struct {
	quotes   repository.QuoteRepository
	ledger   availability.Service
	eventBus events.Publisher
	rates    pricing.Rates
	currency string
	now      func() time.Time
}

// NewService wires the booking flow. quotes may be nil, in which case quotes are
// priced but not recorded.
func NewService(quotes repository.QuoteRepository, ledger availability.Service, eventBus events.Publisher, cfg config.PricingConfig) Service {
	return &service{
		quotes:   quotes,
		ledger:   ledger,
		eventBus: eventBus,
		rates:    pricing.Rates{PlatformFeeBps: cfg.PlatformFeeBps, VATBps: cfg.VATBps},
		currency: cfg.Currency,
		now:      time.Now,
	}
}

// priced is a validated stay with its price.
type priced struct {
	listing   *domain.Listing
	stay      pricing.StayRange
	breakdown pricing.Breakdown
	conflicts []availability.BlockedRange
}

// price runs the booking form's checks in order: dates present, check-out after
// check-in, check-in not in the past, guests within capacity. Availability is
// looked up last.
func (s *service) price(ctx context.Context, api Upstream, listingID, startISO, endISO string, guests int) (*priced, error) {
	stay, err := pricing.ParseStayRange(startISO, endISO)
	if err != nil {
		return nil, err
	}
	if err := stay.ValidateForNewBooking(s.now()); err != nil {
		return nil, err
	}

	listing, err := api.GetListing(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}
	if err := pricing.ValidateGuestCount(guests, listing.Capacity); err != nil {
		return nil, err
	}

	nights, err := pricing.ComputeNights(stay)
	if err != nil {
		return nil, err
	}
	breakdown, err := s.rates.Compute(listing.StartingPrice, nights)
	if err != nil {
		return nil, err
	}

	_, conflicts, err := s.ledger.IsRangeBookable(ctx, api, listingID, stay)
	if err != nil {
		return nil, err
	}

	return &priced{listing: listing, stay: stay, breakdown: breakdown, conflicts: conflicts}, nil
}

func (s *service) currencyOf(l *domain.Listing) string {
	if l.Currency != "" {
		return l.Currency
	}
	return s.currency
}

func (s *service) Quote(ctx context.Context, api Upstream, user *auth.User, req QuoteRequest) (*domain.Quote, error) {
	p, err := s.price(ctx, api, req.ListingID, req.StartDate, req.EndDate, req.Guests)
	if err != nil {
		return nil, err
	}

	q := &domain.Quote{
		ID:        uuid.NewString(),
		ListingID: req.ListingID,
		StartDate: p.stay.StartISO(),
		EndDate:   p.stay.EndISO(),
		Guests:    req.Guests,
		Breakdown: p.breakdown,
		Currency:  s.currencyOf(p.listing),
		Available: len(p.conflicts) == 0,
		IssuedAt:  s.now().UTC(),
	}
	if user != nil {
		q.UserID = user.UserID
	}

	if s.quotes != nil {
		if err := s.quotes.Record(ctx, q); err != nil {
			logger.ErrorContext(ctx, "Failed to record quote", "error", err, "quote_id", q.ID)
		}
	}

	s.publish(ctx, events.QuoteIssued, events.QuoteIssuedEvent{
		QuoteID:     q.ID,
		ListingID:   q.ListingID,
		Nights:      q.Breakdown.Nights,
		TotalAmount: q.Breakdown.TotalAmount,
		Currency:    q.Currency,
		IssuedAt:    q.IssuedAt,
	})
	return q, nil
}

func (s *service) GetQuote(ctx context.Context, id string) (*domain.Quote, error) {
	if s.quotes == nil {
		return nil, ErrQuoteAuditDisabled
	}
	return s.quotes.GetByID(ctx, id)
}

func (s *service) Create(ctx context.Context, api Upstream, user *auth.User, req CreateRequest, idempotencyKey string) (*domain.Booking, error) {
	p, err := s.price(ctx, api, req.ListingID, req.StartDate, req.EndDate, req.Guests)
	if err != nil {
		return nil, err
	}
	if len(p.conflicts) > 0 {
		return nil, &UnavailableError{Conflicts: p.conflicts}
	}

	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	breakdown := p.breakdown
	b, err := api.CreateBooking(ctx, domain.CreateBookingRequest{
		ListingID:       req.ListingID,
		StartDate:       p.stay.StartISO(),
		EndDate:         p.stay.EndISO(),
		Guests:          req.Guests,
		SpecialRequests: req.SpecialRequests,
		PriceBreakdown:  &breakdown,
		TotalPrice:      breakdown.TotalAmount,
	}, idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}
	if b.Status == "" {
		b.Status = domain.BookingPending
	}
	if b.PriceBreakdown == nil {
		b.PriceBreakdown = &breakdown
	}

	customerID := b.CustomerID
	if customerID == "" && user != nil {
		customerID = user.UserID
	}
	s.publish(ctx, events.BookingRequested, events.BookingRequestedEvent{
		BookingID:   b.ID,
		ListingID:   req.ListingID,
		CustomerID:  customerID,
		StartDate:   p.stay.StartISO(),
		EndDate:     p.stay.EndISO(),
		Guests:      req.Guests,
		TotalAmount: breakdown.TotalAmount,
		RequestedAt: s.now().UTC(),
	})
	return b, nil
}

func (s *service) Get(ctx context.Context, api Upstream, id string) (*domain.Booking, error) {
	return api.GetBooking(ctx, id)
}

func (s *service) Mine(ctx context.Context, api Upstream, params domain.PageParams) (*domain.Page[domain.Booking], error) {
	return api.MyBookings(ctx, params)
}

func (s *service) Pending(ctx context.Context, api Upstream) ([]domain.Booking, error) {
	return api.PendingBookings(ctx)
}

func (s *service) Accept(ctx context.Context, api Upstream, actor *auth.User, id string) (*domain.Booking, error) {
	b, err := api.AcceptBooking(ctx, id)
	return s.transitioned(ctx, b, err, actor, id, "accept", "")
}

func (s *service) Decline(ctx context.Context, api Upstream, actor *auth.User, id, reason string) (*domain.Booking, error) {
	b, err := api.DeclineBooking(ctx, id, reason)
	return s.transitioned(ctx, b, err, actor, id, "decline", reason)
}

func (s *service) Cancel(ctx context.Context, api Upstream, actor *auth.User, id, reason string) (*domain.Booking, error) {
	b, err := api.CancelBooking(ctx, id, reason)
	return s.transitioned(ctx, b, err, actor, id, "cancel", reason)
}

func (s *service) transitioned(ctx context.Context, b *domain.Booking, err error, actor *auth.User, id, action, reason string) (*domain.Booking, error) {
	if err != nil {
		return nil, fmt.Errorf("failed to %s booking: %w", action, err)
	}

	actorID := ""
	if actor != nil {
		actorID = actor.UserID
	}
	s.publish(ctx, events.BookingTransition, events.BookingTransitionEvent{
		BookingID: id,
		Action:    action,
		ActorID:   actorID,
		Reason:    reason,
		At:        s.now().UTC(),
	})
	return b, nil
}

func (s *service) VendorStats(ctx context.Context, api Upstream) (*Stats, error) {
	var (
		all     *domain.Page[domain.Booking]
		pending []domain.Booking
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		all, err = api.VendorBookings(gctx, domain.PageParams{Page: 1, Limit: statsPageSize})
		return err
	})
	g.Go(func() error {
		var err error
		pending, err = api.PendingBookings(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load vendor bookings: %w", err)
	}

	stats := &Stats{
		ByStatus: make(map[domain.BookingStatus]int),
		Pending:  len(pending),
		Currency: s.currency,
	}
	for _, b := range all.Items {
		stats.Total++
		stats.ByStatus[b.Status.Normalize()]++
		if b.Status.Earning() {
			stats.Revenue += b.Total()
		}
		if b.Currency != "" {
			stats.Currency = b.Currency
		}
	}
	return stats, nil
}

// ListingQuotes returns the most recent quotes issued for a listing the actor owns.
// Admins may read any listing.
func (s *service) ListingQuotes(ctx context.Context, api Upstream, actor *auth.User, listingID string, limit int) ([]domain.Quote, error) {
	if actor == nil {
		return nil, ErrNotListingOwner
	}
	if s.quotes == nil {
		return nil, ErrQuoteAuditDisabled
	}
	if !actor.HasRole(auth.RoleAdmin) {
		listing, err := api.GetListing(ctx, listingID)
		if err != nil {
			return nil, fmt.Errorf("failed to load listing: %w", err)
		}
		if listing.VendorID != actor.UserID {
			return nil, ErrNotListingOwner
		}
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.quotes.ListByListing(ctx, listingID, limit)
}

func (s *service) publish(ctx context.Context, subject string, ev any) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(ctx, subject, ev); err != nil {
		logger.ErrorContext(ctx, "Failed to publish booking event", "error", err, "subject", subject)
	}
}
