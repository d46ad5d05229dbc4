package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/diagnosis/staybook/internal/availability"
	"github.com/diagnosis/staybook/internal/domain"
	"github.com/diagnosis/staybook/internal/pricing"
	"github.com/diagnosis/staybook/internal/session"
)

// Doer runs an authenticated call, refreshing the session token when needed.
// *session.Guard implements it.
type Doer interface {
	Do(ctx context.Context, call session.Call) error
}

// Client issues the marketplace calls of one signed-in session.
type Client struct {
	t     *Transport
	guard Doer
}

func (t *Transport) ForSession(guard Doer) *Client {
	return &Client{t: t, guard: guard}
}

// call sends req with the session's token. A replay after a refresh reuses req
// unchanged, idempotency key included.
func (c *Client) call(ctx context.Context, req request, out interface{}) error {
	return c.guard.Do(ctx, func(ctx context.Context, token string) error {
		req.token = token
		return c.t.do(ctx, req, out)
	})
}

func bookingPath(id string, action string) string {
	p := "/bookings/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func listingPath(id string, action string) string {
	p := "/listings/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

// CreateBooking posts a booking request. idempotencyKey must stay the same across
// retries of the same request.
func (c *Client) CreateBooking(ctx context.Context, req domain.CreateBookingRequest, idempotencyKey string) (*domain.Booking, error) {
	var b domain.Booking
	err := c.call(ctx, request{
		method:  http.MethodPost,
		path:    "/bookings",
		body:    req,
		headers: map[string]string{"Idempotency-Key": idempotencyKey},
	}, &b)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	var b domain.Booking
	if err := c.call(ctx, request{method: http.MethodGet, path: bookingPath(id, "")}, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) MyBookings(ctx context.Context, params domain.PageParams) (*domain.Page[domain.Booking], error) {
	return c.bookingPage(ctx, "/bookings/me", params)
}

func (c *Client) VendorBookings(ctx context.Context, params domain.PageParams) (*domain.Page[domain.Booking], error) {
	return c.bookingPage(ctx, "/bookings/vendor", params)
}

func (c *Client) bookingPage(ctx context.Context, path string, params domain.PageParams) (*domain.Page[domain.Booking], error) {
	var page domain.Page[domain.Booking]
	if err := c.call(ctx, request{method: http.MethodGet, path: path, params: params}, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) PendingBookings(ctx context.Context) ([]domain.Booking, error) {
	var page domain.Page[domain.Booking]
	if err := c.call(ctx, request{method: http.MethodGet, path: "/bookings/vendor/pending"}, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (c *Client) AcceptBooking(ctx context.Context, id string) (*domain.Booking, error) {
	return c.transition(ctx, id, "accept", "")
}

func (c *Client) DeclineBooking(ctx context.Context, id, reason string) (*domain.Booking, error) {
	return c.transition(ctx, id, "decline", reason)
}

func (c *Client) CancelBooking(ctx context.Context, id, reason string) (*domain.Booking, error) {
	return c.transition(ctx, id, "cancel", reason)
}

func (c *Client) transition(ctx context.Context, id, action, reason string) (*domain.Booking, error) {
	var b domain.Booking
	err := c.call(ctx, request{
		method: http.MethodPut,
		path:   bookingPath(id, action),
		body:   domain.TransitionRequest{Reason: reason},
	}, &b)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	var l domain.Listing
	if err := c.call(ctx, request{method: http.MethodGet, path: listingPath(id, "")}, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

type blockedRangeWire struct {
	ID        string `json:"id,omitempty"`
	ListingID string `json:"listingId,omitempty"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type availabilityWire struct {
	BlockedDates []blockedRangeWire `json:"blockedDates"`
}

func (c *Client) GetAvailability(ctx context.Context, listingID string) ([]availability.BlockedRange, error) {
	var raw json.RawMessage
	if err := c.call(ctx, request{method: http.MethodGet, path: listingPath(listingID, "availability")}, &raw); err != nil {
		return nil, err
	}

	var wire []blockedRangeWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		var wrapped availabilityWire
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to decode availability: %w", err)
		}
		wire = wrapped.BlockedDates
	}

	ranges := make([]availability.BlockedRange, 0, len(wire))
	for _, w := range wire {
		end := w.EndDate
		if end == "" {
			end = w.StartDate
		}
		stay, err := pricing.ParseStayRange(w.StartDate, end)
		if err != nil {
			return nil, fmt.Errorf("blocked range %q: %w", w.ID, err)
		}
		if !stay.End.After(stay.Start) {
			// a single blocked date covers that one night
			stay.End = stay.Start.AddDate(0, 0, 1)
		}
		ranges = append(ranges, availability.BlockedRange{
			ID:        w.ID,
			ListingID: listingID,
			Start:     stay.Start,
			End:       stay.End,
			Reason:    w.Reason,
		})
	}
	return ranges, nil
}

func (c *Client) BlockDates(ctx context.Context, listingID string, r pricing.StayRange, reason string) error {
	return c.call(ctx, request{
		method: http.MethodPost,
		path:   listingPath(listingID, "block"),
		body:   blockedRangeWire{StartDate: r.StartISO(), EndDate: r.EndISO(), Reason: reason},
	}, nil)
}

func (c *Client) UnblockDates(ctx context.Context, listingID string, key availability.Key) error {
	return c.call(ctx, request{
		method: http.MethodPost,
		path:   listingPath(listingID, "unblock"),
		body: blockedRangeWire{
			StartDate: pricing.StayRange{Start: key.Start}.StartISO(),
			EndDate:   pricing.StayRange{End: key.End}.EndISO(),
		},
	}, nil)
}

var _ availability.Upstream = (*Client)(nil)
var _ session.AuthAPI = (*AuthClient)(nil)
