package handlers

import (
	"net/http"
	"strconv"

	"github.com/diagnosis/staybook/internal/availability"
	"github.com/diagnosis/staybook/internal/http/response"
	"github.com/diagnosis/staybook/internal/pricing"
	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/go-chi/chi/v5"
)

type blockRequest struct {
	StartDate string `json:"startDate" validate:"required"`
	EndDate   string `json:"endDate" validate:"required"`
	Reason    string `json:"reason" validate:"max=200"`
}

// unblockRequest addresses a whole range, or with EndDate empty, a single date.
type unblockRequest struct {
	StartDate string `json:"startDate" validate:"required"`
	EndDate   string `json:"endDate"`
}

// GET /v1/vendor/bookings/pending
func (h *Handlers) PendingBookings(w http.ResponseWriter, r *http.Request) {
	items, err := h.bookings.Pending(r.Context(), h.upstream(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, items)
}

// PUT /v1/vendor/bookings/{id}/accept
func (h *Handlers) AcceptBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.bookings.Accept(r.Context(), h.upstream(r), userFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, b)
}

// PUT /v1/vendor/bookings/{id}/decline
func (h *Handlers) DeclineBooking(w http.ResponseWriter, r *http.Request) {
	reason, ok := h.decodeReason(w, r)
	if !ok {
		return
	}
	b, err := h.bookings.Decline(r.Context(), h.upstream(r), userFrom(r.Context()), chi.URLParam(r, "id"), reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, b)
}

// GET /v1/vendor/listings/{id}/availability
func (h *Handlers) ListingAvailability(w http.ResponseWriter, r *http.Request) {
	l, err := h.ledger.Ledger(r.Context(), h.upstream(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, viewLedger(l))
}

// POST /v1/vendor/listings/{id}/block
func (h *Handlers) BlockDates(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if !h.decode(w, r, &req) {
		return
	}
	stay, err := pricing.ParseStayRange(req.StartDate, req.EndDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	listingID := chi.URLParam(r, "id")
	l, err := h.ledger.Block(r.Context(), h.upstream(r), userFrom(r.Context()).UserID, listingID, stay, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	logger.InfoContext(r.Context(), "Dates blocked", "listing_id", listingID, "start", stay.StartISO(), "end", stay.EndISO())
	response.WriteJSON(w, http.StatusOK, viewLedger(l))
}

// POST /v1/vendor/listings/{id}/unblock
func (h *Handlers) UnblockDates(w http.ResponseWriter, r *http.Request) {
	var req unblockRequest
	if !h.decode(w, r, &req) {
		return
	}
	start, err := pricing.ParseDate(req.StartDate)
	if err != nil {
		h.fail(w, r, &pricing.ValidationError{Field: "startDate", Code: "INVALID_DATE", Message: err.Error(), Err: err})
		return
	}
	end, err := pricing.ParseDate(req.EndDate)
	if err != nil {
		h.fail(w, r, &pricing.ValidationError{Field: "endDate", Code: "INVALID_DATE", Message: err.Error(), Err: err})
		return
	}

	key := availability.DateKey(start)
	if !end.IsZero() {
		key = availability.RangeKey(pricing.NewStayRange(start, end))
	}

	l, err := h.ledger.Unblock(r.Context(), h.upstream(r), userFrom(r.Context()).UserID, chi.URLParam(r, "id"), key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, viewLedger(l))
}

// GET /v1/vendor/listings/{id}/quotes?limit=
func (h *Handlers) ListingQuotes(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	quotes, err := h.bookings.ListingQuotes(r.Context(), h.upstream(r), userFrom(r.Context()), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, quotes)
}

// GET /v1/vendor/stats
func (h *Handlers) VendorStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.bookings.VendorStats(r.Context(), h.upstream(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, stats)
}
