package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/diagnosis/staybook/internal/booking"
	"github.com/diagnosis/staybook/internal/http/response"
	"github.com/diagnosis/staybook/internal/pricing"
	"github.com/diagnosis/staybook/pkg/auth"
	"github.com/go-chi/chi/v5"
)

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// decodeReason accepts an empty body since the reason is optional.
func (h *Handlers) decodeReason(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "Invalid JSON format")
		return "", false
	}
	if err := h.validate.Struct(req); err != nil {
		response.Write(w, http.StatusBadRequest, response.ErrorResponse{
			Error: "reason must be at most 500 characters",
			Code:  response.CodeValidation,
			Field: "reason",
		})
		return "", false
	}
	return req.Reason, true
}

// currentUser is the signed-in user when there is one. Anonymous requests get nil.
func currentUser(r *http.Request) *auth.User {
	if u := userFrom(r.Context()); u != nil {
		return u
	}
	if g := guardFrom(r.Context()); g != nil {
		return g.CurrentUser()
	}
	return nil
}

// POST /v1/quotes
func (h *Handlers) CreateQuote(w http.ResponseWriter, r *http.Request) {
	var req booking.QuoteRequest
	if !h.decode(w, r, &req) {
		return
	}

	q, err := h.bookings.Quote(r.Context(), h.upstream(r), currentUser(r), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, q)
}

// GET /v1/quotes/{id}
func (h *Handlers) GetQuote(w http.ResponseWriter, r *http.Request) {
	q, err := h.bookings.GetQuote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, q)
}

// GET /v1/listings/{id}/bookable?startDate=&endDate=
func (h *Handlers) CheckBookable(w http.ResponseWriter, r *http.Request) {
	listingID := chi.URLParam(r, "id")
	stay, err := pricing.ParseStayRange(r.URL.Query().Get("startDate"), r.URL.Query().Get("endDate"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	ok, conflicts, err := h.ledger.IsRangeBookable(r.Context(), h.upstream(r), listingID, stay)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"listingId": listingID,
		"startDate": stay.StartISO(),
		"endDate":   stay.EndISO(),
		"bookable":  ok,
		"conflicts": rangeViews(conflicts),
	})
}

// POST /v1/bookings
func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req booking.CreateRequest
	if !h.decode(w, r, &req) {
		return
	}

	b, err := h.bookings.Create(r.Context(), h.upstream(r), userFrom(r.Context()), req, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusCreated, b)
}

// GET /v1/bookings/me
func (h *Handlers) MyBookings(w http.ResponseWriter, r *http.Request) {
	page, err := h.bookings.Mine(r.Context(), h.upstream(r), parsePage(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, page)
}

// GET /v1/bookings/{id}
func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.bookings.Get(r.Context(), h.upstream(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, b)
}

// PUT /v1/bookings/{id}/cancel
func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	reason, ok := h.decodeReason(w, r)
	if !ok {
		return
	}
	b, err := h.bookings.Cancel(r.Context(), h.upstream(r), userFrom(r.Context()), chi.URLParam(r, "id"), reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, b)
}
