package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/diagnosis/staybook/internal/apiclient"
	"github.com/diagnosis/staybook/internal/availability"
	"github.com/diagnosis/staybook/internal/booking"
	"github.com/diagnosis/staybook/internal/booking/repository"
	"github.com/diagnosis/staybook/internal/domain"
	"github.com/diagnosis/staybook/internal/http/response"
	"github.com/diagnosis/staybook/internal/pricing"
	"github.com/diagnosis/staybook/internal/session"
	"github.com/diagnosis/staybook/pkg/auth"
	"github.com/diagnosis/staybook/pkg/config"
	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/go-playground/validator/v10"
)

type contextKey string

const (
	guardKey contextKey = "session_guard"
	userKey  contextKey = "session_user"
)

type Handlers struct {
	sessions  *session.Manager
	transport *apiclient.Transport
	bookings  booking.Service
	ledger    availability.Service
	config    *config.Config
	validate  *validator.Validate
}

func New(
	sessions *session.Manager,
	transport *apiclient.Transport,
	bookings booking.Service,
	ledger availability.Service,
	cfg *config.Config,
) *Handlers {
	return &Handlers{
		sessions:  sessions,
		transport: transport,
		bookings:  bookings,
		ledger:    ledger,
		config:    cfg,
		validate:  validator.New(),
	}
}

// Session attaches the guard named by the session cookie. Requests without the
// cookie carry no guard until they sign in.
func (h *Handlers) Session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(h.config.Auth.SessionCookie)
		if err != nil || c.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		guard, err := h.sessions.Get(r.Context(), c.Value)
		if err != nil {
			logger.ErrorContext(r.Context(), "Failed to load session", "error", err)
			response.InternalError(w, "Failed to load session")
			return
		}

		ctx := context.WithValue(r.Context(), guardKey, guard)
		ctx = context.WithValue(ctx, logger.SessionIDKey, guard.ID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects requests without a live session and, when roles are given,
// users holding none of them.
func (h *Handlers) RequireUser(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			guard := guardFrom(r.Context())
			if guard == nil {
				h.sessionExpired(w, "Authentication required")
				return
			}

			user, err := guard.User(r.Context())
			if err != nil {
				h.fail(w, r, err)
				return
			}
			if len(roles) > 0 && !user.HasRole(roles...) {
				response.Forbidden(w, "Insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			ctx = context.WithValue(ctx, logger.UserIDKey, user.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func guardFrom(ctx context.Context) *session.Guard {
	g, _ := ctx.Value(guardKey).(*session.Guard)
	return g
}

func userFrom(ctx context.Context) *auth.User {
	u, _ := ctx.Value(userKey).(*auth.User)
	return u
}

// anonymous issues calls without a bearer token.
type anonymous struct{}

func (anonymous) Do(ctx context.Context, call session.Call) error { return call(ctx, "") }

// upstream returns the API client for this request, signed in when possible.
func (h *Handlers) upstream(r *http.Request) *apiclient.Client {
	if g := guardFrom(r.Context()); g != nil && g.State() != session.Unauthenticated {
		return h.transport.ForSession(g)
	}
	return h.transport.ForSession(anonymous{})
}

func (h *Handlers) setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.Auth.SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.config.Auth.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(h.config.Auth.SessionTTL),
	})
}

func (h *Handlers) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.config.Auth.SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.config.Auth.CookieSecure,
		MaxAge:   -1,
	})
}

func (h *Handlers) sessionExpired(w http.ResponseWriter, message string) {
	response.SessionExpired(w, message, h.config.Auth.LoginPath)
}

// decode reads a JSON body into dst and runs its validate tags.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			response.Write(w, http.StatusBadRequest, response.ErrorResponse{
				Error: fe.Field() + " failed the " + fe.Tag() + " check",
				Code:  response.CodeValidation,
				Field: fe.Field(),
			})
			return false
		}
		response.BadRequest(w, err.Error())
		return false
	}
	return true
}

func parsePage(r *http.Request) domain.PageParams {
	p := domain.PageParams{Page: 1, Limit: 10}
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		p.Page = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		p.Limit = v
	}
	return p
}

// fail maps a domain or upstream error onto the HTTP error envelope.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	var (
		validation  *pricing.ValidationError
		invalid     *pricing.InvalidInputError
		unavailable *booking.UnavailableError
		apiErr      *apiclient.APIError
		netErr      *apiclient.NetworkError
	)

	switch {
	case session.RequiresLogin(err), errors.Is(err, session.ErrAuthFailed), errors.Is(err, session.ErrInvalidToken):
		logger.InfoContext(ctx, "Session requires login", "error", err)
		h.sessionExpired(w, "Your session has expired, please sign in again")

	case errors.As(err, &validation):
		body := response.ErrorResponse{Error: validation.Message, Code: validation.Code, Field: validation.Field}
		if validation.Max > 0 || validation.Min > 0 {
			body.Allowed = &response.Range{Min: validation.Min, Max: validation.Max}
		}
		response.Write(w, http.StatusBadRequest, body)

	case errors.As(err, &invalid):
		response.WriteError(w, http.StatusBadRequest, invalid.Error(), response.CodeInvalidInput)

	case errors.As(err, &unavailable):
		response.Write(w, http.StatusConflict, response.ErrorResponse{
			Error:     availability.ErrUnavailable.Error(),
			Code:      response.CodeUnavailable,
			Conflicts: rangeViews(unavailable.Conflicts),
		})

	case errors.Is(err, availability.ErrWrongListing):
		response.BadRequest(w, err.Error())

	case errors.Is(err, repository.ErrQuoteNotFound), errors.Is(err, booking.ErrQuoteAuditDisabled):
		response.NotFound(w, "Quote not found")

	case errors.Is(err, booking.ErrNotListingOwner):
		response.Forbidden(w, err.Error())

	case apiclient.IsNotFound(err):
		response.NotFound(w, "Resource not found")

	case errors.As(err, &netErr):
		logger.ErrorContext(ctx, "Upstream unreachable", "error", err)
		response.BadGateway(w, "The booking service is unreachable, please retry", response.CodeNetwork)

	case errors.As(err, &apiErr):
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			code := apiErr.Code
			if code == "" {
				code = response.CodeInvalidInput
			}
			response.WriteError(w, apiErr.Status, apiErr.Message, code)
			return
		}
		logger.ErrorContext(ctx, "Upstream error", "error", err)
		response.BadGateway(w, "The booking service failed, please retry", response.CodeUpstream)

	default:
		logger.ErrorContext(ctx, "Request failed", "error", err)
		response.InternalError(w, "Internal server error")
	}
}

type rangeView struct {
	ID        string `json:"id,omitempty"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Reason    string `json:"reason,omitempty"`
}

func rangeViews(ranges []availability.BlockedRange) []rangeView {
	out := make([]rangeView, 0, len(ranges))
	for _, b := range ranges {
		stay := b.Stay()
		out = append(out, rangeView{ID: b.ID, StartDate: stay.StartISO(), EndDate: stay.EndISO(), Reason: b.Reason})
	}
	return out
}

type ledgerView struct {
	ListingID string      `json:"listingId"`
	Blocked   []rangeView `json:"blocked"`
}

func viewLedger(l *availability.Ledger) ledgerView {
	return ledgerView{ListingID: l.ListingID, Blocked: rangeViews(l.Entries)}
}
