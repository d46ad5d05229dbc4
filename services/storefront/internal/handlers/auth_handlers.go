package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/diagnosis/staybook/internal/apiclient"
	"github.com/diagnosis/staybook/internal/http/response"
	"github.com/diagnosis/staybook/internal/session"
	"github.com/diagnosis/staybook/pkg/auth"
	"github.com/diagnosis/staybook/pkg/logger"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	FullName    string `json:"fullName" validate:"required"`
	PhoneNumber string `json:"phoneNumber"`
	UserType    string `json:"userType" validate:"omitempty,oneof=customer vendor"`
}

type sessionResponse struct {
	User    *auth.User `json:"user,omitempty"`
	State   string     `json:"state"`
	Message string     `json:"message,omitempty"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// retireSession ends the session the request arrived with. A successful sign-in
// always moves to a freshly issued session id, never one the client supplied.
func (h *Handlers) retireSession(r *http.Request) {
	old := guardFrom(r.Context())
	if old == nil {
		return
	}
	if old.State() != session.Unauthenticated {
		old.Logout(r.Context())
	}
	h.sessions.Forget(old.ID())
}

// POST /v1/auth/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Email = normalizeEmail(req.Email)

	guard, err := h.sessions.Get(r.Context(), "")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	user, err := guard.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.sessions.Forget(guard.ID())
		h.signInFailed(w, r, err)
		return
	}

	h.retireSession(r)
	h.setSessionCookie(w, guard.ID())
	ctx := context.WithValue(r.Context(), logger.SessionIDKey, guard.ID())
	logger.InfoContext(ctx, "User signed in", "user_id", user.UserID)
	response.WriteJSON(w, http.StatusOK, sessionResponse{User: user, State: guard.State().String()})
}

// POST /v1/auth/register
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Email = normalizeEmail(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	if req.UserType == "" {
		req.UserType = auth.RoleCustomer
	}

	guard, err := h.sessions.Get(r.Context(), "")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	user, err := guard.Register(r.Context(), session.RegisterRequest{
		Email:       req.Email,
		Password:    req.Password,
		FullName:    req.FullName,
		PhoneNumber: req.PhoneNumber,
		UserType:    req.UserType,
	})
	if err != nil {
		h.sessions.Forget(guard.ID())
		h.signInFailed(w, r, err)
		return
	}

	if user == nil {
		h.sessions.Forget(guard.ID())
		response.WriteJSON(w, http.StatusAccepted, sessionResponse{
			State:   guard.State().String(),
			Message: "Registration received, please verify your email before signing in",
		})
		return
	}

	h.retireSession(r)
	h.setSessionCookie(w, guard.ID())
	response.WriteJSON(w, http.StatusCreated, sessionResponse{User: user, State: guard.State().String()})
}

// signInFailed reports rejected credentials as 401 without pointing at the login page.
func (h *Handlers) signInFailed(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
		response.Unauthorized(w, "Invalid email or password")
		return
	}
	if errors.Is(err, session.ErrInvalidToken) {
		logger.ErrorContext(r.Context(), "Sign-in returned an unusable token", "error", err)
		response.BadGateway(w, "The booking service returned an invalid session", response.CodeUpstream)
		return
	}
	h.fail(w, r, err)
}

// POST /v1/auth/logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if guard := guardFrom(r.Context()); guard != nil {
		guard.Logout(r.Context())
		h.sessions.Forget(guard.ID())
	}
	h.clearSessionCookie(w)
	response.WriteJSON(w, http.StatusOK, map[string]string{"message": "Signed out"})
}

// GET /v1/auth/me
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	guard := guardFrom(r.Context())
	response.WriteJSON(w, http.StatusOK, sessionResponse{User: userFrom(r.Context()), State: guard.State().String()})
}
