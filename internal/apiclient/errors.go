package apiclient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/diagnosis/staybook/internal/session"
)

// APIError is a non-2xx answer from the marketplace API. A 401 matches
// session.ErrAuthFailed so the session guard can refresh and replay.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == session.ErrAuthFailed && e.Status == http.StatusUnauthorized
}

// NetworkError means the API could not be reached or its answer could not be read.
// The client never retries on its own.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return "network error during " + e.Op + ": " + e.Err.Error() }

func (e *NetworkError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
