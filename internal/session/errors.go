package session

import "errors"

var (
	// ErrAuthFailed is what an upstream call returns when the API rejects the
	// bearer token. It is the signal that starts or joins a refresh.
	ErrAuthFailed = errors.New("authentication failed")

	ErrUnauthenticated = errors.New("not authenticated")
	ErrRefreshFailed   = errors.New("session refresh failed")
	ErrNoRefreshToken  = errors.New("no refresh token available")
	ErrLoggedOut       = errors.New("session logged out")
	ErrInvalidToken    = errors.New("token is malformed or expired")
)

// RefreshError carries the cause of a failed refresh. It matches ErrRefreshFailed.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return "session refresh failed: " + e.Err.Error()
}

func (e *RefreshError) Unwrap() error { return e.Err }

func (e *RefreshError) Is(target error) bool { return target == ErrRefreshFailed }

// RequiresLogin reports whether err means the user has to sign in again.
func RequiresLogin(err error) bool {
	return errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrRefreshFailed) ||
		errors.Is(err, ErrLoggedOut)
}
