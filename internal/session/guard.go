package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/diagnosis/staybook/pkg/auth"
	"github.com/diagnosis/staybook/pkg/events"
	"github.com/diagnosis/staybook/pkg/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type State int

const (
	Unauthenticated State = iota
	Authenticated
	Refreshing
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	default:
		return "unauthenticated"
	}
}

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FullName    string `json:"fullName"`
	PhoneNumber string `json:"phoneNumber"`
	UserType    string `json:"userType"`
}

// AuthAPI is the unauthenticated part of the marketplace API.
type AuthAPI interface {
	Login(ctx context.Context, email, password string) (Tokens, error)
	// Register may return zero Tokens when the account needs verification first.
	Register(ctx context.Context, req RegisterRequest) (Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (accessToken string, err error)
	Logout(ctx context.Context, accessToken string) error
}

// Call is one upstream request issued with a bearer token. It returns an error
// matching ErrAuthFailed when the API rejects the token.
type Call func(ctx context.Context, accessToken string) error

type refreshResult struct {
	token string
	err   error
}

// Guard owns one session's tokens. At most one refresh runs at a time; calls that
// hit an auth failure while it runs wait in a queue and are replayed once with the
// refreshed token, or rejected with the refresh error.
type Guard struct {
	id        string
	api       AuthAPI
	storage   Storage
	publisher events.Publisher
	now       func() time.Time

	refreshTimeout time.Duration

	restoreMu sync.Mutex
	restored  bool

	// persistMu orders storage writes so that mu is never held across I/O.
	persistMu sync.Mutex

	mu        sync.Mutex
	state     State
	tokens    Tokens
	user      *auth.User
	epoch     uint64
	waiters   []chan refreshResult
	refreshes int
	lastUsed  time.Time
}

type Option func(*Guard)

func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

func WithPublisher(p events.Publisher) Option {
	return func(g *Guard) { g.publisher = p }
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(g *Guard) { g.refreshTimeout = d }
}

func NewGuard(id string, api AuthAPI, storage Storage, opts ...Option) *Guard {
	g := &Guard{
		id:             id,
		api:            api,
		storage:        storage,
		now:            time.Now,
		refreshTimeout: 30 * time.Second,
		state:          Unauthenticated,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.lastUsed = g.now()
	return g
}

var tracer = otel.Tracer("github.com/diagnosis/staybook/internal/session")

func (g *Guard) ID() string { return g.id }

func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// CurrentUser returns the decoded user while the access token is unexpired.
func (g *Guard) CurrentUser() *auth.User {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.user == nil || !g.user.ExpiresAt.After(g.now()) {
		return nil
	}
	u := *g.user
	return &u
}

// User returns the signed-in user, refreshing first when the stored access token
// has already expired. It shares the refresh with any concurrent Do.
func (g *Guard) User(ctx context.Context) (*auth.User, error) {
	if u := g.CurrentUser(); u != nil {
		return u, nil
	}

	token, err := g.currentToken(ctx)
	if err != nil {
		return nil, err
	}
	if u := auth.Decode(token, g.now()); u != nil {
		return u, nil
	}
	if token, err = g.refreshAfter(ctx, token); err != nil {
		return nil, err
	}
	if u := auth.Decode(token, g.now()); u != nil {
		return u, nil
	}
	return nil, ErrInvalidToken
}

// Waiting is the number of calls queued behind the in-flight refresh.
func (g *Guard) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}

// Refreshes counts refresh calls issued to the API over the guard's lifetime.
func (g *Guard) Refreshes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refreshes
}

func (g *Guard) idleSince() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastUsed
}

func (g *Guard) Login(ctx context.Context, email, password string) (*auth.User, error) {
	tokens, err := g.api.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return g.establish(ctx, tokens)
}

// Register signs the user in when the API hands back a token, and otherwise leaves
// the session unauthenticated with a nil user.
func (g *Guard) Register(ctx context.Context, req RegisterRequest) (*auth.User, error) {
	tokens, err := g.api.Register(ctx, req)
	if err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" {
		return nil, nil
	}
	return g.establish(ctx, tokens)
}

func (g *Guard) establish(ctx context.Context, tokens Tokens) (*auth.User, error) {
	user := auth.Decode(tokens.AccessToken, g.now())
	if user == nil {
		return nil, ErrInvalidToken
	}

	g.mu.Lock()
	g.epoch++
	g.state = Authenticated
	g.tokens = tokens
	g.user = user
	g.lastUsed = g.now()
	epoch := g.epoch
	waiters := g.takeWaiters()
	g.mu.Unlock()

	if err := g.persist(ctx, epoch, tokens); err != nil {
		logger.ErrorContext(g.logContext(ctx), "Failed to persist session", "error", err)
	}
	notify(waiters, refreshResult{token: tokens.AccessToken})

	g.publish(ctx, events.SessionStarted, user.UserID, "")
	u := *user
	return &u, nil
}

// Restore loads persisted tokens until one attempt succeeds; a failed load is
// retried on the next call. A live access token authenticates immediately; an
// expired one is refreshed when a refresh token is stored.
func (g *Guard) Restore(ctx context.Context) error {
	g.restoreMu.Lock()
	defer g.restoreMu.Unlock()
	if g.restored {
		return nil
	}
	if err := g.restore(ctx); err != nil {
		return err
	}
	g.restored = true
	return nil
}

func (g *Guard) restore(ctx context.Context) error {
	tokens, err := g.storage.Load(ctx, g.id)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if tokens.IsZero() {
		return nil
	}

	if user := auth.Decode(tokens.AccessToken, g.now()); user != nil {
		g.mu.Lock()
		g.state = Authenticated
		g.tokens = tokens
		g.user = user
		g.mu.Unlock()
		return nil
	}

	if tokens.RefreshToken == "" {
		return g.storage.Clear(ctx, g.id)
	}

	g.mu.Lock()
	g.state = Authenticated
	g.tokens = tokens
	g.mu.Unlock()

	if _, err := g.refreshAfter(ctx, tokens.AccessToken); err != nil {
		logger.InfoContext(g.logContext(ctx), "Stored session could not be refreshed", "error", err)
	}
	return nil
}

// Do runs call with the current access token. If the API rejects the token, the
// call waits for a single shared refresh and is replayed once with the new token.
func (g *Guard) Do(ctx context.Context, call Call) error {
	token, err := g.currentToken(ctx)
	if err != nil {
		return err
	}

	err = call(ctx, token)
	if !errors.Is(err, ErrAuthFailed) {
		return err
	}

	fresh, err := g.refreshAfter(ctx, token)
	if err != nil {
		return err
	}
	return call(ctx, fresh)
}

func (g *Guard) currentToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	g.lastUsed = g.now()
	switch g.state {
	case Unauthenticated:
		g.mu.Unlock()
		return "", ErrUnauthenticated
	case Refreshing:
		ch := g.enqueue()
		g.mu.Unlock()
		return wait(ctx, ch)
	default:
		token := g.tokens.AccessToken
		g.mu.Unlock()
		return token, nil
	}
}

// refreshAfter returns a token newer than stale: it joins the in-flight refresh,
// reuses a token another caller already obtained, or starts the refresh itself.
func (g *Guard) refreshAfter(ctx context.Context, stale string) (string, error) {
	g.mu.Lock()
	switch g.state {
	case Unauthenticated:
		g.mu.Unlock()
		return "", ErrUnauthenticated
	case Refreshing:
		ch := g.enqueue()
		g.mu.Unlock()
		return wait(ctx, ch)
	}
	if g.tokens.AccessToken != stale {
		token := g.tokens.AccessToken
		g.mu.Unlock()
		return token, nil
	}

	g.state = Refreshing
	g.refreshes++
	epoch := g.epoch
	refreshToken := g.tokens.RefreshToken
	g.mu.Unlock()

	token, err := g.runRefresh(ctx, refreshToken)
	return g.finishRefresh(ctx, epoch, token, err)
}

func (g *Guard) runRefresh(ctx context.Context, refreshToken string) (string, error) {
	// the refresh outlives a caller that gives up; queued callers depend on it
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.refreshTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "session.refresh")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", g.id))

	if refreshToken == "" {
		span.SetStatus(codes.Error, ErrNoRefreshToken.Error())
		return "", ErrNoRefreshToken
	}

	token, err := g.api.Refresh(ctx, refreshToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh rejected")
		return "", err
	}
	if auth.Decode(token, g.now()) == nil {
		span.SetStatus(codes.Error, ErrInvalidToken.Error())
		return "", ErrInvalidToken
	}
	return token, nil
}

func (g *Guard) finishRefresh(ctx context.Context, epoch uint64, token string, refreshErr error) (string, error) {
	g.mu.Lock()

	if g.epoch != epoch {
		// logout or a new login happened while the refresh was in flight
		current, state := g.tokens.AccessToken, g.state
		g.mu.Unlock()
		if state == Authenticated {
			return current, nil
		}
		return "", ErrLoggedOut
	}

	waiters := g.takeWaiters()

	if refreshErr != nil {
		g.state = Unauthenticated
		g.tokens = Tokens{}
		g.user = nil
		g.epoch++
		cleared := g.epoch
		g.mu.Unlock()

		if clearErr := g.persist(ctx, cleared, Tokens{}); clearErr != nil {
			logger.ErrorContext(g.logContext(ctx), "Failed to clear session storage", "error", clearErr)
		}
		err := &RefreshError{Err: refreshErr}
		notify(waiters, refreshResult{err: err})
		logger.WarnContext(g.logContext(ctx), "Session refresh failed", "error", refreshErr, "queued", len(waiters))
		g.publish(ctx, events.SessionExpired, "", refreshErr.Error())
		return "", err
	}

	g.state = Authenticated
	g.tokens.AccessToken = token
	g.user = auth.Decode(token, g.now())
	tokens := g.tokens
	userID := ""
	if g.user != nil {
		userID = g.user.UserID
	}
	g.mu.Unlock()

	if saveErr := g.persist(ctx, epoch, tokens); saveErr != nil {
		logger.ErrorContext(g.logContext(ctx), "Failed to persist refreshed session", "error", saveErr)
	}
	notify(waiters, refreshResult{token: token})
	logger.DebugContext(g.logContext(ctx), "Session refreshed", "queued", len(waiters))
	g.publish(ctx, events.SessionRefreshed, userID, "")
	return token, nil
}

// Logout always tears the local session down first. The upstream logout is best
// effort and its failure is only logged.
func (g *Guard) Logout(ctx context.Context) {
	g.mu.Lock()
	access := g.tokens.AccessToken
	userID := ""
	if g.user != nil {
		userID = g.user.UserID
	}
	g.state = Unauthenticated
	g.tokens = Tokens{}
	g.user = nil
	g.epoch++
	epoch := g.epoch
	waiters := g.takeWaiters()
	g.mu.Unlock()

	if clearErr := g.persist(ctx, epoch, Tokens{}); clearErr != nil {
		logger.ErrorContext(g.logContext(ctx), "Failed to clear session storage", "error", clearErr)
	}
	notify(waiters, refreshResult{err: ErrLoggedOut})

	if access != "" {
		if err := g.api.Logout(ctx, access); err != nil {
			logger.WarnContext(g.logContext(ctx), "Upstream logout failed", "error", err)
		}
	}
	g.publish(ctx, events.SessionLoggedOut, userID, "")
}

// persist writes tokens, or clears them when zero, unless a later login or logout
// has moved the guard past epoch. It must be called without g.mu held.
func (g *Guard) persist(ctx context.Context, epoch uint64, tokens Tokens) error {
	g.persistMu.Lock()
	defer g.persistMu.Unlock()

	g.mu.Lock()
	stale := g.epoch != epoch
	g.mu.Unlock()
	if stale {
		return nil
	}

	if tokens.IsZero() {
		return g.storage.Clear(ctx, g.id)
	}
	return g.storage.Save(ctx, g.id, tokens)
}

// enqueue must be called with g.mu held.
func (g *Guard) enqueue() chan refreshResult {
	ch := make(chan refreshResult, 1)
	g.waiters = append(g.waiters, ch)
	return ch
}

// takeWaiters must be called with g.mu held.
func (g *Guard) takeWaiters() []chan refreshResult {
	w := g.waiters
	g.waiters = nil
	return w
}

func notify(waiters []chan refreshResult, res refreshResult) {
	for _, ch := range waiters {
		ch <- res
	}
}

// wait abandons the queue slot when ctx ends; the buffered channel absorbs the
// eventual result.
func wait(ctx context.Context, ch chan refreshResult) (string, error) {
	select {
	case res := <-ch:
		return res.token, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// logContext tags log lines with the session id exactly once.
func (g *Guard) logContext(ctx context.Context) context.Context {
	if ctx.Value(logger.SessionIDKey) == g.id {
		return ctx
	}
	return context.WithValue(ctx, logger.SessionIDKey, g.id)
}

func (g *Guard) publish(ctx context.Context, subject, userID, reason string) {
	if g.publisher == nil {
		return
	}
	ev := events.SessionEvent{SessionID: g.id, UserID: userID, Reason: reason, At: g.now()}
	if err := g.publisher.Publish(ctx, subject, ev); err != nil {
		logger.ErrorContext(g.logContext(ctx), "Failed to publish session event", "error", err, "subject", subject)
	}
}
