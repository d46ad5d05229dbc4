package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diagnosis/staybook/pkg/auth"
	"golang.org/x/sync/errgroup"
)

// ---------- Fakes ----------

type fakeAuthAPI struct {
	mu           sync.Mutex
	loginTokens  Tokens
	refreshToken string
	refreshErr   error
	logoutErr    error
	gate         chan struct{}

	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
}

func (f *fakeAuthAPI) Login(_ context.Context, _, _ string) (Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginTokens.AccessToken == "" {
		return Tokens{}, errors.New("invalid credentials")
	}
	return f.loginTokens, nil
}

func (f *fakeAuthAPI) Register(_ context.Context, _ RegisterRequest) (Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginTokens, nil
}

func (f *fakeAuthAPI) Refresh(_ context.Context, _ string) (string, error) {
	f.refreshCalls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	return f.refreshToken, nil
}

func (f *fakeAuthAPI) Logout(_ context.Context, _ string) error {
	f.logoutCalls.Add(1)
	return f.logoutErr
}

// fakeServer accepts only the token it currently considers valid.
type fakeServer struct {
	mu    sync.Mutex
	valid string
	calls map[string]int
}

func newFakeServer(valid string) *fakeServer {
	return &fakeServer{valid: valid, calls: make(map[string]int)}
}

func (s *fakeServer) call(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[token]++
	if token != s.valid {
		return ErrAuthFailed
	}
	return nil
}

func (s *fakeServer) count(token string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[token]
}

func mintToken(t *testing.T, userID string, ttl time.Duration) string {
	t.Helper()
	tok, err := auth.NewAccessToken(userID, userID+"@example.com", auth.RoleCustomer, "test-secret", ttl)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return tok
}

// authenticatedGuard returns a guard holding a stale token and an API that refreshes
// it to a fresh one.
func authenticatedGuard(t *testing.T, api *fakeAuthAPI) (*Guard, *MemoryStorage, string, string) {
	t.Helper()
	stale := mintToken(t, "u-1", time.Hour)
	fresh := mintToken(t, "u-1", 2*time.Hour)
	api.loginTokens = Tokens{AccessToken: stale, RefreshToken: "refresh-1"}
	api.refreshToken = fresh

	storage := NewMemoryStorage()
	g := NewGuard("sid-1", api, storage)
	if _, err := g.Login(context.Background(), "u-1@example.com", "pw"); err != nil {
		t.Fatalf("login: %v", err)
	}
	return g, storage, stale, fresh
}

func waitForQueue(t *testing.T, g *Guard, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for g.Waiting() < n {
		if time.Now().After(deadline) {
			t.Fatalf("queue length %d, want %d", g.Waiting(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

// ---------- Tests ----------

func TestGuard_LoginPersistsTokens(t *testing.T) {
	api := &fakeAuthAPI{}
	g, storage, stale, _ := authenticatedGuard(t, api)

	if g.State() != Authenticated {
		t.Fatalf("state = %v, want authenticated", g.State())
	}
	u := g.CurrentUser()
	if u == nil || u.UserID != "u-1" {
		t.Fatalf("current user = %+v", u)
	}
	stored, _ := storage.Load(context.Background(), "sid-1")
	if stored.AccessToken != stale || stored.RefreshToken != "refresh-1" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestGuard_LoginRejectsExpiredToken(t *testing.T) {
	api := &fakeAuthAPI{loginTokens: Tokens{AccessToken: mintToken(t, "u-1", -time.Minute)}}
	g := NewGuard("sid-1", api, NewMemoryStorage())

	if _, err := g.Login(context.Background(), "a", "b"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
	if g.State() != Unauthenticated {
		t.Fatalf("state = %v", g.State())
	}
}

func TestGuard_ConcurrentAuthFailuresShareOneRefresh(t *testing.T) {
	api := &fakeAuthAPI{gate: make(chan struct{})}
	g, storage, stale, fresh := authenticatedGuard(t, api)
	server := newFakeServer(fresh)

	var eg errgroup.Group
	for i := 0; i < 3; i++ {
		eg.Go(func() error { return g.Do(context.Background(), server.call) })
	}

	waitForQueue(t, g, 2)
	if g.State() != Refreshing {
		t.Fatalf("state = %v, want refreshing", g.State())
	}
	close(api.gate)

	if err := eg.Wait(); err != nil {
		t.Fatalf("calls should succeed after refresh: %v", err)
	}
	if n := api.refreshCalls.Load(); n != 1 {
		t.Fatalf("refresh calls = %d, want 1", n)
	}
	if n := server.count(fresh); n != 3 {
		t.Fatalf("replayed calls = %d, want 3", n)
	}
	if n := server.count(stale); n < 1 {
		t.Fatalf("calls with stale token = %d, want at least 1", n)
	}
	if g.State() != Authenticated {
		t.Fatalf("state = %v", g.State())
	}
	stored, _ := storage.Load(context.Background(), "sid-1")
	if stored.AccessToken != fresh || stored.RefreshToken != "refresh-1" {
		t.Fatal("refreshed token must be persisted with the original refresh token")
	}
}

func TestGuard_RefreshFailureRejectsEveryWaiter(t *testing.T) {
	api := &fakeAuthAPI{gate: make(chan struct{}), refreshErr: errors.New("refresh token revoked")}
	g, storage, _, fresh := authenticatedGuard(t, api)
	server := newFakeServer(fresh)

	errs := make([]error, 3)
	var eg errgroup.Group
	for i := range errs {
		eg.Go(func() error {
			errs[i] = g.Do(context.Background(), server.call)
			return nil
		})
	}

	waitForQueue(t, g, 2)
	close(api.gate)
	_ = eg.Wait()

	for i, err := range errs {
		if !errors.Is(err, ErrRefreshFailed) {
			t.Fatalf("call %d err = %v, want ErrRefreshFailed", i, err)
		}
		if !RequiresLogin(err) {
			t.Fatalf("call %d should require login", i)
		}
	}
	if n := api.refreshCalls.Load(); n != 1 {
		t.Fatalf("refresh calls = %d, want 1", n)
	}
	if n := server.count(fresh); n != 0 {
		t.Fatalf("no call should be replayed, got %d", n)
	}
	if g.State() != Unauthenticated || g.CurrentUser() != nil {
		t.Fatal("session must be cleared")
	}
	stored, _ := storage.Load(context.Background(), "sid-1")
	if !stored.IsZero() {
		t.Fatalf("storage not cleared: %+v", stored)
	}
}

func TestGuard_MissingRefreshTokenFailsRefresh(t *testing.T) {
	api := &fakeAuthAPI{}
	api.loginTokens = Tokens{AccessToken: mintToken(t, "u-1", time.Hour)}
	g := NewGuard("sid-1", api, NewMemoryStorage())
	if _, err := g.Login(context.Background(), "a", "b"); err != nil {
		t.Fatalf("login: %v", err)
	}

	err := g.Do(context.Background(), newFakeServer("other").call)
	if !errors.Is(err, ErrRefreshFailed) || !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("err = %v, want refresh failure caused by missing refresh token", err)
	}
	if api.refreshCalls.Load() != 0 {
		t.Fatal("no refresh request should be sent without a refresh token")
	}
}

func TestGuard_NonAuthErrorsPassThrough(t *testing.T) {
	api := &fakeAuthAPI{}
	g, _, _, _ := authenticatedGuard(t, api)
	boom := errors.New("upstream 500")

	err := g.Do(context.Background(), func(context.Context, string) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if api.refreshCalls.Load() != 0 {
		t.Fatal("only auth failures may trigger a refresh")
	}
}

func TestGuard_ReplayHappensOnlyOnce(t *testing.T) {
	api := &fakeAuthAPI{}
	g, _, _, _ := authenticatedGuard(t, api)
	server := newFakeServer("never-valid")

	err := g.Do(context.Background(), server.call)
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("err = %v, want the replayed auth failure", err)
	}
	if api.refreshCalls.Load() != 1 {
		t.Fatalf("refresh calls = %d, want 1", api.refreshCalls.Load())
	}
}

func TestGuard_DoWhileUnauthenticated(t *testing.T) {
	g := NewGuard("sid-1", &fakeAuthAPI{}, NewMemoryStorage())
	called := false
	err := g.Do(context.Background(), func(context.Context, string) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrUnauthenticated) || called {
		t.Fatalf("err = %v called = %v", err, called)
	}
}

func TestGuard_LogoutClearsEvenWhenUpstreamFails(t *testing.T) {
	api := &fakeAuthAPI{logoutErr: errors.New("network down")}
	g, storage, _, _ := authenticatedGuard(t, api)

	g.Logout(context.Background())

	if g.State() != Unauthenticated || g.CurrentUser() != nil {
		t.Fatal("logout must clear local state")
	}
	stored, _ := storage.Load(context.Background(), "sid-1")
	if !stored.IsZero() {
		t.Fatal("logout must clear storage")
	}
	if api.logoutCalls.Load() != 1 {
		t.Fatal("upstream logout should be attempted")
	}
}

func TestGuard_LogoutDuringRefreshDiscardsResult(t *testing.T) {
	api := &fakeAuthAPI{gate: make(chan struct{})}
	g, storage, _, fresh := authenticatedGuard(t, api)
	server := newFakeServer(fresh)

	errs := make([]error, 2)
	var eg errgroup.Group
	for i := range errs {
		eg.Go(func() error {
			errs[i] = g.Do(context.Background(), server.call)
			return nil
		})
	}
	waitForQueue(t, g, 1)

	g.Logout(context.Background())
	close(api.gate)
	_ = eg.Wait()

	for i, err := range errs {
		if !errors.Is(err, ErrLoggedOut) {
			t.Fatalf("call %d err = %v, want ErrLoggedOut", i, err)
		}
	}
	if g.State() != Unauthenticated {
		t.Fatalf("late refresh must not revive the session, state = %v", g.State())
	}
	stored, _ := storage.Load(context.Background(), "sid-1")
	if !stored.IsZero() {
		t.Fatal("late refresh must not be persisted")
	}
}

func TestGuard_CancelledWaiterDoesNotDisturbRefresh(t *testing.T) {
	api := &fakeAuthAPI{gate: make(chan struct{})}
	g, _, _, fresh := authenticatedGuard(t, api)
	server := newFakeServer(fresh)

	var eg errgroup.Group
	eg.Go(func() error { return g.Do(context.Background(), server.call) })
	for api.refreshCalls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Do(ctx, server.call) }()

	waitForQueue(t, g, 1)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled waiter err = %v", err)
	}

	close(api.gate)
	if err := eg.Wait(); err != nil {
		t.Fatalf("refreshing caller: %v", err)
	}
	if g.State() != Authenticated {
		t.Fatalf("state = %v", g.State())
	}
}

func TestGuard_Restore(t *testing.T) {
	valid := mintToken(t, "u-1", time.Hour)
	expired := mintToken(t, "u-1", -time.Minute)
	fresh := mintToken(t, "u-1", 2*time.Hour)

	tests := []struct {
		name        string
		stored      Tokens
		refreshErr  error
		wantState   State
		wantRefresh int32
		wantCleared bool
	}{
		{"nothing stored", Tokens{}, nil, Unauthenticated, 0, true},
		{"live token", Tokens{AccessToken: valid, RefreshToken: "r"}, nil, Authenticated, 0, false},
		{"expired with refresh token", Tokens{AccessToken: expired, RefreshToken: "r"}, nil, Authenticated, 1, false},
		{"expired without refresh token", Tokens{AccessToken: expired}, nil, Unauthenticated, 0, true},
		{"expired and refresh rejected", Tokens{AccessToken: expired, RefreshToken: "r"}, errors.New("revoked"), Unauthenticated, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			api := &fakeAuthAPI{refreshToken: fresh, refreshErr: tt.refreshErr}
			storage := NewMemoryStorage()
			if !tt.stored.IsZero() {
				_ = storage.Save(ctx, "sid-1", tt.stored)
			}

			g := NewGuard("sid-1", api, storage)
			if err := g.Restore(ctx); err != nil {
				t.Fatalf("restore: %v", err)
			}
			if g.State() != tt.wantState {
				t.Fatalf("state = %v, want %v", g.State(), tt.wantState)
			}
			if n := api.refreshCalls.Load(); n != tt.wantRefresh {
				t.Fatalf("refresh calls = %d, want %d", n, tt.wantRefresh)
			}
			stored, _ := storage.Load(ctx, "sid-1")
			if stored.IsZero() != tt.wantCleared {
				t.Fatalf("stored = %+v, cleared want %v", stored, tt.wantCleared)
			}
		})
	}
}

func TestGuard_RegisterWithoutTokenStaysSignedOut(t *testing.T) {
	g := NewGuard("sid-1", &fakeAuthAPI{}, NewMemoryStorage())
	u, err := g.Register(context.Background(), RegisterRequest{Email: "a@b.c", Password: "pw"})
	if err != nil || u != nil {
		t.Fatalf("u = %+v err = %v", u, err)
	}
	if g.State() != Unauthenticated {
		t.Fatalf("state = %v", g.State())
	}
}

func TestGuard_CurrentUserExpires(t *testing.T) {
	api := &fakeAuthAPI{loginTokens: Tokens{AccessToken: mintToken(t, "u-1", time.Hour)}}
	now := time.Now()
	g := NewGuard("sid-1", api, NewMemoryStorage(), WithClock(func() time.Time { return now }))
	if _, err := g.Login(context.Background(), "a", "b"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if g.CurrentUser() == nil {
		t.Fatal("user should be present")
	}
	now = now.Add(2 * time.Hour)
	if g.CurrentUser() != nil {
		t.Fatal("user must be nil once the token expired")
	}
}

func TestManager_GetRestoresOnceAndSweeps(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	_ = storage.Save(ctx, "sid-1", Tokens{AccessToken: mintToken(t, "u-1", time.Hour)})
	m := NewManager(&fakeAuthAPI{}, storage, nil)

	g1, err := m.Get(ctx, "sid-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	g2, _ := m.Get(ctx, "sid-1")
	if g1 != g2 {
		t.Fatal("same id must map to the same guard")
	}
	if g1.State() != Authenticated {
		t.Fatalf("state = %v", g1.State())
	}

	anon, _ := m.Get(ctx, "")
	if anon.ID() == "" || anon.ID() == "sid-1" {
		t.Fatalf("anonymous guard id = %q", anon.ID())
	}

	if n := m.Sweep(time.Now().Add(time.Hour), time.Minute); n != 2 {
		t.Fatalf("swept %d, want 2", n)
	}
	if m.Len() != 0 {
		t.Fatalf("len = %d", m.Len())
	}
}

func TestGuard_UserRefreshesExpiredToken(t *testing.T) {
	now := time.Now()
	api := &fakeAuthAPI{}
	api.loginTokens = Tokens{AccessToken: mintToken(t, "u-1", time.Hour), RefreshToken: "r"}
	api.refreshToken = mintToken(t, "u-1", 3*time.Hour)
	g := NewGuard("sid-1", api, NewMemoryStorage(), WithClock(func() time.Time { return now }))
	if _, err := g.Login(context.Background(), "a", "b"); err != nil {
		t.Fatalf("login: %v", err)
	}

	now = now.Add(2 * time.Hour)
	u, err := g.User(context.Background())
	if err != nil || u == nil || u.UserID != "u-1" {
		t.Fatalf("user = %+v err = %v", u, err)
	}
	if api.refreshCalls.Load() != 1 {
		t.Fatalf("refresh calls = %d", api.refreshCalls.Load())
	}

	if _, err := NewGuard("x", api, NewMemoryStorage()).User(context.Background()); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
}

// flakyStorage fails the first Load, then behaves.
type flakyStorage struct {
	*MemoryStorage
	failed atomic.Bool
}

func (s *flakyStorage) Load(ctx context.Context, id string) (Tokens, error) {
	if s.failed.CompareAndSwap(false, true) {
		return Tokens{}, errors.New("redis blip")
	}
	return s.MemoryStorage.Load(ctx, id)
}

func TestManager_GetRetriesFailedRestore(t *testing.T) {
	ctx := context.Background()
	storage := &flakyStorage{MemoryStorage: NewMemoryStorage()}
	_ = storage.Save(ctx, "sid-1", Tokens{AccessToken: mintToken(t, "u-1", time.Hour)})
	m := NewManager(&fakeAuthAPI{}, storage, nil)

	if _, err := m.Get(ctx, "sid-1"); err == nil {
		t.Fatal("first get should report the storage failure")
	}
	g, err := m.Get(ctx, "sid-1")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if g.State() != Authenticated {
		t.Fatalf("state = %v, want authenticated after the retry", g.State())
	}
}

// gatedStorage blocks Save until release is closed.
type gatedStorage struct {
	*MemoryStorage
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStorage) Save(ctx context.Context, id string, tokens Tokens) error {
	close(s.entered)
	<-s.release
	return s.MemoryStorage.Save(ctx, id, tokens)
}

func TestGuard_StorageWritesDoNotHoldTheStateLock(t *testing.T) {
	storage := &gatedStorage{MemoryStorage: NewMemoryStorage(), entered: make(chan struct{}), release: make(chan struct{})}
	api := &fakeAuthAPI{loginTokens: Tokens{AccessToken: mintToken(t, "u-1", time.Hour), RefreshToken: "r"}}
	g := NewGuard("sid-1", api, storage)

	done := make(chan error, 1)
	go func() {
		_, err := g.Login(context.Background(), "u-1@example.com", "pw")
		done <- err
	}()
	<-storage.entered

	state := make(chan State, 1)
	go func() { state <- g.State() }()
	select {
	case s := <-state:
		if s != Authenticated {
			t.Fatalf("state = %v", s)
		}
	case <-time.After(time.Second):
		t.Fatal("State blocked while the session was being saved")
	}

	close(storage.release)
	if err := <-done; err != nil {
		t.Fatalf("login: %v", err)
	}
	stored, _ := storage.Load(context.Background(), "sid-1")
	if stored.RefreshToken != "r" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestGuard_LogoutWinsOverSlowLoginSave(t *testing.T) {
	storage := &gatedStorage{MemoryStorage: NewMemoryStorage(), entered: make(chan struct{}), release: make(chan struct{})}
	api := &fakeAuthAPI{loginTokens: Tokens{AccessToken: mintToken(t, "u-1", time.Hour), RefreshToken: "r"}}
	g := NewGuard("sid-1", api, storage)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = g.Login(context.Background(), "u-1@example.com", "pw")
	}()
	<-storage.entered

	loggedOut := make(chan struct{})
	go func() {
		defer close(loggedOut)
		g.Logout(context.Background())
	}()
	close(storage.release)
	<-done
	<-loggedOut

	stored, _ := storage.Load(context.Background(), "sid-1")
	if !stored.IsZero() || g.State() != Unauthenticated {
		t.Fatalf("stored = %+v state = %v", stored, g.State())
	}
}
