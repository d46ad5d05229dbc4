package availability

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/diagnosis/staybook/internal/pricing"
)

// ---------- Mocks ----------

type mockUpstream struct {
	ranges     []BlockedRange
	fetches    int
	blocked    []pricing.StayRange
	unblocked  []Key
	blockErr   error
	unblockErr error
	fetchErr   error
}

func (m *mockUpstream) GetAvailability(_ context.Context, _ string) ([]BlockedRange, error) {
	m.fetches++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return append([]BlockedRange(nil), m.ranges...), nil
}

func (m *mockUpstream) BlockDates(_ context.Context, _ string, r pricing.StayRange, _ string) error {
	if m.blockErr != nil {
		return m.blockErr
	}
	m.blocked = append(m.blocked, r)
	return nil
}

func (m *mockUpstream) UnblockDates(_ context.Context, _ string, key Key) error {
	if m.unblockErr != nil {
		return m.unblockErr
	}
	m.unblocked = append(m.unblocked, key)
	return nil
}

type mockPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (m *mockPublisher) Publish(_ context.Context, subject string, _ interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subjects = append(m.subjects, subject)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

// ---------- Tests ----------

func TestService_LedgerIsCachedAfterFirstFetch(t *testing.T) {
	ctx := context.Background()
	api := &mockUpstream{ranges: []BlockedRange{{Start: day("2025-03-12"), End: day("2025-03-20")}}}
	svc := NewService(NewMemoryStore(), &mockPublisher{}, false)

	for i := 0; i < 3; i++ {
		l, err := svc.Ledger(ctx, api, "lst-1")
		if err != nil {
			t.Fatalf("ledger: %v", err)
		}
		if len(l.Entries) != 1 || l.Entries[0].ListingID != "lst-1" {
			t.Fatalf("unexpected ledger %+v", l)
		}
	}
	if api.fetches != 1 {
		t.Fatalf("fetches = %d, want 1", api.fetches)
	}
}

func TestService_IsRangeBookable(t *testing.T) {
	ctx := context.Background()
	api := &mockUpstream{ranges: []BlockedRange{{Start: day("2025-03-12"), End: day("2025-03-20")}}}
	svc := NewService(NewMemoryStore(), nil, false)

	ok, conflicts, err := svc.IsRangeBookable(ctx, api, "lst-1", stay("2025-03-10", "2025-03-15"))
	if err != nil || ok || len(conflicts) != 1 {
		t.Fatalf("got ok=%v conflicts=%d err=%v; want unavailable with 1 conflict", ok, len(conflicts), err)
	}

	ok, _, err = svc.IsRangeBookable(ctx, api, "lst-1", stay("2025-03-20", "2025-03-22"))
	if err != nil || !ok {
		t.Fatalf("range starting at block end should be bookable: ok=%v err=%v", ok, err)
	}

	_, _, err = svc.IsRangeBookable(ctx, api, "lst-1", pricing.StayRange{})
	if !errors.Is(err, pricing.ErrDatesMissing) {
		t.Fatalf("err = %v, want ErrDatesMissing", err)
	}
}

func TestService_BlockAndUnblock(t *testing.T) {
	ctx := context.Background()
	api := &mockUpstream{}
	pub := &mockPublisher{}
	store := NewMemoryStore()
	svc := NewService(store, pub, false)

	r := stay("2025-06-01", "2025-06-05")
	l, err := svc.Block(ctx, api, "vendor-1", "lst-1", r, "maintenance")
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if len(l.Entries) != 1 || len(api.blocked) != 1 {
		t.Fatalf("entries=%d upstream=%d, want 1/1", len(l.Entries), len(api.blocked))
	}

	cached, found, _ := store.Load(ctx, "lst-1")
	if !found || len(cached.Entries) != 1 {
		t.Fatal("block must be reflected in the cache")
	}

	l, err = svc.Unblock(ctx, api, "vendor-1", "lst-1", RangeKey(r))
	if err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if len(l.Entries) != 0 || len(api.unblocked) != 1 {
		t.Fatalf("entries=%d upstream=%d, want 0/1", len(l.Entries), len(api.unblocked))
	}

	want := []string{"availability.blocked", "availability.unblocked"}
	if len(pub.subjects) != 2 || pub.subjects[0] != want[0] || pub.subjects[1] != want[1] {
		t.Fatalf("published %v, want %v", pub.subjects, want)
	}
}

func TestService_BlockUpstreamFailureLeavesCacheUntouched(t *testing.T) {
	ctx := context.Background()
	api := &mockUpstream{blockErr: errors.New("boom")}
	store := NewMemoryStore()
	svc := NewService(store, nil, false)

	if _, err := svc.Block(ctx, api, "vendor-1", "lst-1", stay("2025-06-01", "2025-06-05"), ""); err == nil {
		t.Fatal("expected error")
	}
	cached, found, _ := store.Load(ctx, "lst-1")
	if !found || len(cached.Entries) != 0 {
		t.Fatalf("cache should still hold the fetched, empty ledger: found=%v", found)
	}
}

func TestService_BlockDuplicateUnderDedupeSkipsUpstream(t *testing.T) {
	ctx := context.Background()
	api := &mockUpstream{}
	svc := NewService(NewMemoryStore(), nil, true)
	r := stay("2025-06-01", "2025-06-05")

	for i := 0; i < 2; i++ {
		if _, err := svc.Block(ctx, api, "vendor-1", "lst-1", r, ""); err != nil {
			t.Fatalf("block #%d: %v", i, err)
		}
	}
	if len(api.blocked) != 1 {
		t.Fatalf("upstream block calls = %d, want 1", len(api.blocked))
	}
}

func TestService_UnblockValidation(t *testing.T) {
	svc := NewService(NewMemoryStore(), nil, false)
	api := &mockUpstream{}

	_, err := svc.Unblock(context.Background(), api, "v", "lst-1", Key{})
	if !errors.Is(err, pricing.ErrDatesMissing) {
		t.Fatalf("err = %v, want ErrDatesMissing", err)
	}
	_, err = svc.Unblock(context.Background(), api, "v", "lst-1", Key{Start: day("2025-06-05"), End: day("2025-06-01")})
	if !errors.Is(err, pricing.ErrEndNotAfterStart) {
		t.Fatalf("err = %v, want ErrEndNotAfterStart", err)
	}
	if len(api.unblocked) != 0 {
		t.Fatal("invalid keys must not reach the API")
	}
}
