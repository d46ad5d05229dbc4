package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store caches ledgers between requests. Load reports found=false on a miss.
// Implementations hand out copies, so callers may mutate what they load.
type Store interface {
	Load(ctx context.Context, listingID string) (ledger *Ledger, found bool, err error)
	Save(ctx context.Context, ledger *Ledger) error
	Invalidate(ctx context.Context, listingID string) error
}

type MemoryStore struct {
	mu      sync.RWMutex
	ledgers map[string]*Ledger
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ledgers: make(map[string]*Ledger)}
}

func (s *MemoryStore) Load(_ context.Context, listingID string) (*Ledger, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.ledgers[listingID]
	if !ok {
		return nil, false, nil
	}
	return l.Clone(), true, nil
}

func (s *MemoryStore) Save(_ context.Context, ledger *Ledger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledgers[ledger.ListingID] = ledger.Clone()
	return nil
}

func (s *MemoryStore) Invalidate(_ context.Context, listingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ledgers, listingID)
	return nil
}

// RedisStore keeps ledgers as JSON under ledger:<listingID> with a TTL, so every
// storefront replica sees the same snapshot until the upstream is consulted again.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	dedupe bool
}

func NewRedisStore(client *redis.Client, ttl time.Duration, dedupe bool) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, dedupe: dedupe}
}

func ledgerKey(listingID string) string { return "ledger:" + listingID }

func (s *RedisStore) Load(ctx context.Context, listingID string) (*Ledger, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	raw, err := s.client.Get(ctx, ledgerKey(listingID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load ledger %s: %w", listingID, err)
	}
	var l Ledger
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, false, fmt.Errorf("decode ledger %s: %w", listingID, err)
	}
	l.Dedupe = s.dedupe
	return &l, true, nil
}

func (s *RedisStore) Save(ctx context.Context, ledger *Ledger) error {
	payload, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("encode ledger %s: %w", ledger.ListingID, err)
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.client.Set(ctx, ledgerKey(ledger.ListingID), payload, s.ttl).Err()
}

func (s *RedisStore) Invalidate(ctx context.Context, listingID string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.client.Del(ctx, ledgerKey(listingID)).Err()
}
