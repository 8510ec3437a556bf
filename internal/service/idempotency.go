package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"pdv-haver/internal/clients"
)

// StoredResponse is the first response sent for an idempotency key.
type StoredResponse struct {
	StatusCode int             `json:"status"`
	Body       json.RawMessage `json:"body"`
}

// IdempotencyStore deduplicates retried requests that carry the same key.
type IdempotencyStore interface {
	// Begin reserves key for the caller (reserved == true), returns the
	// finished response of an earlier request, or reports neither while
	// another request with the key is still running.
	Begin(ctx context.Context, key string) (stored *StoredResponse, reserved bool, err error)
	Complete(ctx context.Context, key string, resp StoredResponse) error
	// Abort frees a reservation so the request can be retried.
	Abort(ctx context.Context, key string) error
}

type idempotencyRecord struct {
	State    string          `json:"state"`
	Response *StoredResponse `json:"response,omitempty"`
}

const (
	idemPending = "pending"
	idemDone    = "done"
)

type idempotencyRedis interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

type RedisIdempotencyStore struct {
	redis     idempotencyRedis
	ttl       time.Duration
	keyPrefix string
}

func NewRedisIdempotencyStore(redis idempotencyRedis, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{redis: redis, ttl: ttl, keyPrefix: "idempotency:"}
}

func (s *RedisIdempotencyStore) Begin(ctx context.Context, key string) (*StoredResponse, bool, error) {
	pending, _ := json.Marshal(idempotencyRecord{State: idemPending})

	ok, err := s.redis.SetNX(ctx, s.keyPrefix+key, string(pending), s.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if ok {
		return nil, true, nil
	}

	raw, err := s.redis.Get(ctx, s.keyPrefix+key)
	if errors.Is(err, clients.ErrCacheMiss) {
		// expired between the two calls; the client may simply retry
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read idempotency key: %w", err)
	}

	var rec idempotencyRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, false, fmt.Errorf("failed to decode idempotency record: %w", err)
	}
	if rec.State == idemDone && rec.Response != nil {
		return rec.Response, false, nil
	}
	return nil, false, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, key string, resp StoredResponse) error {
	data, err := json.Marshal(idempotencyRecord{State: idemDone, Response: &resp})
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, s.keyPrefix+key, string(data), s.ttl)
}

func (s *RedisIdempotencyStore) Abort(ctx context.Context, key string) error {
	return s.redis.Del(ctx, s.keyPrefix+key)
}

type memoryRecord struct {
	rec       idempotencyRecord
	expiresAt time.Time
}

// InMemoryIdempotencyStore serves single-instance installs without Redis.
type InMemoryIdempotencyStore struct {
	mu        sync.Mutex
	entries   map[string]memoryRecord
	ttl       time.Duration
	now       func() time.Time
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewInMemoryIdempotencyStore(ttl time.Duration) *InMemoryIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &InMemoryIdempotencyStore{
		entries:  make(map[string]memoryRecord),
		ttl:      ttl,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop()

	return s
}

func (s *InMemoryIdempotencyStore) Begin(_ context.Context, key string) (*StoredResponse, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		if e.rec.State == idemDone {
			resp := *e.rec.Response
			return &resp, false, nil
		}
		return nil, false, nil
	}

	s.entries[key] = memoryRecord{rec: idempotencyRecord{State: idemPending}, expiresAt: now.Add(s.ttl)}
	return nil, true, nil
}

func (s *InMemoryIdempotencyStore) Complete(_ context.Context, key string, resp StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryRecord{
		rec:       idempotencyRecord{State: idemDone, Response: &resp},
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

func (s *InMemoryIdempotencyStore) Abort(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (s *InMemoryIdempotencyStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
	return nil
}

func (s *InMemoryIdempotencyStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *InMemoryIdempotencyStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
		}
	}
}
