package lock

import (
	"context"
	"sync"
	"time"
)

type lease struct {
	token     uint64
	payload   []byte
	pending   bool
	expiresAt time.Time
}

// table is a mutex-guarded map of expiring entries shared by the local types.
type table struct {
	mu      sync.Mutex
	entries map[string]lease
	seq     uint64
	now     func() time.Time
}

func newTable() *table {
	return &table{entries: make(map[string]lease), now: time.Now}
}

// live returns the entry if present and unexpired. Caller holds mu.
func (t *table) live(key string) (lease, bool) {
	e, ok := t.entries[key]
	if !ok {
		return lease{}, false
	}
	if t.now().After(e.expiresAt) {
		delete(t.entries, key)
		return lease{}, false
	}
	return e, true
}

// LocalLocker is an in-process port.Locker.
type LocalLocker struct {
	t *table
}

// NewLocalLocker creates an empty locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{t: newTable()}
}

// Acquire takes the lease if free or expired.
func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.t.mu.Lock()
	defer l.t.mu.Unlock()

	if _, held := l.t.live(key); held {
		return nil, false, nil
	}
	l.t.seq++
	token := l.t.seq
	l.t.entries[key] = lease{token: token, expiresAt: l.t.now().Add(ttl)}

	release := func(context.Context) error {
		l.t.mu.Lock()
		defer l.t.mu.Unlock()
		if e, ok := l.t.entries[key]; ok && e.token == token {
			delete(l.t.entries, key)
		}
		return nil
	}
	return release, true, nil
}

// LocalIdempotency is an in-process port.IdempotencyStore.
type LocalIdempotency struct {
	t *table
}

// NewLocalIdempotency creates an empty store.
func NewLocalIdempotency() *LocalIdempotency {
	return &LocalIdempotency{t: newTable()}
}

// Begin replays a finished response or reserves the key.
func (s *LocalIdempotency) Begin(_ context.Context, key string, ttl time.Duration) ([]byte, bool, error) {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()

	if e, ok := s.t.live(key); ok {
		if e.pending {
			return nil, false, nil
		}
		return e.payload, false, nil
	}
	s.t.entries[key] = lease{pending: true, expiresAt: s.t.now().Add(ttl)}
	return nil, true, nil
}

// Complete stores the final payload.
func (s *LocalIdempotency) Complete(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	s.t.entries[key] = lease{payload: payload, expiresAt: s.t.now().Add(ttl)}
	return nil
}

// Abort frees a reservation.
func (s *LocalIdempotency) Abort(_ context.Context, key string) error {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	delete(s.t.entries, key)
	return nil
}
