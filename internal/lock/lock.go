// Package lock implements the named exclusive lock service used to
// serialize concurrent writers on the same scope (spec.md §4.4). A Lease
// carries a fencing token so a stale holder that wakes up after its TTL
// expired can never be mistaken for the current owner.
package lock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/splitledger/core/internal/metrics"
	"github.com/splitledger/core/internal/models"
	"github.com/splitledger/core/internal/storage"
)

// Lease is the receipt returned by a successful Acquire. Release and
// Extend both require it back, so an expired lease can't leak the
// fencing token elsewhere in the process.
type Lease struct {
	Name    string
	Fence   int64
	holder  string
	expires time.Time
}

// Backend is the compare-and-swap primitive the Service retries against.
// The in-process backend and the SQLite-backed storage.LockStore both
// satisfy it, so a single Service works unmodified whether the process is
// running standalone or as one of several instances behind a shared store.
type Backend interface {
	TryAcquire(ctx context.Context, name, holder string, ttl time.Duration) (fence int64, ok bool, err error)
	Extend(ctx context.Context, name string, fence int64, ttl time.Duration) error
	Release(ctx context.Context, name string, fence int64) error
}

// Service is C5 LockService. Acquire retries on a jittered schedule so
// that N contenders don't all retry in lockstep and livelock each other
// out past waitTimeout.
type Service struct {
	backend Backend
	holder  string
	limiter *rate.Limiter
}

// New builds a Service around backend. retryRate bounds how often this
// process may attempt a re-acquire against the backend; a burst of 1
// keeps retries evenly spaced instead of bursty.
func New(backend Backend, holder string, retryRate rate.Limit) *Service {
	return &Service{
		backend: backend,
		holder:  holder,
		limiter: rate.NewLimiter(retryRate, 1),
	}
}

// Acquire blocks (subject to ctx and waitTimeout) until name is free or
// the deadline passes, in which case it returns models.ErrLockTimeout.
func (s *Service) Acquire(ctx context.Context, name string, ttl, waitTimeout time.Duration) (*Lease, error) {
	start := time.Now()
	deadline := start.Add(waitTimeout)
	for {
		fence, ok, err := s.backend.TryAcquire(ctx, name, s.holder, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			metrics.LockWaitSeconds.WithLabelValues("acquired").Observe(time.Since(start).Seconds())
			return &Lease{Name: name, Fence: fence, holder: s.holder, expires: time.Now().Add(ttl)}, nil
		}
		if time.Now().After(deadline) {
			metrics.LockWaitSeconds.WithLabelValues("timeout").Observe(time.Since(start).Seconds())
			return nil, fmt.Errorf("%w: %s", models.ErrLockTimeout, name)
		}
		if err := s.wait(ctx, deadline); err != nil {
			return nil, err
		}
	}
}

// wait blocks for the limiter's next reservation, jittered by up to 20%,
// but never past deadline. Jitter avoids every contender retrying on the
// exact same tick after a lock frees up.
func (s *Service) wait(ctx context.Context, deadline time.Time) error {
	r := s.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("%w: retry budget exhausted", models.ErrLockTimeout)
	}
	d := r.Delay()
	jitter := time.Duration(rand.Int63n(int64(d)/5 + 1))
	d += jitter
	if until := time.Until(deadline); d > until {
		d = until
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Release is idempotent: releasing a lease whose fence has already been
// superseded (or that never existed) is a no-op, matching spec.md §4.4.
func (s *Service) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	return s.backend.Release(ctx, lease.Name, lease.Fence)
}

// Extend pushes the lease's expiry out by ttl, failing with
// models.ErrFenced if another holder has since acquired the lock.
func (s *Service) Extend(ctx context.Context, lease *Lease, ttl time.Duration) error {
	if err := s.backend.Extend(ctx, lease.Name, lease.Fence, ttl); err != nil {
		return err
	}
	lease.expires = time.Now().Add(ttl)
	return nil
}

// WithLock acquires name, runs fn with the acquired Lease, and always
// releases afterward, mirroring the acquire/defer-release pattern spec.md
// §4.7 describes for LedgerService.postExpense and settle. fn is handed the
// Lease so a caller doing more than one write inside the critical section
// can re-validate it via Extend between writes and reject the remainder of
// the operation the moment a newer holder has fenced it out.
func (s *Service) WithLock(ctx context.Context, name string, ttl, waitTimeout time.Duration, fn func(ctx context.Context, lease *Lease) error) error {
	lease, err := s.Acquire(ctx, name, ttl, waitTimeout)
	if err != nil {
		return err
	}
	defer s.Release(context.WithoutCancel(ctx), lease)
	return fn(ctx, lease)
}

// memoryRow is one held lock in the in-process backend.
type memoryRow struct {
	holder  string
	fence   int64
	expires time.Time
}

// MemoryBackend is the single-instance Backend: an in-process mutex-guarded
// map. It never talks to storage, so it's the right choice for a
// standalone process and the wrong one the moment a second instance joins
// (spec.md §4.4's "refuses to start in multi-instance mode without the
// distributed backend").
type MemoryBackend struct {
	mu   sync.Mutex
	rows map[string]memoryRow
}

// NewMemoryBackend returns a ready-to-use process-local Backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{rows: make(map[string]memoryRow)}
}

func (m *MemoryBackend) TryAcquire(_ context.Context, name, holder string, ttl time.Duration) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	row, exists := m.rows[name]
	if exists && row.expires.After(now) {
		return 0, false, nil
	}
	fence := row.fence + 1
	m.rows[name] = memoryRow{holder: holder, fence: fence, expires: now.Add(ttl)}
	return fence, true, nil
}

func (m *MemoryBackend) Extend(_ context.Context, name string, fence int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, exists := m.rows[name]
	if !exists || row.fence != fence || row.expires.IsZero() {
		return models.ErrFenced
	}
	row.expires = time.Now().Add(ttl)
	m.rows[name] = row
	return nil
}

func (m *MemoryBackend) Release(_ context.Context, name string, fence int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, exists := m.rows[name]; exists && row.fence == fence {
		// Keep the fence so the next TryAcquire issues fence+1; a zero
		// expiry marks the row as released.
		m.rows[name] = memoryRow{fence: row.fence}
	}
	return nil
}

// storeBackend adapts a storage.LockStore into a Backend so the Service
// works identically whether the backend lives in-process or in SQLite.
type storeBackend struct {
	store storage.LockStore
}

// NewStoreBackend wraps store (typically *sqlite.Store) as a distributed
// Backend, giving every instance sharing that database a consistent view
// of who holds each named lock.
func NewStoreBackend(store storage.LockStore) Backend {
	return &storeBackend{store: store}
}

func (b *storeBackend) TryAcquire(ctx context.Context, name, holder string, ttl time.Duration) (int64, bool, error) {
	return b.store.TryAcquireLock(ctx, name, holder, ttl)
}

func (b *storeBackend) Extend(ctx context.Context, name string, fence int64, ttl time.Duration) error {
	return b.store.ExtendLock(ctx, name, fence, ttl)
}

func (b *storeBackend) Release(ctx context.Context, name string, fence int64) error {
	err := b.store.ReleaseLock(ctx, name, fence)
	if errors.Is(err, models.ErrFenced) {
		return nil
	}
	return err
}
