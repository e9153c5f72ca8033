package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/splitledger/core/internal/models"
)

func TestAcquireRelease_RoundTrip(t *testing.T) {
	svc := New(NewMemoryBackend(), "worker-1", 50)
	lease, err := svc.Acquire(context.Background(), "direct:u1", time.Second, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if lease.Fence != 1 {
		t.Fatalf("expected first fence to be 1, got %d", lease.Fence)
	}
	if err := svc.Release(context.Background(), lease); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := svc.Release(context.Background(), lease); err != nil {
		t.Fatalf("second release should be a no-op, got %v", err)
	}
}

func TestAcquire_TimesOutWhenHeld(t *testing.T) {
	backend := NewMemoryBackend()
	holder := New(backend, "worker-1", 50)
	contender := New(backend, "worker-2", 200)

	lease, err := holder.Acquire(context.Background(), "scope:g1", 500*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer holder.Release(context.Background(), lease)

	_, err = contender.Acquire(context.Background(), "scope:g1", 500*time.Millisecond, 60*time.Millisecond)
	if !errors.Is(err, models.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestAcquire_SucceedsAfterHolderReleases(t *testing.T) {
	backend := NewMemoryBackend()
	a := New(backend, "worker-1", 200)
	b := New(backend, "worker-2", 200)

	lease, err := a.Acquire(context.Background(), "scope:g1", 5*time.Second, time.Second)
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}

	done := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		a.Release(context.Background(), lease)
		close(done)
	}()

	lease2, err := b.Acquire(context.Background(), "scope:g1", time.Second, 2*time.Second)
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	<-done
	if lease2.Fence <= lease.Fence {
		t.Fatalf("expected an incremented fencing token, got %d after %d", lease2.Fence, lease.Fence)
	}
}

func TestExtend_FailsAfterFencedOut(t *testing.T) {
	backend := NewMemoryBackend()
	svc := New(backend, "worker-1", 200)

	lease, err := svc.Acquire(context.Background(), "direct:u1", 20*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(30 * time.Millisecond) // let it expire

	stolen, err := svc.Acquire(context.Background(), "direct:u1", time.Second, time.Second)
	if err != nil {
		t.Fatalf("re-acquire after expiry: %v", err)
	}
	if stolen.Fence <= lease.Fence {
		t.Fatalf("expected new fence to exceed stale one")
	}

	if err := svc.Extend(context.Background(), lease, time.Second); !errors.Is(err, models.ErrFenced) {
		t.Fatalf("expected ErrFenced extending a stale lease, got %v", err)
	}
}

func TestWithLock_MutualExclusion(t *testing.T) {
	backend := NewMemoryBackend()
	svc := New(backend, "worker-1", 500)

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := svc.WithLock(context.Background(), "direct:shared", 2*time.Second, 2*time.Second, func(ctx context.Context, lease *Lease) error {
				cur := atomic.LoadInt64(&counter)
				time.Sleep(time.Millisecond)
				atomic.StoreInt64(&counter, cur+1)
				return nil
			})
			if err != nil {
				t.Errorf("WithLock: %v", err)
			}
		}()
	}
	wg.Wait()
	if counter != 20 {
		t.Fatalf("expected serialized increments to total 20, got %d", counter)
	}
}
