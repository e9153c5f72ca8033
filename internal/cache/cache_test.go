package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGetSetDel(t *testing.T) {
	c := New()
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected miss on empty cache")
	}
	c.SetEx("k", []byte("v"), time.Second)
	v, ok := c.Get("k")
	if !ok || string(v) != "v" {
		t.Fatalf("expected hit v, got %q ok=%v", v, ok)
	}
	c.Del("k")
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected miss after Del")
	}
}

func TestExpiry(t *testing.T) {
	c := New()
	c.SetEx("k", []byte("v"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected expired entry to miss")
	}
}

func TestDelPrefix(t *testing.T) {
	c := New()
	c.SetEx("user:1:view", []byte("a"), time.Minute)
	c.SetEx("user:1:matrix", []byte("b"), time.Minute)
	c.SetEx("user:2:view", []byte("c"), time.Minute)
	c.DelPrefix("user:1:")
	if _, ok := c.Get("user:1:view"); ok {
		t.Fatalf("expected user:1:view invalidated")
	}
	if _, ok := c.Get("user:2:view"); !ok {
		t.Fatalf("expected user:2:view untouched")
	}
}

func TestGetOrCompute_CollapsesConcurrentMisses(t *testing.T) {
	c := New()
	var calls int64
	var wg sync.WaitGroup
	results := make([][]byte, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v, err := c.GetOrCompute(context.Background(), "k", time.Minute, false, func(ctx context.Context) ([]byte, error) {
				atomic.AddInt64(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				return []byte("computed"), nil
			})
			if err != nil {
				t.Errorf("getOrCompute: %v", err)
			}
			results[idx] = v
		}(i)
	}
	wg.Wait()
	if calls != 1 {
		t.Fatalf("expected exactly one producer call, got %d", calls)
	}
	for _, r := range results {
		if string(r) != "computed" {
			t.Fatalf("expected all callers to see the computed value, got %q", r)
		}
	}
}

func TestGetOrCompute_FreshBypassesCache(t *testing.T) {
	c := New()
	c.SetEx("k", []byte("stale"), time.Minute)
	v, err := c.GetOrCompute(context.Background(), "k", time.Minute, true, func(ctx context.Context) ([]byte, error) {
		return []byte("fresh"), nil
	})
	if err != nil {
		t.Fatalf("getOrCompute: %v", err)
	}
	if string(v) != "fresh" {
		t.Fatalf("expected fresh=true to bypass cache, got %q", v)
	}
}

func TestGetOrCompute_ProducerErrorNotCached(t *testing.T) {
	c := New()
	wantErr := errors.New("store unavailable")
	_, err := c.GetOrCompute(context.Background(), "k", time.Minute, false, func(ctx context.Context) ([]byte, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected producer error to propagate, got %v", err)
	}
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected failed compute to leave no cache entry")
	}
}
