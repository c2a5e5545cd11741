package cache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/mining-ledger/internal/infra/cache"
)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("products", "catalog-v1")
	val, ok := c.Get("products")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val != "catalog-v1" {
		t.Errorf("expected 'catalog-v1', got '%s'", val)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	_, ok := c.Get("nonexistent")
	if ok {
		t.Fatal("expected cache miss for nonexistent key")
	}
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)
	defer c.Close()

	c.Set("role:u1", "admin")
	time.Sleep(100 * time.Millisecond)

	_, ok := c.Get("role:u1")
	if ok {
		t.Fatal("expected cache entry to be expired")
	}
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string](5 * time.Minute)
	defer c.Close()

	c.Set("role:u1", "admin")
	c.Delete("role:u1")

	_, ok := c.Get("role:u1")
	if ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestCache_GetOrLoadSharesOneLoad(t *testing.T) {
	c := cache.New[int](5 * time.Minute)
	defer c.Close()

	var loads atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (int, error) {
		loads.Add(1)
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "products", load)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			results[i] = v
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := loads.Load(); n != 1 {
		t.Errorf("expected a single load, got %d", n)
	}
	for i, v := range results {
		if v != 42 {
			t.Errorf("caller %d got %d, want 42", i, v)
		}
	}
}

func TestCache_GetOrLoadDoesNotCacheErrors(t *testing.T) {
	c := cache.New[int](5 * time.Minute)
	defer c.Close()

	_, err := c.GetOrLoad(context.Background(), "products", func(context.Context) (int, error) {
		return 0, errors.New("store down")
	})
	if err == nil {
		t.Fatal("expected load error")
	}

	v, err := c.GetOrLoad(context.Background(), "products", func(context.Context) (int, error) {
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 7 {
		t.Errorf("expected 7, got %d", v)
	}
}
