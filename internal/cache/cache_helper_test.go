package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type cachedAttempt struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
}

func newTestHelper(t *testing.T) (*CacheHelper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCacheHelper(client, "attempt:"), mr
}

func TestCacheHelperSetGet(t *testing.T) {
	helper, _ := newTestHelper(t)
	ctx := context.Background()

	in := cachedAttempt{ID: "att-1", Version: 3}
	if err := helper.Set(ctx, "id:att-1", in, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var out cachedAttempt
	if err := helper.Get(ctx, "id:att-1", &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out != in {
		t.Errorf("Get = %+v, want %+v", out, in)
	}
}

func TestCacheHelperGetMiss(t *testing.T) {
	helper, _ := newTestHelper(t)

	var out cachedAttempt
	if err := helper.Get(context.Background(), "id:missing", &out); err != ErrCacheNotFound {
		t.Errorf("Get miss = %v, want ErrCacheNotFound", err)
	}
}

func TestCacheHelperNilClientDegradesGracefully(t *testing.T) {
	helper := NewCacheHelper(nil, "attempt:")
	ctx := context.Background()

	if err := helper.Set(ctx, "id:x", cachedAttempt{}, time.Minute); err != nil {
		t.Errorf("Set with nil client = %v, want nil", err)
	}
	if err := helper.Get(ctx, "id:x", &cachedAttempt{}); err != ErrCacheNotAvailable {
		t.Errorf("Get with nil client = %v, want ErrCacheNotAvailable", err)
	}
	if err := helper.Delete(ctx, "id:x"); err != nil {
		t.Errorf("Delete with nil client = %v, want nil", err)
	}
}

func TestCacheHelperInvalidatePattern(t *testing.T) {
	helper, mr := newTestHelper(t)
	ctx := context.Background()

	for _, key := range []string{"id:att-1", "id:att-1:answers", "id:att-2"} {
		if err := helper.Set(ctx, key, cachedAttempt{ID: key}, time.Minute); err != nil {
			t.Fatalf("Set %s: %v", key, err)
		}
	}

	if err := helper.InvalidatePattern(ctx, "id:att-1*"); err != nil {
		t.Fatalf("InvalidatePattern: %v", err)
	}

	if mr.Exists("attempt:id:att-1") || mr.Exists("attempt:id:att-1:answers") {
		t.Error("expected att-1 keys to be invalidated")
	}
	if !mr.Exists("attempt:id:att-2") {
		t.Error("att-2 should survive invalidation")
	}
}

func TestCacheOrExecute(t *testing.T) {
	helper, _ := newTestHelper(t)
	ctx := context.Background()

	calls := 0
	fetch := func() (interface{}, error) {
		calls++
		return cachedAttempt{ID: "att-9", Version: 1}, nil
	}

	var out cachedAttempt
	if err := helper.CacheOrExecute(ctx, "id:att-9", &out, time.Minute, fetch); err != nil {
		t.Fatalf("CacheOrExecute: %v", err)
	}
	if calls != 1 || out.ID != "att-9" {
		t.Errorf("first call: calls=%d out=%+v", calls, out)
	}

	// Backfill is async; wait for the key to appear before the second read.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ok, _ := helper.Exists(ctx, "id:att-9"); ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	var out2 cachedAttempt
	if err := helper.CacheOrExecute(ctx, "id:att-9", &out2, time.Minute, fetch); err != nil {
		t.Fatalf("CacheOrExecute second: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected cached read to skip fetch, calls=%d", calls)
	}
}
