package redisstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestGetSetNXDel_HappyPath(t *testing.T) {
	rc, _ := newMini(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, ok, err := rc.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("Get missing: ok=%v err=%v", ok, err)
	}
	created, err := rc.SetNX(ctx, "k", []byte("v1"), 0)
	if err != nil || !created {
		t.Fatalf("SetNX first: created=%v err=%v", created, err)
	}
	created, err = rc.SetNX(ctx, "k", []byte("v2"), 0)
	if err != nil || created {
		t.Fatalf("SetNX second: created=%v err=%v", created, err)
	}
	v, ok, err := rc.Get(ctx, "k")
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("Get: v=%q ok=%v err=%v", v, ok, err)
	}
	n, err := rc.Del(ctx, "k", "missing")
	if err != nil || n != 1 {
		t.Fatalf("Del: n=%d err=%v", n, err)
	}
}

func TestSetNX_TTLApplied(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()
	if _, err := rc.SetNX(ctx, "ttl", []byte("x"), time.Minute); err != nil {
		t.Fatalf("SetNX: %v", err)
	}
	if ttl := mr.TTL("ttl"); ttl != time.Minute {
		t.Fatalf("ttl=%v want 1m", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if _, ok, _ := rc.Get(ctx, "ttl"); ok {
		t.Fatalf("key should have expired")
	}
}

func TestSetNX_ConcurrentSingleWinner(t *testing.T) {
	rc, _ := newMini(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := rc.SetNX(ctx, "race", []byte("x"), 0)
			if err != nil {
				t.Errorf("SetNX: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("winners=%d want 1", wins.Load())
	}
}

func TestZIncrByAndHashes(t *testing.T) {
	rc, _ := newMini(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := rc.ZIncrBy(ctx, "20260101", 1, "a", "b"); err != nil {
			t.Fatalf("ZIncrBy: %v", err)
		}
	}
	if v, err := rc.ZScore(ctx, "a", "20260101"); err != nil || v != 3 {
		t.Fatalf("ZScore a=%v err=%v", v, err)
	}
	if v, err := rc.ZScore(ctx, "missing", "20260101"); err != nil || v != 0 {
		t.Fatalf("ZScore missing=%v err=%v", v, err)
	}

	if err := rc.HSet(ctx, "tenant:x", map[string]string{"datasource": "db"}); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	m, err := rc.HGetAll(ctx, "tenant:x")
	if err != nil || m["datasource"] != "db" {
		t.Fatalf("HGetAll=%v err=%v", m, err)
	}
}

func TestContextDeadline_IsRespected(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := rc.SetNX(ctx, "k", []byte("v"), time.Second); err == nil {
		t.Fatalf("expected error on SetNX with canceled context")
	}
	if _, _, err := rc.Get(ctx, "k"); err == nil {
		t.Fatalf("expected error on Get with canceled context")
	}
	if err := rc.ZIncrBy(ctx, "m", 1, "k"); err == nil {
		t.Fatalf("expected error on ZIncrBy with canceled context")
	}
}

func TestNew_UnreachableFails(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := New(ctx, "127.0.0.1:1", WithDialTimeout(100*time.Millisecond)); err == nil {
		t.Fatalf("expected ping failure")
	}
}
