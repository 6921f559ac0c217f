package resultcache

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"

	"github.com/cdot65/pan-ai-runtime-security/aisecurity"
)

var (
	testProfile  = aisecurity.AIProfile{ProfileName: "cache-test"}
	testContents = []aisecurity.ScanContent{{Prompt: "Tell me a joke"}}
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testCache(t *testing.T, mr *miniredis.Miniredis, ttl time.Duration) *Cache {
	t.Helper()
	cache, err := New(Options{
		URL:    fmt.Sprintf("redis://%s", mr.Addr()),
		TTL:    ttl,
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{name: "empty URL", url: ""},
		{name: "invalid URL format", url: "invalid-url"},
		{name: "invalid protocol", url: "http://localhost:6379"},
		{name: "unreachable server", url: "redis://unreachable-host:1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(Options{URL: tt.url, Logger: quietLogger()}); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}

	mr := miniredis.RunT(t)
	cache := testCache(t, mr, 0)
	if cache.ttl != defaultTTL {
		t.Errorf("expected default TTL %v, got %v", defaultTTL, cache.ttl)
	}
	if cache.prefix != defaultPrefix {
		t.Errorf("expected default prefix %q, got %q", defaultPrefix, cache.prefix)
	}
}

func TestGetSetRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := testCache(t, mr, time.Minute)
	ctx := context.Background()

	if _, ok := cache.Get(ctx, testProfile, testContents); ok {
		t.Error("expected miss on empty cache")
	}

	verdict := &aisecurity.ScanResponse{
		ScanID:   "s1",
		ReportID: "Rs1",
		Category: "none",
		Action:   aisecurity.ActionAllow,
	}
	cache.Set(ctx, testProfile, testContents, verdict)

	got, ok := cache.Get(ctx, testProfile, testContents)
	if !ok {
		t.Fatal("expected hit after set")
	}
	if got.ScanID != "s1" || got.Action != aisecurity.ActionAllow {
		t.Errorf("unexpected cached verdict: %+v", got)
	}

	// Different content is a different key.
	other := []aisecurity.ScanContent{{Prompt: "What is the weather today?"}}
	if _, ok := cache.Get(ctx, testProfile, other); ok {
		t.Error("expected miss for different contents")
	}

	// Different profile is a different key too.
	otherProfile := aisecurity.AIProfile{ProfileID: "p-2"}
	if _, ok := cache.Get(ctx, otherProfile, testContents); ok {
		t.Error("expected miss for different profile")
	}
}

func TestEntryExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := testCache(t, mr, time.Minute)
	ctx := context.Background()

	cache.Set(ctx, testProfile, testContents, &aisecurity.ScanResponse{ScanID: "s1"})

	if _, ok := cache.Get(ctx, testProfile, testContents); !ok {
		t.Fatal("expected hit before expiry")
	}

	mr.FastForward(2 * time.Minute)

	if _, ok := cache.Get(ctx, testProfile, testContents); ok {
		t.Error("expected miss after TTL elapsed")
	}
}

func TestInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := testCache(t, mr, time.Minute)
	ctx := context.Background()

	cache.Set(ctx, testProfile, testContents, &aisecurity.ScanResponse{ScanID: "s1"})

	if err := cache.Invalidate(ctx, testProfile, testContents); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, ok := cache.Get(ctx, testProfile, testContents); ok {
		t.Error("expected miss after invalidation")
	}
}

func TestUndecodableEntryIsMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := testCache(t, mr, time.Minute)
	ctx := context.Background()

	if err := mr.Set(cache.key(testProfile, testContents), "not-json{"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if _, ok := cache.Get(ctx, testProfile, testContents); ok {
		t.Error("expected undecodable entry to read as miss")
	}
}

func TestSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	first := testCache(t, mr, time.Minute)
	second := testCache(t, mr, time.Minute)
	ctx := context.Background()

	first.Set(ctx, testProfile, testContents, &aisecurity.ScanResponse{
		ScanID: "s-shared",
		Action: aisecurity.ActionBlock,
	})

	got, ok := second.Get(ctx, testProfile, testContents)
	if !ok {
		t.Fatal("expected the second instance to see the verdict")
	}
	if got.ScanID != "s-shared" || !got.IsBlocked() {
		t.Errorf("unexpected verdict through second instance: %+v", got)
	}
}

func TestFailOpenAfterRedisLoss(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := testCache(t, mr, time.Minute)
	ctx := context.Background()

	cache.Set(ctx, testProfile, testContents, &aisecurity.ScanResponse{ScanID: "s1"})
	mr.Close()

	// Reads degrade to misses, writes are dropped, neither panics or errors.
	if _, ok := cache.Get(ctx, testProfile, testContents); ok {
		t.Error("expected miss once redis is gone")
	}
	cache.Set(ctx, testProfile, testContents, &aisecurity.ScanResponse{ScanID: "s2"})
}

func TestPing(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := testCache(t, mr, time.Minute)

	if err := cache.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	mr.Close()
	if err := cache.Ping(context.Background()); err == nil {
		t.Error("expected ping failure after redis shutdown")
	}
}
