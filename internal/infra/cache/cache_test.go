package cache_test

import (
	"path/filepath"
	"testing"
	"time"

	"tender-radar/internal/infra/cache"
	"tender-radar/internal/infra/db"
)

type verdict struct {
	Relevant   bool   `json:"relevant"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason"`
}

func newStore(t *testing.T, ttl time.Duration) *cache.Store {
	t.Helper()
	handle, err := db.Open(filepath.Join(t.TempDir(), "cache.bbolt"))
	if err != nil {
		t.Fatalf("db.Open() error: %v", err)
	}
	t.Cleanup(func() { _ = handle.Close() })

	store, err := cache.New(handle, "oracle", ttl)
	if err != nil {
		t.Fatalf("cache.New() error: %v", err)
	}
	return store
}

func TestStoreSetGet(t *testing.T) {
	t.Parallel()

	store := newStore(t, 24*time.Hour)

	want := verdict{Relevant: true, Confidence: 85, Reason: "прямое совпадение по предмету"}
	if err := store.Set("0173200001424000001:v1", want); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	var got verdict
	ok, err := store.Get("0173200001424000001:v1", &got)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !ok {
		t.Fatal("Get() = miss, want hit")
	}
	if got != want {
		t.Fatalf("Get() = %#v, want %#v", got, want)
	}
}

func TestStoreMissOnUnknownKey(t *testing.T) {
	t.Parallel()

	store := newStore(t, time.Hour)

	var got verdict
	ok, err := store.Get("missing", &got)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if ok {
		t.Fatalf("Get() = hit %#v, want miss", got)
	}
}

func TestStoreExpiry(t *testing.T) {
	t.Parallel()

	store := newStore(t, time.Hour)

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	now := base
	store.Now = func() time.Time { return now }

	if err := store.Set("key", verdict{Confidence: 50}); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	var got verdict
	if ok, _ := store.Get("key", &got); !ok {
		t.Fatal("Get() before expiry = miss, want hit")
	}

	// Час плюс минута: запись должна считаться просроченной.
	now = base.Add(time.Hour + time.Minute)
	if ok, _ := store.Get("key", &got); ok {
		t.Fatal("Get() after expiry = hit, want miss")
	}
}

func TestStoreSweep(t *testing.T) {
	t.Parallel()

	store := newStore(t, time.Hour)

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	now := base
	store.Now = func() time.Time { return now }

	for _, key := range []string{"a", "b", "c"} {
		if err := store.Set(key, verdict{Reason: key}); err != nil {
			t.Fatalf("Set(%q) error: %v", key, err)
		}
	}

	now = base.Add(2 * time.Hour)
	if err := store.Set("fresh", verdict{Reason: "fresh"}); err != nil {
		t.Fatalf("Set(fresh) error: %v", err)
	}

	removed, err := store.Sweep()
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if removed != 3 {
		t.Fatalf("Sweep() removed = %d, want 3", removed)
	}

	count, err := store.Len()
	if err != nil {
		t.Fatalf("Len() error: %v", err)
	}
	if count != 1 {
		t.Fatalf("Len() = %d, want 1", count)
	}
}

func TestStoreOverwriteRefreshesTTL(t *testing.T) {
	t.Parallel()

	store := newStore(t, time.Hour)

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	now := base
	store.Now = func() time.Time { return now }

	if err := store.Set("key", verdict{Confidence: 10}); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	now = base.Add(50 * time.Minute)
	if err := store.Set("key", verdict{Confidence: 20}); err != nil {
		t.Fatalf("Set() overwrite error: %v", err)
	}

	now = base.Add(90 * time.Minute)
	var got verdict
	ok, err := store.Get("key", &got)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !ok {
		t.Fatal("Get() = miss, want hit after overwrite refreshed TTL")
	}
	if got.Confidence != 20 {
		t.Fatalf("Get() confidence = %d, want 20", got.Confidence)
	}
}
