package credential

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"pulse/cmd/internal/kv"
)

func newTestStore(t *testing.T) (*Store, *kv.MemoryStore) {
	t.Helper()
	mem := kv.NewMemoryStore()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewStore(mem,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return now }),
	)
	return s, mem
}

func TestStore_GetEmpty(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	if b, ok := s.Get(context.Background()); ok {
		t.Fatalf("expected no bundle, got %+v", b)
	}
	if s.HasCredentials(context.Background()) {
		t.Fatalf("expected HasCredentials=false")
	}
}

func TestStore_SetGetRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestStore(t)

	in := Bundle{AccessToken: "a1", RefreshToken: "r1"}
	if err := s.Set(ctx, in); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok := s.Get(ctx)
	if !ok {
		t.Fatalf("expected bundle")
	}
	if got.AccessToken != "a1" || got.RefreshToken != "r1" {
		t.Fatalf("unexpected bundle: %+v", got)
	}
	want := time.Date(2026, 1, 2, 3, 19, 5, 0, time.UTC)
	if !got.ExpiresAt.Equal(want) {
		t.Fatalf("expected default expiry %s, got %s", want, got.ExpiresAt)
	}
}

func TestStore_SetRejectsPartialBundle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mem := newTestStore(t)

	for _, b := range []Bundle{
		{AccessToken: "a"},
		{RefreshToken: "r"},
		{AccessToken: "  ", RefreshToken: "r"},
	} {
		if err := s.Set(ctx, b); !errors.Is(err, ErrInvalidBundle) {
			t.Fatalf("set %+v: expected ErrInvalidBundle, got %v", b, err)
		}
	}
	if mem.Len() != 0 {
		t.Fatalf("rejected bundles must not be written")
	}
}

func TestStore_SetOverwritesBothTokens(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestStore(t)

	if err := s.Set(ctx, Bundle{AccessToken: "old-a", RefreshToken: "old-r"}); err != nil {
		t.Fatalf("set old: %v", err)
	}
	if err := s.Set(ctx, Bundle{AccessToken: "new-a", RefreshToken: "new-r"}); err != nil {
		t.Fatalf("set new: %v", err)
	}
	got, _ := s.Get(ctx)
	if got.AccessToken != "new-a" || got.RefreshToken != "new-r" {
		t.Fatalf("expected new pair, got %+v", got)
	}
}

func TestStore_LegacyDiscreteFallback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mem := newTestStore(t)

	_ = mem.Set(ctx, LegacyKeyAccessToken, "legacy-a")
	_ = mem.Set(ctx, LegacyKeyRefreshToken, "legacy-r")
	_ = mem.Set(ctx, LegacyKeyExpiresAt, "1767323045000")

	got, ok := s.Get(ctx)
	if !ok {
		t.Fatalf("expected legacy bundle")
	}
	if got.AccessToken != "legacy-a" || got.RefreshToken != "legacy-r" {
		t.Fatalf("unexpected legacy bundle: %+v", got)
	}
	if !got.ExpiresAt.Equal(time.UnixMilli(1767323045000).UTC()) {
		t.Fatalf("unexpected legacy expiry: %s", got.ExpiresAt)
	}
}

func TestStore_LegacyExpiryRFC3339AndGarbage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mem := newTestStore(t)

	_ = mem.Set(ctx, LegacyKeyAccessToken, "a")
	_ = mem.Set(ctx, LegacyKeyExpiresAt, "2026-02-01T00:00:00Z")
	got, _ := s.Get(ctx)
	if !got.ExpiresAt.Equal(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected expiry: %s", got.ExpiresAt)
	}

	_ = mem.Set(ctx, LegacyKeyExpiresAt, "soon")
	got, ok := s.Get(ctx)
	if !ok || got.AccessToken != "a" || !got.ExpiresAt.IsZero() {
		t.Fatalf("garbage expiry must be ignored, got ok=%v %+v", ok, got)
	}
}

func TestStore_LegacySingleTokenFallback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mem := newTestStore(t)

	_ = mem.Set(ctx, LegacyKeyToken, "only-access")
	got, ok := s.Get(ctx)
	if !ok || got.AccessToken != "only-access" || got.RefreshToken != "" {
		t.Fatalf("unexpected single-key bundle: ok=%v %+v", ok, got)
	}
}

func TestStore_CorruptStructuredFallsThrough(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mem := newTestStore(t)

	_ = mem.Set(ctx, KeyBundle, "{broken")
	if _, ok := s.Get(ctx); ok {
		t.Fatalf("corrupt bundle must read as absent")
	}

	_ = mem.Set(ctx, LegacyKeyToken, "t")
	got, ok := s.Get(ctx)
	if !ok || got.AccessToken != "t" {
		t.Fatalf("expected legacy arm after corrupt structured value, got ok=%v %+v", ok, got)
	}
}

func TestStore_StructuredWinsOverLegacy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mem := newTestStore(t)

	raw, _ := json.Marshal(Bundle{AccessToken: "s-a", RefreshToken: "s-r"})
	_ = mem.Set(ctx, KeyBundle, string(raw))
	_ = mem.Set(ctx, LegacyKeyAccessToken, "legacy-a")

	got, _ := s.Get(ctx)
	if got.AccessToken != "s-a" {
		t.Fatalf("expected structured bundle first, got %+v", got)
	}
}

func TestStore_SetMigratesLegacyKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mem := newTestStore(t)

	_ = mem.Set(ctx, LegacyKeyAccessToken, "legacy-a")
	_ = mem.Set(ctx, LegacyKeyToken, "legacy-t")

	if err := s.Set(ctx, Bundle{AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	for _, k := range legacyKeys {
		if _, err := mem.Get(ctx, k); !errors.Is(err, kv.ErrNotFound) {
			t.Fatalf("legacy key %q should be removed, err=%v", k, err)
		}
	}
}

func TestStore_ClearKeepsDeviceID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestStore(t)

	if err := s.SetDeviceID(ctx, "dev-1"); err != nil {
		t.Fatalf("set device: %v", err)
	}
	if err := s.Set(ctx, Bundle{AccessToken: "a", RefreshToken: "r"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if _, ok := s.Get(ctx); ok {
		t.Fatalf("credentials should be cleared")
	}
	if id, ok := s.DeviceID(ctx); !ok || id != "dev-1" {
		t.Fatalf("device id must survive Clear, got %q ok=%v", id, ok)
	}
}

func TestStore_ClearAllRemovesDeviceID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mem := newTestStore(t)

	_ = s.SetDeviceID(ctx, "dev-1")
	_ = s.Set(ctx, Bundle{AccessToken: "a", RefreshToken: "r"})
	_ = mem.Set(ctx, LegacyKeyToken, "t")

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if mem.Len() != 0 {
		t.Fatalf("expected empty storage after ClearAll, got %d keys", mem.Len())
	}
}

func TestStore_SetDeviceIDEmpty(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t)
	if err := s.SetDeviceID(context.Background(), " "); !errors.Is(err, ErrInvalidDeviceID) {
		t.Fatalf("expected ErrInvalidDeviceID, got %v", err)
	}
}

func TestStore_ConcurrentSetNeverMixesPairs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, _ := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tag := string(rune('a' + i%26))
			_ = s.Set(ctx, Bundle{AccessToken: "acc-" + tag, RefreshToken: "ref-" + tag})
		}(i)
	}
	wg.Wait()

	got, ok := s.Get(ctx)
	if !ok {
		t.Fatalf("expected bundle")
	}
	if got.AccessToken[len("acc-"):] != got.RefreshToken[len("ref-"):] {
		t.Fatalf("mixed pair observed: %+v", got)
	}
}

func TestBundle_Expired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	if (Bundle{}).Expired(now) {
		t.Fatalf("zero expiry must never be expired")
	}
	b := NewBundle("a", "r", now)
	if b.Expired(now) {
		t.Fatalf("fresh bundle must not be expired")
	}
	if !b.Expired(now.Add(ExpiryHint)) {
		t.Fatalf("bundle must be expired at hint boundary")
	}
}
