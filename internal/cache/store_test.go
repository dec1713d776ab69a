package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/crawlcache/internal/codec"
)

// setupTestStore creates a store in a temporary directory.
func setupTestStore(t *testing.T, mutate func(*Options)) *Store {
	t.Helper()

	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	s, err := Open(filepath.Join(t.TempDir(), "cache.db"), opts)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates database in new directory", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "a", "b", "cache.db")
		s, err := Open(path, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open store: %v", err)
		}
		defer s.Close()

		if _, err := os.Stat(path); err != nil {
			t.Errorf("database file was not created: %v", err)
		}
		if s.Path() != path {
			t.Errorf("Path() = %q, want %q", s.Path(), path)
		}
	})

	t.Run("CreateIfNotExists=false returns error when missing", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "missing.db")
		_, err := Open(path, Options{CreateIfNotExists: false})
		if err == nil {
			t.Fatal("expected error for missing database")
		}
		if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
			t.Error("database file should not have been created")
		}
	})

	t.Run("rejects invalid compression level", func(t *testing.T) {
		t.Parallel()

		opts := DefaultOptions()
		opts.CompressionLevel = 12
		if _, err := Open(filepath.Join(t.TempDir(), "c.db"), opts); err == nil {
			t.Error("expected error for compression level 12")
		}
	})

	t.Run("data survives reopen", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "cache.db")

		s, err := Open(path, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open store: %v", err)
		}
		if err := s.Put(ctx, "k", []byte("v"), nil); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		s, err = Open(path, Options{EnableWAL: true})
		if err != nil {
			t.Fatalf("failed to reopen store: %v", err)
		}
		defer s.Close()

		e, err := s.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(e.Value) != "v" {
			t.Errorf("Value = %q, want %q", e.Value, "v")
		}
	})
}

func TestStore_PutGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("round trip with meta", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t, nil)
		value := bytes.Repeat([]byte("<p>hello</p>"), 100)
		meta := Meta{"status": "200", "url": "https://example.com/"}

		if err := s.Put(ctx, "https://example.com/", value, meta); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		e, err := s.Get(ctx, "https://example.com/")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(e.Value, value) {
			t.Error("value mismatch")
		}
		if e.Kind != codec.KindRaw {
			t.Errorf("Kind = %d, want %d", e.Kind, codec.KindRaw)
		}
		if e.Meta["status"] != "200" || e.Meta["url"] != "https://example.com/" {
			t.Errorf("Meta = %v", e.Meta)
		}
		if e.Status != StatusOK {
			t.Errorf("Status = %v, want ok", e.Status)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t, nil)
		_, err := s.Get(ctx, "nope")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("overwrite replaces value and meta", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t, nil)
		if err := s.Put(ctx, "k", []byte("one"), Meta{"a": "1"}); err != nil {
			t.Fatal(err)
		}
		if err := s.Put(ctx, "k", []byte("two"), nil); err != nil {
			t.Fatal(err)
		}
		e, err := s.Get(ctx, "k")
		if err != nil {
			t.Fatal(err)
		}
		if string(e.Value) != "two" {
			t.Errorf("Value = %q, want two", e.Value)
		}
		if len(e.Meta) != 0 {
			t.Errorf("Meta = %v, want empty", e.Meta)
		}
		n, err := s.Count(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("Count = %d, want 1", n)
		}
	})

	t.Run("uncompressed store", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t, func(o *Options) { o.CompressionLevel = 0 })
		if err := s.PutKind(ctx, "k", codec.KindResponse, []byte("payload"), nil); err != nil {
			t.Fatal(err)
		}
		e, err := s.Get(ctx, "k")
		if err != nil {
			t.Fatal(err)
		}
		if e.Kind != codec.KindResponse || string(e.Value) != "payload" {
			t.Errorf("got kind=%d value=%q", e.Kind, e.Value)
		}
	})

	t.Run("empty key rejected", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t, nil)
		if err := s.Put(ctx, "", []byte("x"), nil); !errors.Is(err, ErrEmptyKey) {
			t.Errorf("expected ErrEmptyKey, got %v", err)
		}
	})

	t.Run("invalid meta rejected", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t, nil)
		tests := []Meta{
			{"": "x"},
			{"a\x00b": "x"},
			{"ok": string([]byte{0xff, 0xfe})},
		}
		for _, m := range tests {
			if err := s.Put(ctx, "k", []byte("x"), m); !errors.Is(err, ErrInvalidMeta) {
				t.Errorf("Put(%q) error = %v, want ErrInvalidMeta", m, err)
			}
		}
	})

	t.Run("closed store", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t, nil)
		if err := s.Close(); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
		if err := s.Close(); err != nil {
			t.Errorf("second Close returned %v", err)
		}
	})
}

func TestStore_GetFresh(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("zero expiry is always stale", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t, nil)
		if err := s.Put(ctx, "k", []byte("v"), nil); err != nil {
			t.Fatal(err)
		}
		e, err := s.GetFresh(ctx, "k", 0)
		if !errors.Is(err, ErrStale) {
			t.Fatalf("expected ErrStale, got %v", err)
		}
		if e == nil || string(e.Value) != "v" {
			t.Error("stale lookup should still return the entry")
		}
	})

	t.Run("missing differs from stale", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t, nil)
		_, err := s.GetFresh(ctx, "missing", 0)
		if !errors.Is(err, ErrNotFound) || errors.Is(err, ErrStale) {
			t.Errorf("expected only ErrNotFound, got %v", err)
		}
	})

	t.Run("expiry window", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t, nil)
		base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		s.now = func() time.Time { return base }
		if err := s.Put(ctx, "k", []byte("v"), nil); err != nil {
			t.Fatal(err)
		}

		s.now = func() time.Time { return base.Add(30 * time.Minute) }
		if _, err := s.GetFresh(ctx, "k", time.Hour); err != nil {
			t.Errorf("expected fresh entry, got %v", err)
		}

		s.now = func() time.Time { return base.Add(2 * time.Hour) }
		if _, err := s.GetFresh(ctx, "k", time.Hour); !errors.Is(err, ErrStale) {
			t.Errorf("expected ErrStale, got %v", err)
		}
		if _, err := s.GetFresh(ctx, "k", NoExpiry); err != nil {
			t.Errorf("NoExpiry should never be stale, got %v", err)
		}
	})

	t.Run("Fresh uses store expiry", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t, func(o *Options) { o.Expiry = 0 })
		if err := s.Put(ctx, "k", []byte("v"), nil); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Fresh(ctx, "k"); !errors.Is(err, ErrStale) {
			t.Errorf("expected ErrStale, got %v", err)
		}
		if s.Expiry() != 0 {
			t.Errorf("Expiry() = %v, want 0", s.Expiry())
		}
	})

	t.Run("mark stale until next put", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t, nil)
		if err := s.Put(ctx, "k", []byte("v"), nil); err != nil {
			t.Fatal(err)
		}
		if err := s.MarkStale(ctx, "k"); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Fresh(ctx, "k"); !errors.Is(err, ErrStale) {
			t.Errorf("expected ErrStale after MarkStale, got %v", err)
		}
		if _, err := s.Get(ctx, "k"); err != nil {
			t.Errorf("Get should ignore status, got %v", err)
		}
		if err := s.Put(ctx, "k", []byte("v2"), nil); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Fresh(ctx, "k"); err != nil {
			t.Errorf("expected fresh after Put, got %v", err)
		}
		if err := s.MarkStale(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStore_SetMeta(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := setupTestStore(t, nil)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	if err := s.Put(ctx, "k", []byte("v"), Meta{"a": "1"}); err != nil {
		t.Fatal(err)
	}

	later := base.Add(time.Hour)
	s.now = func() time.Time { return later }
	if err := s.SetMeta(ctx, "k", Meta{"b": "2"}); err != nil {
		t.Fatal(err)
	}

	e, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(e.Value) != "v" {
		t.Errorf("value changed to %q", e.Value)
	}
	if _, ok := e.Meta["a"]; ok || e.Meta["b"] != "2" {
		t.Errorf("Meta = %v, want only b=2", e.Meta)
	}
	if !e.Updated.Equal(later) {
		t.Errorf("Updated = %v, want %v", e.Updated, later)
	}

	if err := s.SetMeta(ctx, "missing", Meta{"x": "y"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_DeleteClearVacuum(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := setupTestStore(t, nil)

	for i := range 5 {
		if err := s.Put(ctx, fmt.Sprintf("k%d", i), []byte("v"), nil); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Delete(ctx, "k0"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "k0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted key still present: %v", err)
	}
	if err := s.Delete(ctx, "k0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("Count = %d, want 4", n)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := s.Vacuum(ctx); err != nil {
		t.Fatalf("Vacuum failed: %v", err)
	}
	n, err = s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("Count after Clear = %d, want 0", n)
	}
}

func TestStore_Contains(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("chunked lookup", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t, nil)
		var keys []string
		for i := range 1200 {
			k := fmt.Sprintf("https://example.com/%04d", i)
			keys = append(keys, k)
			if i%2 == 0 {
				if err := s.Put(ctx, k, []byte("v"), nil); err != nil {
					t.Fatal(err)
				}
			}
		}

		got, err := s.Contains(ctx, keys, NoExpiry, false)
		if err != nil {
			t.Fatalf("Contains failed: %v", err)
		}
		if len(got) != len(keys) {
			t.Fatalf("len = %d, want %d", len(got), len(keys))
		}
		for i, k := range keys {
			if got[k] != (i%2 == 0) {
				t.Errorf("Contains[%s] = %v", k, got[k])
			}
		}
	})

	t.Run("freshness and status", func(t *testing.T) {
		t.Parallel()

		s := setupTestStore(t, nil)
		for _, k := range []string{"a", "b"} {
			if err := s.Put(ctx, k, []byte("v"), nil); err != nil {
				t.Fatal(err)
			}
		}
		if err := s.MarkStale(ctx, "b"); err != nil {
			t.Fatal(err)
		}

		keys := []string{"a", "b", "c", "a"}

		got, err := s.Contains(ctx, keys, NoExpiry, false)
		if err != nil {
			t.Fatal(err)
		}
		if !got["a"] || got["b"] || got["c"] {
			t.Errorf("fresh lookup = %v", got)
		}

		got, err = s.Contains(ctx, keys, 0, false)
		if err != nil {
			t.Fatal(err)
		}
		if got["a"] {
			t.Error("zero expiry should report a as absent")
		}

		got, err = s.Contains(ctx, keys, 0, true)
		if err != nil {
			t.Fatal(err)
		}
		if !got["a"] || !got["b"] || got["c"] {
			t.Errorf("ignoreExpiry lookup = %v", got)
		}
	})
}

func TestStore_Keys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := setupTestStore(t, nil)

	const total = keysPage + 37
	for i := range total {
		if err := s.Put(ctx, fmt.Sprintf("k%05d", i), []byte("v"), nil); err != nil {
			t.Fatal(err)
		}
	}

	var (
		prev  string
		count int
	)
	for k, err := range s.Keys(ctx) {
		if err != nil {
			t.Fatalf("Keys failed: %v", err)
		}
		if k <= prev {
			t.Fatalf("keys out of order: %q after %q", k, prev)
		}
		// The store stays usable while iterating.
		if _, err := s.Get(ctx, k); err != nil {
			t.Fatalf("Get(%q) inside iteration failed: %v", k, err)
		}
		prev = k
		count++
	}
	if count != total {
		t.Errorf("iterated %d keys, want %d", count, total)
	}

	count = 0
	for range s.Keys(ctx) {
		count++
		if count == 3 {
			break
		}
	}
	if count != 3 {
		t.Errorf("early break yielded %d keys", count)
	}
}

func TestStore_Merge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	setup := func(t *testing.T) (*Store, *Store) {
		t.Helper()
		dst := setupTestStore(t, nil)
		src := setupTestStore(t, nil)
		if err := dst.Put(ctx, "shared", []byte("dst"), nil); err != nil {
			t.Fatal(err)
		}
		if err := src.Put(ctx, "shared", []byte("src"), nil); err != nil {
			t.Fatal(err)
		}
		if err := src.Put(ctx, "only-src", []byte("src"), Meta{"m": "1"}); err != nil {
			t.Fatal(err)
		}
		return dst, src
	}

	t.Run("keeps existing without override", func(t *testing.T) {
		t.Parallel()

		dst, src := setup(t)
		n, err := dst.Merge(ctx, src, false)
		if err != nil {
			t.Fatalf("Merge failed: %v", err)
		}
		if n != 1 {
			t.Errorf("copied = %d, want 1", n)
		}
		e, err := dst.Get(ctx, "shared")
		if err != nil {
			t.Fatal(err)
		}
		if string(e.Value) != "dst" {
			t.Errorf("shared = %q, want dst", e.Value)
		}
		e, err = dst.Get(ctx, "only-src")
		if err != nil {
			t.Fatal(err)
		}
		if e.Meta["m"] != "1" {
			t.Errorf("meta not copied: %v", e.Meta)
		}
	})

	t.Run("override replaces", func(t *testing.T) {
		t.Parallel()

		dst, src := setup(t)
		n, err := dst.Merge(ctx, src, true)
		if err != nil {
			t.Fatalf("Merge failed: %v", err)
		}
		if n != 2 {
			t.Errorf("copied = %d, want 2", n)
		}
		e, err := dst.Get(ctx, "shared")
		if err != nil {
			t.Fatal(err)
		}
		if string(e.Value) != "src" {
			t.Errorf("shared = %q, want src", e.Value)
		}
	})
}

func TestStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := setupTestStore(t, nil)
	ctx := context.Background()

	const (
		goroutines = 16
		iterations = 40
		keyCount   = 10
	)
	keys := make([]string, keyCount)
	for i := range keys {
		keys[i] = fmt.Sprintf("http://example.com/%d", i)
	}

	var wg sync.WaitGroup
	errs := make(chan error, goroutines)
	for g := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range iterations {
				key := keys[(g+i)%keyCount]
				value := fmt.Appendf(nil, "v-%d-%d", g, i)
				if err := s.Put(ctx, key, value, Meta{"writer": fmt.Sprint(g)}); err != nil {
					errs <- fmt.Errorf("put %s: %w", key, err)
					return
				}

				e, err := s.Get(ctx, keys[(g*7+i)%keyCount])
				switch {
				case errors.Is(err, ErrNotFound):
				case err != nil:
					errs <- fmt.Errorf("get: %w", err)
					return
				case !bytes.HasPrefix(e.Value, []byte("v-")):
					errs <- fmt.Errorf("get %s: torn value %q", e.Key, e.Value)
					return
				}

				present, err := s.Contains(ctx, keys, NoExpiry, true)
				if err != nil {
					errs <- fmt.Errorf("contains: %w", err)
					return
				}
				if !present[key] {
					errs <- fmt.Errorf("contains: %s missing after put", key)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != keyCount {
		t.Errorf("Count() = %d, want %d", n, keyCount)
	}
}
