package proxy

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
)

func TestNewRotator(t *testing.T) {
	t.Parallel()

	t.Run("normalizes and deduplicates", func(t *testing.T) {
		t.Parallel()

		r, err := NewRotator([]string{"10.0.0.1:8080", "", "http://10.0.0.1:8080", "socks5://127.0.0.1:9050"})
		if err != nil {
			t.Fatalf("NewRotator failed: %v", err)
		}
		want := []string{"http://10.0.0.1:8080", "socks5://127.0.0.1:9050"}
		if got := r.Proxies(); !slices.Equal(got, want) {
			t.Errorf("Proxies() = %v, want %v", got, want)
		}
	})

	t.Run("rejects unsupported scheme", func(t *testing.T) {
		t.Parallel()

		_, err := NewRotator([]string{"ftp://10.0.0.1"})
		if !errors.Is(err, ErrInvalidProxy) {
			t.Errorf("expected ErrInvalidProxy, got %v", err)
		}
	})

	t.Run("empty list", func(t *testing.T) {
		t.Parallel()

		r, err := NewRotator(nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := r.Next(); ok {
			t.Error("Next() on empty rotator should report false")
		}
	})
}

func TestRotator_Next(t *testing.T) {
	t.Parallel()

	r, err := NewRotator([]string{"http://a:1", "http://b:1", "http://c:1"})
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for range 6 {
		p, ok := r.Next()
		if !ok {
			t.Fatal("Next() reported no proxy")
		}
		got = append(got, p)
	}
	want := []string{"http://a:1", "http://b:1", "http://c:1", "http://a:1", "http://b:1", "http://c:1"}
	if !slices.Equal(got, want) {
		t.Errorf("rotation = %v, want %v", got, want)
	}
}

func TestRotator_Eviction(t *testing.T) {
	t.Parallel()

	t.Run("evicts after consecutive failures", func(t *testing.T) {
		t.Parallel()

		r, err := NewRotator([]string{"http://a:1", "http://b:1"}, WithMaxFailures(2))
		if err != nil {
			t.Fatal(err)
		}

		if r.RecordFailure("http://a:1") {
			t.Error("first failure should not evict")
		}
		if r.Failures("http://a:1") != 1 {
			t.Errorf("Failures = %d, want 1", r.Failures("http://a:1"))
		}
		if !r.RecordFailure("http://a:1") {
			t.Error("second failure should evict")
		}
		if r.Len() != 1 {
			t.Errorf("Len = %d, want 1", r.Len())
		}
		for range 3 {
			if p, _ := r.Next(); p != "http://b:1" {
				t.Errorf("Next() = %q, want b", p)
			}
		}
	})

	t.Run("success resets the count", func(t *testing.T) {
		t.Parallel()

		r, err := NewRotator([]string{"http://a:1"}, WithMaxFailures(2))
		if err != nil {
			t.Fatal(err)
		}
		r.RecordFailure("http://a:1")
		r.RecordSuccess("http://a:1")
		if r.RecordFailure("http://a:1") {
			t.Error("failure after success should not evict")
		}
		if r.Len() != 1 {
			t.Errorf("Len = %d, want 1", r.Len())
		}
	})

	t.Run("all evicted falls back to direct", func(t *testing.T) {
		t.Parallel()

		r, err := NewRotator([]string{"http://a:1"}, WithMaxFailures(1))
		if err != nil {
			t.Fatal(err)
		}
		r.RecordFailure("http://a:1")
		if p, ok := r.Next(); ok {
			t.Errorf("Next() = %q, want none", p)
		}

		r.Reset()
		if p, ok := r.Next(); !ok || p != "http://a:1" {
			t.Errorf("after Reset Next() = %q, %v", p, ok)
		}
		if r.Failures("http://a:1") != 0 {
			t.Error("Reset should clear failures")
		}
	})

	t.Run("zero disables eviction", func(t *testing.T) {
		t.Parallel()

		r, err := NewRotator([]string{"http://a:1"}, WithMaxFailures(0))
		if err != nil {
			t.Fatal(err)
		}
		for range 100 {
			if r.RecordFailure("http://a:1") {
				t.Fatal("eviction should be disabled")
			}
		}
		if r.Len() != 1 {
			t.Errorf("Len = %d, want 1", r.Len())
		}
	})

	t.Run("unknown proxy ignored", func(t *testing.T) {
		t.Parallel()

		r, err := NewRotator([]string{"http://a:1"}, WithMaxFailures(1))
		if err != nil {
			t.Fatal(err)
		}
		if r.RecordFailure("http://other:1") {
			t.Error("unknown proxy should not be evicted")
		}
		if r.Len() != 1 {
			t.Errorf("Len = %d, want 1", r.Len())
		}
	})
}

func TestRotator_Add(t *testing.T) {
	t.Parallel()

	r, err := NewRotator(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Add("socks5://127.0.0.1:9050"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := r.Add("socks5://127.0.0.1:9050"); err != nil {
		t.Fatalf("second Add failed: %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
	if err := r.Add("gopher://x"); !errors.Is(err, ErrInvalidProxy) {
		t.Errorf("expected ErrInvalidProxy, got %v", err)
	}
}

func TestRotator_LoadFile(t *testing.T) {
	t.Parallel()

	t.Run("skips blanks and comments", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "proxies.txt")
		content := "# office proxies\nhttp://a:1\n\n  http://b:1  \n#http://c:1\n"
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatal(err)
		}

		r, err := NewRotator([]string{"http://old:1"})
		if err != nil {
			t.Fatal(err)
		}
		if err := r.LoadFile(path); err != nil {
			t.Fatalf("LoadFile failed: %v", err)
		}
		want := []string{"http://a:1", "http://b:1"}
		if got := r.Proxies(); !slices.Equal(got, want) {
			t.Errorf("Proxies() = %v, want %v", got, want)
		}
	})

	t.Run("empty file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "proxies.txt")
		if err := os.WriteFile(path, []byte("# nothing\n"), 0600); err != nil {
			t.Fatal(err)
		}
		r, err := NewRotator(nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := r.LoadFile(path); !errors.Is(err, ErrEmptyFile) {
			t.Errorf("expected ErrEmptyFile, got %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		r, err := NewRotator(nil)
		if err != nil {
			t.Fatal(err)
		}
		if err := r.LoadFile(filepath.Join(t.TempDir(), "none")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestRotator_Concurrent(t *testing.T) {
	t.Parallel()

	r, err := NewRotator([]string{"http://a:1", "http://b:1", "http://c:1"}, WithMaxFailures(1000))
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				p, ok := r.Next()
				if !ok {
					t.Error("rotator unexpectedly empty")
					return
				}
				r.RecordFailure(p)
				r.RecordSuccess(p)
			}
		}()
	}
	wg.Wait()

	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}
}
