package cache

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nao1215/crawlcache/internal/codec"
)

// NoExpiry disables freshness checks: entries never become stale.
const NoExpiry time.Duration = -1

// EntryStatus is the lifecycle state stored with an entry.
type EntryStatus int

const (
	// StatusOK marks an entry written by a normal Put.
	StatusOK EntryStatus = 0

	// StatusStalePending marks an entry that must be refetched before it is
	// served again, regardless of its age.
	StatusStalePending EntryStatus = 1
)

// String returns the status name.
func (s EntryStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusStalePending:
		return "stale-pending"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Meta is auxiliary string data stored next to a value.
type Meta map[string]string

// Validate checks that every key is a non-empty UTF-8 string without NUL
// bytes and every value is valid UTF-8.
func (m Meta) Validate() error {
	for k, v := range m {
		if k == "" {
			return fmt.Errorf("%w: empty key", ErrInvalidMeta)
		}
		if strings.ContainsRune(k, 0) || !utf8.ValidString(k) {
			return fmt.Errorf("%w: key %q", ErrInvalidMeta, k)
		}
		if !utf8.ValidString(v) {
			return fmt.Errorf("%w: value for %q is not UTF-8", ErrInvalidMeta, k)
		}
	}
	return nil
}

// Entry is one cached value.
type Entry struct {
	Key     string
	Kind    codec.Kind
	Value   []byte
	Meta    Meta
	Status  EntryStatus
	Updated time.Time
}

// IsFresh reports whether the entry is fresh at now for the given expiry.
func (e *Entry) IsFresh(now time.Time, expiry time.Duration) bool {
	return isFresh(e.Updated, now, expiry)
}

func isFresh(updated, now time.Time, expiry time.Duration) bool {
	if expiry < 0 {
		return true
	}
	return now.Sub(updated) < expiry
}
