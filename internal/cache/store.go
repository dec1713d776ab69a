package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/crawlcache/internal/codec"
)

// containsChunk bounds the number of bound variables in one IN (...) query.
const containsChunk = 500

// keysPage is the page size used by Keys. Pages are read with keyset
// pagination so the single connection is released between pages.
const keysPage = 500

// Options configures Store behavior.
type Options struct {
	// CreateIfNotExists creates the database file (and its directory) if it
	// doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging so readers in other processes do
	// not block the writer.
	EnableWAL bool

	// Expiry is the default freshness window used by Fresh.
	// NoExpiry disables expiry; zero makes every entry stale.
	Expiry time.Duration

	// CompressionLevel is the zlib level for stored values (0 disables).
	CompressionLevel int

	// BusyTimeout is how long a statement waits for a lock held by another
	// process.
	BusyTimeout time.Duration
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
		Expiry:            NoExpiry,
		CompressionLevel:  6,
		BusyTimeout:       10 * time.Second,
	}
}

// Store is a persistent key/value cache backed by SQLite.
type Store struct {
	db   *sql.DB
	path string

	expiry time.Duration
	wire   codec.Options
	meta   codec.CBOR[Meta]
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates a Store at path.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, errors.New("cache: empty database path")
	}

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("cache not found at %s (use CreateIfNotExists option to create)", path)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check cache path: %w", err)
		}
	} else if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	if opts.CompressionLevel < 0 || opts.CompressionLevel > 9 {
		return nil, fmt.Errorf("cache: compression level %d out of range 0-9", opts.CompressionLevel)
	}

	mode := "rw"
	if opts.CreateIfNotExists {
		mode = "rwc"
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = DefaultOptions().BusyTimeout
	}
	dsn := fmt.Sprintf("%s?mode=%s&_pragma=busy_timeout(%d)", path, mode, busy.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	// SQLite allows a single writer at a time. With one pooled connection,
	// goroutines of this process queue on database/sql instead of failing
	// with SQLITE_BUSY, so the Store needs no mutex of its own. Other
	// processes sharing the file are handled by WAL and busy_timeout.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:     db,
		path:   path,
		expiry: opts.Expiry,
		wire: codec.Options{
			Compress: opts.CompressionLevel > 0,
			Level:    opts.CompressionLevel,
		},
		meta: codec.MustCBOR[Meta](true),
		now:  time.Now,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Expiry returns the default freshness window.
func (s *Store) Expiry() time.Duration {
	return s.expiry
}

// Close closes the database. Further calls return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entries (
		key TEXT NOT NULL PRIMARY KEY,
		value BLOB,
		meta BLOB,
		status INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL
	);
	`
	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// acquire takes the read side of the close lock. The returned func releases it.
func (s *Store) acquire() (func(), error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	return s.mu.RUnlock, nil
}

// Get returns the entry for key, ignoring expiry and status.
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	row := s.db.QueryRowContext(ctx,
		`SELECT value, meta, status, updated FROM entries WHERE key = ?`, key)

	var (
		value, meta []byte
		status      int
		updated     int64
	)
	if err := row.Scan(&value, &meta, &status, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return s.decodeEntry(key, value, meta, status, updated)
}

// GetFresh returns the entry for key if it is fresh under expiry.
// It returns ErrNotFound when the key is absent and ErrStale, together with
// the entry, when the key exists but has expired or is stale-pending.
func (s *Store) GetFresh(ctx context.Context, key string, expiry time.Duration) (*Entry, error) {
	e, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if e.Status == StatusStalePending {
		return e, fmt.Errorf("%w: %s marked for refetch", ErrStale, key)
	}
	if !e.IsFresh(s.now(), expiry) {
		return e, fmt.Errorf("%w: %s updated %s", ErrStale, key, e.Updated.Format(time.RFC3339))
	}
	return e, nil
}

// Fresh is GetFresh with the store's default expiry.
func (s *Store) Fresh(ctx context.Context, key string) (*Entry, error) {
	return s.GetFresh(ctx, key, s.expiry)
}

// Put stores value as raw bytes under key.
func (s *Store) Put(ctx context.Context, key string, value []byte, meta Meta) error {
	return s.PutKind(ctx, key, codec.KindRaw, value, meta)
}

// PutKind stores value under key with an explicit frame kind. The row is
// replaced as a whole: status resets to StatusOK and updated becomes now.
func (s *Store) PutKind(ctx context.Context, key string, kind codec.Kind, value []byte, meta Meta) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := meta.Validate(); err != nil {
		return err
	}
	frame, err := codec.Encode(kind, value, s.wire)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	metaFrame, err := s.encodeMeta(meta)
	if err != nil {
		return fmt.Errorf("failed to encode meta for %s: %w", key, err)
	}

	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	query := `
	INSERT INTO entries (key, value, meta, status, updated)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		meta = excluded.meta,
		status = excluded.status,
		updated = excluded.updated
	`
	_, err = s.db.ExecContext(ctx, query, key, frame, metaFrame, int(StatusOK), s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// SetMeta replaces the metadata of an existing key and refreshes its
// timestamp. The value is left untouched.
func (s *Store) SetMeta(ctx context.Context, key string, meta Meta) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := meta.Validate(); err != nil {
		return err
	}
	metaFrame, err := s.encodeMeta(meta)
	if err != nil {
		return fmt.Errorf("failed to encode meta for %s: %w", key, err)
	}
	return s.update(ctx, key,
		`UPDATE entries SET meta = ?, updated = ? WHERE key = ?`,
		metaFrame, s.now().UnixNano(), key)
}

// MarkStale flags key so that freshness-aware lookups treat it as stale
// until the next Put.
func (s *Store) MarkStale(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.update(ctx, key,
		`UPDATE entries SET status = ? WHERE key = ?`,
		int(StatusStalePending), key)
}

func (s *Store) update(ctx context.Context, key, query string, args ...any) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

// Delete removes key. Deleting a missing key returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return s.update(ctx, key, `DELETE FROM entries WHERE key = ?`, key)
}

// Clear removes every entry.
func (s *Store) Clear(ctx context.Context) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// Vacuum compacts the database file.
func (s *Store) Vacuum(ctx context.Context) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("failed to vacuum cache: %w", err)
	}
	return nil
}

// Count returns the number of entries, fresh or not.
func (s *Store) Count(ctx context.Context) (int, error) {
	release, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// Contains reports which of keys are present. Unless ignoreExpiry is set,
// only fresh entries that are not stale-pending count as present.
// Every input key appears in the result.
func (s *Store) Contains(ctx context.Context, keys []string, expiry time.Duration, ignoreExpiry bool) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	uniq := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := out[k]; ok {
			continue
		}
		out[k] = false
		uniq = append(uniq, k)
	}

	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.now()
	for start := 0; start < len(uniq); start += containsChunk {
		end := min(start+containsChunk, len(uniq))
		chunk := uniq[start:end]

		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}
		query := `SELECT key, status, updated FROM entries WHERE key IN (` +
			strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",") + `)`

		if err := s.scanContains(ctx, query, args, func(key string, status int, updated int64) {
			if ignoreExpiry {
				out[key] = true
				return
			}
			if EntryStatus(status) == StatusStalePending {
				return
			}
			out[key] = isFresh(time.Unix(0, updated), now, expiry)
		}); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) scanContains(ctx context.Context, query string, args []any, fn func(string, int, int64)) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key     string
			status  int
			updated int64
		)
		if err := rows.Scan(&key, &status, &updated); err != nil {
			return fmt.Errorf("failed to scan key: %w", err)
		}
		fn(key, status, updated)
	}
	return rows.Err()
}

// Keys iterates over every key in ascending order. The iteration reads the
// table page by page, so callers may use the store inside the loop.
func (s *Store) Keys(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		after := ""
		first := true
		for {
			page, err := s.keysAfter(ctx, after, first)
			if err != nil {
				yield("", err)
				return
			}
			for _, k := range page {
				if !yield(k, nil) {
					return
				}
			}
			if len(page) < keysPage {
				return
			}
			after = page[len(page)-1]
			first = false
		}
	}
}

func (s *Store) keysAfter(ctx context.Context, after string, first bool) ([]string, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	var rows *sql.Rows
	if first {
		rows, err = s.db.QueryContext(ctx,
			`SELECT key FROM entries ORDER BY key LIMIT ?`, keysPage)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT key FROM entries WHERE key > ? ORDER BY key LIMIT ?`, after, keysPage)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	page := make([]string, 0, keysPage)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		page = append(page, k)
	}
	return page, rows.Err()
}

// Merge copies every entry of other into s and returns how many were
// copied. Unless override is set, keys already present in s are skipped.
// Copied rows keep their original timestamp and status.
func (s *Store) Merge(ctx context.Context, other *Store, override bool) (int, error) {
	if other == nil {
		return 0, errors.New("cache: merge source is nil")
	}
	if other == s {
		return 0, nil
	}

	copied := 0
	for key, err := range other.Keys(ctx) {
		if err != nil {
			return copied, fmt.Errorf("failed to read merge source: %w", err)
		}
		if !override {
			present, err := s.Contains(ctx, []string{key}, NoExpiry, true)
			if err != nil {
				return copied, err
			}
			if present[key] {
				continue
			}
		}
		row, err := other.rawRow(ctx, key)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return copied, err
		}
		if err := s.putRaw(ctx, row); err != nil {
			return copied, err
		}
		copied++
	}
	return copied, nil
}

type rawRow struct {
	key     string
	value   []byte
	meta    []byte
	status  int
	updated int64
}

func (s *Store) rawRow(ctx context.Context, key string) (rawRow, error) {
	release, err := s.acquire()
	if err != nil {
		return rawRow{}, err
	}
	defer release()

	r := rawRow{key: key}
	err = s.db.QueryRowContext(ctx,
		`SELECT value, meta, status, updated FROM entries WHERE key = ?`, key).
		Scan(&r.value, &r.meta, &r.status, &r.updated)
	if errors.Is(err, sql.ErrNoRows) {
		return rawRow{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return rawRow{}, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return r, nil
}

func (s *Store) putRaw(ctx context.Context, r rawRow) error {
	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	query := `
	INSERT INTO entries (key, value, meta, status, updated)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		meta = excluded.meta,
		status = excluded.status,
		updated = excluded.updated
	`
	if _, err := s.db.ExecContext(ctx, query, r.key, r.value, r.meta, r.status, r.updated); err != nil {
		return fmt.Errorf("failed to write %s: %w", r.key, err)
	}
	return nil
}

func (s *Store) encodeMeta(meta Meta) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	payload, err := s.meta.Encode(meta)
	if err != nil {
		return nil, err
	}
	return codec.Encode(codec.KindMeta, payload, codec.Options{})
}

func (s *Store) decodeEntry(key string, value, meta []byte, status int, updated int64) (*Entry, error) {
	kind, payload, err := codec.Decode(value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	e := &Entry{
		Key:     key,
		Kind:    kind,
		Value:   payload,
		Status:  EntryStatus(status),
		Updated: time.Unix(0, updated),
	}
	if len(meta) > 0 {
		metaPayload, err := codec.DecodeKind(meta, codec.KindMeta)
		if err != nil {
			return nil, fmt.Errorf("failed to decode meta for %s: %w", key, err)
		}
		m, err := s.meta.Decode(metaPayload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode meta for %s: %w", key, err)
		}
		e.Meta = m
	}
	return e, nil
}
