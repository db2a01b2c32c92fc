// Package cache memoizes expensive provider calls on disk.
//
// Entries are gzip-compressed JSON blobs in a single directory. Any failure
// to read an entry is treated as a miss, and nil or empty results are never
// stored, so a transient empty answer cannot poison later calls.
package cache

import (
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/lox/surfcast/internal/metrics"
)

const fileSuffix = ".json.gz"

// Emptier is implemented by results that know when they carry no data.
type Emptier interface {
	Empty() bool
}

// Store is a file-backed blob cache.
type Store struct {
	dir    string
	maxAge time.Duration
	logger *slog.Logger
}

type Option func(*Store)

// WithMaxAge makes entries older than d count as misses. Zero keeps entries
// forever.
func WithMaxAge(d time.Duration) Option {
	return func(s *Store) { s.maxAge = d }
}

type entry struct {
	Key       string          `json:"key"`
	CreatedAt time.Time       `json:"created_at"`
	Value     json.RawMessage `json:"value"`
}

// New creates the cache directory if needed.
func New(dir string, logger *slog.Logger, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	s := &Store{dir: dir, logger: logger.With("component", "cache")}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Dir() string { return s.dir }

// Get decodes the entry for key into dst and reports whether it was found.
func (s *Store) Get(key string, dst any) bool {
	e, ok := s.read(s.path(key))
	if !ok || e.Key != key {
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return false
	}
	if s.maxAge > 0 && time.Since(e.CreatedAt) > s.maxAge {
		metrics.CacheRequests.WithLabelValues("expired").Inc()
		return false
	}
	if err := json.Unmarshal(e.Value, dst); err != nil {
		s.logger.Debug("cache entry undecodable", "key", key, "error", err)
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return false
	}
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return true
}

// Put stores v under key. It refuses nil or empty values and reports
// whether anything was written. Write failures are logged, never returned.
func (s *Store) Put(key string, v any) bool {
	if IsEmpty(v) {
		s.logger.Info("not caching empty result", "key", key)
		return false
	}

	value, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("cache encode failed", "key", key, "error", err)
		return false
	}
	data := entry{Key: key, CreatedAt: time.Now().UTC(), Value: value}

	if err := s.write(s.path(key), data); err != nil {
		s.logger.Warn("cache write failed", "key", key, "error", err)
		metrics.CacheWrites.WithLabelValues("error").Inc()
		return false
	}
	metrics.CacheWrites.WithLabelValues("ok").Inc()
	return true
}

// Evict removes the entry for key if present.
func (s *Store) Evict(key string) error {
	err := os.Remove(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Clear removes every entry and returns how many were deleted.
func (s *Store) Clear() (int, error) {
	files, err := s.files()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove %s: %w", filepath.Base(f), err)
		}
		removed++
	}
	return removed, nil
}

// Keys lists the keys of all readable entries.
func (s *Store) Keys() ([]string, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, f := range files {
		if e, ok := s.read(f); ok {
			keys = append(keys, e.Key)
		}
	}
	return keys, nil
}

func (s *Store) files() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), fileSuffix) {
			files = append(files, filepath.Join(s.dir, e.Name()))
		}
	}
	return files, nil
}

func (s *Store) read(path string) (entry, bool) {
	f, err := os.Open(path)
	if err != nil {
		return entry{}, false
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return entry{}, false
	}
	defer zr.Close()

	var e entry
	if err := json.NewDecoder(zr).Decode(&e); err != nil {
		return entry{}, false
	}
	return e, true
}

func (s *Store) write(path string, e entry) error {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	zw := gzip.NewWriter(tmp)
	if err := json.NewEncoder(zw).Encode(e); err != nil {
		tmp.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// path maps a key to a file name: readable ASCII prefix plus a digest of
// the full key so distinct keys never share a file.
func (s *Store) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	name := sanitize(key)
	if len(name) > 120 {
		name = name[:120]
	}
	return filepath.Join(s.dir, name+"-"+hex.EncodeToString(sum[:6])+fileSuffix)
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func sanitize(key string) string {
	ascii, _, err := transform.String(stripMarks, key)
	if err != nil {
		ascii = key
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_' || r == '(' || r == ')' || r == '=' || r == ',':
			return r
		default:
			return '-'
		}
	}, ascii)
}

// IsEmpty reports whether v is nil, an empty collection or an Emptier that
// says it is empty.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return true
		}
	}
	if e, ok := v.(Emptier); ok {
		return e.Empty()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.String:
		return rv.Len() == 0
	}
	return false
}

// Memoize returns the cached result of fn for (name, params), calling fn and
// caching its result on a miss. A nil store disables caching. Errors from fn
// are returned as-is and never cached.
func Memoize[T any](s *Store, name string, params Params, fn func() (T, error)) (T, error) {
	if s == nil {
		return fn()
	}
	key := Key(name, params)

	var cached T
	if s.Get(key, &cached) {
		return cached, nil
	}

	result, err := fn()
	if err != nil {
		return result, err
	}
	s.Put(key, result)
	return result, nil
}
