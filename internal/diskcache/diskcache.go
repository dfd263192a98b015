// Package diskcache is an optional on-disk spill cache for fetched byte
// ranges, keyed by sha256(url, start, end). It supplements the in-memory
// segment cache (internal/cache) for long-lived sessions that want warm
// ranges to survive a process restart. Grounded on the teacher's
// internal/nzbfilesystem/segcache package (disk KV keyed by a sha256 of
// an identifier, in-memory catalog, atomic temp-write+rename, LRU
// eviction sorted by last-access).
package diskcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
)

// Entry describes one cached range's bookkeeping, mirroring the
// teacher's cacheEntry.
type Entry struct {
	Key        string
	Path       string
	Size       int64
	LastAccess time.Time
}

// Store is a bounded-size, LRU-evicted on-disk cache of byte ranges.
type Store struct {
	fs       afero.Fs
	dir      string
	maxBytes int64

	mu      sync.Mutex
	catalog map[string]*Entry
	total   int64

	group singleflight.Group
}

// New opens (creating if necessary) a Store rooted at dir on fs. maxBytes
// of 0 means unbounded.
func New(fs afero.Fs, dir string, maxBytes int64) (*Store, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("diskcache: mkdir %s: %w", dir, err)
	}
	s := &Store{fs: fs, dir: dir, maxBytes: maxBytes, catalog: make(map[string]*Entry)}
	if err := s.loadCatalog(); err != nil {
		return nil, err
	}
	return s, nil
}

// Key derives the cache key for a byte range of url.
func Key(url string, start, end int64) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d", url, start, end)))
	return hex.EncodeToString(h[:])
}

func (s *Store) pathFor(key string) string {
	return filepath.Join(s.dir, key+".bin")
}

// Has reports whether key is present without updating its LastAccess.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.catalog[key]
	return ok
}

// Get reads the cached bytes for key, bumping its LastAccess on hit.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	entry, ok := s.catalog[key]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	entry.LastAccess = now()
	s.mu.Unlock()

	f, err := s.fs.Open(entry.Path)
	if err != nil {
		return nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put writes data under key via a temp-file-then-rename, matching the
// teacher's atomic-write discipline, then runs eviction.
func (s *Store) Put(key string, data []byte) error {
	path := s.pathFor(key)
	tmp := path + ".tmp"
	f, err := s.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("diskcache: create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("diskcache: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("diskcache: close temp file: %w", err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("diskcache: rename temp file: %w", err)
	}

	s.mu.Lock()
	if old, ok := s.catalog[key]; ok {
		s.total -= old.Size
	}
	s.catalog[key] = &Entry{Key: key, Path: path, Size: int64(len(data)), LastAccess: now()}
	s.total += int64(len(data))
	s.mu.Unlock()

	return s.Evict()
}

// Fetch returns the cached bytes for key, or calls fn to produce and
// store them, deduplicating concurrent calls for the same key via
// singleflight — grounded on the teacher's shared FetchGroup pattern in
// internal/fuse/vfs/file.go.
func (s *Store) Fetch(key string, fn func() ([]byte, error)) ([]byte, error) {
	if data, ok := s.Get(key); ok {
		return data, nil
	}
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		if data, ok := s.Get(key); ok {
			return data, nil
		}
		data, err := fn()
		if err != nil {
			return nil, err
		}
		if err := s.Put(key, data); err != nil {
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Evict drops least-recently-used entries until total size is within
// maxBytes, mirroring segcache.Evict's ascending-LastAccess sort.
func (s *Store) Evict() error {
	s.mu.Lock()
	if s.maxBytes <= 0 || s.total <= s.maxBytes {
		s.mu.Unlock()
		return nil
	}
	entries := make([]*Entry, 0, len(s.catalog))
	for _, e := range s.catalog {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccess.Before(entries[j].LastAccess)
	})
	var toRemove []*Entry
	total := s.total
	for _, e := range entries {
		if total <= s.maxBytes {
			break
		}
		toRemove = append(toRemove, e)
		total -= e.Size
	}
	s.mu.Unlock()

	for _, e := range toRemove {
		if err := s.remove(e.Key); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) remove(key string) error {
	s.mu.Lock()
	e, ok := s.catalog[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.catalog, key)
	s.total -= e.Size
	s.mu.Unlock()
	if err := s.fs.Remove(e.Path); err != nil {
		return fmt.Errorf("diskcache: remove %s: %w", e.Path, err)
	}
	return nil
}

// Cleanup removes every entry, emptying the store on disk.
func (s *Store) Cleanup() error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.catalog))
	for k := range s.catalog {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	for _, k := range keys {
		if err := s.remove(k); err != nil {
			return err
		}
	}
	return nil
}

// TotalSize returns the current total bytes on disk tracked by the
// catalog.
func (s *Store) TotalSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// ItemCount returns the number of cached entries.
func (s *Store) ItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.catalog)
}

// loadCatalog walks dir to rebuild the in-memory catalog after a
// restart (the teacher persists a sidecar catalog file; we rebuild from
// directory contents instead, since afero.Fs doesn't guarantee stat
// stability across backends for a serialized catalog format).
func (s *Store) loadCatalog() error {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return fmt.Errorf("diskcache: read dir %s: %w", s.dir, err)
	}
	for _, fi := range entries {
		if fi.IsDir() || filepath.Ext(fi.Name()) != ".bin" {
			continue
		}
		key := fi.Name()[:len(fi.Name())-len(".bin")]
		s.catalog[key] = &Entry{
			Key:        key,
			Path:       filepath.Join(s.dir, fi.Name()),
			Size:       fi.Size(),
			LastAccess: fi.ModTime(),
		}
		s.total += fi.Size()
	}
	return nil
}

var nowFunc = time.Now

func now() time.Time { return nowFunc() }
