// Package media caches avatar and attachment bytes in memory and on disk.
// Fetch failures never surface to callers: a miss is a nil slice.
package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultMemoryEntries bounds the memory tier when no option is given.
const DefaultMemoryEntries = 512

// FetchFunc produces the bytes for a cache miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Validator reports whether bytes are fit to be served from the cache.
type Validator func([]byte) bool

// ImageValidator accepts content sniffed as any image type.
func ImageValidator(b []byte) bool {
	return strings.HasPrefix(mimetype.Detect(b).String(), "image/")
}

// Cache is a two-tier byte cache. Concurrent misses for one id share a
// single fetch.
type Cache struct {
	dir        string
	logger     *zap.Logger
	validate   Validator
	maxEntries int

	mu    sync.RWMutex
	mem   map[string][]byte
	order []string

	group singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithValidator sets the check applied to disk entries and fetched bytes.
func WithValidator(v Validator) Option {
	return func(c *Cache) { c.validate = v }
}

// WithMemoryEntries bounds the memory tier; the oldest entries go first.
func WithMemoryEntries(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCache creates a cache persisting entries under dir.
func NewCache(dir string, opts ...Option) (*Cache, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	c := &Cache{
		dir:        dir,
		logger:     zap.NewNop(),
		validate:   func(b []byte) bool { return len(b) > 0 },
		maxEntries: DefaultMemoryEntries,
		mem:        make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Dir returns the disk tier location.
func (c *Cache) Dir() string { return c.dir }

// Get returns the bytes for id, trying memory, then disk, then fetch.
// It returns nil when every tier misses or the fetch fails. Every call
// returns its own copy.
func (c *Cache) Get(ctx context.Context, id string, fetch FetchFunc) []byte {
	if b := c.Peek(id); b != nil {
		return b
	}

	v, err, _ := c.group.Do(id, func() (any, error) {
		// A concurrent caller may have filled the memory tier already.
		if b := c.Peek(id); b != nil {
			return b, nil
		}
		if fetch == nil {
			return nil, errors.New("no fetcher")
		}
		b, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if !c.valid(b) {
			return nil, errors.New("fetched content rejected")
		}
		c.Put(id, b)
		return b, nil
	})
	if err != nil {
		c.logger.Debug("media fetch failed", zap.String("id", id), zap.Error(err))
		return nil
	}
	return bytes.Clone(v.([]byte))
}

// Peek returns the cached bytes for id without fetching. A disk hit is
// promoted to memory; an unusable disk entry is removed.
func (c *Cache) Peek(id string) []byte {
	c.mu.RLock()
	b, ok := c.mem[id]
	c.mu.RUnlock()
	if ok {
		return bytes.Clone(b)
	}

	path := c.path(id)
	b, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Debug("media disk read failed", zap.String("id", id), zap.Error(err))
		}
		return nil
	}
	if !c.valid(b) {
		c.logger.Debug("discarding invalid disk entry", zap.String("id", id), zap.Int("bytes", len(b)))
		_ = os.Remove(path)
		return nil
	}
	c.remember(id, b)
	return b
}

// Put stores b under id in both tiers.
func (c *Cache) Put(id string, b []byte) {
	c.remember(id, b)
	if err := c.writeFile(c.path(id), b); err != nil {
		c.logger.Debug("media disk write failed", zap.String("id", id), zap.Error(err))
	}
}

// Clear empties both tiers.
func (c *Cache) Clear() error {
	c.mu.Lock()
	c.mem = make(map[string][]byte)
	c.order = nil
	c.mu.Unlock()

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read cache dir: %w", err)
	}
	var errs []error
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of entries in the memory tier.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mem)
}

func (c *Cache) valid(b []byte) bool {
	return len(b) > 0 && c.validate(b)
}

func (c *Cache) remember(id string, b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.mem[id]; !ok {
		c.order = append(c.order, id)
	}
	c.mem[id] = bytes.Clone(b)
	for len(c.order) > c.maxEntries {
		delete(c.mem, c.order[0])
		c.order = c.order[1:]
	}
}

func (c *Cache) path(id string) string {
	sum := sha256.Sum256([]byte(id))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:]))
}

// writeFile replaces path atomically so readers never see a partial entry.
func (c *Cache) writeFile(path string, b []byte) error {
	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
