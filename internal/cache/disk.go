// Package cache implements a content-addressed disk cache for API
// responses, with two expiry regimes.
//
// Short entries expire a fixed delay after they were written. Long
// entries have a far greater expiry that is reset on every access, so
// data that keeps being used stays cached indefinitely while abandoned
// entries age out.
package cache

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/blake3"

	"github.com/hubfs/hubfs/internal/metrics"
	"github.com/hubfs/hubfs/pkg/errors"
)

// Mode selects the expiry regime of a cache entry.
type Mode int

const (
	// ModeShort entries expire ShortExpiry after being written.
	ModeShort Mode = iota
	// ModeLong entries expire LongExpiry after their last access.
	ModeLong
)

// suffix returns the one-character filename suffix keeping the two modes
// independent under the same logical key.
func (m Mode) suffix() string {
	if m == ModeLong {
		return "l"
	}
	return "s"
}

func (m Mode) String() string {
	if m == ModeLong {
		return "long"
	}
	return "short"
}

const (
	// DefaultShortExpiry is the default lifetime of short-mode entries.
	DefaultShortExpiry = 60 * time.Second
	// DefaultLongExpiry is the default sliding lifetime of long-mode
	// entries (48 hours).
	DefaultLongExpiry = 172800 * time.Second
)

// Config represents disk cache configuration.
type Config struct {
	Directory   string        `yaml:"directory"`
	ShortExpiry time.Duration `yaml:"short_expiry"`
	LongExpiry  time.Duration `yaml:"long_expiry"`
}

// Cache is a handle on one on-disk cache directory. The directory is
// created lazily, with owner-only permissions, on the first Set.
type Cache struct {
	dir         string
	shortExpiry time.Duration
	longExpiry  time.Duration

	initOnce sync.Once
	initErr  error

	metrics *metrics.Collector
}

// New creates a cache handle. The directory itself is not touched until
// the first write.
func New(cfg *Config, collector *metrics.Collector) (*Cache, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	dir := cfg.Directory
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("resolve cache directory: %w", err)
		}
		dir = filepath.Join(base, "hubfs")
	}

	c := &Cache{
		dir:         dir,
		shortExpiry: cfg.ShortExpiry,
		longExpiry:  cfg.LongExpiry,
		metrics:     collector,
	}
	if c.shortExpiry <= 0 {
		c.shortExpiry = DefaultShortExpiry
	}
	if c.longExpiry <= 0 {
		c.longExpiry = DefaultLongExpiry
	}
	return c, nil
}

// Directory returns the cache directory path.
func (c *Cache) Directory() string {
	return c.dir
}

// hashKey converts a logical key to its on-disk base name.
func hashKey(key string) string {
	sum := blake3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) path(key string, mode Mode) string {
	return filepath.Join(c.dir, hashKey(key)+mode.suffix())
}

func (c *Cache) expiry(mode Mode) time.Duration {
	if mode == ModeLong {
		return c.longExpiry
	}
	return c.shortExpiry
}

// Get returns the cached value for key, probing the short entry first and
// the long entry second. Expired entries are deleted as a side effect. A
// hit on a long entry resets its age to zero. Returns a CacheMiss error
// when no live entry exists.
func (c *Cache) Get(key string) ([]byte, error) {
	now := time.Now()
	hashed := hashKey(key)

	for _, mode := range []Mode{ModeShort, ModeLong} {
		path := filepath.Join(c.dir, hashed+mode.suffix())

		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		if now.Sub(info.ModTime()) > c.expiry(mode) {
			_ = os.Remove(path)
			c.metrics.RecordCacheMiss("expired")
			continue
		}

		if mode == ModeLong {
			// Sliding expiry: every access restarts the clock.
			_ = os.Chtimes(path, now, now)
		}

		value, err := readEntry(path)
		if err != nil {
			// Corrupted entry, drop it and keep probing.
			_ = os.Remove(path)
			continue
		}
		c.metrics.RecordCacheHit(mode.String())
		return value, nil
	}

	c.metrics.RecordCacheMiss("absent")
	return nil, errors.NewCacheMiss(key)
}

// Set stores value under key in the given mode, overwriting any previous
// entry for the same (key, mode) pair.
func (c *Cache) Set(key string, value []byte, mode Mode) error {
	c.initOnce.Do(func() {
		if err := os.MkdirAll(c.dir, 0o700); err != nil {
			c.initErr = fmt.Errorf("create cache directory: %w", err)
			return
		}
		// MkdirAll does not tighten an existing directory.
		c.initErr = os.Chmod(c.dir, 0o700)
	})
	if c.initErr != nil {
		return c.initErr
	}

	return writeEntry(c.path(key, mode), value)
}

// Sweep deletes every entry, in both modes, whose age exceeds its mode's
// expiry. It scans the cache directory once.
func (c *Cache) Sweep() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scan cache directory: %w", err)
	}

	now := time.Now()
	for _, entry := range entries {
		name := entry.Name()
		if len(name) == 0 {
			continue
		}

		var mode Mode
		switch name[len(name)-1:] {
		case "s":
			mode = ModeShort
		case "l":
			mode = ModeLong
		default:
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > c.expiry(mode) {
			_ = os.Remove(filepath.Join(c.dir, name))
		}
	}
	return nil
}

func writeEntry(path string, value []byte) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	zw := gzip.NewWriter(file)
	if _, err = zw.Write(value); err == nil {
		err = zw.Close()
	} else {
		_ = zw.Close()
	}

	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
	}
	return err
}

func readEntry(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	zr, err := gzip.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, zr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
