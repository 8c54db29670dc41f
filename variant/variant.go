// Package variant is the content-addressed cache of resized images. A variant
// is named after a hash of its source path and its width, so a file on disk
// doubles as a persistent cache entry across runs.
package variant

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Skryldev/image-responsive/core"
)

// Outcomes reported to core.MetricsCollector.RecordVariant.
const (
	OutcomeMemory   = "memory"
	OutcomeDisk     = "disk"
	OutcomeProduced = "produced"
	OutcomeFailed   = "failed"
	// OutcomeShared is a variant produced by another cache's concurrent call.
	OutcomeShared = "shared"
)

// Key identifies one variant.
type Key struct {
	Source string // hex SHA-512 of the resolved source path
	Width  int
}

// KeyFor derives the key of path at width.
func KeyFor(path string, width int) Key {
	sum := sha512.Sum512([]byte(path))
	return Key{Source: hex.EncodeToString(sum[:]), Width: width}
}

// Filename is the deterministic variant file name: <hash>_<width>w.<ext>.
func (k Key) Filename(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	return k.Source + "_" + strconv.Itoa(k.Width) + "w." + ext
}

func (k Key) String() string { return k.Source + "@" + strconv.Itoa(k.Width) }

// Existence reports whether a file is already present. core.Storage
// satisfies it.
type Existence interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// ProduceFunc writes the variant to dest.
type ProduceFunc func(ctx context.Context, dest string) error

// Flights serializes variant production per destination file across every
// Cache sharing it. Callers arriving while a file is being produced wait for
// that call and share its result. The zero value is ready to use.
type Flights struct {
	g singleflight.Group
}

// NewFlights returns an empty Flights.
func NewFlights() *Flights { return &Flights{} }

// do runs fn for file unless a call for file is already in flight. A caller
// that joined another caller's call gets OutcomeShared (or OutcomeFailed).
func (f *Flights) do(file string, fn func() (string, error)) (string, error) {
	ran := false
	v, err, _ := f.g.Do(file, func() (interface{}, error) {
		ran = true
		return fn()
	})
	switch {
	case err != nil:
		return OutcomeFailed, err
	case !ran:
		return OutcomeShared, nil
	}
	return v.(string), nil
}

// Cache maps keys to public variant paths for one document pass. Resolve
// guarantees at most one ProduceFunc call per key, even under concurrency.
// Caches built with the same Flights also never produce one file twice at
// the same time.
type Cache struct {
	dir       string
	public    string
	overwrite bool
	fs        Existence
	metrics   core.MetricsCollector
	flights   *Flights

	group   singleflight.Group
	mu      sync.RWMutex
	records map[Key]string
	failed  map[Key]error
}

// Option configures a Cache.
type Option func(*Cache)

func WithMetrics(m core.MetricsCollector) Option { return func(c *Cache) { c.metrics = m } }

// WithFlights shares f with other caches, typically one per process.
func WithFlights(f *Flights) Option { return func(c *Cache) { c.flights = f } }

// New returns a Cache writing under dir and publishing under public. With
// overwrite set, files already on disk are regenerated once per pass.
func New(dir, public string, overwrite bool, fs Existence, opts ...Option) *Cache {
	c := &Cache{
		dir:       dir,
		public:    strings.TrimRight(public, "/"),
		overwrite: overwrite,
		fs:        fs,
		records:   make(map[Key]string),
		failed:    make(map[Key]error),
	}
	for _, o := range opts {
		o(c)
	}
	if c.flights == nil {
		c.flights = NewFlights()
	}
	return c
}

// Lookup returns the recorded public path of k.
func (c *Cache) Lookup(k Key) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.records[k]
	return p, ok
}

// Record stores the public path of k.
func (c *Cache) Record(k Key, publicPath string) {
	c.mu.Lock()
	c.records[k] = publicPath
	delete(c.failed, k)
	c.mu.Unlock()
}

// Path returns the filesystem and public paths of k.
func (c *Cache) Path(k Key, ext string) (file, public string) {
	name := k.Filename(ext)
	return filepath.Join(c.dir, name), c.public + "/" + name
}

// Resolve returns the public path of k, calling produce when the variant is
// neither recorded nor (unless overwriting) already on disk. A failed key is
// not retried for the lifetime of the Cache.
func (c *Cache) Resolve(ctx context.Context, k Key, ext string, produce ProduceFunc) (string, error) {
	if p, ok := c.Lookup(k); ok {
		c.record(OutcomeMemory)
		return p, nil
	}

	v, err, _ := c.group.Do(k.String(), func() (interface{}, error) {
		c.mu.RLock()
		p, ok := c.records[k]
		ferr := c.failed[k]
		c.mu.RUnlock()
		if ok {
			c.record(OutcomeMemory)
			return p, nil
		}
		if ferr != nil {
			return "", ferr
		}

		file, public := c.Path(k, ext)
		outcome, err := c.flights.do(file, func() (string, error) {
			if !c.overwrite {
				exists, err := c.fs.Exists(ctx, file)
				if err != nil {
					return "", err
				}
				if exists {
					return OutcomeDisk, nil
				}
			}
			if err := produce(ctx, file); err != nil {
				return "", err
			}
			return OutcomeProduced, nil
		})
		if err != nil {
			c.mu.Lock()
			c.failed[k] = err
			c.mu.Unlock()
			c.record(OutcomeFailed)
			return "", err
		}
		c.Record(k, public)
		c.record(outcome)
		return public, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Cache) record(outcome string) {
	if c.metrics != nil {
		c.metrics.RecordVariant(outcome)
	}
}
