// Package cache implements keyed cached-data records with request coalescing.
// See doc.go for complete package documentation.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/singleflight"

	"github.com/dreamware/torua-console/internal/telemetry"
)

// ErrNoData is recorded when a fetcher reports success without a value.
var ErrNoData = errors.New("fetcher returned no data")

// Record is the cached state of one resource (and optional key).
//
// Records are immutable once published: every transition allocates a new
// Record, so readers may hold on to a pointer and compare it against a later
// Get to detect change.
type Record[T any] struct {
	// Data is the last successfully retrieved value, nil if none.
	Data *T
	// InFlight is true while a request for this record is outstanding.
	InFlight bool
	// Valid is true iff Data reflects a fetch that has not been invalidated
	// or followed by a failure. Valid implies Data != nil and LastError == nil.
	Valid bool
	// LastError holds the most recent failure, nil after a success.
	LastError error
	// UpdatedAt is when the last request settled.
	UpdatedAt time.Time
}

// Status is the type-erased view of a Record.
type Status struct {
	HasData   bool
	InFlight  bool
	Valid     bool
	LastError error
	UpdatedAt time.Time
}

// Status returns the type-erased view of r.
func (r *Record[T]) Status() Status {
	if r == nil {
		return Status{}
	}
	return Status{
		HasData:   r.Data != nil,
		InFlight:  r.InFlight,
		Valid:     r.Valid,
		LastError: r.LastError,
		UpdatedAt: r.UpdatedAt,
	}
}

// Fetcher retrieves the value for key. It is expected to go through the
// request gateway and to honour timeout.
type Fetcher[T any] func(ctx context.Context, key string, timeout time.Duration) (*T, error)

// Resource is the non-generic surface the console store drives.
type Resource interface {
	Name() string
	Status(key string) Status
	EnsureStatus(ctx context.Context, key string, timeout time.Duration) Status
	Invalidate(key string)
	Keys() []string
}

type settings struct {
	logger    zerolog.Logger
	collector telemetry.Collector
	onChange  func()
	now       func() time.Time
}

// Option configures a Cache.
type Option func(*settings)

// WithLogger sets the logger used for request and invalidation events.
func WithLogger(l zerolog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithCollector sets the collector for cache operations; nil keeps the no-op collector.
func WithCollector(c telemetry.Collector) Option {
	return func(s *settings) {
		if c != nil {
			s.collector = c
		}
	}
}

// WithOnChange registers fn to run after every published record change.
// It runs without the cache lock held.
func WithOnChange(fn func()) Option {
	return func(s *settings) { s.onChange = fn }
}

// WithClock overrides the clock used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// Cache maps keys to records for one resource. The empty key addresses the
// singleton record of an un-keyed resource. Keys are created lazily and are
// never removed.
type Cache[T any] struct {
	name  string
	fetch Fetcher[T]
	settings

	mu      sync.Mutex
	records map[string]*Record[T]
	empty   *Record[T]

	// group holds a call for key exactly while records[key].InFlight is true.
	// Both are changed together under mu.
	group singleflight.Group
}

// New creates an empty cache for the resource called name.
func New[T any](name string, fetch Fetcher[T], opts ...Option) *Cache[T] {
	s := settings{
		logger:    zerolog.Nop(),
		collector: telemetry.Noop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &Cache[T]{
		name:     name,
		fetch:    fetch,
		settings: s,
		records:  make(map[string]*Record[T]),
		empty:    &Record[T]{},
	}
}

// Name returns the resource name.
func (c *Cache[T]) Name() string { return c.name }

// Get returns the current record for key, or a shared empty record.
func (c *Cache[T]) Get(key string) *Record[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache[T]) getLocked(key string) *Record[T] {
	if rec, ok := c.records[key]; ok {
		return rec
	}
	return c.empty
}

// Status returns the type-erased view of Get(key).
func (c *Cache[T]) Status(key string) Status {
	return c.Get(key).Status()
}

// Invalidate marks the record stale without discarding its data, so the next
// Ensure refetches while readers keep displaying the old value.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	rec, ok := c.records[key]
	if !ok || !rec.Valid {
		c.mu.Unlock()
		return
	}
	next := *rec
	next.Valid = false
	c.records[key] = &next
	c.mu.Unlock()

	c.logger.Debug().Str("resource", c.name).Str("key", key).Msg("invalidated")
	c.changed()
}

// Ensure makes sure a valid record exists for key and returns the record as
// it stands once that is settled.
//
// A valid record is returned immediately. If a request is already in flight
// the caller waits for that request instead of issuing another one.
// Otherwise a request is started. Fetch failures are stored in the record and
// never returned. ctx bounds only the wait: the request itself keeps running
// until it settles or its timeout fires, and its outcome is published for all
// readers.
func (c *Cache[T]) Ensure(ctx context.Context, key string, timeout time.Duration) *Record[T] {
	c.mu.Lock()
	rec := c.getLocked(key)
	if rec.Valid {
		c.mu.Unlock()
		c.collector.IncCacheHit(c.name)
		return rec
	}

	started := !rec.InFlight
	if started {
		next := *rec
		next.InFlight = true
		c.records[key] = &next
	}
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return nil, c.run(fetchCtx, key, timeout)
	})
	c.mu.Unlock()

	if started {
		c.logger.Debug().Str("resource", c.name).Str("key", key).Msg("request started")
		c.changed()
	} else {
		c.collector.IncCoalesced(c.name)
	}

	select {
	case <-ch:
	case <-ctx.Done():
	}
	return c.Get(key)
}

// EnsureStatus is Ensure returning the type-erased view.
func (c *Cache[T]) EnsureStatus(ctx context.Context, key string, timeout time.Duration) Status {
	return c.Ensure(ctx, key, timeout).Status()
}

// run performs the fetch and publishes its outcome. InFlight is cleared in
// the same step that sets either Data or LastError.
func (c *Cache[T]) run(ctx context.Context, key string, timeout time.Duration) error {
	data, err := c.fetch(ctx, key, timeout)
	if err == nil && data == nil {
		err = ErrNoData
	}

	c.mu.Lock()
	c.group.Forget(key)
	prev := c.getLocked(key)
	next := &Record[T]{UpdatedAt: c.now()}
	if err != nil {
		next.Data = prev.Data
		next.LastError = err
	} else {
		next.Data = data
		next.Valid = true
	}
	c.records[key] = next
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn().Err(err).Str("resource", c.name).Str("key", key).Msg("request failed")
	} else {
		c.logger.Debug().Str("resource", c.name).Str("key", key).Msg("request completed")
	}
	c.changed()
	return err
}

// Keys returns the keys with a record, sorted.
func (c *Cache[T]) Keys() []string {
	c.mu.Lock()
	keys := maps.Keys(c.records)
	c.mu.Unlock()
	slices.Sort(keys)
	return keys
}

// Snapshot returns a copy of the key to record mapping. The records
// themselves are shared; they are never mutated.
func (c *Cache[T]) Snapshot() map[string]*Record[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.records)
}

func (c *Cache[T]) changed() {
	if c.onChange != nil {
		c.onChange()
	}
}
