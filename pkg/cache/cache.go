// Package cache stores model answers by content address so that re-running a
// job re-uses every answer it already paid for.
//
// A Cache keeps an in-process map in front of an optional persisted Store.
// Entries are immutable: the first write for a key wins and later writes are
// ignored. Store failures never fail a job; they are logged and treated as a
// miss.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/expectedparrot/edsl-sub003/pkg/errors"
	"github.com/expectedparrot/edsl-sub003/pkg/logging"
)

// Entry is one cached model answer.
type Entry struct {
	Key       string          `json:"key"`
	Model     string          `json:"model"`
	System    string          `json:"system,omitempty"`
	Prompt    string          `json:"prompt"`
	Params    map[string]any  `json:"params,omitempty"`
	Iteration int             `json:"iteration"`
	Answer    string          `json:"answer"`
	Comment   string          `json:"comment,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is a persisted key/value backend for entries.
type Store interface {
	// Get returns the entry for key. A missing key is (Entry{}, false, nil).
	Get(ctx context.Context, key string) (Entry, bool, error)
	// PutIfAbsent writes e unless its key exists and reports whether it wrote.
	PutIfAbsent(ctx context.Context, e Entry) (bool, error)
	Close() error
}

// Stats counts cache traffic since the cache was created.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Writes      int64 `json:"writes"`
	Coalesced   int64 `json:"coalesced"`
	StoreErrors int64 `json:"store_errors"`
}

// Event is reported to the observer on every lookup outcome.
type Event struct {
	Key  string
	Hit  bool
	Kind string
}

// Event kinds.
const (
	EventHit        = "hit"
	EventMiss       = "miss"
	EventWrite      = "write"
	EventStoreError = "store_error"
)

// Options configures a Cache.
type Options struct {
	Logger   *logging.Logger
	Observer func(Event)
}

// FillFunc produces the entry for a missing key.
type FillFunc func(ctx context.Context) (Entry, error)

// Cache is safe for concurrent use by every interview in a job.
type Cache struct {
	store    Store
	logger   *logging.Logger
	observer func(Event)

	mu    sync.RWMutex
	local map[string]Entry

	group singleflight.Group

	hits        atomic.Int64
	misses      atomic.Int64
	writes      atomic.Int64
	coalesced   atomic.Int64
	storeErrors atomic.Int64
}

// New creates a cache in front of store. A nil store keeps entries in
// process only.
func New(store Store, opts Options) *Cache {
	return &Cache{
		store:    store,
		logger:   opts.Logger,
		observer: opts.Observer,
		local:    make(map[string]Entry),
	}
}

// Get looks key up locally and then in the store.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool) {
	e, ok := c.lookup(ctx, key)
	if ok {
		c.hits.Add(1)
		c.emit(Event{Key: key, Hit: true, Kind: EventHit})
	} else {
		c.misses.Add(1)
		c.emit(Event{Key: key, Kind: EventMiss})
	}
	return e, ok
}

// PutIfAbsent records e unless an entry for its key already exists. It
// returns the entry that is now authoritative for the key.
func (c *Cache) PutIfAbsent(ctx context.Context, e Entry) Entry {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	c.mu.Lock()
	if existing, ok := c.local[e.Key]; ok {
		c.mu.Unlock()
		return existing
	}
	c.local[e.Key] = e
	c.mu.Unlock()

	if c.store == nil {
		c.writes.Add(1)
		c.emit(Event{Key: e.Key, Kind: EventWrite})
		return e
	}

	wrote, err := c.store.PutIfAbsent(ctx, e)
	if err != nil {
		c.storeError(e.Key, "put", err)
		return e
	}
	if wrote {
		c.writes.Add(1)
		c.emit(Event{Key: e.Key, Kind: EventWrite})
	}
	return e
}

// Fetch returns the entry for key, calling fill on a miss. Concurrent misses
// on the same key share one fill. Errors from fill are returned and nothing
// is cached. hit is true unless fill ran for this caller.
func (c *Cache) Fetch(ctx context.Context, key string, fill FillFunc) (Entry, bool, error) {
	if e, ok := c.lookup(ctx, key); ok {
		c.hits.Add(1)
		c.emit(Event{Key: key, Hit: true, Kind: EventHit})
		return e, true, nil
	}

	var ran, filled bool
	v, err, _ := c.group.Do(key, func() (any, error) {
		ran = true
		if e, ok := c.lookup(ctx, key); ok {
			return e, nil
		}
		filled = true
		e, err := fill(ctx)
		if err != nil {
			return Entry{}, err
		}
		e.Key = key
		return c.PutIfAbsent(ctx, e), nil
	})
	if err != nil {
		return Entry{}, false, err
	}

	switch {
	case filled:
		c.misses.Add(1)
		c.emit(Event{Key: key, Kind: EventMiss})
	case ran:
		c.hits.Add(1)
		c.emit(Event{Key: key, Hit: true, Kind: EventHit})
	default:
		c.coalesced.Add(1)
		c.hits.Add(1)
		c.emit(Event{Key: key, Hit: true, Kind: EventHit})
	}
	return v.(Entry), !filled, nil
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Writes:      c.writes.Load(),
		Coalesced:   c.coalesced.Load(),
		StoreErrors: c.storeErrors.Load(),
	}
}

// Len returns the number of entries held in process.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.local)
}

// Close closes the persisted store.
func (c *Cache) Close() error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.Close()
}

func (c *Cache) lookup(ctx context.Context, key string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.local[key]
	c.mu.RUnlock()
	if ok || c.store == nil {
		return e, ok
	}

	e, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.storeError(key, "get", err)
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}

	c.mu.Lock()
	if existing, found := c.local[key]; found {
		e = existing
	} else {
		c.local[key] = e
	}
	c.mu.Unlock()
	return e, true
}

func (c *Cache) storeError(key, op string, err error) {
	c.storeErrors.Add(1)
	c.emit(Event{Key: key, Kind: EventStoreError})
	wrapped := errors.Wrap(err, errors.ErrCodeCacheUnavailable, "cache store "+op+" failed")
	_ = c.logger.Warn(logging.CategoryCache, "cache.unavailable", wrapped.Error(), map[string]any{
		"key": key,
		"op":  op,
	})
}

func (c *Cache) emit(e Event) {
	if c.observer != nil {
		c.observer(e)
	}
}
