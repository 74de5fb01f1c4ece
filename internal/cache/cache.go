// Package cache stores fetched catalogs keyed by portal account, kind and
// category. Reads never block on network I/O: stale entries are served
// while at most one background refresh per key runs.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/snapetech/portal-client/internal/catalog"
	"github.com/snapetech/portal-client/internal/metrics"
)

// Key identifies one cached catalog slice: (endpoint, kind, category).
type Key struct {
	Endpoint string       // portal.Endpoint.Key()
	Kind     catalog.Kind //
	Category string       // category/genre id, or channel id for EPG
}

// Entry is an immutable snapshot of one catalog slice. Items keep response
// order; FetchedAt drives freshness.
type Entry struct {
	Key       Key
	Items     []catalog.Item
	FetchedAt time.Time
}

// Freshness of a key at some instant.
type Freshness int

const (
	Absent Freshness = iota
	Fresh
	Stale
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	}
	return "absent"
}

// TTLs configures per-kind freshness windows. EPG changes constantly and
// gets the shortest window; channel lineups barely move.
type TTLs struct {
	Channels time.Duration
	Movies   time.Duration
	Series   time.Duration
	EPG      time.Duration
}

// DefaultTTLs is the shipped policy.
var DefaultTTLs = TTLs{
	Channels: 6 * time.Hour,
	Movies:   12 * time.Hour,
	Series:   12 * time.Hour,
	EPG:      10 * time.Minute,
}

func (t TTLs) For(kind catalog.Kind) time.Duration {
	switch kind {
	case catalog.KindChannel:
		return t.Channels
	case catalog.KindMovie:
		return t.Movies
	case catalog.KindSeries:
		return t.Series
	case catalog.KindEPG:
		return t.EPG
	}
	return t.Movies
}

// RefreshFunc fetches fresh items for a key.
type RefreshFunc func(ctx context.Context) ([]catalog.Item, error)

// Store is the in-memory cache. An optional DB makes puts write-through
// and lets Warm preload a cold start.
type Store struct {
	mu         sync.Mutex
	entries    map[Key]*list.Element // values are *node
	lru        *list.List            // front = most recently used
	maxEntries int                   // 0 = unbounded
	ttls       TTLs
	group      singleflight.Group
	db         *DB
	now        func() time.Time
	log        zerolog.Logger
}

type node struct {
	key   Key
	entry Entry
}

// Option configures a Store.
type Option func(*Store)

// WithMaxEntries caps the store at n entries, evicting least recently used
// ones past the ceiling. Zero keeps it unbounded (catalog sizes are bounded
// by portal content).
func WithMaxEntries(n int) Option { return func(s *Store) { s.maxEntries = n } }

// WithTTLs overrides the freshness policy.
func WithTTLs(t TTLs) Option { return func(s *Store) { s.ttls = t } }

// WithDB attaches a persistence layer; every Put is written through.
func WithDB(db *DB) Option { return func(s *Store) { s.db = db } }

// NewStore builds an empty store.
func NewStore(log zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		entries: make(map[Key]*list.Element),
		lru:     list.New(),
		ttls:    DefaultTTLs,
		now:     time.Now,
		log:     log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns the entry for key, absent or not, and bumps its recency.
func (s *Store) Get(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.entries[key]
	if !ok {
		metrics.CacheMisses.WithLabelValues(string(key.Kind)).Inc()
		return Entry{}, false
	}
	s.lru.MoveToFront(el)
	n := el.Value.(*node)
	metrics.CacheHits.WithLabelValues(string(key.Kind), s.freshnessLocked(n.entry).String()).Inc()
	return n.entry, true
}

// Put replaces the entry for key with items as of now. The write is atomic:
// readers see either the old snapshot or the new one.
func (s *Store) Put(key Key, items []catalog.Item) {
	s.put(Entry{Key: key, Items: items, FetchedAt: s.now()})
}

func (s *Store) put(e Entry) {
	s.mu.Lock()
	if el, ok := s.entries[e.Key]; ok {
		el.Value.(*node).entry = e
		s.lru.MoveToFront(el)
	} else {
		s.entries[e.Key] = s.lru.PushFront(&node{key: e.Key, entry: e})
	}
	for s.maxEntries > 0 && s.lru.Len() > s.maxEntries {
		oldest := s.lru.Back()
		s.lru.Remove(oldest)
		delete(s.entries, oldest.Value.(*node).key)
	}
	s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Save(e); err != nil {
			s.log.Warn().Err(err).Str("kind", string(e.Key.Kind)).Msg("cache persist failed")
		}
	}
}

// Invalidate forces the next read of key to refetch.
func (s *Store) Invalidate(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.entries[key]; ok {
		s.lru.Remove(el)
		delete(s.entries, key)
	}
}

// Freshness classifies key under the TTL policy.
func (s *Store) Freshness(key Key) Freshness {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.entries[key]
	if !ok {
		return Absent
	}
	return s.freshnessLocked(el.Value.(*node).entry)
}

func (s *Store) freshnessLocked(e Entry) Freshness {
	if s.now().Sub(e.FetchedAt) < s.ttls.For(e.Key.Kind) {
		return Fresh
	}
	return Stale
}

// GetOrRefresh implements stale-while-revalidate. Fresh entries return
// immediately. Stale entries return the old snapshot and schedule at most
// one background refresh for the key; concurrent readers during the
// refresh get the same snapshot and schedule nothing. Absent entries fetch
// synchronously, still coalesced per key. A failed or cancelled refresh
// leaves the cache untouched.
func (s *Store) GetOrRefresh(ctx context.Context, key Key, refresh RefreshFunc) (Entry, error) {
	e, ok := s.Get(key)
	if ok {
		if s.Freshness(key) == Fresh {
			return e, nil
		}
		s.refreshAsync(key, refresh)
		return e, nil
	}
	v, err, _ := s.group.Do(flightKey(key), func() (interface{}, error) {
		items, err := refresh(ctx)
		if err != nil {
			return nil, err
		}
		s.Put(key, items)
		e, _ := s.Get(key)
		return e, nil
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

// refreshAsync schedules a background refresh unless one is already in
// flight for the key. The refresh uses its own context: the reader that
// happened to trigger it may go away without aborting the shared work.
func (s *Store) refreshAsync(key Key, refresh RefreshFunc) {
	go func() {
		_, _, _ = s.group.Do(flightKey(key), func() (interface{}, error) {
			// A reader queued behind a completed refresh re-enters here;
			// skip when that refresh already made the entry fresh.
			if s.Freshness(key) == Fresh {
				return nil, nil
			}
			metrics.CacheRefreshes.WithLabelValues(string(key.Kind)).Inc()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			items, err := refresh(ctx)
			if err != nil {
				s.log.Debug().Err(err).Str("kind", string(key.Kind)).
					Str("category", key.Category).Msg("background refresh failed")
				return nil, err
			}
			s.Put(key, items)
			return nil, nil
		})
	}()
}

// Warm loads every persisted entry for the endpoint into memory. Entries
// come back with their original FetchedAt, so stale ones are served
// stale-while-revalidate rather than refetched up front.
func (s *Store) Warm(endpoint string) error {
	if s.db == nil {
		return nil
	}
	entries, err := s.db.LoadAll(endpoint)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if el, ok := s.entries[e.Key]; ok {
			el.Value.(*node).entry = e
			continue
		}
		s.entries[e.Key] = s.lru.PushFront(&node{key: e.Key, entry: e})
	}
	return nil
}

func flightKey(k Key) string {
	return k.Endpoint + "|" + string(k.Kind) + "|" + k.Category
}
