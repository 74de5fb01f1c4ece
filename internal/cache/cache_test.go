package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapetech/portal-client/internal/catalog"
)

// fakeClock lets tests move a store's notion of now without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testKey(category string) Key {
	return Key{Endpoint: "portal.example|00:1a:79:a2:9c:92", Kind: catalog.KindChannel, Category: category}
}

func testItems(n int) []catalog.Item {
	items := make([]catalog.Item, n)
	for i := range items {
		items[i] = catalog.Item{
			Kind:    catalog.KindChannel,
			ID:      fmt.Sprintf("ch-%d", i),
			Title:   fmt.Sprintf("Channel %d", i),
			Ordinal: i,
		}
	}
	return items
}

func TestPutGetRoundTrip(t *testing.T) {
	s := NewStore(zerolog.Nop())
	key := testKey("1")

	_, ok := s.Get(key)
	require.False(t, ok)
	require.Equal(t, Absent, s.Freshness(key))

	items := testItems(3)
	s.Put(key, items)

	got, ok := s.Get(key)
	require.True(t, ok)
	require.Equal(t, items, got.Items, "item order must survive the round trip")
	require.Equal(t, Fresh, s.Freshness(key))
}

func TestFreshnessTransitions(t *testing.T) {
	clk := newFakeClock()
	s := NewStore(zerolog.Nop(), WithTTLs(TTLs{Channels: time.Hour, EPG: time.Minute}))
	s.now = clk.Now

	chKey := testKey("1")
	epgKey := Key{Endpoint: chKey.Endpoint, Kind: catalog.KindEPG, Category: "101"}
	s.Put(chKey, testItems(1))
	s.Put(epgKey, testItems(1))

	assert.Equal(t, Fresh, s.Freshness(chKey))
	assert.Equal(t, Fresh, s.Freshness(epgKey))

	clk.Advance(2 * time.Minute)
	assert.Equal(t, Fresh, s.Freshness(chKey), "channel TTL is longer than EPG TTL")
	assert.Equal(t, Stale, s.Freshness(epgKey))

	clk.Advance(2 * time.Hour)
	assert.Equal(t, Stale, s.Freshness(chKey))

	s.Put(chKey, testItems(2))
	assert.Equal(t, Fresh, s.Freshness(chKey), "a put resets freshness")
}

func TestInvalidate(t *testing.T) {
	s := NewStore(zerolog.Nop())
	key := testKey("1")
	s.Put(key, testItems(2))
	s.Invalidate(key)
	_, ok := s.Get(key)
	require.False(t, ok)
	require.Equal(t, Absent, s.Freshness(key))
}

func TestLRUEviction(t *testing.T) {
	s := NewStore(zerolog.Nop(), WithMaxEntries(2))
	a, b, c := testKey("a"), testKey("b"), testKey("c")
	s.Put(a, testItems(1))
	s.Put(b, testItems(1))

	// Touch a so b is the eviction candidate.
	_, ok := s.Get(a)
	require.True(t, ok)

	s.Put(c, testItems(1))
	_, ok = s.Get(a)
	assert.True(t, ok, "recently used entry survived")
	_, ok = s.Get(b)
	assert.False(t, ok, "least recently used entry evicted")
	_, ok = s.Get(c)
	assert.True(t, ok)
}

func TestGetOrRefreshAbsentCoalesces(t *testing.T) {
	s := NewStore(zerolog.Nop())
	key := testKey("1")

	var fetches int32
	gate := make(chan struct{})
	refresh := func(ctx context.Context) ([]catalog.Item, error) {
		atomic.AddInt32(&fetches, 1)
		<-gate
		return testItems(2), nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]Entry, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.GetOrRefresh(context.Background(), key, refresh)
		}(i)
	}
	// Let the callers pile up on the single flight, then release it.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i].Items, 2)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&fetches), "absent readers must share one fetch")
}

func TestGetOrRefreshStaleServesOldAndRefreshesOnce(t *testing.T) {
	clk := newFakeClock()
	s := NewStore(zerolog.Nop(), WithTTLs(TTLs{Channels: time.Minute}))
	s.now = clk.Now
	key := testKey("1")

	old := testItems(1)
	s.Put(key, old)
	clk.Advance(time.Hour)
	require.Equal(t, Stale, s.Freshness(key))

	var fetches int32
	gate := make(chan struct{})
	refresh := func(ctx context.Context) ([]catalog.Item, error) {
		atomic.AddInt32(&fetches, 1)
		<-gate
		return testItems(3), nil
	}

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := s.GetOrRefresh(context.Background(), key, refresh)
			assert.NoError(t, err)
			// Stale readers get the old snapshot immediately.
			assert.Equal(t, old, e.Items)
		}()
	}
	wg.Wait()
	close(gate)

	// The background refresh eventually replaces the entry.
	require.Eventually(t, func() bool {
		e, ok := s.Get(key)
		return ok && len(e.Items) == 3
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&fetches), "stale readers must share one background refresh")
}

func TestGetOrRefreshFailedRefreshKeepsStaleEntry(t *testing.T) {
	clk := newFakeClock()
	s := NewStore(zerolog.Nop(), WithTTLs(TTLs{Channels: time.Minute}))
	s.now = clk.Now
	key := testKey("1")

	old := testItems(2)
	s.Put(key, old)
	clk.Advance(time.Hour)

	done := make(chan struct{})
	var once sync.Once
	refresh := func(ctx context.Context) ([]catalog.Item, error) {
		defer once.Do(func() { close(done) })
		return nil, errors.New("portal down")
	}
	e, err := s.GetOrRefresh(context.Background(), key, refresh)
	require.NoError(t, err)
	require.Equal(t, old, e.Items)

	<-done
	// The stale snapshot is still there for the next reader.
	got, ok := s.Get(key)
	require.True(t, ok)
	require.Equal(t, old, got.Items)
}

func TestGetOrRefreshAbsentFetchError(t *testing.T) {
	s := NewStore(zerolog.Nop())
	key := testKey("1")
	wantErr := errors.New("portal down")
	_, err := s.GetOrRefresh(context.Background(), key, func(ctx context.Context) ([]catalog.Item, error) {
		return nil, wantErr
	})
	require.ErrorIs(t, err, wantErr)
	_, ok := s.Get(key)
	require.False(t, ok, "failed fetch must not populate the cache")
}

func TestSQLiteWriteThroughAndWarm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	db, err := OpenDB(path)
	require.NoError(t, err)
	defer db.Close()

	clk := newFakeClock()
	s := NewStore(zerolog.Nop(), WithDB(db))
	s.now = clk.Now
	key := testKey("1")
	items := testItems(3)
	s.Put(key, items)

	// A fresh store over the same DB sees the snapshot with its original
	// fetch time, not a new one.
	s2 := NewStore(zerolog.Nop(), WithDB(db))
	require.NoError(t, s2.Warm(key.Endpoint))
	got, ok := s2.Get(key)
	require.True(t, ok)
	require.Equal(t, items, got.Items)
	require.True(t, got.FetchedAt.Equal(clk.Now()), "FetchedAt must survive persistence")
}

func TestSQLiteUpsertAndEvict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	db, err := OpenDB(path)
	require.NoError(t, err)
	defer db.Close()

	key := testKey("1")
	require.NoError(t, db.Save(Entry{Key: key, Items: testItems(1), FetchedAt: time.Now()}))
	require.NoError(t, db.Save(Entry{Key: key, Items: testItems(4), FetchedAt: time.Now()}))

	e, ok, err := db.Load(key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, e.Items, 4, "second save replaces the first")

	require.NoError(t, db.Evict(key.Endpoint))
	_, ok, err = db.Load(key)
	require.NoError(t, err)
	require.False(t, ok)
}
