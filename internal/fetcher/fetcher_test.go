package fetcher

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapetech/portal-client/internal/cache"
	"github.com/snapetech/portal-client/internal/catalog"
	"github.com/snapetech/portal-client/internal/httpclient"
	"github.com/snapetech/portal-client/internal/portal"
)

func newTestFetcher(t *testing.T, m *portal.MockPortal) (*Fetcher, *cache.Store) {
	t.Helper()
	ep, err := portal.NewEndpoint(m.URL, "00:1a:79:a2:9c:92", portal.EndpointOpts{})
	require.NoError(t, err)
	c := portal.NewClient(ep, zerolog.Nop())
	c.Retry = httpclient.RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	c.Sem = httpclient.NewHostSemaphore(8)
	c.Limiter = httpclient.NewHostLimiter(1000, 1000)
	mgr := portal.NewManager(time.Hour, zerolog.Nop())
	store := cache.NewStore(zerolog.Nop())
	return New(c, mgr, store, zerolog.Nop()), store
}

func TestListCategoriesSorted(t *testing.T) {
	m := portal.NewMockPortal()
	defer m.Close()
	f, _ := newTestFetcher(t, m)

	cats, err := f.ListCategories(context.Background(), catalog.KindChannel)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "News", cats[0].Title)
	assert.Equal(t, "Sports", cats[1].Title)
	for _, c := range cats {
		assert.Equal(t, catalog.KindChannel, c.Kind)
	}

	vod, err := f.ListCategories(context.Background(), catalog.KindMovie)
	require.NoError(t, err)
	require.Len(t, vod, 1)
	assert.Equal(t, "Action", vod[0].Title)
}

func TestListItemsPagination(t *testing.T) {
	m := portal.NewMockPortal()
	defer m.Close()
	f, _ := newTestFetcher(t, m)
	news := catalog.Category{ID: "1", Title: "News", Kind: catalog.KindChannel}

	first, hasMore, err := f.ListItems(context.Background(), news, 0)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.True(t, hasMore)
	assert.Equal(t, "World News", first[0].Title)
	assert.Equal(t, "Local News", first[1].Title)
	assert.Equal(t, 0, first[0].Ordinal)
	assert.Equal(t, 1, first[1].Ordinal)

	second, hasMore, err := f.ListItems(context.Background(), news, 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.False(t, hasMore)
	assert.Equal(t, "Weather", second[0].Title)
	assert.Equal(t, 2, second[0].Ordinal, "ordinals continue across pages")
}

func TestListItemsZeroBasedDialect(t *testing.T) {
	m := portal.NewMockPortal()
	defer m.Close()
	m.FirstPageIndex = 0

	ep, err := portal.NewEndpoint(m.URL, "00:1a:79:a2:9c:92", portal.EndpointOpts{
		Profile: &portal.Profile{
			Name:        "mac",
			Paths:       []string{"/portal.php"},
			FirstPage:   0,
			SeriesType:  "series",
			RefererPath: "/c/index.html",
		},
	})
	require.NoError(t, err)
	c := portal.NewClient(ep, zerolog.Nop())
	c.Retry = httpclient.RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	c.Sem = httpclient.NewHostSemaphore(8)
	c.Limiter = httpclient.NewHostLimiter(1000, 1000)
	f := New(c, portal.NewManager(time.Hour, zerolog.Nop()), cache.NewStore(zerolog.Nop()), zerolog.Nop())

	news := catalog.Category{ID: "1", Title: "News", Kind: catalog.KindChannel}
	first, hasMore, err := f.ListItems(context.Background(), news, 0)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.True(t, hasMore)
	assert.Equal(t, "World News", first[0].Title)
}

func TestFetchAllCached(t *testing.T) {
	m := portal.NewMockPortal()
	defer m.Close()
	f, store := newTestFetcher(t, m)

	statuses, err := f.FetchAllCached(context.Background(), catalog.KindChannel)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	require.NoError(t, statuses["1"].Err)
	require.NoError(t, statuses["2"].Err)
	assert.Equal(t, 3, statuses["1"].Items)
	assert.Equal(t, 2, statuses["1"].Pages)
	assert.Equal(t, 1, statuses["2"].Items)

	key := cache.Key{Endpoint: f.Client.Endpoint.Key(), Kind: catalog.KindChannel, Category: "1"}
	entry, ok := store.Get(key)
	require.True(t, ok)
	require.Len(t, entry.Items, 3)
	assert.Equal(t, "World News", entry.Items[0].Title)
	assert.Equal(t, "Weather", entry.Items[2].Title)
}

func TestFetchAllCachedCategoryFailureIsIsolated(t *testing.T) {
	m := portal.NewMockPortal()
	defer m.Close()
	f, store := newTestFetcher(t, m)
	// More 500s than the retry budget: category 1 never succeeds.
	m.FailCategories["1"] = 10

	statuses, err := f.FetchAllCached(context.Background(), catalog.KindChannel)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	require.Error(t, statuses["1"].Err)
	require.NoError(t, statuses["2"].Err, "sibling categories are unaffected")
	assert.Equal(t, 1, statuses["2"].Items)

	endpoint := f.Client.Endpoint.Key()
	_, ok := store.Get(cache.Key{Endpoint: endpoint, Kind: catalog.KindChannel, Category: "1"})
	assert.False(t, ok, "a failed category leaves no partial cache entry")
	_, ok = store.Get(cache.Key{Endpoint: endpoint, Kind: catalog.KindChannel, Category: "2"})
	assert.True(t, ok)
}

func TestFetchAllCachedCancelled(t *testing.T) {
	m := portal.NewMockPortal()
	defer m.Close()
	f, store := newTestFetcher(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.FetchAllCached(ctx, catalog.KindChannel)
	require.Error(t, err)

	_, ok := store.Get(cache.Key{Endpoint: f.Client.Endpoint.Key(), Kind: catalog.KindChannel, Category: "1"})
	assert.False(t, ok, "cancelled fetch writes nothing")
}

func TestWithTokenRenewsExpiredSession(t *testing.T) {
	m := portal.NewMockPortal()
	defer m.Close()
	f, _ := newTestFetcher(t, m)

	_, err := f.Manager.Authenticate(context.Background(), f.Client)
	require.NoError(t, err)
	require.Equal(t, 1, m.HandshakeCount)

	m.ExpireNextCalls = 1
	cats, err := f.ListCategories(context.Background(), catalog.KindChannel)
	require.NoError(t, err, "an expired token is renewed and the call retried")
	require.Len(t, cats, 2)
	assert.Equal(t, 2, m.HandshakeCount)
}

func TestCachedItemsServesFromCache(t *testing.T) {
	m := portal.NewMockPortal()
	defer m.Close()
	f, _ := newTestFetcher(t, m)
	news := catalog.Category{ID: "1", Title: "News", Kind: catalog.KindChannel}

	items, err := f.CachedItems(context.Background(), news)
	require.NoError(t, err)
	require.Len(t, items, 3)

	// Break the portal; the fresh cache entry still answers.
	m.FailCategories["1"] = 100
	again, err := f.CachedItems(context.Background(), news)
	require.NoError(t, err)
	require.Equal(t, items, again)
}

func TestListSeasonsAndEpisodes(t *testing.T) {
	m := portal.NewMockPortal()
	defer m.Close()
	m.Items["401"] = []portal.MockItem{
		{ID: "501", Name: "Season 1", Cmd: "/media/file_501.mpg", Series: []int{1, 2, 3}},
		{ID: "502", Name: "Season 2", Cmd: "/media/file_502.mpg", Series: []int{1, 2}},
	}
	f, _ := newTestFetcher(t, m)

	series := catalog.Item{Kind: catalog.KindSeries, ID: "401", Title: "Some Show", CategoryID: "10"}
	seasons, err := f.ListSeasons(context.Background(), series)
	require.NoError(t, err)
	require.Len(t, seasons, 2)
	assert.Equal(t, "Season 1", seasons[0].Title)
	assert.Equal(t, "401", seasons[0].ParentID)

	episodes, err := f.ListEpisodes(context.Background(), series, seasons[1])
	require.NoError(t, err)
	require.Len(t, episodes, 2)
	assert.Equal(t, "502", episodes[0].SeasonID)
	assert.Equal(t, 1, episodes[0].EpisodeNo)
	assert.Equal(t, 2, episodes[1].EpisodeNo)
	assert.Equal(t, "/media/file_502.mpg", episodes[0].Cmd)
}

func TestFetchEPG(t *testing.T) {
	m := portal.NewMockPortal()
	defer m.Close()
	now := time.Now().Truncate(time.Second)
	m.EPG["101"] = []portal.MockEPG{
		{ID: "e1", Name: "Morning Show", StartUnix: now.Unix(), StopUnix: now.Add(time.Hour).Unix()},
		{ID: "e2", Name: "Midday News", StartUnix: now.Add(time.Hour).Unix(), StopUnix: now.Add(2 * time.Hour).Unix()},
	}
	f, _ := newTestFetcher(t, m)

	entries, err := f.FetchEPG(context.Background(), "101")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Morning Show", entries[0].Title)
	assert.Equal(t, "101", entries[0].ChannelID)
	assert.True(t, entries[0].Start.Equal(now))
}

func TestEPGWindowedAndCached(t *testing.T) {
	m := portal.NewMockPortal()
	defer m.Close()
	now := time.Now().Truncate(time.Second)
	m.EPG["101"] = []portal.MockEPG{
		{ID: "past", Name: "Yesterday", StartUnix: now.Add(-3 * time.Hour).Unix(), StopUnix: now.Add(-2 * time.Hour).Unix()},
		{ID: "cur", Name: "Now Showing", StartUnix: now.Add(-10 * time.Minute).Unix(), StopUnix: now.Add(50 * time.Minute).Unix()},
		{ID: "next", Name: "Up Next", StartUnix: now.Add(50 * time.Minute).Unix(), StopUnix: now.Add(2 * time.Hour).Unix()},
	}
	f, _ := newTestFetcher(t, m)

	entries, err := f.EPG(context.Background(), "101", now, now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Now Showing", entries[0].Title)
	assert.Equal(t, "Up Next", entries[1].Title)

	// Fresh cache answers even when the portal stops serving EPG.
	m.EPG["101"] = nil
	m.FailActions["get_short_epg"] = 100
	m.FailActions["get_epg_info"] = 100
	again, err := f.EPG(context.Background(), "101", now, now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, again, 2)
}
