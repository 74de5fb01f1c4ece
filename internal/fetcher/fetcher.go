// Package fetcher populates the local cache from the portal's catalog API:
// categories first, then paged item lists, with bounded concurrency across
// categories and preserved order within one.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/snapetech/portal-client/internal/cache"
	"github.com/snapetech/portal-client/internal/catalog"
	"github.com/snapetech/portal-client/internal/epg"
	"github.com/snapetech/portal-client/internal/portal"
)

// DefaultConcurrency bounds simultaneous per-category fetch tasks. Portals
// throttle aggressive clients, so the default stays small.
const DefaultConcurrency = 6

// DefaultEPGSize is how many programmes a short-EPG request asks for.
const DefaultEPGSize = 10

// Fetcher drives catalog and EPG retrieval for one portal endpoint.
type Fetcher struct {
	Client      *portal.Client
	Manager     *portal.Manager
	Cache       *cache.Store
	Concurrency int
	EPGSize     int
	Log         zerolog.Logger
}

// New wires a Fetcher with defaults.
func New(c *portal.Client, m *portal.Manager, store *cache.Store, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		Client:      c,
		Manager:     m,
		Cache:       store,
		Concurrency: DefaultConcurrency,
		EPGSize:     DefaultEPGSize,
		Log:         log,
	}
}

// CategoryStatus is the per-category outcome of FetchAllCached.
type CategoryStatus struct {
	Category catalog.Category
	Items    int
	Pages    int
	Err      error
}

// withToken runs fn with a valid token, renewing and retrying exactly once
// when the portal reports the token expired mid-call.
func (f *Fetcher) withToken(ctx context.Context, fn func(token string) error) error {
	sess, err := f.Manager.EnsureValid(ctx, f.Client)
	if err != nil {
		return err
	}
	err = fn(sess.Token)
	if err == nil || !errors.Is(err, portal.ErrSessionExpired) {
		return err
	}
	f.Manager.Invalidate(f.Client, sess.Token)
	sess, rerr := f.Manager.EnsureValid(ctx, f.Client)
	if rerr != nil {
		return rerr
	}
	return fn(sess.Token)
}

// rawCategory tolerates the field variants portals use for category rows.
type rawCategory struct {
	ID      portal.FlexString `json:"id"`
	CatID   portal.FlexString `json:"category_id"`
	Title   string            `json:"title"`
	Name    string            `json:"name"`
	CatName string            `json:"category_name"`
}

func (r rawCategory) id() string {
	if r.ID != "" {
		return r.ID.String()
	}
	return r.CatID.String()
}

func (r rawCategory) title() string {
	for _, s := range []string{r.Title, r.Name, r.CatName} {
		if s != "" {
			return s
		}
	}
	return ""
}

// ListCategories returns the portal's categories for kind, sorted by title.
func (f *Fetcher) ListCategories(ctx context.Context, kind catalog.Kind) ([]catalog.Category, error) {
	typ, action := f.categoryRequest(kind)
	var cats []catalog.Category
	err := f.withToken(ctx, func(token string) error {
		params := url.Values{}
		params.Set("type", typ)
		params.Set("action", action)
		js, err := f.Client.Call(ctx, token, params)
		if err != nil {
			return err
		}
		rows, err := portal.DecodeList[rawCategory](action, js)
		if err != nil {
			return err
		}
		cats = cats[:0]
		for _, r := range rows {
			id, title := r.id(), r.title()
			if id == "" || title == "" {
				continue
			}
			cats = append(cats, catalog.Category{ID: id, Title: title, Kind: kind})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	catalog.SortCategories(cats)
	return cats, nil
}

func (f *Fetcher) categoryRequest(kind catalog.Kind) (typ, action string) {
	switch kind {
	case catalog.KindChannel:
		return "itv", "get_genres"
	case catalog.KindSeries:
		return f.Client.Endpoint.Profile.SeriesType, "get_categories"
	default:
		return "vod", "get_categories"
	}
}

// rawItem tolerates ordered-list row variants.
type rawItem struct {
	ID       portal.FlexString `json:"id"`
	MovieID  portal.FlexString `json:"movie_id"`
	VideoID  portal.FlexString `json:"video_id"`
	Name     string            `json:"name"`
	Cmd      string            `json:"cmd"`
	Logo     string            `json:"logo"`
	Shot     string            `json:"screenshot_uri"`
	Descr    string            `json:"description"`
	IsSeries portal.FlexString `json:"is_series"`
	SeriesNo portal.FlexString `json:"series_number"`
}

// ListItems fetches one page of a category. page is zero-based regardless
// of dialect; the profile's page base is applied on the wire. Items keep
// response order, with Ordinal continuing across pages.
func (f *Fetcher) ListItems(ctx context.Context, cat catalog.Category, page int) (items []catalog.Item, hasMore bool, err error) {
	err = f.withToken(ctx, func(token string) error {
		items, hasMore, err = f.listItemsPage(ctx, token, cat, page)
		return err
	})
	return items, hasMore, err
}

func (f *Fetcher) listItemsPage(ctx context.Context, token string, cat catalog.Category, page int) ([]catalog.Item, bool, error) {
	profile := f.Client.Endpoint.Profile
	params := url.Values{}
	params.Set("action", "get_ordered_list")
	switch cat.Kind {
	case catalog.KindChannel:
		params.Set("type", "itv")
		params.Set("genre", cat.ID)
	case catalog.KindSeries:
		params.Set("type", profile.SeriesType)
		params.Set("category", cat.ID)
	default:
		params.Set("type", "vod")
		params.Set("category", cat.ID)
	}
	params.Set("p", strconv.Itoa(profile.FirstPage+page))

	js, err := f.Client.Call(ctx, token, params)
	if err != nil {
		return nil, false, err
	}
	pg, err := portal.DecodePage("get_ordered_list", js)
	if err != nil {
		return nil, false, err
	}

	perPage := pg.MaxPageItems.Int()
	if perPage == 0 {
		perPage = len(pg.Data)
	}
	items := make([]catalog.Item, 0, len(pg.Data))
	for i, raw := range pg.Data {
		it, ok := decodeItem(cat, raw, page*perPage+i)
		if !ok {
			continue
		}
		// The stalker dialect lists series through the VOD tree; movies in
		// the same category are filtered out by the is_series flag.
		if cat.Kind == catalog.KindSeries && profile.SeriesUsesVODTree() && !it.IsSeries {
			continue
		}
		items = append(items, it)
	}
	total := pg.TotalItems.Int()
	hasMore := perPage > 0 && (page+1)*perPage < total
	return items, hasMore, nil
}

func decodeItem(cat catalog.Category, raw json.RawMessage, ordinal int) (catalog.Item, bool) {
	var r rawItem
	if json.Unmarshal(raw, &r) != nil {
		return catalog.Item{}, false
	}
	id := r.ID.String()
	if cat.Kind != catalog.KindChannel && id == "" {
		id = r.MovieID.String()
	}
	if id == "" {
		id = r.VideoID.String()
	}
	if id == "" || r.Name == "" {
		return catalog.Item{}, false
	}
	return catalog.Item{
		Kind:        cat.Kind,
		ID:          id,
		Title:       r.Name,
		CategoryID:  cat.ID,
		Cmd:         r.Cmd,
		Poster:      r.Shot,
		Logo:        r.Logo,
		Description: epg.StripMarkup(r.Descr),
		Ordinal:     ordinal,
		IsSeries:    r.IsSeries.Bool(),
		EpisodeNo:   r.SeriesNo.Int(),
	}, true
}

// fetchCategory pages through one category from the start. Page order is
// preserved; a context cancellation aborts with no partial result.
func (f *Fetcher) fetchCategory(ctx context.Context, cat catalog.Category) ([]catalog.Item, int, error) {
	var all []catalog.Item
	pages := 0
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		items, hasMore, err := f.ListItems(ctx, cat, page)
		if err != nil {
			return nil, 0, err
		}
		all = append(all, items...)
		pages++
		if !hasMore {
			break
		}
	}
	return catalog.Dedupe(all), pages, nil
}

// FetchAllCached fetches every category of kind concurrently (bounded by
// Concurrency) and stores complete per-category results in the cache.
// Failure of one category never aborts its siblings; the returned map
// reports each category's outcome. Cancelled or failed categories perform
// no cache put.
func (f *Fetcher) FetchAllCached(ctx context.Context, kind catalog.Kind) (map[string]CategoryStatus, error) {
	cats, err := f.ListCategories(ctx, kind)
	if err != nil {
		return nil, err
	}

	n := f.Concurrency
	if n <= 0 {
		n = DefaultConcurrency
	}
	pool, err := ants.NewPool(n)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		statuses = make(map[string]CategoryStatus, len(cats))
	)
	endpoint := f.Client.Endpoint.Key()
	for _, cat := range cats {
		cat := cat
		wg.Add(1)
		submit := func() {
			defer wg.Done()
			st := CategoryStatus{Category: cat}
			items, pages, err := f.fetchCategory(ctx, cat)
			if err != nil {
				st.Err = err
				f.Log.Warn().Err(err).Str("category", cat.Title).Msg("category fetch failed")
			} else {
				st.Items, st.Pages = len(items), pages
				f.Cache.Put(cache.Key{Endpoint: endpoint, Kind: kind, Category: cat.ID}, items)
			}
			mu.Lock()
			statuses[cat.ID] = st
			mu.Unlock()
		}
		if err := pool.Submit(submit); err != nil {
			wg.Done()
			mu.Lock()
			statuses[cat.ID] = CategoryStatus{Category: cat, Err: err}
			mu.Unlock()
		}
	}
	wg.Wait()
	return statuses, nil
}

// CachedItems reads a category through the cache with stale-while-
// revalidate: stale entries come back immediately while one background
// refresh runs.
func (f *Fetcher) CachedItems(ctx context.Context, cat catalog.Category) ([]catalog.Item, error) {
	key := cache.Key{Endpoint: f.Client.Endpoint.Key(), Kind: cat.Kind, Category: cat.ID}
	entry, err := f.Cache.GetOrRefresh(ctx, key, func(ctx context.Context) ([]catalog.Item, error) {
		items, _, err := f.fetchCategory(ctx, cat)
		return items, err
	})
	if err != nil {
		return nil, err
	}
	return entry.Items, nil
}
