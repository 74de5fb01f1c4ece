package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/snapetech/portal-client/internal/cache"
	"github.com/snapetech/portal-client/internal/catalog"
	"github.com/snapetech/portal-client/internal/epg"
	"github.com/snapetech/portal-client/internal/portal"
)

// FetchEPG pulls the short EPG for one channel straight from the portal,
// falling back to get_epg_info when the portal lacks get_short_epg.
func (f *Fetcher) FetchEPG(ctx context.Context, channelID string) ([]epg.Entry, error) {
	loc := f.location()
	var entries []epg.Entry
	err := f.withToken(ctx, func(token string) error {
		raws, err := f.epgRaw(ctx, token, channelID, "get_short_epg")
		if errors.Is(err, portal.ErrNotFound) || (err == nil && len(raws) == 0) {
			raws, err = f.epgRaw(ctx, token, channelID, "get_epg_info")
		}
		if err != nil {
			return err
		}
		entries = epg.Normalize(channelID, raws, loc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (f *Fetcher) epgRaw(ctx context.Context, token, channelID, action string) ([]json.RawMessage, error) {
	params := url.Values{}
	params.Set("type", "itv")
	params.Set("action", action)
	params.Set("ch_id", channelID)
	size := f.EPGSize
	if size <= 0 {
		size = DefaultEPGSize
	}
	params.Set("size", strconv.Itoa(size))
	js, err := f.Client.Call(ctx, token, params)
	if err != nil {
		return nil, err
	}
	return portal.ExtractItems(js), nil
}

// EPG reads a channel's programmes through the cache, serving stale data
// while a background refresh runs, then restricts them to [from, to).
func (f *Fetcher) EPG(ctx context.Context, channelID string, from, to time.Time) ([]epg.Entry, error) {
	key := cache.Key{Endpoint: f.Client.Endpoint.Key(), Kind: catalog.KindEPG, Category: channelID}
	entry, err := f.Cache.GetOrRefresh(ctx, key, func(ctx context.Context) ([]catalog.Item, error) {
		entries, err := f.FetchEPG(ctx, channelID)
		if err != nil {
			return nil, err
		}
		return entriesToItems(channelID, entries), nil
	})
	if err != nil {
		return nil, err
	}
	return epg.Window(itemsToEntries(entry.Items), from, to), nil
}

// location resolves the endpoint's timezone for wall-clock programme
// times, defaulting to UTC when the zone name is unknown.
func (f *Fetcher) location() *time.Location {
	loc, err := time.LoadLocation(f.Client.Endpoint.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// The cache stores catalog items, so EPG entries round-trip through the
// item shape with programme times in Start/Stop.

func entriesToItems(channelID string, entries []epg.Entry) []catalog.Item {
	items := make([]catalog.Item, 0, len(entries))
	for i, e := range entries {
		items = append(items, catalog.Item{
			Kind:        catalog.KindEPG,
			ID:          e.ID,
			Title:       e.Title,
			CategoryID:  channelID,
			Description: e.Description,
			Ordinal:     i,
			Start:       e.Start,
			Stop:        e.Stop,
		})
	}
	return items
}

func itemsToEntries(items []catalog.Item) []epg.Entry {
	entries := make([]epg.Entry, 0, len(items))
	for _, it := range items {
		entries = append(entries, epg.Entry{
			ID:          it.ID,
			ChannelID:   it.CategoryID,
			Title:       it.Title,
			Description: it.Description,
			Start:       it.Start,
			Stop:        it.Stop,
		})
	}
	return entries
}
