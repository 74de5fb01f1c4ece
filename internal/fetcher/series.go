package fetcher

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/snapetech/portal-client/internal/catalog"
	"github.com/snapetech/portal-client/internal/epg"
	"github.com/snapetech/portal-client/internal/portal"
)

// rawSeason is a season row from a movie_id-scoped ordered list. The
// "series" field enumerates the episode numbers the season contains.
type rawSeason struct {
	ID       portal.FlexString `json:"id"`
	Name     string            `json:"name"`
	Cmd      string            `json:"cmd"`
	Shot     string            `json:"screenshot_uri"`
	Descr    string            `json:"description"`
	Episodes []int             `json:"series"`
}

// ListSeasons returns the seasons of a series item, in response order.
func (f *Fetcher) ListSeasons(ctx context.Context, series catalog.Item) ([]catalog.Item, error) {
	rows, err := f.seasonRows(ctx, series.ID)
	if err != nil {
		return nil, err
	}
	seasons := make([]catalog.Item, 0, len(rows))
	for i, r := range rows {
		if r.ID == "" {
			continue
		}
		seasons = append(seasons, catalog.Item{
			Kind:        catalog.KindSeries,
			ID:          r.ID.String(),
			Title:       r.Name,
			CategoryID:  series.CategoryID,
			Cmd:         r.Cmd,
			Poster:      r.Shot,
			Description: epg.StripMarkup(r.Descr),
			Ordinal:     i,
			ParentID:    series.ID,
		})
	}
	return seasons, nil
}

// ListEpisodes expands a season into per-episode items. Episode numbers
// come from the season row; each episode plays through the season's cmd
// plus a series selector at resolve time.
func (f *Fetcher) ListEpisodes(ctx context.Context, series, season catalog.Item) ([]catalog.Item, error) {
	rows, err := f.seasonRows(ctx, series.ID)
	if err != nil {
		return nil, err
	}
	var episodes []catalog.Item
	for _, r := range rows {
		if r.ID.String() != season.ID {
			continue
		}
		for i, no := range r.Episodes {
			episodes = append(episodes, catalog.Item{
				Kind:       catalog.KindSeries,
				ID:         season.ID + ":" + strconv.Itoa(no),
				Title:      season.Title + " Episode " + strconv.Itoa(no),
				CategoryID: season.CategoryID,
				Cmd:        r.Cmd,
				Ordinal:    i,
				SeasonID:   season.ID,
				ParentID:   series.ID,
				EpisodeNo:  no,
			})
		}
		break
	}
	return episodes, nil
}

func (f *Fetcher) seasonRows(ctx context.Context, seriesID string) ([]rawSeason, error) {
	var rows []rawSeason
	err := f.withToken(ctx, func(token string) error {
		params := url.Values{}
		params.Set("type", "vod")
		params.Set("action", "get_ordered_list")
		params.Set("movie_id", seriesID)
		params.Set("season_id", "0")
		params.Set("episode_id", "0")
		params.Set("p", strconv.Itoa(f.Client.Endpoint.Profile.FirstPage))
		js, err := f.Client.Call(ctx, token, params)
		if err != nil {
			return err
		}
		pg, err := portal.DecodePage("get_ordered_list", js)
		if err != nil {
			return err
		}
		rows = rows[:0]
		for _, raw := range pg.Data {
			var r rawSeason
			if json.Unmarshal(raw, &r) == nil {
				rows = append(rows, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
