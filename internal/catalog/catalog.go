package catalog

import (
	"sort"
	"time"
)

// Kind partitions catalog content the way the portal exposes it.
type Kind string

const (
	KindChannel Kind = "channel"
	KindMovie   Kind = "movie"
	KindSeries  Kind = "series"
	KindEPG     Kind = "epg"
)

// Valid reports whether k is one of the known content kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindChannel, KindMovie, KindSeries, KindEPG:
		return true
	}
	return false
}

// Category groups items of one kind. Fetched before the items it contains.
type Category struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Kind  Kind   `json:"kind"`
}

// Item is a single catalog entry. Identity is (Kind, ID) within a portal;
// items are immutable once constructed.
//
// Channels carry Cmd (the portal's play command, fed back to create_link).
// Series items carry IsSeries and are expanded via seasons/episodes.
// EPG entries carry Start/Stop; everything else leaves them zero.
type Item struct {
	Kind        Kind   `json:"kind"`
	ID          string `json:"id"`
	Title       string `json:"title"`
	CategoryID  string `json:"category_id,omitempty"`
	Cmd         string `json:"cmd,omitempty"`
	Poster      string `json:"poster,omitempty"`
	Logo        string `json:"logo,omitempty"`
	Description string `json:"description,omitempty"`
	Ordinal     int    `json:"ordinal"`

	IsSeries bool `json:"is_series,omitempty"`
	// Season/episode position for series children; zero otherwise.
	SeasonID  string `json:"season_id,omitempty"`
	ParentID  string `json:"parent_id,omitempty"`
	EpisodeNo int    `json:"episode_no,omitempty"`

	Start time.Time `json:"start,omitzero"`
	Stop  time.Time `json:"stop,omitzero"`
}

// SortCategories orders categories by title for stable listings.
func SortCategories(cats []Category) {
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].Title < cats[j].Title })
}

// Dedupe removes items with duplicate IDs, keeping the first occurrence.
// Portals occasionally repeat entries across page boundaries.
func Dedupe(items []Item) []Item {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, it := range items {
		if it.ID == "" || seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		out = append(out, it)
	}
	return out
}
