// Package epg normalizes the programme data MAC/Stalker portals return.
// Portals disagree on field names, timestamp encodings and whether
// descriptions carry markup; everything is reconciled here so the rest of
// the client sees one shape.
package epg

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/snapetech/portal-client/internal/portal"
)

// Entry is one normalized programme.
type Entry struct {
	ID          string
	ChannelID   string
	Title       string
	Description string
	Category    string
	Start       time.Time
	Stop        time.Time
}

// Duration returns the programme length, zero when the times are unknown.
func (e Entry) Duration() time.Duration {
	if e.Start.IsZero() || e.Stop.IsZero() || !e.Stop.After(e.Start) {
		return 0
	}
	return e.Stop.Sub(e.Start)
}

// Overlaps reports whether the entry intersects [from, to).
func (e Entry) Overlaps(from, to time.Time) bool {
	if e.Start.IsZero() {
		return false
	}
	stop := e.Stop
	if stop.IsZero() {
		stop = e.Start
	}
	return e.Start.Before(to) && stop.After(from)
}

// rawItem covers the field variants seen across portal deployments.
type rawItem struct {
	ID    portal.FlexString `json:"id"`
	Name  string            `json:"name"`
	Title string            `json:"title"`
	Prog  string            `json:"progname"`

	Descr    string `json:"descr"`
	Descr2   string `json:"description"`
	Category string `json:"category"`

	Start     portal.FlexString `json:"start"`
	StartTS   portal.FlexString `json:"start_timestamp"`
	From      portal.FlexString `json:"from"`
	End       portal.FlexString `json:"end"`
	StopTS    portal.FlexString `json:"stop_timestamp"`
	To        portal.FlexString `json:"to"`
	Time      string            `json:"time"`
	TimeTo    string            `json:"time_to"`
	StartTime string            `json:"start_time"`

	Duration portal.FlexString `json:"duration"`
}

// portalTimeLayout is the wall-clock format portals use when they do not
// send epoch seconds. It carries no zone; loc says which one applies.
const portalTimeLayout = "2006-01-02 15:04:05"

// Normalize decodes raw programme rows for channelID, resolving field
// fallbacks and timestamps, stripping markup, and sorting by start time.
// Undecodable rows are skipped rather than failing the batch.
func Normalize(channelID string, raws []json.RawMessage, loc *time.Location) []Entry {
	if loc == nil {
		loc = time.UTC
	}
	out := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		var it rawItem
		if err := json.Unmarshal(raw, &it); err != nil {
			continue
		}
		e := Entry{
			ID:          it.ID.String(),
			ChannelID:   channelID,
			Title:       firstNonEmpty(it.Name, it.Title, it.Prog),
			Description: StripMarkup(firstNonEmpty(it.Descr, it.Descr2)),
			Category:    it.Category,
		}
		if e.Title == "" {
			continue
		}
		e.Start = pickTime(loc, it.Start, it.StartTS, it.From, it.Time, it.StartTime)
		e.Stop = pickTime(loc, it.End, it.StopTS, it.To, it.TimeTo)
		if e.Stop.IsZero() && !e.Start.IsZero() {
			if d := it.Duration.Int64(); d > 0 {
				e.Stop = e.Start.Add(time.Duration(d) * time.Second)
			}
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Window filters entries to those overlapping [from, to).
func Window(entries []Entry, from, to time.Time) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Overlaps(from, to) {
			out = append(out, e)
		}
	}
	return out
}

// pickTime resolves the first usable timestamp: epoch fields first, then
// wall-clock strings in the portal's timezone.
func pickTime(loc *time.Location, candidates ...interface{}) time.Time {
	for _, c := range candidates {
		switch v := c.(type) {
		case portal.FlexString:
			if ts := v.Int64(); ts > 0 {
				return time.Unix(ts, 0).In(loc)
			}
		case string:
			if v == "" {
				continue
			}
			if t, err := time.ParseInLocation(portalTimeLayout, v, loc); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

// StripMarkup removes HTML tags and entities that portals embed in
// programme descriptions.
func StripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	var b strings.Builder
	tok := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := tok.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.TextToken {
			b.Write(tok.Text())
		}
	}
	return strings.TrimSpace(b.String())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
