// Package resolver turns catalog items into playable stream URLs via the
// portal's create_link action. Resolved URLs are short-lived and never
// cached: portals bind them to the requesting session.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapetech/portal-client/internal/catalog"
	"github.com/snapetech/portal-client/internal/metrics"
	"github.com/snapetech/portal-client/internal/portal"
)

// StreamHandle is one freshly resolved stream.
type StreamHandle struct {
	ItemID     string
	Title      string
	URL        string
	ResolvedAt time.Time
}

// ErrUnplayable wraps portal.ErrUnplayable for callers importing only
// this package.
var ErrUnplayable = portal.ErrUnplayable

var (
	ffmpegPrefix = regexp.MustCompile(`(?i)^ffmpeg\s*`)
	schemeOK     = regexp.MustCompile(`(?i)^(https?|rtsp|rtmp|mms)://`)
)

// Resolver resolves stream URLs for one portal endpoint.
type Resolver struct {
	Client  *portal.Client
	Manager *portal.Manager
	Log     zerolog.Logger

	now func() time.Time
}

// New returns a Resolver over an authenticated client.
func New(c *portal.Client, m *portal.Manager, log zerolog.Logger) *Resolver {
	return &Resolver{Client: c, Manager: m, Log: log, now: time.Now}
}

// Resolve asks the portal for a playable URL for item. An expired session
// is renewed and the resolve retried exactly once.
func (r *Resolver) Resolve(ctx context.Context, item catalog.Item) (StreamHandle, error) {
	sess, err := r.Manager.EnsureValid(ctx, r.Client)
	if err != nil {
		return StreamHandle{}, err
	}
	handle, err := r.resolve(ctx, sess.Token, item)
	if errors.Is(err, portal.ErrSessionExpired) {
		r.Manager.Invalidate(r.Client, sess.Token)
		sess, err = r.Manager.EnsureValid(ctx, r.Client)
		if err != nil {
			metrics.Resolves.WithLabelValues("expired").Inc()
			return StreamHandle{}, err
		}
		handle, err = r.resolve(ctx, sess.Token, item)
	}
	switch {
	case err == nil:
		metrics.Resolves.WithLabelValues("ok").Inc()
	case errors.Is(err, portal.ErrUnplayable):
		metrics.Resolves.WithLabelValues("unplayable").Inc()
	default:
		metrics.Resolves.WithLabelValues("error").Inc()
	}
	return handle, err
}

func (r *Resolver) resolve(ctx context.Context, token string, item catalog.Item) (StreamHandle, error) {
	params := url.Values{}
	params.Set("action", "create_link")
	switch item.Kind {
	case catalog.KindChannel:
		params.Set("type", "itv")
		params.Set("cmd", item.Cmd)
	default:
		params.Set("type", "vod")
		params.Set("cmd", "/media/file_"+vodFileID(item)+".mpg")
		if item.EpisodeNo > 0 {
			params.Set("series", strconv.Itoa(item.EpisodeNo))
		}
	}

	js, err := r.Client.Call(ctx, token, params)
	if err != nil {
		return StreamHandle{}, err
	}
	var row struct {
		Cmd string `json:"cmd"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(js, &row); err != nil {
		return StreamHandle{}, fmt.Errorf("create_link: %w: %v", portal.ErrProtocol, err)
	}
	raw := row.Cmd
	if raw == "" {
		raw = row.URL
	}
	streamURL, err := r.normalize(raw)
	if err != nil {
		return StreamHandle{}, err
	}
	r.Log.Debug().Str("item", item.ID).Str("url", streamURL).Msg("resolved stream")
	return StreamHandle{ItemID: item.ID, Title: item.Title, URL: streamURL, ResolvedAt: r.now()}, nil
}

// vodFileID picks the media file id: episodes play through their season's
// file, everything else through its own.
func vodFileID(item catalog.Item) string {
	if item.EpisodeNo > 0 && item.SeasonID != "" {
		return item.SeasonID
	}
	return item.ID
}

// normalize strips player prefixes, absolutizes portal-relative paths
// against the endpoint's stream base, and rejects anything that is not a
// streamable URL.
func (r *Resolver) normalize(raw string) (string, error) {
	s := strings.TrimSpace(ffmpegPrefix.ReplaceAllString(strings.TrimSpace(raw), ""))
	if s == "" {
		return "", fmt.Errorf("create_link returned empty command: %w", portal.ErrUnplayable)
	}
	if strings.HasPrefix(s, "/") {
		s = strings.TrimRight(r.Client.Endpoint.StreamBase, "/") + s
	}
	if !schemeOK.MatchString(s) {
		return "", fmt.Errorf("unsupported stream %q: %w", s, portal.ErrUnplayable)
	}
	if _, err := url.Parse(s); err != nil {
		return "", fmt.Errorf("bad stream url %q: %w", s, portal.ErrUnplayable)
	}
	return s, nil
}
