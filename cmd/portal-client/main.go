// Command portal-client: authenticate against a MAC portal and inspect its
// catalog from the shell.
//
//	auth        Handshake + profile exchange, print the session token (masked)
//	categories  List categories for -kind (channel|movie|series)
//	fetch       Fetch every category of -kind into the cache, print a summary
//	epg         Print the short EPG for -channel
//	resolve     Resolve a playable URL: -kind plus -category and -item
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapetech/portal-client/internal/cache"
	"github.com/snapetech/portal-client/internal/catalog"
	"github.com/snapetech/portal-client/internal/config"
	"github.com/snapetech/portal-client/internal/fetcher"
	"github.com/snapetech/portal-client/internal/portal"
	"github.com/snapetech/portal-client/internal/resolver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = config.LoadEnvFile(".env")
	cfg := config.Load()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	kind := flag.String("kind", "channel", "catalog kind: channel|movie|series")
	category := flag.String("category", "", "category id (resolve)")
	item := flag.String("item", "", "item id (resolve)")
	channel := flag.String("channel", "", "channel id (epg)")
	flag.Parse()
	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "auth"
	}

	if cfg.PortalURL == "" || cfg.MAC == "" {
		return fmt.Errorf("PORTAL_CLIENT_URL and PORTAL_CLIENT_MAC are required")
	}

	profile, err := config.ResolveProfile(cfg.Profile, cfg.ProfilesPath)
	if err != nil {
		return err
	}
	ep, err := portal.NewEndpoint(cfg.PortalURL, cfg.MAC, portal.EndpointOpts{
		Serial:     cfg.Serial,
		DeviceID:   cfg.DeviceID,
		Timezone:   cfg.Timezone,
		StreamBase: cfg.StreamBase,
		Profile:    &profile,
	})
	if err != nil {
		return err
	}

	client := portal.NewClient(ep, log)
	manager := portal.NewManager(cfg.TokenValidity, log)

	opts := []cache.Option{
		cache.WithMaxEntries(cfg.CacheMaxEntries),
		cache.WithTTLs(cache.TTLs{
			Channels: cfg.ChannelTTL,
			Movies:   cfg.MovieTTL,
			Series:   cfg.SeriesTTL,
			EPG:      cfg.EPGTTL,
		}),
	}
	if cfg.CacheDBPath != "" {
		db, err := cache.OpenDB(cfg.CacheDBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		opts = append(opts, cache.WithDB(db))
	}
	store := cache.NewStore(log, opts...)
	if err := store.Warm(ep.Key()); err != nil {
		log.Warn().Err(err).Msg("cache warm failed")
	}

	f := fetcher.New(client, manager, store, log)
	f.Concurrency = cfg.FetchConcurrency
	f.EPGSize = cfg.EPGSize
	res := resolver.New(client, manager, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "auth":
		sess, err := manager.Authenticate(ctx, client)
		if err != nil {
			return err
		}
		fmt.Printf("authenticated %s token=%s\n", ep.Host(), portal.MaskToken(sess.Token))
		return nil

	case "categories":
		cats, err := f.ListCategories(ctx, parseKind(*kind))
		if err != nil {
			return err
		}
		for _, c := range cats {
			fmt.Printf("%-12s %s\n", c.ID, c.Title)
		}
		return nil

	case "fetch":
		k := parseKind(*kind)
		statuses, err := f.FetchAllCached(ctx, k)
		if err != nil {
			return err
		}
		failed := 0
		for _, st := range statuses {
			if st.Err != nil {
				failed++
				fmt.Printf("%-30s FAILED: %v\n", st.Category.Title, st.Err)
				continue
			}
			fmt.Printf("%-30s %d items / %d pages\n", st.Category.Title, st.Items, st.Pages)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d categories failed", failed, len(statuses))
		}
		return nil

	case "epg":
		if *channel == "" {
			return fmt.Errorf("epg requires -channel")
		}
		now := time.Now()
		entries, err := f.EPG(ctx, *channel, now, now.Add(24*time.Hour))
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s - %s  %s\n", e.Start.Format("15:04"), e.Stop.Format("15:04"), e.Title)
		}
		return nil

	case "resolve":
		if *category == "" || *item == "" {
			return fmt.Errorf("resolve requires -category and -item")
		}
		k := parseKind(*kind)
		items, err := f.CachedItems(ctx, catalog.Category{ID: *category, Kind: k})
		if err != nil {
			return err
		}
		for _, it := range items {
			if it.ID != *item {
				continue
			}
			handle, err := res.Resolve(ctx, it)
			if err != nil {
				return err
			}
			fmt.Printf("%s\n%s\n", handle.Title, handle.URL)
			return nil
		}
		return fmt.Errorf("item %s not found in category %s", *item, *category)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func parseKind(s string) catalog.Kind {
	switch s {
	case "movie", "vod":
		return catalog.KindMovie
	case "series":
		return catalog.KindSeries
	default:
		return catalog.KindChannel
	}
}
