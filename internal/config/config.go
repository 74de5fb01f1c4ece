// Package config reads settings from the environment, optionally
// augmented by a .env file and a YAML profile catalog.
package config

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds portal + cache + fetch settings.
type Config struct {
	// Portal endpoint
	PortalURL  string // e.g. http://server.example.com/c/
	MAC        string // e.g. 00:1A:79:AA:BB:CC
	Serial     string // STB serial; empty = derived from MAC
	DeviceID   string // STB device id; empty = derived from MAC
	Timezone   string // STB-reported timezone; empty = endpoint default
	StreamBase string // base for relative stream paths; empty = derived
	Profile    string // dialect profile name: "stalker" | "mac"

	// Session
	TokenValidity time.Duration

	// Fetch
	FetchConcurrency int
	EPGSize          int

	// Cache
	CacheDBPath     string // sqlite snapshot path; "" = in-memory only
	CacheMaxEntries int
	ChannelTTL      time.Duration
	MovieTTL        time.Duration
	SeriesTTL       time.Duration
	EPGTTL          time.Duration

	// Misc
	ProfilesPath string // optional YAML file with extra dialect profiles
	LogLevel     string // zerolog level name, default "info"
}

// Load reads config from environment. Call LoadEnvFile(".env") before
// Load() to use a .env file.
func Load() *Config {
	return &Config{
		PortalURL:        os.Getenv("PORTAL_CLIENT_URL"),
		MAC:              os.Getenv("PORTAL_CLIENT_MAC"),
		Serial:           os.Getenv("PORTAL_CLIENT_SERIAL"),
		DeviceID:         os.Getenv("PORTAL_CLIENT_DEVICE_ID"),
		Timezone:         os.Getenv("PORTAL_CLIENT_TIMEZONE"),
		StreamBase:       os.Getenv("PORTAL_CLIENT_STREAM_BASE"),
		Profile:          getEnv("PORTAL_CLIENT_PROFILE", "stalker"),
		TokenValidity:    getEnvDuration("PORTAL_CLIENT_TOKEN_VALIDITY", time.Hour),
		FetchConcurrency: getEnvInt("PORTAL_CLIENT_CONCURRENCY", 6),
		EPGSize:          getEnvInt("PORTAL_CLIENT_EPG_SIZE", 10),
		CacheDBPath:      os.Getenv("PORTAL_CLIENT_CACHE_DB"),
		CacheMaxEntries:  getEnvInt("PORTAL_CLIENT_CACHE_MAX_ENTRIES", 1024),
		ChannelTTL:       getEnvDuration("PORTAL_CLIENT_CHANNEL_TTL", 6*time.Hour),
		MovieTTL:         getEnvDuration("PORTAL_CLIENT_MOVIE_TTL", 12*time.Hour),
		SeriesTTL:        getEnvDuration("PORTAL_CLIENT_SERIES_TTL", 12*time.Hour),
		EPGTTL:           getEnvDuration("PORTAL_CLIENT_EPG_TTL", 10*time.Minute),
		ProfilesPath:     os.Getenv("PORTAL_CLIENT_PROFILES"),
		LogLevel:         getEnv("PORTAL_CLIENT_LOG_LEVEL", "info"),
	}
}

// LoadEnvFile reads KEY=VALUE lines from path into the process
// environment, skipping blanks, comments and keys already set.
func LoadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return sc.Err()
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		n, _ := strconv.Atoi(v)
		return n
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
