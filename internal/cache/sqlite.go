package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/snapetech/portal-client/internal/catalog"
)

// DB persists cache entries to a local sqlite file so a relaunch starts
// from the last known catalogs instead of an empty cache. Entries
// round-trip losslessly, including item order and FetchedAt.
type DB struct {
	sql *sql.DB
}

// OpenDB opens (creating if needed) the cache database at path.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache db open: %w", err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS catalog_entries (
		endpoint   TEXT NOT NULL,
		kind       TEXT NOT NULL,
		category   TEXT NOT NULL,
		fetched_at INTEGER NOT NULL,
		items      TEXT NOT NULL,
		PRIMARY KEY (endpoint, kind, category)
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cache db init: %w", err)
	}
	return &DB{sql: db}, nil
}

// Close releases the underlying database.
func (d *DB) Close() error { return d.sql.Close() }

// Save upserts one entry.
func (d *DB) Save(e Entry) error {
	items, err := json.Marshal(e.Items)
	if err != nil {
		return fmt.Errorf("cache db marshal: %w", err)
	}
	_, err = d.sql.Exec(`INSERT INTO catalog_entries (endpoint, kind, category, fetched_at, items)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (endpoint, kind, category) DO UPDATE SET fetched_at = excluded.fetched_at, items = excluded.items`,
		e.Key.Endpoint, string(e.Key.Kind), e.Key.Category, e.FetchedAt.UnixNano(), string(items))
	if err != nil {
		return fmt.Errorf("cache db save: %w", err)
	}
	return nil
}

// Load returns the persisted entry for key, if any.
func (d *DB) Load(key Key) (Entry, bool, error) {
	row := d.sql.QueryRow(`SELECT fetched_at, items FROM catalog_entries
		WHERE endpoint = ? AND kind = ? AND category = ?`,
		key.Endpoint, string(key.Kind), key.Category)
	var fetchedAt int64
	var items string
	if err := row.Scan(&fetchedAt, &items); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache db load: %w", err)
	}
	e, err := unmarshalEntry(key, fetchedAt, items)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// LoadAll returns every persisted entry for the endpoint.
func (d *DB) LoadAll(endpoint string) ([]Entry, error) {
	rows, err := d.sql.Query(`SELECT kind, category, fetched_at, items FROM catalog_entries
		WHERE endpoint = ?`, endpoint)
	if err != nil {
		return nil, fmt.Errorf("cache db load all: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var kind, category, items string
		var fetchedAt int64
		if err := rows.Scan(&kind, &category, &fetchedAt, &items); err != nil {
			return nil, fmt.Errorf("cache db scan: %w", err)
		}
		e, err := unmarshalEntry(Key{Endpoint: endpoint, Kind: catalog.Kind(kind), Category: category}, fetchedAt, items)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Evict removes every persisted entry for the endpoint. Used when the
// caller abandons a portal account.
func (d *DB) Evict(endpoint string) error {
	_, err := d.sql.Exec(`DELETE FROM catalog_entries WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("cache db evict: %w", err)
	}
	return nil
}

func unmarshalEntry(key Key, fetchedAt int64, items string) (Entry, error) {
	var its []catalog.Item
	if err := json.Unmarshal([]byte(items), &its); err != nil {
		return Entry{}, fmt.Errorf("cache db unmarshal: %w", err)
	}
	return Entry{Key: key, Items: its, FetchedAt: time.Unix(0, fetchedAt)}, nil
}
