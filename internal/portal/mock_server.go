package portal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// MockPortal is a configurable in-memory MAC/Stalker portal for tests.
// It speaks both dialect paths and implements the handshake, profile,
// account, catalog, EPG and create_link actions with adjustable failure
// behavior.
type MockPortal struct {
	*httptest.Server

	mu sync.Mutex

	// Counters for assertions.
	HandshakeCount int
	ProfileCount   int
	LinkCount      int
	LastLinkQuery  url.Values

	// Behavior knobs.
	Handshake404    bool           // bare handshake 404s until token+prehash arrive
	RejectMAC       bool           // account info comes back empty
	ExpireNextCalls int            // next N authorized catalog calls get an in-band auth failure
	FailActions     map[string]int // action -> number of 500s before success
	FailCategories  map[string]int // category/genre id -> number of 500s before success
	PageSize        int
	FirstPageIndex  int    // value of "p" meaning the first page (dialect-dependent)
	LinkReply       string // raw cmd/url returned by create_link; default ffmpeg-prefixed

	// Data.
	Genres        []MockCategory
	VODCategories []MockCategory
	Items         map[string][]MockItem // category/genre id -> items
	EPG           map[string][]MockEPG  // channel id -> programmes

	tokens map[string]bool
	seq    int
}

// MockCategory is one genre/category row.
type MockCategory struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// MockItem is one ordered-list row.
type MockItem struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Cmd        string `json:"cmd,omitempty"`
	IsSeries   string `json:"is_series,omitempty"`
	Screenshot string `json:"screenshot_uri,omitempty"`
	Logo       string `json:"logo,omitempty"`
	Descr      string `json:"description,omitempty"`
	SeriesNo   string `json:"series_number,omitempty"`
	Series     []int  `json:"series,omitempty"`
}

// MockEPG is one get_short_epg row.
type MockEPG struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Descr     string `json:"descr,omitempty"`
	StartUnix int64  `json:"start_timestamp"`
	StopUnix  int64  `json:"stop_timestamp"`
}

// NewMockPortal starts a mock portal with small default catalogs.
func NewMockPortal() *MockPortal {
	m := &MockPortal{
		FailActions:    make(map[string]int),
		FailCategories: make(map[string]int),
		PageSize:       2,
		FirstPageIndex: 1,
		Genres: []MockCategory{
			{ID: "1", Title: "News"},
			{ID: "2", Title: "Sports"},
		},
		VODCategories: []MockCategory{
			{ID: "10", Title: "Action"},
		},
		Items: map[string][]MockItem{
			"1": {
				{ID: "101", Name: "World News", Cmd: "ffmpeg http://stream.local/101"},
				{ID: "102", Name: "Local News", Cmd: "ffmpeg http://stream.local/102"},
				{ID: "103", Name: "Weather", Cmd: "ffmpeg http://stream.local/103"},
			},
			"2": {
				{ID: "201", Name: "Football", Cmd: "ffmpeg http://stream.local/201"},
			},
			"10": {
				{ID: "301", Name: "Some Movie"},
			},
		},
		EPG:    make(map[string][]MockEPG),
		tokens: make(map[string]bool),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/stalker_portal/server/load.php", m.handle)
	mux.HandleFunc("/stalker_portal/load.php", m.handle)
	mux.HandleFunc("/portal.php", m.handle)
	m.Server = httptest.NewServer(mux)
	return m
}

// ValidToken reports whether the mock has issued tok.
func (m *MockPortal) ValidToken(tok string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[tok]
}

// ExpireAll forgets every issued token; subsequent authorized calls fail
// in-band until a new handshake.
func (m *MockPortal) ExpireAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = make(map[string]bool)
}

func (m *MockPortal) handle(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")

	m.mu.Lock()
	if n := m.FailActions[action]; n > 0 {
		m.FailActions[action] = n - 1
		m.mu.Unlock()
		http.Error(w, "upstream sad", http.StatusInternalServerError)
		return
	}
	m.mu.Unlock()

	if action == "handshake" {
		m.handleHandshake(w, r)
		return
	}

	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	authFlow := action == "get_profile" || action == "get_main_info"
	m.mu.Lock()
	expired := !m.tokens[tok]
	if !expired && !authFlow && m.ExpireNextCalls > 0 {
		m.ExpireNextCalls--
		expired = true
	}
	m.mu.Unlock()
	if expired {
		writeJS(w, "Authorization failed.")
		return
	}

	switch action {
	case "get_profile":
		m.mu.Lock()
		m.ProfileCount++
		m.mu.Unlock()
		writeJS(w, map[string]string{"token": tok})
	case "get_main_info":
		if m.RejectMAC {
			writeJS(w, map[string]string{})
			return
		}
		writeJS(w, map[string]string{"mac": "known", "status": "0"})
	case "get_genres":
		writeJS(w, m.Genres)
	case "get_categories":
		writeJS(w, m.VODCategories)
	case "get_ordered_list":
		m.handleOrderedList(w, r)
	case "get_short_epg", "get_epg_info":
		writeJS(w, m.EPG[r.URL.Query().Get("ch_id")])
	case "create_link":
		m.mu.Lock()
		m.LinkCount++
		m.LastLinkQuery = r.URL.Query()
		reply := m.LinkReply
		m.mu.Unlock()
		if reply == "" {
			reply = "ffmpeg http://stream.local/play/" + r.URL.Query().Get("cmd")
		}
		writeJS(w, map[string]string{"id": "1", "cmd": reply})
	default:
		http.NotFound(w, r)
	}
}

func (m *MockPortal) handleHandshake(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Handshake404 && r.URL.Query().Get("prehash") == "" {
		http.NotFound(w, r)
		return
	}
	m.HandshakeCount++
	m.seq++
	tok := fmt.Sprintf("TOK%04d", m.seq)
	m.tokens[tok] = true
	writeJS(w, map[string]string{"token": tok, "random": "abcdef0123456789abcdef0123456789abcdef01"})
}

func (m *MockPortal) handleOrderedList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	catID := q.Get("genre")
	if catID == "" {
		catID = q.Get("category")
	}
	if catID == "" {
		catID = q.Get("movie_id")
	}
	m.mu.Lock()
	if n := m.FailCategories[catID]; n > 0 {
		m.FailCategories[catID] = n - 1
		m.mu.Unlock()
		http.Error(w, "category sad", http.StatusInternalServerError)
		return
	}
	items := m.Items[catID]
	size := m.PageSize
	m.mu.Unlock()
	if size <= 0 {
		size = 2
	}

	p, _ := strconv.Atoi(q.Get("p"))
	p -= m.FirstPageIndex
	if p < 0 {
		p = 0
	}
	start := p * size
	end := start + size
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}
	writeJS(w, map[string]interface{}{
		"total_items":    strconv.Itoa(len(items)),
		"max_page_items": strconv.Itoa(size),
		"data":           items[start:end],
	})
}

func writeJS(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"js": payload})
}
