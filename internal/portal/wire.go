package portal

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Every portal response is an envelope {"js": <payload>}. The payload shape
// varies by action; decoding is tolerant about string-vs-number scalars but
// fails fast with ErrProtocol when the envelope itself is off.

// FlexString decodes JSON strings, numbers and booleans into a string.
// Portal responses switch freely between "12" and 12 for the same field.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(string(b))
	return nil
}

func (f FlexString) String() string { return string(f) }

// Int parses the value as an integer, tolerating floats; returns 0 when
// empty or unparseable.
func (f FlexString) Int() int {
	s := strings.TrimSpace(string(f))
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if x, err := strconv.ParseFloat(s, 64); err == nil {
		return int(x)
	}
	return 0
}

// Int64 is Int for epoch timestamps.
func (f FlexString) Int64() int64 {
	s := strings.TrimSpace(string(f))
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if x, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(x)
	}
	return 0
}

// Bool treats "1", "true", "yes" (any case) as true.
func (f FlexString) Bool() bool {
	switch strings.ToLower(strings.TrimSpace(string(f))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// decodeJS unwraps the {"js": ...} envelope. A syntactically valid body
// without a js key is a protocol mismatch, not an empty result.
func decodeJS(action string, body []byte) (json.RawMessage, error) {
	var env struct {
		JS json.RawMessage `json:"js"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, protocolErr(action, body)
	}
	if len(env.JS) == 0 {
		return nil, protocolErr(action, body)
	}
	return env.JS, nil
}

// DecodeList decodes a js payload that should be a list of T. Some portals
// return a single object where others return a one-element list.
func DecodeList[T any](action string, js json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(js)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var out []T
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, protocolErr(action, js)
		}
		return out, nil
	}
	var one T
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, protocolErr(action, js)
	}
	return []T{one}, nil
}

// Page is the get_ordered_list payload.
type Page struct {
	TotalItems   FlexString        `json:"total_items"`
	MaxPageItems FlexString        `json:"max_page_items"`
	Data         []json.RawMessage `json:"data"`
}

// DecodePage decodes a paginated ordered-list payload.
func DecodePage(action string, js json.RawMessage) (*Page, error) {
	var p Page
	if err := json.Unmarshal(js, &p); err != nil {
		return nil, protocolErr(action, js)
	}
	return &p, nil
}

// ExtractItems pulls programme rows out of the shapes EPG actions use:
// a bare list, {"epg": [...]}, or {"data": [...]}.
func ExtractItems(js json.RawMessage) []json.RawMessage {
	trimmed := bytes.TrimSpace(js)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] == '[' {
		var out []json.RawMessage
		if json.Unmarshal(trimmed, &out) == nil {
			return out
		}
		return nil
	}
	var wrapped struct {
		EPG  []json.RawMessage `json:"epg"`
		Data []json.RawMessage `json:"data"`
	}
	if json.Unmarshal(trimmed, &wrapped) != nil {
		return nil
	}
	if len(wrapped.EPG) > 0 {
		return wrapped.EPG
	}
	return wrapped.Data
}

// authFailed reports whether a js payload is the portal's in-band
// authorization failure. Portals answer expired tokens with HTTP 200 and
// a bare string body.
func authFailed(js json.RawMessage) bool {
	trimmed := bytes.TrimSpace(js)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return false
	}
	s = strings.ToLower(s)
	return strings.Contains(s, "authorization") || strings.Contains(s, "access denied")
}
