package portal

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
)

var (
	macRegex      = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)
	serialRegex   = regexp.MustCompile(`^[A-Z0-9]{13}$`)
	deviceIDRegex = regexp.MustCompile(`^[0-9A-Fa-f]{64}$`)
)

// Endpoint identifies one portal instance for one device. Immutable per
// session: build it once, pass it by reference.
type Endpoint struct {
	BaseURL  string // portal base, e.g. http://server.example/c/
	MAC      string // device credential, AA:BB:.. form
	Serial   string // 13-char alnum; derived from MAC when not provided
	DeviceID string // 64-char hex; derived from MAC when not provided
	Timezone string // IANA name sent in the portal cookie
	// StreamBase is prepended to relative play commands from create_link.
	// Defaults to the portal host + /vod4, the usual middleware layout.
	StreamBase string

	Profile Profile
}

// EndpointOpts are the caller-supplied knobs; zero values get derived or
// defaulted by NewEndpoint.
type EndpointOpts struct {
	Serial     string
	DeviceID   string
	Timezone   string
	StreamBase string
	Profile    *Profile
}

// NewEndpoint validates the MAC and fills derived identity fields.
// The derivations are fixed by the portal family: serial is the first 13
// hex digits of md5(mac) uppercased, device id is sha256(mac) uppercased.
func NewEndpoint(baseURL, mac string, opts EndpointOpts) (*Endpoint, error) {
	mac = strings.TrimSpace(mac)
	if !macRegex.MatchString(mac) {
		return nil, wrapErr(ErrInvalidMAC, "endpoint", nil)
	}
	baseURL = strings.TrimSuffix(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, wrapErr(ErrUnreachable, "endpoint", err)
	}
	// Trailing /c is the STB landing page, not the API root.
	baseURL = strings.TrimSuffix(baseURL, "/c")

	ep := &Endpoint{
		BaseURL:    baseURL,
		MAC:        mac,
		Serial:     strings.ToUpper(opts.Serial),
		DeviceID:   strings.ToUpper(opts.DeviceID),
		Timezone:   opts.Timezone,
		StreamBase: strings.TrimSuffix(opts.StreamBase, "/"),
	}
	if ep.Serial == "" {
		ep.Serial = deriveSerial(mac)
	} else if !serialRegex.MatchString(ep.Serial) {
		return nil, wrapErr(ErrInvalidMAC, "endpoint: serial", nil)
	}
	if ep.DeviceID == "" {
		ep.DeviceID = deriveDeviceID(mac)
	} else if !deviceIDRegex.MatchString(ep.DeviceID) {
		return nil, wrapErr(ErrInvalidMAC, "endpoint: device id", nil)
	}
	if ep.Timezone == "" {
		ep.Timezone = "Europe/Paris"
	}
	if ep.StreamBase == "" {
		ep.StreamBase = u.Scheme + "://" + u.Host + "/vod4"
	}
	if opts.Profile != nil {
		ep.Profile = *opts.Profile
	} else {
		ep.Profile = StalkerProfile()
	}
	return ep, nil
}

// Key identifies the endpoint for caching and session registry purposes:
// one portal host + one MAC is one account.
func (e *Endpoint) Key() string {
	u, err := url.Parse(e.BaseURL)
	host := e.BaseURL
	if err == nil && u.Host != "" {
		host = u.Host
	}
	return host + "|" + strings.ToLower(e.MAC)
}

// Host returns the scheme://host part of the portal URL.
func (e *Endpoint) Host() string {
	u, err := url.Parse(e.BaseURL)
	if err != nil || u.Host == "" {
		return e.BaseURL
	}
	return u.Scheme + "://" + u.Host
}

// Signature is the get_profile auth signature:
// sha256(mac + serial + device_id + device_id2) uppercased.
func (e *Endpoint) Signature() string {
	sum := sha256.Sum256([]byte(e.MAC + e.Serial + e.DeviceID + e.DeviceID))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// HWVersion2 is the secondary hardware version field: sha1(mac), lowercase.
func (e *Endpoint) HWVersion2() string {
	sum := sha1.Sum([]byte(e.MAC))
	return hex.EncodeToString(sum[:])
}

func deriveSerial(mac string) string {
	sum := md5.Sum([]byte(mac))
	return strings.ToUpper(hex.EncodeToString(sum[:]))[:13]
}

func deriveDeviceID(mac string) string {
	sum := sha256.Sum256([]byte(mac))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// MaskMAC keeps the vendor prefix and hides the device-specific tail for
// log output.
func MaskMAC(mac string) string {
	if len(mac) < 9 {
		return "***"
	}
	return mac[:8] + ":**:**:**"
}

// MaskToken keeps enough of a token to correlate log lines without
// disclosing the credential.
func MaskToken(tok string) string {
	if len(tok) <= 6 {
		return "***"
	}
	return tok[:6] + "..."
}
