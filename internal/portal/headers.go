package portal

import (
	"net/http"
	"net/url"
	"strings"
)

// The portal fingerprints clients as MAG set-top boxes; requests that do
// not look like one get rejected by stricter deployments. These values are
// part of the wire protocol, not branding.
const (
	stbUserAgent = "Mozilla/5.0 (QtEmbedded; U; Linux; C) AppleWebKit/533.3 (KHTML, like Gecko) " +
		"MAG200 stbapp ver: 2 rev: 250 Safari/533.3"
	stbXUserAgent = "Model: MAG250; Link: WiFi"
)

// applyHeaders stamps the STB identity onto req. token may be empty during
// the initial handshake. includeTokenCookie controls whether the token also
// rides in the cookie; get_profile sends it as Authorization only.
func applyHeaders(req *http.Request, ep *Endpoint, token string, includeTokenCookie bool) {
	h := req.Header
	h.Set("Accept", "*/*")
	h.Set("User-Agent", stbUserAgent)
	h.Set("Referer", ep.Host()+ep.Profile.RefererPath)
	h.Set("Accept-Language", "en-US,en;q=0.5")
	h.Set("Pragma", "no-cache")
	h.Set("X-User-Agent", stbXUserAgent)
	h.Set("Accept-Encoding", "gzip, deflate")
	h.Set("Cookie", cookieString(ep, token, includeTokenCookie))
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
}

func cookieString(ep *Endpoint, token string, includeToken bool) string {
	parts := []string{
		"mac=" + url.QueryEscape(ep.MAC),
		"stb_lang=en",
		"timezone=" + url.QueryEscape(ep.Timezone),
	}
	if includeToken && token != "" {
		parts = append(parts, "token="+url.QueryEscape(token))
	}
	return strings.Join(parts, "; ")
}
