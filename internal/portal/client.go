package portal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapetech/portal-client/internal/httpclient"
	"github.com/snapetech/portal-client/internal/metrics"
)

// Client speaks the portal's HTTP API for one endpoint. It owns nothing but
// plumbing; session state lives in the Manager, catalog state in the cache.
type Client struct {
	Endpoint *Endpoint
	HTTP     *http.Client
	Retry    httpclient.RetryPolicy
	Sem      *httpclient.HostSemaphore
	Limiter  *httpclient.HostLimiter
	Log      zerolog.Logger
}

// NewClient wires an endpoint to the shared transport plumbing.
func NewClient(ep *Endpoint, log zerolog.Logger) *Client {
	return &Client{
		Endpoint: ep,
		HTTP:     httpclient.Default(),
		Retry:    httpclient.DefaultRetryPolicy,
		Sem:      httpclient.GlobalHostSem,
		Limiter:  httpclient.GlobalHostLimiter,
		Log:      log.With().Str("portal", ep.Host()).Str("mac", MaskMAC(ep.MAC)).Logger(),
	}
}

type callOpts struct {
	token       string
	tokenCookie bool
	noRetry     bool // single attempt; used by the handshake 404 probe
}

// Call performs one portal API action with the given bearer token and
// returns the decoded js payload. params must not include JsHttpRequest;
// it is stamped on every request. In-band authorization failures and
// 401/403 statuses surface as ErrSessionExpired so callers can renew.
func (c *Client) Call(ctx context.Context, token string, params url.Values) (json.RawMessage, error) {
	return c.call(ctx, params, callOpts{token: token, tokenCookie: true})
}

func (c *Client) call(ctx context.Context, params url.Values, opts callOpts) (json.RawMessage, error) {
	action := params.Get("action")
	start := time.Now()
	defer func() {
		metrics.PortalRequestDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	}()
	var lastErr error
	for _, path := range c.Endpoint.Profile.Paths {
		js, err := c.callPath(ctx, path, params, opts)
		if err == nil {
			metrics.PortalRequests.WithLabelValues(action, "ok").Inc()
			return js, nil
		}
		lastErr = err
		// A missing API path means wrong dialect path, not a missing
		// resource; fall through to the next candidate.
		var pe *Error
		if errors.As(err, &pe) && pe.Status == http.StatusNotFound {
			continue
		}
		break
	}
	metrics.PortalRequests.WithLabelValues(action, "error").Inc()
	return nil, lastErr
}

func (c *Client) callPath(ctx context.Context, path string, params url.Values, opts callOpts) (json.RawMessage, error) {
	action := params.Get("action")
	q := url.Values{}
	for k, vs := range params {
		q[k] = vs
	}
	q.Set("JsHttpRequest", "1-xml")
	reqURL := c.Endpoint.BaseURL + path + "?" + q.Encode()

	build := func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		applyHeaders(req, c.Endpoint, opts.token, opts.tokenCookie)
		return req, nil
	}

	if err := c.Limiter.Wait(ctx, c.Endpoint.Host()); err != nil {
		return nil, wrapErr(ErrTimeout, action, err)
	}
	release := c.Sem.Acquire(c.Endpoint.Host())
	defer release()

	policy := c.Retry
	if opts.noRetry {
		policy.MaxAttempts = 1
	}
	resp, err := httpclient.DoWithRetry(ctx, c.HTTP, build, policy)
	if err != nil {
		return nil, classifyTransport(action, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, wrapErr(ErrUnreachable, action, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fallthrough to decode
	case resp.StatusCode == http.StatusNotFound:
		return nil, &Error{Sentinel: ErrNotFound, Action: action, Status: resp.StatusCode}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if opts.token == "" {
			return nil, &Error{Sentinel: ErrRejected, Action: action, Status: resp.StatusCode}
		}
		return nil, &Error{Sentinel: ErrSessionExpired, Action: action, Status: resp.StatusCode}
	default:
		e := protocolErr(action, body)
		e.Status = resp.StatusCode
		return nil, e
	}

	js, err := decodeJS(action, body)
	if err != nil {
		c.Log.Warn().Str("action", action).Int("status", resp.StatusCode).
			Str("body", truncate(string(body), maxErrBody)).Msg("undecodable portal response")
		return nil, err
	}
	if authFailed(js) {
		return nil, &Error{Sentinel: ErrSessionExpired, Action: action, Status: resp.StatusCode}
	}
	return js, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	r, err := httpclient.DecodeBody(resp)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func classifyTransport(action string, err error) error {
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		metrics.PortalRetriesExhausted.Inc()
		return wrapErr(ErrTimeout, action, err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.As(err, &ne) && ne.Timeout():
		metrics.PortalRetriesExhausted.Inc()
		return wrapErr(ErrTimeout, action, err)
	default:
		metrics.PortalRetriesExhausted.Inc()
		return wrapErr(ErrUnreachable, action, err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
