// Package fetcher provides the JSON-over-HTTP transport shared by the
// upstream API clients.
package fetcher

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultUserAgent identifies the service to upstream APIs.
const DefaultUserAgent = "yesterday/1.0"

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 32 << 20

// Getter issues GET requests against one upstream and decodes JSON bodies.
type Getter interface {
	GetJSON(ctx context.Context, path string, query url.Values, out any) error
}

// Observer receives one call per completed request. status is 0 when the
// request failed before a response arrived.
type Observer func(host string, status int, elapsed time.Duration)

// Options configures a Client.
type Options struct {
	BaseURL        string
	UserAgent      string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	RatePerSec     float64
	Burst          int
	Observer       Observer
}

// Client is a rate-limited JSON client bound to one base URL. It makes a
// single attempt per call; retry policy belongs to the caller.
type Client struct {
	base     *url.URL
	client   *http.Client
	ua       string
	limiter  *AdaptiveLimiter
	observer Observer
}

// NewClient creates a Client for opts.BaseURL.
func NewClient(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse base url %q", opts.BaseURL)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, eris.Errorf("fetcher: base url %q must be absolute", opts.BaseURL)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: opts.ConnectTimeout}).DialContext,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       20,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Client{
		base: base,
		client: &http.Client{
			Timeout:   opts.ConnectTimeout + opts.ReadTimeout,
			Transport: transport,
		},
		ua:       opts.UserAgent,
		limiter:  NewAdaptiveLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		observer: opts.Observer,
	}, nil
}

// Host returns the upstream host name.
func (c *Client) Host() string { return c.base.Host }

// Limiter returns the client's adaptive rate limiter.
func (c *Client) Limiter() *AdaptiveLimiter { return c.limiter }

// URL resolves path and query against the base URL.
func (c *Client) URL(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// GetJSON performs one GET of path and decodes the body into out. A
// non-2xx response yields a *StatusError.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	target := c.URL(path, query)

	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "fetcher: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.observe(0, start)
		return eris.Wrapf(err, "fetcher: get %s", target)
	}
	defer resp.Body.Close() //nolint:errcheck
	c.observe(resp.StatusCode, start)

	if resp.StatusCode == http.StatusTooManyRequests {
		c.limiter.OnRateLimit()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{
			StatusCode: resp.StatusCode,
			URL:        target,
			RetryAfter: resp.Header.Get("Retry-After"),
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	c.limiter.OnSuccess()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return eris.Wrapf(err, "fetcher: read body %s", target)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "fetcher: decode %s", target)
	}

	zap.L().Debug("fetcher: get ok",
		zap.String("url", target),
		zap.Int("bytes", len(body)),
	)
	return nil
}

func (c *Client) observe(status int, start time.Time) {
	if c.observer != nil {
		c.observer(c.base.Host, status, time.Since(start))
	}
}
