// Package upstream implements crawl.Fetcher against the ranking JSON API
// using gocolly.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/rankcrawl/internal/crawl"
	"github.com/JakeFAU/rankcrawl/internal/metrics"
)

// ErrNotJSON is returned when the upstream answers with a non-JSON body.
var ErrNotJSON = errors.New("upstream returned a non-JSON response")

// Config controls the upstream client.
type Config struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	MaxRPS      float64
	Burst       int
	ResultField string
	Headers     map[string]string
}

// Client fetches one (content type, server) unit per call.
type Client struct {
	cfg           Config
	base          *url.URL
	transport     http.RoundTripper
	limiter       *rate.Limiter
	baseCollector *colly.Collector
}

var _ crawl.Fetcher = (*Client)(nil)

// New builds a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse upstream base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("upstream base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ResultField == "" {
		cfg.ResultField = DefaultResultField
	}

	limit := rate.Inf
	if cfg.MaxRPS > 0 {
		limit = rate.Limit(cfg.MaxRPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	// Units are re-fetched on every run, so visited tracking is off.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Client{
		cfg:           cfg,
		base:          base,
		transport:     transport,
		limiter:       rate.NewLimiter(limit, burst),
		baseCollector: c,
	}, nil
}

// Fetch issues GET {base}/{content_type}?server=...&skipRecentHours=... and
// classifies the JSON body. Calls must not overlap: the collector clones share
// one HTTP backend.
func (c *Client) Fetch(ctx context.Context, request crawl.Request) (crawl.Response, error) {
	waitStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return crawl.Response{}, fmt.Errorf("rate limit wait: %w", err)
	}
	metrics.ObserveRateLimitDelay(time.Since(waitStart))

	resp, err := c.fetch(ctx, request)
	switch {
	case err != nil:
		metrics.ObserveUpstream(request.Unit.ContentType, "error")
	case resp.Empty:
		metrics.ObserveUpstream(request.Unit.ContentType, "empty")
	default:
		metrics.ObserveUpstream(request.Unit.ContentType, "ok")
	}
	return resp, err
}

func (c *Client) fetch(ctx context.Context, request crawl.Request) (crawl.Response, error) {
	target := c.unitURL(request)
	start := time.Now()
	var (
		result   fetched
		fetchErr error
	)
	collector := c.buildCollector(ctx, &result, &fetchErr)
	if err := runCollector(ctx, collector, target, &fetchErr); err != nil {
		return crawl.Response{}, err
	}

	if result.status >= http.StatusBadRequest {
		return crawl.Response{}, fmt.Errorf("upstream %s: status %d", target, result.status)
	}
	if !isJSON(result.contentType) {
		return crawl.Response{}, fmt.Errorf("%w: content type %q", ErrNotJSON, result.contentType)
	}
	resp, err := Classify(result.body, c.cfg.ResultField)
	if err != nil {
		return crawl.Response{}, err
	}
	resp.Duration = time.Since(start)
	return resp, nil
}

type fetched struct {
	status      int
	contentType string
	body        []byte
}

func (c *Client) unitURL(request crawl.Request) string {
	u := *c.base
	u.Path = u.Path + "/" + url.PathEscape(request.Unit.ContentType)
	q := u.Query()
	q.Set("server", request.Unit.Server)
	if request.SkipRecentHours > 0 {
		q.Set("skipRecentHours", strconv.Itoa(request.SkipRecentHours))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) buildCollector(ctx context.Context, result *fetched, fetchErr *error) *colly.Collector {
	collector := c.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.SetRequestTimeout(c.cfg.Timeout)
	collector.WithTransport(&contextTransport{base: c.transport, ctx: ctx})

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
		for key, value := range c.cfg.Headers {
			r.Headers.Set(key, value)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		*result = fetched{
			status:      r.StatusCode,
			contentType: r.Headers.Get("Content-Type"),
			body:        append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
	return collector
}

func runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("upstream fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("upstream visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("upstream response failed: %w", *fetchErr)
		}
		return nil
	}
}

// contextTransport ties the outgoing request to the caller's context so an
// emergency stop tears down the connection.
type contextTransport struct {
	base http.RoundTripper
	ctx  context.Context
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req.WithContext(t.ctx))
	if err != nil {
		return nil, fmt.Errorf("round trip: %w", err)
	}
	return resp, nil
}

func isJSON(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "+json")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
