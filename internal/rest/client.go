// Package rest implements the HTTP client shared by the storage
// providers: disk-cached conditional GETs, transparent rate-limit
// handling, and Link-header pagination.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/hubfs/hubfs/internal/cache"
	"github.com/hubfs/hubfs/internal/metrics"
	"github.com/hubfs/hubfs/pkg/errors"
)

const (
	// FreshnessWindow is how long a cached response answers without any
	// network traffic at all.
	FreshnessWindow = 60 * time.Second

	// DefaultRateLimitDelay is the pause between quota polls while
	// waiting out an exhausted rate limit.
	DefaultRateLimitDelay = 60 * time.Second
)

// Config represents REST client configuration.
type Config struct {
	// BaseURL is the API root, e.g. https://api.github.com.
	BaseURL string

	// Headers are sent with every request (authorization, accept).
	Headers map[string]string

	// WaitOnRateLimit makes the client sleep through an exhausted quota
	// instead of failing with a RateLimit error.
	WaitOnRateLimit bool

	// RateLimitDelay overrides the pause between quota polls.
	RateLimitDelay time.Duration

	// RateLimitPath is the endpoint reporting the remaining quota.
	RateLimitPath string

	HTTPClient *http.Client
}

// Client is a REST API client with a disk-backed response cache. It is
// safe for concurrent use.
type Client struct {
	base    string
	headers map[string]string
	http    *http.Client

	waitOnRateLimit bool
	rateLimitDelay  time.Duration
	rateLimitPath   string
	warnOnce        sync.Once

	cache   *cache.Cache
	log     *logrus.Entry
	metrics *metrics.Collector
}

// New creates a client. The cache may be nil, which disables response
// caching entirely.
func New(cfg Config, store *cache.Cache, log *logrus.Entry, collector *metrics.Collector) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	delay := cfg.RateLimitDelay
	if delay <= 0 {
		delay = DefaultRateLimitDelay
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{
		base:            strings.TrimRight(cfg.BaseURL, "/"),
		headers:         cfg.Headers,
		http:            httpClient,
		waitOnRateLimit: cfg.WaitOnRateLimit,
		rateLimitDelay:  delay,
		rateLimitPath:   cfg.RateLimitPath,
		cache:           store,
		log:             log,
		metrics:         collector,
	}
}

// cachedResponse is the on-disk form of one GET response: the body plus
// the flattened response headers it arrived with.
type cachedResponse struct {
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body"`
}

// fresh reports whether the response is recent enough to answer without
// revalidation.
func (r *cachedResponse) fresh(now time.Time) bool {
	date, err := http.ParseTime(r.Headers["Date"])
	if err != nil {
		return false
	}
	return now.Sub(date) <= FreshnessWindow
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// cacheKey builds the cache key for a path and its query parameters.
// Parameters are serialized in sorted order so equivalent requests share
// one entry.
func cacheKey(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(path)
	for _, k := range keys {
		sb.WriteByte('?')
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(strings.Join(params[k], ","))
	}
	return sb.String()
}

// Request performs one HTTP request against the API, waiting out
// exhausted rate limits when the client is configured to. Extra headers
// are applied on top of the client's defaults. The caller owns the
// response body.
func (c *Client) Request(ctx context.Context, method, path string, params url.Values, extra http.Header) (*http.Response, error) {
	target := c.base + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	requestID := uuid.NewString()
	log := c.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
	})

	for {
		req, err := http.NewRequestWithContext(ctx, method, target, nil)
		if err != nil {
			return nil, err
		}
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}
		for k, vs := range extra {
			for _, v := range vs {
				req.Header.Set(k, v)
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
		c.metrics.RecordAPIRequest(method, strconv.Itoa(resp.StatusCode))
		log.WithField("status", resp.StatusCode).Debug("api request")

		if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0" {
			_ = resp.Body.Close()
			if !c.waitOnRateLimit {
				return nil, errors.NewRateLimit("api rate limit exceeded")
			}
			c.warnOnce.Do(func() {
				c.log.Warn("api rate limit exceeded, waiting for quota to replenish")
			})
			if err := c.waitForQuota(ctx); err != nil {
				return nil, err
			}
			continue
		}

		return resp, nil
	}
}

// waitForQuota polls the rate-limit endpoint until the core quota has
// replenished.
func (c *Client) waitForQuota(ctx context.Context) error {
	for {
		c.metrics.RecordRateLimitWait()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.rateLimitDelay):
		}

		if c.rateLimitPath == "" {
			return nil
		}
		remaining, err := c.remainingQuota(ctx)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}
	}
}

func (c *Client) remainingQuota(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+c.rateLimitPath, nil)
	if err != nil {
		return 0, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	var payload struct {
		Resources struct {
			Core struct {
				Remaining int `json:"remaining"`
			} `json:"core"`
		} `json:"resources"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode rate limit response: %w", err)
	}
	return payload.Resources.Core.Remaining, nil
}

// Get returns the JSON body at path and the response headers it was
// served with, going through the cache.
//
// A cached entry that is still fresh, or whose path never changes
// (neverExpire), answers with zero network traffic. Otherwise the
// request revalidates with If-Modified-Since and If-None-Match; a 304
// serves the cached pair unchanged. New responses are cached in long
// mode.
func (c *Client) Get(ctx context.Context, path string, params url.Values, neverExpire bool) (json.RawMessage, map[string]string, error) {
	key := cacheKey(path, params)

	var cached *cachedResponse
	if c.cache != nil {
		if raw, err := c.cache.Get(key); err == nil {
			var entry cachedResponse
			if json.Unmarshal(raw, &entry) == nil {
				cached = &entry
			}
		}
		if cached != nil && (neverExpire || cached.fresh(time.Now())) {
			return cached.Body, cached.Headers, nil
		}
	}

	extra := make(http.Header)
	if cached != nil {
		if v := cached.Headers["Last-Modified"]; v != "" {
			extra.Set("If-Modified-Since", v)
		}
		if v := cached.Headers["Etag"]; v != "" {
			extra.Set("If-None-Match", v)
		}
	}

	resp, err := c.Request(ctx, http.MethodGet, path, params, extra)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified && cached != nil {
		return cached.Body, cached.Headers, nil
	}
	if err := errors.FromStatusCode(resp.StatusCode, path); err != nil {
		return nil, nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response body: %w", err)
	}

	headers := flattenHeaders(resp.Header)
	if c.cache != nil {
		entry := cachedResponse{Headers: headers, Body: body}
		if raw, err := json.Marshal(&entry); err == nil {
			_ = c.cache.Set(key, raw, cache.ModeLong)
		}
	}
	return body, headers, nil
}
