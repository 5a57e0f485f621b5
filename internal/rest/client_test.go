package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubfs/hubfs/internal/cache"
	"github.com/hubfs/hubfs/pkg/errors"
)

func newTestClient(t *testing.T, server *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = server.URL
	store, err := cache.New(&cache.Config{Directory: t.TempDir()}, nil)
	require.NoError(t, err)
	return New(cfg, store, nil, nil)
}

func TestClient_FreshCacheAnswersWithoutNetwork(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Header().Set("Date", time.Now().UTC().Format(http.TimeFormat))
		fmt.Fprint(w, `{"name":"repo"}`)
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{})

	first, _, err := c.Get(context.Background(), "/repos/a/b", nil, false)
	require.NoError(t, err)
	second, _, err := c.Get(context.Background(), "/repos/a/b", nil, false)
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls),
		"second get within the freshness window must not hit the network")
}

func TestClient_NeverExpireSkipsRevalidation(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		// No Date header, so the entry is stale immediately.
		fmt.Fprint(w, `{"sha":"abc"}`)
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{})

	_, _, err := c.Get(context.Background(), "/commits/abc", nil, true)
	require.NoError(t, err)
	_, _, err = c.Get(context.Background(), "/commits/abc", nil, true)
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls),
		"immutable resources must be served from cache unconditionally")
}

func TestClient_ConditionalGetServes304FromCache(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&calls, 1)
		if n == 1 {
			w.Header().Set("ETag", `"v1"`)
			w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
			fmt.Fprint(w, `{"default_branch":"main"}`)
			return
		}
		if r.Header.Get("If-None-Match") != `"v1"` {
			t.Errorf("If-None-Match = %q, want %q", r.Header.Get("If-None-Match"), `"v1"`)
		}
		if r.Header.Get("If-Modified-Since") == "" {
			t.Error("revalidation request is missing If-Modified-Since")
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{})

	first, _, err := c.Get(context.Background(), "/repos/a/b", nil, false)
	require.NoError(t, err)
	second, _, err := c.Get(context.Background(), "/repos/a/b", nil, false)
	require.NoError(t, err)

	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
	assert.JSONEq(t, string(first), string(second))
}

func TestClient_ParamsDistinguishCacheEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Date", time.Now().UTC().Format(http.TimeFormat))
		fmt.Fprintf(w, `{"ref":%q}`, r.URL.Query().Get("ref"))
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{})

	a, _, err := c.Get(context.Background(), "/contents", url.Values{"ref": {"main"}}, false)
	require.NoError(t, err)
	b, _, err := c.Get(context.Background(), "/contents", url.Values{"ref": {"dev"}}, false)
	require.NoError(t, err)

	assert.NotEqual(t, string(a), string(b))
}

func TestClient_StatusMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, _ := strconv.Atoi(r.URL.Path[len("/status/"):])
		w.WriteHeader(status)
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{})

	tests := []struct {
		status int
		check  func(error) bool
		want   string
	}{
		{404, errors.IsNotFound, "not found"},
		{422, errors.IsNotFound, "not found"},
		{403, errors.IsPermission, "permission"},
	}
	for _, tt := range tests {
		_, _, err := c.Get(context.Background(), fmt.Sprintf("/status/%d", tt.status), nil, false)
		assert.True(t, tt.check(err), "status %d should map to %s, got %v", tt.status, tt.want, err)
	}
}

func TestClient_RateLimitWithoutWaitFailsFast(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{WaitOnRateLimit: false})

	_, _, err := c.Get(context.Background(), "/repos/a/b", nil, false)
	assert.True(t, errors.IsRateLimit(err), "err = %v, want RateLimit", err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "no retry without wait")
}

func TestClient_RateLimitWaitRetriesAfterQuota(t *testing.T) {
	var apiCalls, quotaCalls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rate_limit" {
			n := atomic.AddInt64(&quotaCalls, 1)
			remaining := 0
			if n >= 2 {
				remaining = 42
			}
			fmt.Fprintf(w, `{"resources":{"core":{"remaining":%d}}}`, remaining)
			return
		}
		if atomic.AddInt64(&apiCalls, 1) == 1 {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{
		WaitOnRateLimit: true,
		RateLimitDelay:  time.Millisecond,
		RateLimitPath:   "/rate_limit",
	})

	body, _, err := c.Get(context.Background(), "/repos/a/b", nil, false)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int64(2), atomic.LoadInt64(&apiCalls))
	assert.Equal(t, int64(2), atomic.LoadInt64(&quotaCalls),
		"quota must be polled until it replenishes")
}

func TestClient_RateLimitWaitHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "0")
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{
		WaitOnRateLimit: true,
		RateLimitDelay:  time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := c.Get(ctx, "/repos/a/b", nil, false)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPager_FiveItemsAcrossFivePages(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 1 {
			w.Header().Set("Link",
				fmt.Sprintf(`<%s/items?page=2>; rel="next", <%s/items?page=5>; rel="last"`,
					r.Host, r.Host))
		}
		fmt.Fprintf(w, `[{"name":"item-%d"}]`, page)
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{})

	var names []string
	pager := c.GetPaged(context.Background(), "/items", nil)
	for pager.Next() {
		var item struct {
			Name string `json:"name"`
		}
		require.NoError(t, json.Unmarshal(pager.Item(), &item))
		names = append(names, item.Name)
	}
	require.NoError(t, pager.Err())

	assert.Equal(t, []string{"item-1", "item-2", "item-3", "item-4", "item-5"}, names)
	assert.Equal(t, int64(5), atomic.LoadInt64(&calls))
}

func TestPager_NoLinkHeaderMeansSinglePage(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		fmt.Fprint(w, `[{"name":"only"},{"name":"two"}]`)
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{})

	var count int
	pager := c.GetPaged(context.Background(), "/branches", nil)
	for pager.Next() {
		count++
	}
	require.NoError(t, pager.Err())
	assert.Equal(t, 2, count)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestPager_MalformedLinkHeaderFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", `<https://example.test/items?page=2>; rel="next"`)
		fmt.Fprint(w, `[{"name":"x"}]`)
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{})

	pager := c.GetPaged(context.Background(), "/items", nil)
	assert.False(t, pager.Next())
	assert.Error(t, pager.Err())
}

func TestPager_EmptyCollection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{})

	pager := c.GetPaged(context.Background(), "/tags", nil)
	assert.False(t, pager.Next())
	require.NoError(t, pager.Err())
}

func TestPager_NotFoundPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{})

	pager := c.GetPaged(context.Background(), "/missing", nil)
	assert.False(t, pager.Next())
	assert.True(t, errors.IsNotFound(pager.Err()))
}
