package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/hubfs/hubfs/pkg/errors"
)

// lastPagePattern extracts the page number from the rel="last" entry of
// a Link header.
var lastPagePattern = regexp.MustCompile(`[?&]page=(\d+)[^>]*>\s*;\s*rel="last"`)

// Pager iterates over the items of a paginated collection endpoint.
// Pages are fetched lazily through the client's cache; items are the raw
// JSON elements of each page's array.
type Pager struct {
	client *Client
	ctx    context.Context
	path   string
	params url.Values

	page     int
	lastPage int
	items    []json.RawMessage
	index    int
	item     json.RawMessage
	err      error
	done     bool
}

// GetPaged returns a pager over the collection at path. Pages are
// numbered from one; the total page count comes from the first
// response's Link header.
func (c *Client) GetPaged(ctx context.Context, path string, params url.Values) *Pager {
	return &Pager{
		client: c,
		ctx:    ctx,
		path:   path,
		params: params,
	}
}

// Next advances to the next item, fetching pages as needed. It returns
// false at the end of the collection or on error; check Err afterwards.
func (p *Pager) Next() bool {
	if p.err != nil || (p.done && p.index >= len(p.items)) {
		return false
	}

	for p.index >= len(p.items) {
		if p.done {
			return false
		}
		if !p.fetchPage() {
			return false
		}
	}

	p.item = p.items[p.index]
	p.index++
	return true
}

// Item returns the raw JSON of the current item.
func (p *Pager) Item() json.RawMessage { return p.item }

// Err returns the first error encountered while paging.
func (p *Pager) Err() error { return p.err }

// fetchPage loads the next page into p.items. Returns false when there
// is nothing more to read.
func (p *Pager) fetchPage() bool {
	p.page++

	params := url.Values{}
	for k, vs := range p.params {
		params[k] = vs
	}
	params.Set("page", strconv.Itoa(p.page))

	resp, err := p.client.Request(p.ctx, "GET", p.path, params, nil)
	if err != nil {
		p.err = err
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if err := errors.FromStatusCode(resp.StatusCode, p.path); err != nil {
		p.err = err
		return false
	}

	// The first response pins the page count for the whole iteration.
	if p.page == 1 {
		last, err := parseLastPage(resp.Header.Get("Link"))
		if err != nil {
			p.err = err
			return false
		}
		p.lastPage = last
	}

	var items []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		p.err = fmt.Errorf("decode page %d of %s: %w", p.page, p.path, err)
		return false
	}

	p.items = items
	p.index = 0
	if p.page >= p.lastPage || len(items) == 0 {
		p.done = true
	}
	return len(items) > 0 || !p.done
}

// parseLastPage reads the total page count from a Link header. An absent
// header means the collection fits in a single page; a present header
// without a rel="last" entry is malformed.
func parseLastPage(link string) (int, error) {
	if link == "" {
		return 1, nil
	}
	m := lastPagePattern.FindStringSubmatch(link)
	if m == nil {
		if strings.Contains(link, `rel="last"`) {
			return 0, fmt.Errorf("link header %q: rel=\"last\" entry has no page parameter", link)
		}
		return 0, fmt.Errorf("link header %q: missing rel=\"last\" entry", link)
	}
	return strconv.Atoi(m[1])
}
