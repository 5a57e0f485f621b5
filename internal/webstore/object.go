// Package webstore serves plain HTTP(S) URLs as read-only storage
// objects: metadata via HEAD, content via Range requests.
package webstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/hubfs/hubfs/pkg/errors"
)

// Object is one remote URL exposed as a range-addressable object. It
// implements the stream backend contracts (range reads, size, existence).
type Object struct {
	url     string
	client  *http.Client
	headers map[string]string
}

// NewObject wraps url. headers are sent with every request.
func NewObject(client *http.Client, url string, headers map[string]string) *Object {
	if client == nil {
		client = http.DefaultClient
	}
	return &Object{url: url, client: client, headers: headers}
}

// URL returns the wrapped URL.
func (o *Object) URL() string { return o.url }

func (o *Object) newRequest(ctx context.Context, method string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, o.url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// ReadRange fetches the byte range [start, end); end <= 0 reads to the
// end of the object. A 416 response is an empty read, not an error.
func (o *Object) ReadRange(ctx context.Context, start, end int64) ([]byte, error) {
	req, err := o.newRequest(ctx, http.MethodGet)
	if err != nil {
		return nil, err
	}
	if start > 0 || end > 0 {
		if end > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))
		} else {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
		}
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		return nil, nil
	}
	if err := errors.FromStatusCode(resp.StatusCode, o.url); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	// A server that ignores Range sends the whole object.
	if resp.StatusCode == http.StatusOK && (start > 0 || end > 0) {
		if start >= int64(len(data)) {
			return nil, nil
		}
		data = data[start:]
		if end > 0 && end-start < int64(len(data)) {
			data = data[:end-start]
		}
	}
	return data, nil
}

// Size returns the object size from a HEAD request.
func (o *Object) Size(ctx context.Context) (int64, error) {
	resp, err := o.head(ctx)
	if err != nil {
		return 0, err
	}
	cl := resp.Header.Get("Content-Length")
	if cl == "" {
		return 0, errors.NewUnsupported("size of " + o.url)
	}
	return strconv.ParseInt(cl, 10, 64)
}

// Exists reports whether the URL answers a HEAD request.
func (o *Object) Exists(ctx context.Context) (bool, error) {
	resp, err := o.head(ctx)
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	_ = resp
	return true, nil
}

// Seekable reports whether the server advertises byte-range support.
func (o *Object) Seekable(ctx context.Context) (bool, error) {
	resp, err := o.head(ctx)
	if err != nil {
		return false, err
	}
	return resp.Header.Get("Accept-Ranges") == "bytes", nil
}

func (o *Object) head(ctx context.Context) (*http.Response, error) {
	req, err := o.newRequest(ctx, http.MethodHead)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	_ = resp.Body.Close()
	if err := errors.FromStatusCode(resp.StatusCode, o.url); err != nil {
		return nil, err
	}
	return resp, nil
}
