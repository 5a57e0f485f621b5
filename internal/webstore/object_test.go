package webstore

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubfs/hubfs/pkg/errors"
	"github.com/hubfs/hubfs/pkg/stream"
	"github.com/hubfs/hubfs/pkg/types"
)

// rangeHandler serves content honoring single-range requests.
func rangeHandler(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")

		rng := r.Header.Get("Range")
		if rng == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			if r.Method != http.MethodHead {
				_, _ = w.Write([]byte(content))
			}
			return
		}

		var start, end int64
		end = int64(len(content))
		if strings.HasSuffix(rng, "-") {
			_, _ = fmt.Sscanf(rng, "bytes=%d-", &start)
		} else {
			_, _ = fmt.Sscanf(rng, "bytes=%d-%d", &start, &end)
			end++
		}
		if start >= int64(len(content)) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte(content[start:end]))
	}
}

func TestObjectReadRange(t *testing.T) {
	srv := httptest.NewServer(rangeHandler("0123456789"))
	defer srv.Close()
	obj := NewObject(srv.Client(), srv.URL, nil)

	data, err := obj.ReadRange(context.Background(), 2, 6)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(data))

	data, err = obj.ReadRange(context.Background(), 7, 0)
	require.NoError(t, err)
	assert.Equal(t, "789", string(data))

	data, err = obj.ReadRange(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
}

func TestObjectReadPastEnd(t *testing.T) {
	srv := httptest.NewServer(rangeHandler("abc"))
	defer srv.Close()
	obj := NewObject(srv.Client(), srv.URL, nil)

	data, err := obj.ReadRange(context.Background(), 100, 0)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestObjectRangeIgnoredByServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("full body here"))
	}))
	defer srv.Close()
	obj := NewObject(srv.Client(), srv.URL, nil)

	data, err := obj.ReadRange(context.Background(), 5, 9)
	require.NoError(t, err)
	assert.Equal(t, "body", string(data))

	// A bounded read from the start is truncated too.
	data, err = obj.ReadRange(context.Background(), 0, 4)
	require.NoError(t, err)
	assert.Equal(t, "full", string(data))
}

func TestObjectSizeAndSeekable(t *testing.T) {
	srv := httptest.NewServer(rangeHandler("0123456789"))
	defer srv.Close()
	obj := NewObject(srv.Client(), srv.URL, nil)

	size, err := obj.Size(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)

	seekable, err := obj.Seekable(context.Background())
	require.NoError(t, err)
	assert.True(t, seekable)
}

func TestObjectExists(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/obj", rangeHandler("x"))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ok, err := NewObject(srv.Client(), srv.URL+"/obj", nil).Exists(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = NewObject(srv.Client(), srv.URL+"/missing", nil).Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestObjectSendsHeaders(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	obj := NewObject(srv.Client(), srv.URL, map[string]string{"Authorization": "token abc"})
	_, err := obj.ReadRange(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "token abc", got)
}

func TestSystemHead(t *testing.T) {
	srv := httptest.NewServer(rangeHandler("0123456789"))
	defer srv.Close()
	sys := NewSystem(Config{HTTPClient: srv.Client()}, nil, nil)

	info, err := sys.Head(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(10), info.Size)
	assert.Equal(t, "text/plain", info.ContentType)
	assert.False(t, info.Modified.IsZero())
}

func TestSystemListUnsupported(t *testing.T) {
	sys := NewSystem(Config{}, nil, nil)
	_, err := sys.List(context.Background(), "http://example.com/")
	assert.True(t, errors.IsUnsupported(err))
}

func TestSystemOpenRawRead(t *testing.T) {
	srv := httptest.NewServer(rangeHandler("hello stream"))
	defer srv.Close()
	sys := NewSystem(Config{HTTPClient: srv.Client()}, nil, nil)

	raw, err := sys.OpenRaw(context.Background(), srv.URL, stream.ModeRead)
	require.NoError(t, err)
	defer func() { _ = raw.Close(context.Background()) }()

	data, err := raw.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello stream", string(data))
}

var _ types.Storage = (*System)(nil)
