package webstore

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hubfs/hubfs/internal/metrics"
	"github.com/hubfs/hubfs/pkg/errors"
	"github.com/hubfs/hubfs/pkg/stream"
	"github.com/hubfs/hubfs/pkg/types"
)

// Config represents webstore provider configuration.
type Config struct {
	// Headers are sent with every request (e.g. authorization).
	Headers map[string]string `yaml:"headers"`

	// ChunkSize is the buffered stream chunk size in bytes.
	ChunkSize int `yaml:"chunk_size"`

	// Workers bounds concurrent chunk transfers per stream.
	Workers int `yaml:"workers"`

	HTTPClient *http.Client `yaml:"-"`
}

// System exposes arbitrary HTTP(S) URLs as a read-only storage. Paths
// are complete URLs; there is no listing, and directories do not exist.
type System struct {
	client    *http.Client
	headers   map[string]string
	chunkSize int
	workers   int
	log       *logrus.Entry
	metrics   *metrics.Collector
}

// NewSystem creates the provider.
func NewSystem(cfg Config, log *logrus.Entry, collector *metrics.Collector) *System {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &System{
		client:    client,
		headers:   cfg.Headers,
		chunkSize: cfg.ChunkSize,
		workers:   cfg.Workers,
		log:       log,
		metrics:   collector,
	}
}

// Scheme returns the provider's mount scheme.
func (s *System) Scheme() string { return "http" }

func (s *System) object(path string) *Object {
	return NewObject(s.client, path, s.headers)
}

// Head returns the object metadata taken from a HEAD response.
func (s *System) Head(ctx context.Context, path string) (*types.ObjectInfo, error) {
	obj := s.object(path)
	resp, err := obj.head(ctx)
	if err != nil {
		return nil, err
	}

	info := &types.ObjectInfo{
		Path:        path,
		ContentType: resp.Header.Get("Content-Type"),
		Mode:        0o644,
	}
	if size, err := obj.Size(ctx); err == nil {
		info.Size = size
	}
	if t, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		info.Modified = t
	}
	return info, nil
}

// List is not supported: an HTTP endpoint has no directory structure.
func (s *System) List(ctx context.Context, path string) ([]types.DirEntry, error) {
	return nil, errors.NewUnsupported("list")
}

// Exists reports whether the URL answers a HEAD request.
func (s *System) Exists(ctx context.Context, path string) (bool, error) {
	return s.object(path).Exists(ctx)
}

// IsDir always reports false.
func (s *System) IsDir(ctx context.Context, path string) (bool, error) {
	return false, nil
}

// IsFile reports whether the URL exists.
func (s *System) IsFile(ctx context.Context, path string) (bool, error) {
	return s.Exists(ctx, path)
}

// IsSymlink always reports false.
func (s *System) IsSymlink(ctx context.Context, path string) (bool, error) {
	return false, nil
}

// ReadLink is not supported.
func (s *System) ReadLink(ctx context.Context, path string) (string, error) {
	return "", errors.NewNotASymlink(path)
}

// OpenRaw opens a read-only raw stream. The stream is seekable when the
// server advertises byte-range support.
func (s *System) OpenRaw(ctx context.Context, path string, mode stream.Mode) (*stream.Raw, error) {
	if mode != stream.ModeRead {
		return nil, errors.NewUnsupported("write")
	}
	obj := s.object(path)
	seekable, err := obj.Seekable(ctx)
	if err != nil {
		return nil, err
	}
	return stream.NewRaw(ctx, stream.RawConfig{
		Mode:     stream.ModeRead,
		Seekable: seekable,
		Reader:   obj,
		Sizer:    obj,
		Stater:   obj,
		Metrics:  s.metrics,
	})
}

// OpenBuffered opens a read-only chunked stream.
func (s *System) OpenBuffered(ctx context.Context, path string, mode stream.Mode) (*stream.Buffered, error) {
	if mode != stream.ModeRead {
		return nil, errors.NewUnsupported("write")
	}
	return stream.NewBuffered(stream.BufferedConfig{
		Mode:      stream.ModeRead,
		ChunkSize: s.chunkSize,
		Workers:   s.workers,
		Reader:    s.object(path),
		Metrics:   s.metrics,
	})
}
