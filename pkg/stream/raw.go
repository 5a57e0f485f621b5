// Package stream turns range-addressable remote objects into seekable
// byte streams.
//
// Raw streams map every read to one range request and buffer every write
// in memory until flushed. Buffered streams add fixed-size chunking with
// read-ahead and write-behind on a bounded worker pool.
package stream

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hubfs/hubfs/internal/metrics"
	"github.com/hubfs/hubfs/pkg/errors"
)

// Seek whence values, mirroring io.Seeker.
const (
	SeekStart   = io.SeekStart
	SeekCurrent = io.SeekCurrent
	SeekEnd     = io.SeekEnd
)

// Mode selects how a stream is opened.
type Mode int

const (
	// ModeRead opens the object for random-access reading.
	ModeRead Mode = iota
	// ModeWrite opens a fresh write buffer; nothing reaches the remote
	// store until Flush.
	ModeWrite
	// ModeAppend downloads the existing object into the write buffer and
	// positions at its end.
	ModeAppend
	// ModeExclusive behaves like ModeWrite but fails if the object
	// already exists.
	ModeExclusive
)

func (m Mode) writable() bool { return m != ModeRead }

// RangeReader reads the byte range [start, end) of a remote object.
// end <= 0 reads to the end of the object. A short result signals the
// end of the object and is not an error.
type RangeReader interface {
	ReadRange(ctx context.Context, start, end int64) ([]byte, error)
}

// Flusher uploads the accumulated write buffer to the remote store.
// Providers implement the actual transfer; the raw stream never calls it
// implicitly on write.
type Flusher interface {
	Flush(ctx context.Context, data []byte) error
}

// Sizer reports the remote object size in bytes.
type Sizer interface {
	Size(ctx context.Context) (int64, error)
}

// Stater reports whether the remote object exists.
type Stater interface {
	Exists(ctx context.Context) (bool, error)
}

// RawConfig configures a raw stream.
type RawConfig struct {
	Mode     Mode
	Seekable bool

	Reader  RangeReader
	Flusher Flusher
	Sizer   Sizer
	Stater  Stater

	Metrics *metrics.Collector
}

// Raw is a stream with one capability set: read or write, not both.
// Position bookkeeping is guarded by one mutex per stream; the transfers
// themselves run in the caller's goroutine.
type Raw struct {
	mu  sync.Mutex
	pos int64

	readable bool
	writable bool
	seekable bool
	closed   bool

	reader  RangeReader
	flusher Flusher
	sizer   Sizer

	// Write buffer addressed by absolute position. Supports sparse and
	// out-of-order writes within its current bound.
	buf []byte

	metrics *metrics.Collector
}

// NewRaw opens a raw stream. Append mode eagerly downloads the whole
// existing object; exclusive mode fails with AlreadyExists when the
// object is already there.
func NewRaw(ctx context.Context, cfg RawConfig) (*Raw, error) {
	r := &Raw{
		readable: cfg.Mode == ModeRead,
		writable: cfg.Mode.writable(),
		seekable: cfg.Seekable,
		reader:   cfg.Reader,
		flusher:  cfg.Flusher,
		sizer:    cfg.Sizer,
		metrics:  cfg.Metrics,
	}

	switch cfg.Mode {
	case ModeExclusive:
		if cfg.Stater == nil {
			break
		}
		exists, err := cfg.Stater.Exists(ctx)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, errors.NewAlreadyExists("")
		}

	case ModeAppend:
		exists := false
		if cfg.Stater != nil {
			var err error
			exists, err = cfg.Stater.Exists(ctx)
			if err != nil {
				return nil, err
			}
		}
		if exists {
			data, err := cfg.Reader.ReadRange(ctx, 0, 0)
			if err != nil {
				return nil, err
			}
			r.buf = data
			r.pos = int64(len(data))
		}
	}

	return r, nil
}

// Tell returns the current byte position.
func (r *Raw) Tell() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

// Seek changes the stream position. On a writable stream, seeking past
// the buffer end zero-fills the gap so later flushes see a contiguous
// object.
func (r *Raw) Seek(offset int64, whence int) (int64, error) {
	if !r.seekable {
		return 0, errors.NewUnsupported("seek")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var base int64
	switch whence {
	case SeekStart:
		base = 0
	case SeekCurrent:
		base = r.pos
	case SeekEnd:
		if r.writable {
			base = int64(len(r.buf))
		} else {
			size, err := r.sizer.Size(context.Background())
			if err != nil {
				return 0, err
			}
			base = size
		}
	default:
		return 0, errors.NewUnsupported("seek whence")
	}

	target := base + offset
	if target < 0 {
		return 0, fmt.Errorf("seek to negative position %d", target)
	}

	r.pos = target
	if r.writable && r.pos > int64(len(r.buf)) {
		r.buf = append(r.buf, make([]byte, r.pos-int64(len(r.buf)))...)
	}
	return r.pos, nil
}

// ReadInto reads into p from the current position, advancing it only by
// the bytes actually received. A short read signals the end of the
// object; a read at the end returns (0, io.EOF).
func (r *Raw) ReadInto(ctx context.Context, p []byte) (int, error) {
	if !r.readable {
		return 0, errors.NewUnsupported("read")
	}
	if len(p) == 0 {
		return 0, nil
	}

	r.mu.Lock()
	start := r.pos
	r.mu.Unlock()

	data, err := r.reader.ReadRange(ctx, start, start+int64(len(p)))
	if err != nil {
		return 0, err
	}

	n := copy(p, data)
	r.mu.Lock()
	r.pos = start + int64(n)
	r.mu.Unlock()
	r.metrics.RecordBytesRead(n)

	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// ReadAll reads from the current position to the end of the object.
func (r *Raw) ReadAll(ctx context.Context) ([]byte, error) {
	if !r.readable {
		return nil, errors.NewUnsupported("read")
	}

	r.mu.Lock()
	start := r.pos
	r.mu.Unlock()

	data, err := r.reader.ReadRange(ctx, start, 0)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.pos = start + int64(len(data))
	r.mu.Unlock()
	r.metrics.RecordBytesRead(len(data))
	return data, nil
}

// Peek reads up to size bytes at the current position without advancing
// it.
func (r *Raw) Peek(ctx context.Context, size int) ([]byte, error) {
	if !r.readable {
		return nil, errors.NewUnsupported("read")
	}

	r.mu.Lock()
	start := r.pos
	r.mu.Unlock()

	return r.reader.ReadRange(ctx, start, start+int64(size))
}

// Write stores p in the in-memory buffer at the current position and
// advances it. Overlapping and out-of-order writes are resolved
// last-writer-wins. Nothing reaches the remote store until Flush.
func (r *Raw) Write(p []byte) (int, error) {
	if !r.writable {
		return 0, errors.NewUnsupported("write")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.pos
	end := start + int64(len(p))
	if end > int64(len(r.buf)) {
		r.buf = append(r.buf, make([]byte, end-int64(len(r.buf)))...)
	}
	copy(r.buf[start:end], p)
	r.pos = end
	r.metrics.RecordBytesWritten(len(p))
	return len(p), nil
}

// Buffer returns the current write buffer contents.
func (r *Raw) Buffer() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf
}

// Flush hands the accumulated write buffer to the provider's flusher.
func (r *Raw) Flush(ctx context.Context) error {
	if !r.writable {
		return errors.NewUnsupported("flush")
	}

	r.mu.Lock()
	data := r.buf
	r.mu.Unlock()

	return r.flusher.Flush(ctx, data)
}

// Close flushes a dirty writable stream and marks it closed. Closing a
// read stream is a no-op.
func (r *Raw) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed || !r.writable {
		r.closed = true
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	dirty := len(r.buf) > 0
	r.mu.Unlock()

	if dirty {
		return r.Flush(ctx)
	}
	return nil
}
