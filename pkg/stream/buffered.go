package stream

import (
	"context"
	"io"
	"sync"

	"github.com/hubfs/hubfs/internal/metrics"
	"github.com/hubfs/hubfs/pkg/errors"
)

// DefaultChunkSize is the buffered stream chunk size when none is
// configured (8 MiB).
const DefaultChunkSize = 8388608

// ChunkUploader receives fixed-size chunks of a buffered upload in
// index order and commits the object once the last chunk has landed.
type ChunkUploader interface {
	UploadChunk(ctx context.Context, index int, data []byte) error
	Finalize(ctx context.Context) error
}

// BufferedConfig configures a buffered stream.
type BufferedConfig struct {
	Mode      Mode
	ChunkSize int
	Workers   int

	Reader   RangeReader
	Uploader ChunkUploader
	Sizer    Sizer

	Metrics *metrics.Collector
}

// Buffered is a chunked stream over a remote object.
//
// On the write side, bytes accumulate in a fixed-size buffer; a full
// buffer is handed to the worker pool only when more bytes are pending,
// so the final, possibly partial chunk is flushed at close. On the read
// side, one chunk is held in memory and the next one is prefetched in
// the background, so sequential reads cost at most one synchronous
// fetch per chunk.
type Buffered struct {
	mu sync.Mutex

	readable  bool
	writable  bool
	chunkSize int
	workers   int
	closed    bool

	reader   RangeReader
	uploader ChunkUploader

	// Write state.
	buf     []byte
	bufLen  int
	flushed int
	pending sync.WaitGroup
	pool    *workerPool

	// First transfer error wins; later writes and the close report it.
	// Guarded by its own mutex: workers record errors while the stream
	// mutex may be held by a blocked submit.
	errMu sync.Mutex
	err   error

	// Read state.
	pos        int64
	chunk      []byte
	chunkStart int64
	chunkOK    bool
	eof        bool

	prefetchMu    sync.Mutex
	prefetchStart int64
	prefetchData  []byte
	prefetchErr   error
	prefetchDone  chan struct{}

	metrics *metrics.Collector
}

// NewBuffered opens a buffered stream. ChunkSize below one and Workers
// below one fall back to their defaults.
func NewBuffered(cfg BufferedConfig) (*Buffered, error) {
	chunkSize := cfg.ChunkSize
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = DefaultMaxWorkers
	}

	b := &Buffered{
		readable:  cfg.Mode == ModeRead,
		writable:  cfg.Mode.writable(),
		chunkSize: chunkSize,
		workers:   workers,
		reader:    cfg.Reader,
		uploader:  cfg.Uploader,
		metrics:   cfg.Metrics,
	}
	if cfg.Mode == ModeAppend || cfg.Mode == ModeExclusive {
		return nil, errors.NewUnsupported("buffered append")
	}
	return b, nil
}

// ChunkSize returns the configured chunk size in bytes.
func (b *Buffered) ChunkSize() int { return b.chunkSize }

// ChunksFlushed returns how many chunks have been handed to the
// uploader so far.
func (b *Buffered) ChunksFlushed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushed
}

func (b *Buffered) setErr(err error) {
	b.errMu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.errMu.Unlock()
}

func (b *Buffered) getErr() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.err
}

// Write appends p to the chunk buffer, scheduling an upload each time
// the buffer fills while more bytes remain. A buffer that becomes
// exactly full with nothing left to write stays resident until Close.
func (b *Buffered) Write(ctx context.Context, p []byte) (int, error) {
	if !b.writable {
		return 0, errors.NewUnsupported("write")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.getErr(); err != nil {
		return 0, err
	}
	if b.buf == nil {
		b.buf = defaultBytePool.get(b.chunkSize)
	}

	written := 0
	for len(p) > 0 {
		n := copy(b.buf[b.bufLen:], p)
		b.bufLen += n
		p = p[n:]
		written += n

		if b.bufLen == b.chunkSize && len(p) > 0 {
			b.flushLocked(ctx)
			if err := b.getErr(); err != nil {
				return written, err
			}
		}
	}

	b.metrics.RecordBytesWritten(written)
	return written, nil
}

// flushLocked hands the current buffer to the worker pool and replaces
// it. Callers hold b.mu.
func (b *Buffered) flushLocked(ctx context.Context) {
	if b.bufLen == 0 {
		return
	}
	if b.pool == nil {
		b.pool = newWorkerPool(b.workers)
	}

	index := b.flushed
	data := b.buf[:b.bufLen]
	b.flushed++
	b.buf = defaultBytePool.get(b.chunkSize)
	b.bufLen = 0
	b.metrics.RecordChunkFlush()

	b.pending.Add(1)
	b.pool.submit(func() {
		defer b.pending.Done()
		if err := b.uploader.UploadChunk(ctx, index, data); err != nil {
			b.setErr(err)
		}
		defaultBytePool.put(data[:cap(data)])
	})
}

// Flush uploads the buffered partial chunk, if any, and waits for every
// in-flight chunk to land.
func (b *Buffered) Flush(ctx context.Context) error {
	if !b.writable {
		return errors.NewUnsupported("flush")
	}

	b.mu.Lock()
	b.flushLocked(ctx)
	b.mu.Unlock()

	b.pending.Wait()
	return b.getErr()
}

// Read copies bytes at the current position into p, serving from the
// resident chunk when possible. At most one chunk is fetched
// synchronously per call; the following chunk is prefetched in the
// background. Returns io.EOF at the end of the object.
func (b *Buffered) Read(ctx context.Context, p []byte) (int, error) {
	if !b.readable {
		return 0, errors.NewUnsupported("read")
	}
	if len(p) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for total < len(p) {
		if !b.chunkOK || b.pos < b.chunkStart || b.pos >= b.chunkStart+int64(len(b.chunk)) {
			if b.eof && b.chunkOK && b.pos >= b.chunkStart+int64(len(b.chunk)) {
				break
			}
			if total > 0 {
				// One synchronous fetch per call.
				break
			}
			if err := b.loadChunkLocked(ctx, b.alignDown(b.pos)); err != nil {
				return total, err
			}
			if len(b.chunk) == 0 {
				b.eof = true
				break
			}
		}

		if b.pos >= b.chunkStart+int64(len(b.chunk)) {
			// Position past the end of a short final chunk.
			b.eof = true
			break
		}

		off := int(b.pos - b.chunkStart)
		n := copy(p[total:], b.chunk[off:])
		b.pos += int64(n)
		total += n

		if off+n == len(b.chunk) {
			if len(b.chunk) < b.chunkSize {
				b.eof = true
				break
			}
			b.startPrefetchLocked(b.chunkStart + int64(b.chunkSize))
		}
	}

	b.metrics.RecordBytesRead(total)
	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}

func (b *Buffered) alignDown(pos int64) int64 {
	return pos - pos%int64(b.chunkSize)
}

// loadChunkLocked makes the chunk starting at start resident, consuming
// the prefetched chunk when it matches. Callers hold b.mu.
func (b *Buffered) loadChunkLocked(ctx context.Context, start int64) error {
	b.prefetchMu.Lock()
	done := b.prefetchDone
	matches := done != nil && b.prefetchStart == start
	b.prefetchMu.Unlock()

	if matches {
		<-done
		b.prefetchMu.Lock()
		data, err := b.prefetchData, b.prefetchErr
		b.prefetchDone = nil
		b.prefetchData = nil
		b.prefetchMu.Unlock()
		if err != nil {
			return err
		}
		b.chunk = data
		b.chunkStart = start
		b.chunkOK = true
		return nil
	}

	data, err := b.reader.ReadRange(ctx, start, start+int64(b.chunkSize))
	if err != nil {
		return err
	}
	b.chunk = data
	b.chunkStart = start
	b.chunkOK = true
	return nil
}

// startPrefetchLocked fetches the chunk at start in the background.
// Callers hold b.mu.
func (b *Buffered) startPrefetchLocked(start int64) {
	b.prefetchMu.Lock()
	defer b.prefetchMu.Unlock()
	if b.prefetchDone != nil && b.prefetchStart == start {
		return
	}

	done := make(chan struct{})
	b.prefetchStart = start
	b.prefetchDone = done
	b.prefetchData = nil
	b.prefetchErr = nil

	go func() {
		data, err := b.reader.ReadRange(context.Background(), start, start+int64(b.chunkSize))
		b.prefetchMu.Lock()
		if b.prefetchDone == done {
			b.prefetchData = data
			b.prefetchErr = err
		}
		b.prefetchMu.Unlock()
		close(done)
	}()
}

// Seek repositions a readable stream. The resident chunk is kept; a
// pending prefetch that no longer matches is discarded lazily.
func (b *Buffered) Seek(offset int64, whence int) (int64, error) {
	if !b.readable {
		return 0, errors.NewUnsupported("seek")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var base int64
	switch whence {
	case SeekStart:
		base = 0
	case SeekCurrent:
		base = b.pos
	default:
		return 0, errors.NewUnsupported("seek whence")
	}

	b.pos = base + offset
	b.eof = false
	return b.pos, nil
}

// Tell returns the current read position.
func (b *Buffered) Tell() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pos
}

// Close flushes the final, possibly partial chunk, waits for the pool
// to drain, finalizes the upload, and tears the pool down. On a read
// stream it only discards state. Close is idempotent.
func (b *Buffered) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if !b.writable {
		return nil
	}

	b.mu.Lock()
	b.flushLocked(ctx)
	b.mu.Unlock()

	b.pending.Wait()
	if b.pool != nil {
		b.pool.close()
	}

	if err := b.getErr(); err != nil {
		return err
	}
	return b.uploader.Finalize(ctx)
}
