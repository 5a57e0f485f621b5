package stream

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/hubfs/hubfs/pkg/errors"
)

// chunkSink records uploaded chunks.
type chunkSink struct {
	mu        sync.Mutex
	chunks    map[int][]byte
	finalized bool
	failAt    int
	failErr   error
}

func newChunkSink() *chunkSink {
	return &chunkSink{chunks: make(map[int][]byte), failAt: -1}
}

func (s *chunkSink) UploadChunk(_ context.Context, index int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index == s.failAt {
		return s.failErr
	}
	s.chunks[index] = append([]byte(nil), data...)
	return nil
}

func (s *chunkSink) Finalize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = true
	return nil
}

func (s *chunkSink) assembled() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for i := 0; i < len(s.chunks); i++ {
		out = append(out, s.chunks[i]...)
	}
	return out
}

// chunkSource serves ranges from a byte slice and counts calls.
type chunkSource struct {
	mu    sync.Mutex
	data  []byte
	calls int
}

func (s *chunkSource) ReadRange(_ context.Context, start, end int64) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if start >= int64(len(s.data)) {
		return nil, nil
	}
	if end <= 0 || end > int64(len(s.data)) {
		end = int64(len(s.data))
	}
	out := make([]byte, end-start)
	copy(out, s.data[start:end])
	return out, nil
}

func pattern(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte('a' + i%26)
	}
	return out
}

func TestBuffered_FlushCountMatchesChunking(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		total     int
		flushes   int
	}{
		{"below one chunk", 100, 40, 1},
		{"exactly one chunk", 100, 100, 1},
		{"one chunk and remainder", 100, 150, 2},
		{"exact multiple", 100, 300, 3},
		{"many small writes", 64, 200, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := newChunkSink()
			b, err := NewBuffered(BufferedConfig{
				Mode: ModeWrite, ChunkSize: tt.chunkSize, Workers: 2, Uploader: sink,
			})
			if err != nil {
				t.Fatal(err)
			}

			data := pattern(tt.total)
			// Feed in uneven slices to exercise buffer boundaries.
			for off := 0; off < len(data); {
				end := off + 17
				if end > len(data) {
					end = len(data)
				}
				if _, err := b.Write(context.Background(), data[off:end]); err != nil {
					t.Fatal(err)
				}
				off = end
			}
			if err := b.Close(context.Background()); err != nil {
				t.Fatal(err)
			}

			if got := b.ChunksFlushed(); got != tt.flushes {
				t.Errorf("flushes = %d, want %d", got, tt.flushes)
			}
			if got := sink.assembled(); string(got) != string(data) {
				t.Errorf("assembled %d bytes, want %d matching input", len(got), len(data))
			}
			if !sink.finalized {
				t.Error("close must finalize the upload")
			}
		})
	}
}

func TestBuffered_FullBufferHeldUntilClose(t *testing.T) {
	sink := newChunkSink()
	b, err := NewBuffered(BufferedConfig{
		Mode: ModeWrite, ChunkSize: 8, Workers: 1, Uploader: sink,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Exactly one chunk's worth: nothing may flush until close.
	if _, err := b.Write(context.Background(), pattern(8)); err != nil {
		t.Fatal(err)
	}
	if got := b.ChunksFlushed(); got != 0 {
		t.Errorf("flushes before close = %d, want 0", got)
	}
	if err := b.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := b.ChunksFlushed(); got != 1 {
		t.Errorf("flushes after close = %d, want 1", got)
	}
}

func TestBuffered_UploadErrorSurfaces(t *testing.T) {
	sink := newChunkSink()
	sink.failAt = 1
	sink.failErr = io.ErrUnexpectedEOF

	b, err := NewBuffered(BufferedConfig{
		Mode: ModeWrite, ChunkSize: 10, Workers: 1, Uploader: sink,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, _ = b.Write(context.Background(), pattern(35))
	if err := b.Close(context.Background()); err != io.ErrUnexpectedEOF {
		t.Fatalf("close err = %v, want %v", err, io.ErrUnexpectedEOF)
	}
	if sink.finalized {
		t.Error("failed upload must not be finalized")
	}
}

func TestBuffered_SequentialReadAcrossChunks(t *testing.T) {
	src := &chunkSource{data: pattern(250)}
	b, err := NewBuffered(BufferedConfig{
		Mode: ModeRead, ChunkSize: 100, Workers: 2, Reader: src,
	})
	if err != nil {
		t.Fatal(err)
	}

	var got []byte
	buf := make([]byte, 37)
	for {
		n, err := b.Read(context.Background(), buf)
		got = append(got, buf[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
	}

	if string(got) != string(src.data) {
		t.Errorf("read %d bytes, want %d matching source", len(got), len(src.data))
	}
}

func TestBuffered_ReadServedFromResidentChunk(t *testing.T) {
	src := &chunkSource{data: pattern(100)}
	b, err := NewBuffered(BufferedConfig{
		Mode: ModeRead, ChunkSize: 100, Workers: 1, Reader: src,
	})
	if err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 10)
	for i := 0; i < 5; i++ {
		if _, err := b.Read(context.Background(), buf); err != nil {
			t.Fatal(err)
		}
	}

	src.mu.Lock()
	calls := src.calls
	src.mu.Unlock()
	if calls != 1 {
		t.Errorf("range calls = %d, want 1 for reads within one chunk", calls)
	}
}

func TestBuffered_SeekThenRead(t *testing.T) {
	src := &chunkSource{data: pattern(300)}
	b, err := NewBuffered(BufferedConfig{
		Mode: ModeRead, ChunkSize: 100, Workers: 1, Reader: src,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := b.Seek(250, SeekStart); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 100)
	n, err := b.Read(context.Background(), buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != string(src.data[250:]) {
		t.Errorf("read %q, want tail of source", buf[:n])
	}
	if _, err := b.Read(context.Background(), buf); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestBuffered_EmptyObjectReadsEOF(t *testing.T) {
	src := &chunkSource{}
	b, err := NewBuffered(BufferedConfig{Mode: ModeRead, ChunkSize: 16, Reader: src})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Read(context.Background(), make([]byte, 8)); err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestBuffered_ModeRestrictions(t *testing.T) {
	src := &chunkSource{data: pattern(10)}
	reader, err := NewBuffered(BufferedConfig{Mode: ModeRead, Reader: src})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reader.Write(context.Background(), []byte("x")); !errors.IsUnsupported(err) {
		t.Errorf("write on read stream: err = %v, want Unsupported", err)
	}

	sink := newChunkSink()
	writer, err := NewBuffered(BufferedConfig{Mode: ModeWrite, Uploader: sink})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := writer.Read(context.Background(), make([]byte, 1)); !errors.IsUnsupported(err) {
		t.Errorf("read on write stream: err = %v, want Unsupported", err)
	}

	if _, err := NewBuffered(BufferedConfig{Mode: ModeAppend, Uploader: sink}); !errors.IsUnsupported(err) {
		t.Errorf("append mode: err = %v, want Unsupported", err)
	}
}

func TestBuffered_DefaultsApplied(t *testing.T) {
	b, err := NewBuffered(BufferedConfig{Mode: ModeRead, Reader: &chunkSource{}})
	if err != nil {
		t.Fatal(err)
	}
	if b.ChunkSize() != DefaultChunkSize {
		t.Errorf("chunk size = %d, want %d", b.ChunkSize(), DefaultChunkSize)
	}

	b, err = NewBuffered(BufferedConfig{Mode: ModeRead, ChunkSize: 0, Reader: &chunkSource{}})
	if err != nil {
		t.Fatal(err)
	}
	if b.ChunkSize() < 1 {
		t.Errorf("chunk size = %d, want >= 1", b.ChunkSize())
	}
}
