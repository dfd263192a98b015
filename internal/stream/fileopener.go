package stream

import (
	"context"
	"io"

	"github.com/javi11/streamfile/internal/diskcache"
	"github.com/javi11/streamfile/internal/metrics"
)

// FileOpener opens a Stream for a URL and hands back a ready-to-use
// io.ReadSeekCloser. Grounded on the teacher's FileOpener interface
// (internal/fuse/vfs/file.go), narrowed from afero.File to the
// io.ReadSeekCloser subset a remote HTTP stream can actually support.
type FileOpener interface {
	Open(ctx context.Context, url string) (io.ReadSeekCloser, error)
}

// Opener is the default FileOpener: it builds a Stream per Open call
// using the supplied BackendFactory and Options template.
type Opener struct {
	Backend     BackendFactory
	ChunkSize   int64
	CacheSize   int64
	Progressive bool
	ReadAhead   bool
	SpillCache  *diskcache.Store
	Metrics     *metrics.Collectors
}

// Open constructs and loads a Stream for url, then wraps it as a File.
func (o Opener) Open(ctx context.Context, url string) (io.ReadSeekCloser, error) {
	st, err := New(Options{
		URL:         url,
		ChunkSize:   o.ChunkSize,
		CacheSize:   o.CacheSize,
		Progressive: o.Progressive,
		ReadAhead:   o.ReadAhead,
		Backend:     o.Backend,
		SpillCache:  o.SpillCache,
		Metrics:     o.Metrics,
	})
	if err != nil {
		return nil, err
	}
	if err := st.Load(ctx); err != nil {
		return nil, err
	}
	return &File{stream: st, ctx: ctx}, nil
}

// File adapts a Stream to io.ReadSeekCloser for consumers (an HTTP
// response writer, an io.Copy destination) that want ordinary file
// semantics instead of the explicit buffer/read_sync split.
type File struct {
	stream *Stream
	ctx    context.Context
}

// Stream returns the underlying Stream for callers that want the richer
// buffer/seek/ranges API.
func (f *File) Stream() *Stream { return f.stream }

func (f *File) Read(p []byte) (int, error) {
	n, err := f.stream.Read(f.ctx, int64(len(p)))
	if len(n) == 0 && err == nil {
		return 0, io.EOF
	}
	copy(p, n)
	if err != nil {
		return len(n), err
	}
	if int64(len(n)) < int64(len(p)) && f.stream.Eof() {
		return len(n), io.EOF
	}
	return len(n), nil
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = f.stream.Offset() + offset
	case io.SeekEnd:
		length := f.stream.Length()
		if length < 0 {
			return 0, newErr(InvalidInput, "seek relative to end on a stream of unknown length", nil)
		}
		target = length + offset
	default:
		return 0, newErr(InvalidInput, "invalid whence", nil)
	}
	if err := f.stream.Seek(f.ctx, target); err != nil {
		return 0, err
	}
	return target, nil
}

func (f *File) Close() error {
	return f.stream.Close()
}
