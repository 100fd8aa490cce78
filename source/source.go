// Package source provides the seekable byte streams images are read from.
package source

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/mixcode/imagecore/errs"
	"github.com/mixcode/imagecore/shared"
)

// Stream is an open source. ReadAt does not move the Seek position, so a
// shared Stream can serve several readers through SectionReaders.
type Stream interface {
	io.ReadSeeker
	io.ReaderAt
	io.Closer
}

// Source opens streams over one image's bytes.
type Source interface {
	// Name is a file name or path; its extension selects parsers.
	Name() string
	Open() (Stream, error)
	Length() (int64, error)
}

type fileSource struct {
	path string
}

// File is a Source over a file on disk.
func File(path string) Source { return fileSource{path} }

func (s fileSource) Name() string { return s.path }

func (s fileSource) Open() (Stream, error) {
	return os.Open(s.path)
}

func (s fileSource) Length() (int64, error) {
	fi, err := os.Stat(s.path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

type bytesSource struct {
	name string
	data []byte
}

// Bytes is a Source over memory.
func Bytes(name string, data []byte) Source { return bytesSource{name, data} }

func (s bytesSource) Name() string { return s.name }

func (s bytesSource) Open() (Stream, error) {
	return nopCloser{bytes.NewReader(s.data)}, nil
}

func (s bytesSource) Length() (int64, error) { return int64(len(s.data)), nil }

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }

// OpenShared opens s and wraps the stream in a handle that closes it when
// the last owner releases it.
func OpenShared(s Source) (*shared.Handle[Stream], error) {
	st, err := s.Open()
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", s.Name(), err)
	}
	return shared.NewCloser(st), nil
}

// Section returns an independent reader over the whole stream held by h.
// Readers from one handle do not disturb each other's position.
func Section(h *shared.Handle[Stream]) (*io.SectionReader, error) {
	st, err := h.Value()
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	end, err := st.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("source: stream is not seekable: %v: %w", err, errs.ErrMalformed)
	}
	return io.NewSectionReader(st, 0, end), nil
}
