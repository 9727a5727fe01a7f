package transfer

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
)

// Source is a file to send.
type Source interface {
	io.Reader
	Name() string
	Size() int64
}

// File is a Source backed by a billy filesystem.
type File struct {
	billy.File
	name string
	size int64
}

// OpenFile opens path on fs for sending. The advertised name is the base
// name; directories never leave the sender.
func OpenFile(fs billy.Filesystem, path string) (*File, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%q is a directory", path)
	}

	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", path, err)
	}

	return &File{
		File: f,
		name: filepath.Base(path),
		size: info.Size(),
	}, nil
}

func (f *File) Name() string { return f.name }

func (f *File) Size() int64 { return f.size }

type readerSource struct {
	io.Reader
	name string
	size int64
}

// NewSource wraps r, which must yield exactly size bytes.
func NewSource(name string, size int64, r io.Reader) Source {
	return &readerSource{Reader: r, name: name, size: size}
}

func (s *readerSource) Name() string { return s.name }

func (s *readerSource) Size() int64 { return s.size }
