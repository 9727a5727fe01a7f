package save

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rudransh-shrivastava/peerdrop/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readOnlyFS struct {
	billy.Filesystem
}

func (readOnlyFS) OpenFile(string, int, os.FileMode) (billy.File, error) {
	return nil, os.ErrPermission
}

func TestPersistStreamsToDest(t *testing.T) {
	dest := memfs.New()
	s := New(Config{Dest: dest, Logger: logger.Discard()})

	path, err := s.Persist(context.Background(), bytes.NewReader([]byte("hello")), 5, "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "/hello.txt", path)

	data, err := util.ReadFile(dest, "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	entries, err := dest.ReadDir(".")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no partial files are left behind")
}

func TestPersistAddsSuffixForExistingNames(t *testing.T) {
	dest := memfs.New()
	require.NoError(t, util.WriteFile(dest, "report.pdf", []byte("old"), 0o644))
	require.NoError(t, util.WriteFile(dest, "report (1).pdf", []byte("older"), 0o644))
	s := New(Config{Dest: dest, Logger: logger.Discard()})

	path, err := s.Persist(context.Background(), bytes.NewReader([]byte("new")), 3, "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "/report (2).pdf", path)

	old, err := util.ReadFile(dest, "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), old)
}

func TestPersistFallsBackWhenDestUnavailable(t *testing.T) {
	fallback := memfs.New()
	s := New(Config{
		Dest:     readOnlyFS{memfs.New()},
		Fallback: fallback,
		Logger:   logger.Discard(),
	})

	path, err := s.Persist(context.Background(), bytes.NewReader([]byte("abc")), 3, "a.bin")
	require.NoError(t, err)
	assert.Equal(t, "/a.bin", path)

	data, err := util.ReadFile(fallback, "a.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
}

func TestPersistWithoutTarget(t *testing.T) {
	s := New(Config{Logger: logger.Discard()})
	_, err := s.Persist(context.Background(), bytes.NewReader(nil), 0, "x")
	assert.ErrorIs(t, err, ErrNoTarget)
}

func TestPersistCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dest := memfs.New()
	s := New(Config{Dest: dest, Logger: logger.Discard()})

	_, err := s.Persist(ctx, bytes.NewReader([]byte("abc")), 3, "a.bin")
	assert.ErrorIs(t, err, ErrCancelled)

	_, err = dest.Stat("a.bin")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestPersistSizeMismatch(t *testing.T) {
	s := New(Config{Dest: memfs.New(), Logger: logger.Discard()})
	_, err := s.Persist(context.Background(), bytes.NewReader([]byte("ab")), 3, "a.bin")
	assert.Error(t, err)
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, expected string
	}{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{`..\..\boot.ini`, "boot.ini"},
		{"/abs/path/file", "file"},
		{"", "download"},
		{"..", "download"},
		{"/", "download"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, SanitizeName(tt.in), "input %q", tt.in)
	}
}
