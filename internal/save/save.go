// Package save writes received files to their destination.
package save

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rudransh-shrivastava/peerdrop/internal/logger"
	"github.com/sirupsen/logrus"
)

const (
	defaultName = "download"
	maxSuffix   = 1000
)

var (
	ErrCancelled = errors.New("save cancelled")
	ErrNoTarget  = errors.New("no writable destination")
)

type Config struct {
	// Dest receives files by streaming into a temporary file that is then
	// renamed into place.
	Dest billy.Filesystem
	// Fallback, if set, receives the whole file in one write when Dest
	// cannot be opened.
	Fallback billy.Filesystem
	Logger   *logrus.Logger
}

type Saver struct {
	dest     billy.Filesystem
	fallback billy.Filesystem
	log      *logrus.Logger
}

func New(cfg Config) *Saver {
	log := cfg.Logger
	if log == nil {
		log = logger.NewLogger()
	}
	return &Saver{dest: cfg.Dest, fallback: cfg.Fallback, log: log}
}

// Persist stores size bytes read from r under name and returns the path it
// used. Existing files are never overwritten; a " (n)" suffix is added
// instead.
func (s *Saver) Persist(ctx context.Context, r io.Reader, size int64, name string) (string, error) {
	name = SanitizeName(name)
	r = &ctxReader{ctx: ctx, r: r}

	if s.dest != nil {
		path, err := s.stream(s.dest, r, size, name)
		if err == nil || s.fallback == nil || !errors.Is(err, errUnavailable) {
			return path, wrapCancel(ctx, err)
		}
		s.log.WithField("file", name).Warnf("Direct save unavailable, falling back: %v", err)
	}

	if s.fallback == nil {
		return "", ErrNoTarget
	}
	path, err := s.materialize(s.fallback, r, size, name)
	return path, wrapCancel(ctx, err)
}

var errUnavailable = errors.New("destination unavailable")

func (s *Saver) stream(fs billy.Filesystem, r io.Reader, size int64, name string) (string, error) {
	tmp, err := util.TempFile(fs, ".", ".partial-")
	if err != nil {
		return "", fmt.Errorf("%w: %v", errUnavailable, err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && n != size {
		err = fmt.Errorf("wrote %d of %d bytes", n, size)
	}
	if err != nil {
		_ = fs.Remove(tmpName)
		return "", err
	}

	path, err := uniqueName(fs, name)
	if err != nil {
		_ = fs.Remove(tmpName)
		return "", err
	}
	if err := fs.Rename(tmpName, path); err != nil {
		_ = fs.Remove(tmpName)
		return "", fmt.Errorf("renaming into place: %w", err)
	}

	s.log.WithFields(logrus.Fields{"file": path, "size": size}).Debug("File saved")
	return fs.Join(fs.Root(), path), nil
}

func (s *Saver) materialize(fs billy.Filesystem, r io.Reader, size int64, name string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("read %d of %d bytes", len(data), size)
	}

	path, err := uniqueName(fs, name)
	if err != nil {
		return "", err
	}
	if err := util.WriteFile(fs, path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %q: %w", path, err)
	}

	s.log.WithFields(logrus.Fields{"file": path, "size": size}).Debug("File saved to fallback")
	return fs.Join(fs.Root(), path), nil
}

// SanitizeName reduces a peer-supplied name to a plain base name.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." || name == ".." || name == "" {
		return defaultName
	}
	return name
}

func uniqueName(fs billy.Filesystem, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := name
	for i := 1; i <= maxSuffix; i++ {
		_, err := fs.Stat(candidate)
		if errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}
		candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
	}
	return "", fmt.Errorf("too many files named %q", name)
}

func wrapCancel(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
	return err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
