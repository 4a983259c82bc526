// Package source fetches raw cohort files from where they are published.
package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/tcga-expression-pipeline/internal/domain"
)

// Local serves files below a root directory of an afero filesystem.
type Local struct {
	fs     afero.Fs
	rooted bool
}

// NewLocal serves keys relative to dir. An empty dir serves keys as given.
func NewLocal(fs afero.Fs, dir string) *Local {
	if dir == "" {
		return &Local{fs: fs}
	}
	return &Local{fs: afero.NewBasePathFs(fs, dir), rooted: true}
}

func (l *Local) clean(key string) string {
	key = strings.TrimPrefix(key, "file://")
	if l.rooted {
		return filepath.Clean("/" + key)
	}
	return filepath.Clean(key)
}

// Fetch copies the file at key into w.
func (l *Local) Fetch(ctx context.Context, key string, w io.Writer) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f, err := l.fs.Open(l.clean(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("file %s: %w", key, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("opening %s: %w", key, err)
	}
	defer f.Close()

	n, err := io.Copy(w, f)
	if err != nil {
		return n, fmt.Errorf("reading %s: %w", key, err)
	}
	return n, nil
}

// Size returns the byte length of the file at key.
func (l *Local) Size(_ context.Context, key string) (int64, error) {
	info, err := l.fs.Stat(l.clean(key))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("file %s: %w", key, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("stat %s: %w", key, err)
	}
	return info.Size(), nil
}

// Upload writes r to key, creating parent directories.
func (l *Local) Upload(_ context.Context, key string, r io.Reader, _ int64) error {
	path := l.clean(key)
	if err := l.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", key, err)
	}
	return afero.WriteReader(l.fs, path, r)
}
