package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ScratchSpace hands out private working directories for a processing run.
type ScratchSpace interface {
	Acquire(name string) (*Scratch, error)
	// Fs is the filesystem scratch directories and ingested files live on.
	Fs() afero.Fs
}

// Scratch is one acquired working directory. Release removes it and is safe
// to call more than once.
type Scratch struct {
	fs     afero.Fs
	dir    string
	once   sync.Once
	err    error
	logger *logrus.Logger
}

// Dir returns the directory path.
func (s *Scratch) Dir() string {
	return s.dir
}

// Path joins name onto the scratch directory.
func (s *Scratch) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Create opens a new file inside the scratch directory.
func (s *Scratch) Create(name string) (afero.File, error) {
	return s.fs.Create(s.Path(name))
}

// Release removes the directory and everything in it.
func (s *Scratch) Release() error {
	s.once.Do(func() {
		s.err = s.fs.RemoveAll(s.dir)
		if s.err != nil {
			s.logger.WithFields(logrus.Fields{
				"dir":   s.dir,
				"error": s.err.Error(),
			}).Warn("Failed to remove scratch directory")
		}
	})
	return s.err
}

// ScratchDir allocates scratch directories under a root on an afero filesystem.
type ScratchDir struct {
	fs     afero.Fs
	root   string
	logger *logrus.Logger
}

// NewScratchDir creates a scratch allocator. An empty root uses the OS temp dir.
func NewScratchDir(fs afero.Fs, root string, logger *logrus.Logger) *ScratchDir {
	if root == "" {
		root = filepath.Join(os.TempDir(), "tcga-pipeline")
	}
	return &ScratchDir{fs: fs, root: root, logger: logger}
}

// Fs implements ScratchSpace.
func (d *ScratchDir) Fs() afero.Fs {
	return d.fs
}

// Acquire creates a fresh directory named after name.
func (d *ScratchDir) Acquire(name string) (*Scratch, error) {
	dir := filepath.Join(d.root, fmt.Sprintf("%s-%s", filepath.Base(name), uuid.NewString()[:8]))
	if err := d.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch directory: %w", err)
	}
	return &Scratch{fs: d.fs, dir: dir, logger: d.logger}, nil
}

// Cleanup removes scratch entries last modified before cutoff. Entries that
// fail to delete are logged and skipped.
func (d *ScratchDir) Cleanup(cutoff time.Time) (int, error) {
	entries, err := afero.ReadDir(d.fs, d.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("listing scratch root: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(d.root, entry.Name())
		if err := d.fs.RemoveAll(path); err != nil {
			d.logger.WithFields(logrus.Fields{
				"path":  path,
				"error": err.Error(),
			}).Warn("Failed to remove expired scratch entry")
			continue
		}
		removed++
	}
	return removed, nil
}
