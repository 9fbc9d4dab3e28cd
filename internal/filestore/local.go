package filestore

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/freelance-manager/freelance-api/internal/shared"
)

// Local stores objects below a root directory on disk.
type Local struct {
	root string
}

// NewLocal constructs a disk store rooted at root.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New("filestore: root directory required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute root directory.
func (l *Local) Root() string {
	return l.root
}

// EnsureLayout creates the report folders when missing.
func (l *Local) EnsureLayout() error {
	for _, dir := range Layout {
		full := filepath.Join(l.root, dir)
		if err := os.MkdirAll(full, 0o755); err != nil {
			return shared.NewIOFailure("mkdir", full, false, err)
		}
	}
	return nil
}

func (l *Local) resolve(name string) (string, error) {
	cleaned, err := Clean(name)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(cleaned)), nil
}

// Write copies r into a temp file next to the target and renames it into
// place after fsync.
func (l *Local) Write(ctx context.Context, name string, r io.Reader) (err error) {
	full, err := l.resolve(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return shared.NewIOFailure("mkdir", dir, false, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return shared.NewIOFailure("create", full, false, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = io.Copy(tmp, r); err != nil {
		return shared.NewIOFailure("write", full, false, err)
	}
	if err = tmp.Sync(); err != nil {
		return shared.NewIOFailure("sync", full, false, err)
	}
	if err = tmp.Close(); err != nil {
		return shared.NewIOFailure("close", full, false, err)
	}
	if err = os.Rename(tmp.Name(), full); err != nil {
		return shared.NewIOFailure("rename", full, false, err)
	}
	return nil
}

// Open returns a reader for name.
func (l *Local) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	full, err := l.resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, shared.NewIOFailure("open", full, false, err)
	}
	return f, nil
}

// Exists reports whether name is stored.
func (l *Local) Exists(ctx context.Context, name string) (bool, error) {
	full, err := l.resolve(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, shared.NewIOFailure("stat", full, false, err)
	}
	return !info.IsDir(), nil
}

// Delete removes name. Deleting a missing object is not an error.
func (l *Local) Delete(ctx context.Context, name string) error {
	full, err := l.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return shared.NewIOFailure("remove", full, false, err)
	}
	l.pruneBuildDir(filepath.Dir(full))
	return nil
}

// pruneBuildDir removes an emptied build folder. A folder that still holds
// objects is left alone.
func (l *Local) pruneBuildDir(dir string) {
	if dir == l.root || !strings.HasPrefix(filepath.Base(dir), BuildDirPrefix) {
		return
	}
	_ = os.Remove(dir)
}
