package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
	"github.com/spf13/afero"
)

// FS stores containers as directories of an afero filesystem. An OS
// base-path filesystem gives the on-disk layout, a MemMapFs the volatile
// in-memory one.
type FS struct {
	fs   afero.Fs
	name string
}

var _ Store = (*FS)(nil)

const root = "/"

// NewDisk returns a store rooted at dir, creating it when missing.
func NewDisk(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "create data dir %s", dir)
	}
	return &FS{fs: afero.NewBasePathFs(afero.NewOsFs(), dir), name: "disk:" + dir}, nil
}

// NewMemory returns a store that keeps everything in process memory.
func NewMemory() *FS {
	return &FS{fs: afero.NewMemMapFs(), name: "memory"}
}

// NewFS wraps an arbitrary afero filesystem.
func NewFS(fs afero.Fs) *FS {
	return &FS{fs: fs, name: "afero:" + fs.Name()}
}

func (s *FS) String() string { return s.name }

func (s *FS) CreateContainer(ctx context.Context, code string) (string, error) {
	loc, err := NewLocation(code)
	if err != nil {
		return "", err
	}
	dir := root + loc
	if _, err := s.fs.Stat(dir); err == nil {
		return "", errors.Wrapf(ErrExists, "%s", loc)
	}
	if err := s.fs.Mkdir(dir, 0o750); err != nil {
		if os.IsExist(err) {
			return "", errors.Wrapf(ErrExists, "%s", loc)
		}
		return "", errors.Wrapf(err, "create container %s", loc)
	}
	return loc, nil
}

func (s *FS) WriteItem(ctx context.Context, location, name string, r io.Reader) (int64, error) {
	name, err := checkRef(location, name)
	if err != nil {
		return 0, err
	}
	if _, err := s.fs.Stat(root + location); err != nil {
		if os.IsNotExist(err) {
			return 0, errors.Wrapf(ErrNotFound, "container %s", location)
		}
		return 0, err
	}

	target := filepath.Join(root, location, name)
	tmp := target + ".part"
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, errors.Wrapf(err, "create %s", tmp)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		s.fs.Remove(tmp)
		return n, errors.Wrapf(err, "write %s", target)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		s.fs.Remove(tmp)
		return n, errors.Wrapf(err, "sync %s", target)
	}
	if err := f.Close(); err != nil {
		s.fs.Remove(tmp)
		return n, errors.Wrapf(err, "close %s", target)
	}
	if err := s.fs.Rename(tmp, target); err != nil {
		s.fs.Remove(tmp)
		return n, errors.Wrapf(err, "rename %s", target)
	}
	return n, nil
}

func (s *FS) ReadItem(ctx context.Context, location, name string) (io.ReadCloser, error) {
	name, err := checkRef(location, name)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(filepath.Join(root, location, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "%s/%s", location, name)
		}
		return nil, errors.Wrapf(err, "open %s/%s", location, name)
	}
	return f, nil
}

func (s *FS) DeleteContainer(ctx context.Context, location string) error {
	if err := checkLocation(location); err != nil {
		return err
	}
	if err := s.fs.RemoveAll(root + location); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove container %s", location)
	}
	return nil
}

func (s *FS) Containers(ctx context.Context) ([]string, error) {
	infos, err := afero.ReadDir(s.fs, root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "list containers")
	}
	var out []string
	for _, fi := range infos {
		if fi.IsDir() && validSegment(fi.Name()) {
			out = append(out, fi.Name())
		}
	}
	return out, nil
}
