package blobstore

import (
	"context"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/studio-b12/gowebdav"
)

type WebDAVConfig struct {
	URL      string
	User     string
	Password string
	Root     string
	Timeout  time.Duration
}

// WebDAV keeps containers as collections on a remote WebDAV server.
type WebDAV struct {
	client *gowebdav.Client
	root   string
	url    string
}

var _ Store = (*WebDAV)(nil)

func NewWebDAV(ctx context.Context, cfg WebDAVConfig) (*WebDAV, error) {
	c := gowebdav.NewClient(cfg.URL, cfg.User, cfg.Password)
	if cfg.Timeout > 0 {
		c.SetTimeout(cfg.Timeout)
	}
	root := path.Clean("/" + strings.Trim(cfg.Root, "/"))
	s := &WebDAV{client: c, root: root, url: cfg.URL}

	err := withRetry(ctx, func() error {
		if err := c.Connect(); err != nil {
			return err
		}
		return c.MkdirAll(root, 0o750)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "connect webdav %s", cfg.URL)
	}
	return s, nil
}

func (s *WebDAV) String() string { return "webdav:" + s.url }

func (s *WebDAV) dir(location string) string {
	return path.Join(s.root, location)
}

func (s *WebDAV) CreateContainer(ctx context.Context, code string) (string, error) {
	loc, err := NewLocation(code)
	if err != nil {
		return "", err
	}
	if _, err := s.client.Stat(s.dir(loc)); err == nil {
		return "", errors.Wrapf(ErrExists, "%s", loc)
	} else if !gowebdav.IsErrNotFound(err) {
		return "", errors.Wrapf(err, "stat container %s", loc)
	}
	if err := s.client.Mkdir(s.dir(loc), 0o750); err != nil {
		return "", errors.Wrapf(err, "create container %s", loc)
	}
	return loc, nil
}

func (s *WebDAV) WriteItem(ctx context.Context, location, name string, r io.Reader) (int64, error) {
	name, err := checkRef(location, name)
	if err != nil {
		return 0, err
	}
	if _, err := s.client.Stat(s.dir(location)); err != nil {
		if gowebdav.IsErrNotFound(err) {
			return 0, errors.Wrapf(ErrNotFound, "container %s", location)
		}
		return 0, errors.Wrapf(err, "stat container %s", location)
	}
	cr := &countingReader{r: r}
	if err := s.client.WriteStream(path.Join(s.dir(location), name), cr, 0o640); err != nil {
		if gowebdav.IsErrNotFound(err) {
			return cr.n, errors.Wrapf(ErrNotFound, "container %s", location)
		}
		return cr.n, errors.Wrapf(err, "write %s/%s", location, name)
	}
	return cr.n, nil
}

func (s *WebDAV) ReadItem(ctx context.Context, location, name string) (io.ReadCloser, error) {
	name, err := checkRef(location, name)
	if err != nil {
		return nil, err
	}
	rc, err := s.client.ReadStream(path.Join(s.dir(location), name))
	if err != nil {
		if gowebdav.IsErrNotFound(err) || errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(ErrNotFound, "%s/%s", location, name)
		}
		return nil, errors.Wrapf(err, "read %s/%s", location, name)
	}
	return rc, nil
}

func (s *WebDAV) DeleteContainer(ctx context.Context, location string) error {
	if err := checkLocation(location); err != nil {
		return err
	}
	if err := s.client.RemoveAll(s.dir(location)); err != nil && !gowebdav.IsErrNotFound(err) {
		return errors.Wrapf(err, "remove container %s", location)
	}
	return nil
}

func (s *WebDAV) Containers(ctx context.Context) ([]string, error) {
	infos, err := s.client.ReadDir(s.root)
	if err != nil {
		if gowebdav.IsErrNotFound(err) {
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
