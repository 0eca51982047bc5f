// Package blobstore keeps the raw bytes of shares. Every share owns one
// container; items are written into it by name and the whole container is
// removed at once when the share expires.
package blobstore

import (
	"context"
	"io"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("blob not found")
	ErrExists          = errors.New("container already exists")
	ErrInvalidName     = errors.New("invalid item name")
	ErrInvalidLocation = errors.New("invalid storage location")
)

// MaxNameLength caps sanitized item names in bytes.
const MaxNameLength = 200

type Store interface {
	// CreateContainer allocates a fresh container for code and returns its
	// location. Locations are never reused.
	CreateContainer(ctx context.Context, code string) (string, error)
	// WriteItem stores r under name inside the container and returns the
	// number of bytes written. Writing to an existing name replaces it.
	WriteItem(ctx context.Context, location, name string, r io.Reader) (int64, error)
	// ReadItem opens a stored item. It returns ErrNotFound if the item or
	// its container is gone.
	ReadItem(ctx context.Context, location, name string) (io.ReadCloser, error)
	// DeleteContainer removes the container and everything in it. Missing
	// containers are not an error.
	DeleteContainer(ctx context.Context, location string) error
	// Containers lists every container location currently present.
	Containers(ctx context.Context) ([]string, error)
	String() string
}

// NewLocation derives a container location for code. The random suffix
// keeps a location unique even when a code is reused after expiry.
func NewLocation(code string) (string, error) {
	if !validSegment(code) {
		return "", errors.Wrapf(ErrInvalidLocation, "code %q", code)
	}
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return code + "-" + id[:12], nil
}

// CodeOf returns the share code a location was created for.
func CodeOf(location string) string {
	if i := strings.LastIndexByte(location, '-'); i > 0 {
		return location[:i]
	}
	return location
}

// SanitizeName reduces a caller supplied file name to a single safe path
// segment. It returns ErrInvalidName when nothing usable is left.
func SanitizeName(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(path.Clean("/" + name))
	if name == "/" {
		return "", errors.Wrap(ErrInvalidName, "empty name")
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r == utf8.RuneError, unicode.IsControl(r):
			continue
		case r == '/', r == ':', r == '*', r == '?', r == '"', r == '<', r == '>', r == '|':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	out = strings.TrimLeft(out, ".")
	if len(out) > MaxNameLength {
		out = truncate(out, MaxNameLength)
	}
	if out == "" {
		return "", errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return out, nil
}

func truncate(s string, n int) string {
	ext := path.Ext(s)
	if len(ext) >= n/2 {
		ext = ""
	}
	s = strings.TrimSuffix(s, ext)
	for len(s)+len(ext) > n {
		_, size := utf8.DecodeLastRuneInString(s)
		s = s[:len(s)-size]
	}
	return s + ext
}

func validSegment(s string) bool {
	if s == "" || s == "." || s == ".." || len(s) > 128 {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

func checkLocation(location string) error {
	if !validSegment(location) {
		return errors.Wrapf(ErrInvalidLocation, "%q", location)
	}
	return nil
}

func checkRef(location, name string) (string, error) {
	if err := checkLocation(location); err != nil {
		return "", err
	}
	clean, err := SanitizeName(name)
	if err != nil {
		return "", err
	}
	if clean != name {
		return "", errors.Wrapf(ErrInvalidName, "%q is not a stored name", name)
	}
	return clean, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
