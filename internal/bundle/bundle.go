// Package bundle packs the items of a multi-file share into one zip
// archive, streaming each item straight from its reader.
package bundle

import (
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/klauspost/compress/zip"
)

var ErrEmpty = errors.New("bundle has no items")

type Source struct {
	Name     string
	Modified time.Time
	Body     io.Reader
}

// Write streams sources into w as a zip archive in the given order.
// Repeated names get a " (n)" suffix before the extension.
func Write(w io.Writer, sources []Source) error {
	if len(sources) == 0 {
		return ErrEmpty
	}

	zw := zip.NewWriter(w)
	names := NewNamer()
	for _, src := range sources {
		hdr := &zip.FileHeader{
			Name:     names.Unique(src.Name),
			Method:   zip.Deflate,
			Modified: src.Modified,
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return errors.Wrapf(err, "add %s", hdr.Name)
		}
		if _, err := io.Copy(fw, src.Body); err != nil {
			return errors.Wrapf(err, "copy %s", hdr.Name)
		}
	}
	return errors.Wrap(zw.Close(), "finish archive")
}

// Namer hands out archive entry names, never the same one twice.
type Namer struct {
	used map[string]struct{}
}

func NewNamer() *Namer {
	return &Namer{used: make(map[string]struct{})}
}

func (n *Namer) Unique(name string) string {
	if _, ok := n.used[name]; !ok {
		n.used[name] = struct{}{}
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, i, ext)
		if _, ok := n.used[candidate]; !ok {
			n.used[candidate] = struct{}{}
			return candidate
		}
	}
}

// Name is the download name of the archive for a share code.
func Name(code string) string {
	return code + ".zip"
}
