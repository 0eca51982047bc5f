package bundle

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	name string
	body string
}

func readArchive(t *testing.T, data []byte) []entry {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	var out []entry
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		assert.Equal(t, uint64(len(b)), f.UncompressedSize64)
		out = append(out, entry{name: f.Name, body: string(b)})
	}
	return out
}

func TestWriteRoundTrip(t *testing.T) {
	big := strings.Repeat("qdrop ", 100_000)
	sources := []Source{
		{Name: "b.txt", Body: strings.NewReader("second")},
		{Name: "a.txt", Body: strings.NewReader("first")},
		{Name: "empty.bin", Body: strings.NewReader("")},
		{Name: "big.txt", Body: strings.NewReader(big), Modified: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sources))

	got := readArchive(t, buf.Bytes())
	assert.Equal(t, []entry{
		{"b.txt", "second"},
		{"a.txt", "first"},
		{"empty.bin", ""},
		{"big.txt", big},
	}, got)
}

func TestWriteEmpty(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, Write(&buf, nil), ErrEmpty)
	assert.Zero(t, buf.Len())
}

func TestWriteDuplicateNames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []Source{
		{Name: "a.txt", Body: strings.NewReader("1")},
		{Name: "a.txt", Body: strings.NewReader("2")},
		{Name: "a (1).txt", Body: strings.NewReader("3")},
		{Name: "README", Body: strings.NewReader("4")},
		{Name: "README", Body: strings.NewReader("5")},
	}))

	var names []string
	for _, e := range readArchive(t, buf.Bytes()) {
		names = append(names, e.name)
	}
	assert.Equal(t, []string{"a.txt", "a (1).txt", "a (1) (1).txt", "README", "README (1)"}, names)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestWriteSourceError(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, []Source{
		{Name: "ok", Body: strings.NewReader("ok")},
		{Name: "broken", Body: failingReader{}},
	})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestName(t *testing.T) {
	assert.Equal(t, "abc.zip", Name("abc"))
}
