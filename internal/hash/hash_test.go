package hash

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sum(t *testing.T, r io.Reader) string {
	t.Helper()
	f := New()
	_, err := io.Copy(f, r)
	require.NoError(t, err)
	return f.Sum()
}

func TestEmptyInput(t *testing.T) {
	assert.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", New().Sum())
}

func TestStreamingMatchesWhole(t *testing.T) {
	data := bytes.Repeat([]byte("qdrop"), 100_000)

	whole := New()
	_, err := whole.Write(data)
	require.NoError(t, err)
	want := whole.Sum()
	assert.Len(t, want, 64)

	cases := map[string]io.Reader{
		"one byte": iotest.OneByteReader(bytes.NewReader(data)),
		"half":     iotest.HalfReader(bytes.NewReader(data)),
		"tee":      io.TeeReader(bytes.NewReader(data), io.Discard),
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want, sum(t, r))
		})
	}
}

func TestDistinctInputs(t *testing.T) {
	cases := []struct {
		a, b string
		same bool
	}{
		{a: "hello", b: "hello", same: true},
		{a: "hello", b: "hello "},
		{a: "", b: "\x00"},
	}
	for _, tc := range cases {
		a := sum(t, bytes.NewReader([]byte(tc.a)))
		b := sum(t, bytes.NewReader([]byte(tc.b)))
		if tc.same {
			assert.Equal(t, a, b, "%q vs %q", tc.a, tc.b)
		} else {
			assert.NotEqual(t, a, b, "%q vs %q", tc.a, tc.b)
		}
	}
}

func TestSumDoesNotReset(t *testing.T) {
	f := New()
	_, _ = f.Write([]byte("some"))
	first := f.Sum()
	_, _ = f.Write([]byte("thing"))
	assert.NotEqual(t, first, f.Sum())
	assert.Equal(t, sum(t, bytes.NewReader([]byte("something"))), f.Sum())
}
