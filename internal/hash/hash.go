package hash

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Fingerprinter accumulates a BLAKE3 digest over a byte stream. It is an
// io.Writer so uploads can be hashed with io.TeeReader while they are
// written to storage, without buffering the content.
type Fingerprinter struct {
	h *blake3.Hasher
}

func New() *Fingerprinter {
	return &Fingerprinter{h: blake3.New()}
}

func (f *Fingerprinter) Write(p []byte) (int, error) {
	return f.h.Write(p)
}

// Sum returns the hex encoded digest of everything written so far.
func (f *Fingerprinter) Sum() string {
	return hex.EncodeToString(f.h.Sum(nil))
}
