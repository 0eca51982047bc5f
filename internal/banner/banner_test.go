package banner

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	PrintBanner(&buf, StartupInfo{
		Version:  "1.2.3",
		Addr:     ":8080",
		LogLevel: "info",
		Registry: "memory",
		Blob:     "disk:data",
		TTL:      5 * time.Minute,
	})
	out := buf.String()
	assert.Contains(t, out, "v1.2.3")
	assert.Contains(t, out, "http://localhost:8080")
	assert.Contains(t, out, "Share TTL: 5m0s")
	assert.Contains(t, out, "disk:data")
}

func TestFormatAddr(t *testing.T) {
	assert.Equal(t, "localhost:80", formatAddr(":80"))
	assert.Equal(t, "0.0.0.0:80", formatAddr("0.0.0.0:80"))
}
