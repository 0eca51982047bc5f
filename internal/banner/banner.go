package banner

import (
	"fmt"
	"io"
	"strings"
	"time"
)

const banner = `
              _                
   __ _    __| |  _ __   ___   _ __  
  / _' |  / _' | | '__| / _ \ | '_ \ 
 | (_| | | (_| | | |   | (_) || |_) |
  \__, |  \__,_| |_|    \___/ | .__/ 
     |_|                      |_|    
`

type StartupInfo struct {
	Version  string
	Addr     string
	LogLevel string
	Registry string
	Blob     string
	TTL      time.Duration
}

func PrintBanner(w io.Writer, info StartupInfo) {
	fmt.Fprint(w, banner)
	fmt.Fprintf(w, "                              v%s\n\n", info.Version)

	width := 50
	fmt.Fprintf(w, "  %s\n", strings.Repeat("─", width))
	fmt.Fprintf(w, "  → Address:   http://%s\n", formatAddr(info.Addr))
	fmt.Fprintf(w, "  → Log Level: %s\n", info.LogLevel)
	fmt.Fprintf(w, "  → Registry:  %s\n", info.Registry)
	fmt.Fprintf(w, "  → Storage:   %s\n", info.Blob)
	fmt.Fprintf(w, "  → Share TTL: %s\n", info.TTL)
	fmt.Fprintf(w, "  %s\n", strings.Repeat("─", width))
	fmt.Fprintln(w)
}

func formatAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
