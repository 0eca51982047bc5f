package version

import (
	"fmt"
	"runtime"
)

// Set at build time with -ldflags "-X".
var (
	Version   = "development"
	CommitSHA = "unknown"
)

type Info struct {
	Version   string
	CommitSHA string
	GoVersion string
	OS        string
	Arch      string
}

func Get() Info {
	return Info{
		Version:   Version,
		CommitSHA: CommitSHA,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

func (i Info) String() string {
	return fmt.Sprintf("qdrop %s (%s)\n- os/type: %s\n- os/arch: %s\n- go/version: %s\n",
		i.Version, i.CommitSHA, i.OS, i.Arch, i.GoVersion)
}
