// Package version exposes build metadata stamped in at link time.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Set via -ldflags "-X github.com/tranor/tranor/pkg/version.Version=v1.2.3".
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GoVersion records the toolchain that produced the binary.
var GoVersion = runtime.Version()

// Human renders the build metadata block shown by the --version flag.
func Human() string {
	var b strings.Builder
	fmt.Fprintf(&b, "tranor %s\n", Version)
	fmt.Fprintf(&b, "  Build time: %s\n", BuildTime)
	fmt.Fprintf(&b, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(&b, "  Go version: %s\n", GoVersion)
	return b.String()
}
