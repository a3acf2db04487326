// Package buildinfo provides build-time version information.
//
// Variables are set via ldflags during build:
//
//	go build -ldflags "-X github.com/matzehuels/modeldag/pkg/buildinfo.Version=v1.0.0 \
//	    -X github.com/matzehuels/modeldag/pkg/buildinfo.Commit=$(git rev-parse HEAD) \
//	    -X github.com/matzehuels/modeldag/pkg/buildinfo.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	// Version is the semantic version (e.g., "v1.2.3").
	Version = "dev"

	// Commit is the git commit SHA.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// String returns the formatted build information.
func String() string {
	return fmt.Sprintf("version: %s\ncommit: %s\nbuilt: %s\ngo: %s", Version, Commit, Date, runtime.Version())
}

// Template returns the version template string for cobra.
func Template() string {
	return fmt.Sprintf("{{.Name}} version %s\ncommit: %s\nbuilt: %s\n", Version, Commit, Date)
}

// Modules lists the module dependencies compiled into the binary as
// "path version" lines. It is empty when build info is unavailable.
func Modules() []string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	mods := make([]string, 0, len(bi.Deps))
	for _, m := range bi.Deps {
		mods = append(mods, m.Path+" "+m.Version)
	}
	return mods
}
