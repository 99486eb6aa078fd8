// Package version holds build metadata, set with -ldflags at release time:
//
//	go build -ldflags "-X github.com/jackzampolin/scriptcast/version.GitRelease=v0.3.0 \
//	  -X github.com/jackzampolin/scriptcast/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
)

var (
	// GitRelease is the release tag.
	GitRelease = "dev"
	// GitCommit is the short commit hash.
	GitCommit = "unknown"
	// GitCommitDate is the commit date.
	GitCommitDate = "unknown"
	// GoInfo describes the toolchain and platform.
	GoInfo = fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
)
