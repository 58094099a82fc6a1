package version

import (
	"fmt"
	"runtime"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/aspect-build/kycattest/internal/version.Version=0.1.0
//	  -X github.com/aspect-build/kycattest/internal/version.GitCommit=abc1234"
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// String formats the version line printed by --version.
func String(binaryName string) string {
	return fmt.Sprintf("%s %s (commit=%s, go=%s, %s/%s)",
		binaryName, Version, GitCommit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Fields returns the build information as a flat map for JSON output.
func Fields() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  GitCommit,
		"go":      runtime.Version(),
	}
}
