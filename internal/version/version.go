// Package version carries the build stamp of the bench binaries. The
// values are set at link time:
//
//	go build -ldflags "-X github.com/banshee-data/scanbench/internal/version.Version=v0.3.0 ..."
package version

import "fmt"

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the stamp for logs and -version output.
func String() string {
	sha := GitSHA
	if len(sha) > 12 {
		sha = sha[:12]
	}
	return fmt.Sprintf("%s (%s, built %s)", Version, sha, BuildTime)
}
