// Package version provides build version information embedding.
//
// Version and git commit are set at compile time via -ldflags:
//
//	go build -ldflags "-X github.com/skillsenselab/tickstream/version.Version=1.0.0"
package version

// ServiceName identifies this service in logs, metrics, and traces.
const ServiceName = "tickstream"

var (
	// These variables are set at build time using -ldflags.
	Version   = "dev"
	GitCommit = ""
	BuildTime = ""
)
