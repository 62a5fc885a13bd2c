// Package version exposes build metadata injected at link time.
package version

import "fmt"

// Set via -ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info is the JSON-friendly version report.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// GetInfo returns the build metadata.
func GetInfo() Info {
	return Info{Version: Version, Commit: Commit, Date: Date}
}

// Short returns just the version number.
func Short() string {
	return Version
}

// String returns the full human-readable version line.
func String() string {
	return fmt.Sprintf("thoth %s (commit %s, built %s)", Version, Commit, Date)
}
