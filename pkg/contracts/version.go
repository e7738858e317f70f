package contracts

import (
	"fmt"
	"runtime"
)

const (
	// Version is the current version of the license API
	Version = "1.1.0"

	VersionMajor = 1
	VersionMinor = 1
	VersionPatch = 0

	// APIVersion is the route prefix served alongside the unversioned paths
	APIVersion = "v1"

	// ServiceName identifies the service in telemetry and outbound User-Agent headers
	ServiceName = "hedgeedge-license-api"

	// UserAgentProduct is the product token sent to the billing authority
	UserAgentProduct = "HedgeEdge-API"
)

var (
	// BuildTime is set during build using ldflags
	BuildTime = "unknown"

	// GitCommit is set during build using ldflags
	GitCommit = "unknown"
)

// VersionInfo contains detailed version information
type VersionInfo struct {
	Version      string `json:"version"`
	APIVersion   string `json:"api_version"`
	BuildTime    string `json:"build_time"`
	GitCommit    string `json:"git_commit"`
	GoVersion    string `json:"go_version"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
}

// GetVersionInfo returns detailed version information
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:      Version,
		APIVersion:   APIVersion,
		BuildTime:    BuildTime,
		GitCommit:    GitCommit,
		GoVersion:    runtime.Version(),
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
	}
}

// UserAgent returns the User-Agent header value for outbound calls
func UserAgent() string {
	return fmt.Sprintf("%s/%s", UserAgentProduct, Version)
}

// GetFullVersionString returns a detailed version string
func GetFullVersionString() string {
	info := GetVersionInfo()
	return fmt.Sprintf(
		"%s v%s (built: %s, commit: %s, go: %s, os: %s/%s)",
		ServiceName,
		info.Version,
		info.BuildTime,
		info.GitCommit,
		info.GoVersion,
		info.OS,
		info.Architecture,
	)
}
