// SPDX-FileCopyrightText: 2025 The codegreen Authors
// SPDX-License-Identifier: Apache-2.0

// Package version carries build metadata injected at link time.
package version

import "runtime"

// set via -ldflags "-X github.com/SMART-Dal/codegreen/internal/version.version=..."
var (
	version   string
	buildTime string
	gitBranch string
	gitCommit string
)

type VersionInfo struct {
	Version   string
	BuildTime string
	GitBranch string
	GitCommit string

	GoVersion string
	GoOS      string
	GoArch    string
}

// Info returns the version information
func Info() VersionInfo {
	return VersionInfo{
		Version:   version,
		BuildTime: buildTime,
		GitBranch: gitBranch,
		GitCommit: gitCommit,

		GoVersion: runtime.Version(),
		GoOS:      runtime.GOOS,
		GoArch:    runtime.GOARCH,
	}
}
