// Package version tells which gcma build is running.
// The variables are meant to be overwritten at link time:
//
//	go build -ldflags "-X github.com/sahib/gcma/version.GitRev=$(git rev-parse HEAD)"
package version

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

var (
	// Semver is the release as major.minor.patch.
	Semver = "0.1.0"
	// Stage is "alpha", "beta" or "rc"; final releases leave it empty.
	Stage = "alpha"
	// GitRev is the commit the binary was built from.
	GitRev = ""
	// BuildTime is an ISO8601 timestamp.
	BuildTime = ""
)

// Info is what `gcma --version` prints.
type Info struct {
	Semver    string `yaml:"semver"`
	Stage     string `yaml:"stage,omitempty"`
	GitRev    string `yaml:"git_rev,omitempty"`
	BuildTime string `yaml:"build_time,omitempty"`
	GoVersion string `yaml:"go_version"`
	Platform  string `yaml:"platform"`
}

// Current describes the running binary.
func Current() Info {
	return Info{
		Semver:    Semver,
		Stage:     Stage,
		GitRev:    GitRev,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// Numbers splits Semver into its parts. Missing parts are zero.
// It panics on a non-numeric part since that is a broken build.
func Numbers() (major, minor, patch int) {
	nums := [3]int{}
	for idx, part := range strings.SplitN(Semver, ".", 3) {
		num, err := strconv.Atoi(part)
		if err != nil {
			panic(fmt.Sprintf("bad version %q: %v", Semver, err))
		}

		nums[idx] = num
	}

	return nums[0], nums[1], nums[2]
}

// String returns the short form, like v0.1.0-alpha+0123456.
func String() string {
	s := "v" + Semver
	if Stage != "" {
		s += "-" + Stage
	}

	if len(GitRev) >= 7 {
		s += "+" + GitRev[:7]
	}

	return s
}
