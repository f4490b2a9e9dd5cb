// Package version exposes the build identity of the aurora binary.
package version

import "fmt"

// Name is the product name shown in banners and the version endpoint.
const Name = "Aurora"

// Overridden at build time via -ldflags.
var (
	Version   = "0.3.0"
	GitCommit = ""
	BuildTime = ""
)

// Info is the version payload served over the API.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	BuildTime string `json:"buildTime,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
}

// GetInfo returns the version of the running binary.
func GetInfo() Info {
	return Info{
		Name:      Name,
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}
}

func (i Info) String() string {
	s := fmt.Sprintf("%s v%s", i.Name, i.Version)
	if commit := i.GitCommit; commit != "" {
		if len(commit) > 7 {
			commit = commit[:7]
		}
		s += " (" + commit + ")"
	}
	if i.BuildTime != "" {
		s += " built " + i.BuildTime
	}
	return s
}
