// Package version carries build-stamped identity, set with -ldflags -X.
package version

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
)

// Name is the service name reported on /version and in startup logs
const Name = "kaptn-pulse"

var (
	// Version is the released version
	Version = "v0.1.0-dev"
	// GitCommit is the commit the binary was built from
	GitCommit = "unknown"
	// BuildDate is the date the binary was built
	BuildDate = "unknown"
)

// Info is the build identity of the running binary
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// Get returns the version information
func Get() Info {
	return Info{
		Name:      Name,
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String returns a one-line summary
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s, %s %s)",
		i.Name, i.Version, i.GitCommit, i.BuildDate, i.GoVersion, i.Platform)
}

// Fields returns the info as structured log fields
func (i Info) Fields() []zap.Field {
	return []zap.Field{
		zap.String("version", i.Version),
		zap.String("commit", i.GitCommit),
		zap.String("buildDate", i.BuildDate),
		zap.String("goVersion", i.GoVersion),
		zap.String("platform", i.Platform),
	}
}
