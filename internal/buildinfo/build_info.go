package buildinfo

import "fmt"

// BuildInfo identifies the build of an executable artifact. The fields are
// stamped by the linker.
type BuildInfo struct {
	Version    string
	CommitHash string
	BuildDate  string
}

// String returns the build info as a string.
func (i BuildInfo) String() string {
	return fmt.Sprintf("version %s (%s) built on %s", i.Version, i.CommitHash, i.BuildDate)
}
