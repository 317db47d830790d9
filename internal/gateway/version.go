package gateway

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// MinServerVersion is the oldest orchestrator release this client
// understands.
const MinServerVersion = "v0.3.0"

// CheckServerVersion compares a reported server version against
// MinServerVersion. It returns a human-readable warning when the
// server is too old, and "" when compatible or when the version string
// is unparseable (unknown builds are given the benefit of the doubt).
func CheckServerVersion(version string) string {
	v := version
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	if semver.Compare(v, MinServerVersion) < 0 {
		return fmt.Sprintf("server version %s is older than the supported minimum %s; upgrade the orchestrator", version, MinServerVersion)
	}
	return ""
}
