// Semantic version comparison for package release tags. Remote projects tag
// releases inconsistently, so comparison is deliberately forgiving: a string
// that does not parse is treated as "unknown, assume outdated" instead of
// being an error.

package version

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Compare orders two version strings.
// Returns:
// - -1 if a < b
// - 0 if a == b
// - 1 if a > b
// A malformed version compares equal to itself (byte for byte) and less than
// any well-formed version. Two distinct malformed versions compare lexically.
func Compare(a, b string) int {
	va, errA := parse(a)
	vb, errB := parse(b)

	switch {
	case errA == nil && errB == nil:
		return va.Compare(vb)
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	default:
		return 1
	}
}

// IsNewer reports whether the remote version supersedes the installed one.
// An installed version that cannot be parsed always counts as outdated, so
// update checks never get stuck on a vendor's odd tag format.
func IsNewer(remote, installed string) bool {
	return Compare(remote, installed) > 0
}

// IsValid checks if a version string parses as a semantic version.
func IsValid(v string) bool {
	_, err := parse(v)
	return err == nil
}

func parse(v string) (*semver.Version, error) {
	// Strip leading 'v' if present (common in release tags).
	return semver.NewVersion(strings.TrimPrefix(strings.TrimSpace(v), "v"))
}
