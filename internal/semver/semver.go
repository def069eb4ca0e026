// Package semver implements the "reject on strict inequality of peer
// version strings" policy named in spec.md §1/§4.5.3/§7. Anything more
// elaborate (range constraints, pre-release negotiation) is explicitly
// out of scope.
package semver

import "github.com/blang/semver/v4"

// StrictNeq reports whether a and b, parsed as semantic versions,
// differ. If either string fails to parse as semver it falls back to a
// plain string comparison so a malformed version string still produces
// a deterministic (if unhelpfully-worded) mismatch rather than a panic.
func StrictNeq(a, b string) bool {
	va, errA := semver.Parse(a)
	vb, errB := semver.Parse(b)
	if errA != nil || errB != nil {
		return a != b
	}
	return !va.EQ(vb)
}
