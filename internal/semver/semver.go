// Package semver implements the version ordering used across the registry:
// dot-separated numeric parts compared left to right with missing trailing
// parts read as zero, a prerelease suffix sorting before the bare version,
// and prerelease ties broken by a plain byte-wise string compare. This is a
// deliberately simplified precedence (prerelease identifiers are not split
// on dots) and must not be "fixed" toward full semver, or stored feeds
// would reorder.
package semver

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Version is a parsed version string.
type Version struct {
	Numeric    []int
	Prerelease string

	raw string
}

// Parse splits s on the first '-' into numeric dot-parts and an optional
// prerelease suffix. Every dot-part must be a non-negative integer.
func Parse(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return Version{}, fmt.Errorf("empty version")
	}
	base, pre, _ := strings.Cut(raw, "-")
	parts := strings.Split(base, ".")
	nums := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("invalid version %q: bad numeric part %q", raw, p)
		}
		nums = append(nums, n)
	}
	return Version{Numeric: nums, Prerelease: pre, raw: raw}, nil
}

// IsValid reports whether s parses as a version.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// String returns the original (trimmed) version string.
func (v Version) String() string { return v.raw }

// Compare returns -1, 0 or 1 ordering a against b.
//
// Numeric parts are compared pairwise with missing trailing parts read as
// zero, so 1.2 equals 1.2.0. On a numeric tie a prerelease version sorts
// before the bare one, and two prereleases compare byte-wise.
func Compare(a, b Version) int {
	n := len(a.Numeric)
	if len(b.Numeric) > n {
		n = len(b.Numeric)
	}
	for i := 0; i < n; i++ {
		av, bv := 0, 0
		if i < len(a.Numeric) {
			av = a.Numeric[i]
		}
		if i < len(b.Numeric) {
			bv = b.Numeric[i]
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
	}
	switch {
	case a.Prerelease != "" && b.Prerelease == "":
		return -1
	case a.Prerelease == "" && b.Prerelease != "":
		return 1
	}
	return strings.Compare(a.Prerelease, b.Prerelease)
}

// CompareStrings orders two raw version strings. Strings that do not parse
// sort below everything that does; two unparsable strings tie.
func CompareStrings(a, b string) int {
	va, errA := Parse(a)
	vb, errB := Parse(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return Compare(va, vb)
}

// SortStrings stable-sorts version strings in place, ascending by default,
// descending (newest first) when desc is set.
func SortStrings(versions []string, desc bool) {
	sort.SliceStable(versions, func(i, j int) bool {
		c := CompareStrings(versions[i], versions[j])
		if desc {
			return c > 0
		}
		return c < 0
	})
}

// Sorted returns a sorted copy, leaving the input untouched.
func Sorted(versions []string, desc bool) []string {
	out := append([]string(nil), versions...)
	SortStrings(out, desc)
	return out
}

// Latest returns the highest-precedence version string, or false for an
// empty input.
func Latest(versions []string) (string, bool) {
	if len(versions) == 0 {
		return "", false
	}
	best := versions[0]
	for _, v := range versions[1:] {
		if CompareStrings(v, best) > 0 {
			best = v
		}
	}
	return best, true
}
