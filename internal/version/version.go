// Package version compares upstream version strings. Tags in the wild are a
// mix of strict semver, bare numeric tuples, and suffixed pre-releases, so
// comparison goes through x/mod/semver when both sides canonicalize and falls
// back to segment-wise numeric ordering otherwise.
package version

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Pre-release suffix priorities (lower = earlier in release cycle)
var suffixPriority = map[string]int{
	"alpha": -4,
	"beta":  -3,
	"pre":   -2,
	"rc":    -1,
	"":      0, // release version
	"p":     1, // patch
}

// suffixRegex matches suffixes like -rc1, _beta2, .alpha, -pre
var suffixRegex = regexp.MustCompile(`[._-](alpha|beta|pre|rc|p)\.?(\d*)$`)

// Normalize strips a leading "v" or "V" from a tag.
func Normalize(v string) string {
	if len(v) > 1 && (v[0] == 'v' || v[0] == 'V') && v[1] >= '0' && v[1] <= '9' {
		return v[1:]
	}
	return v
}

// Compare compares two version strings. Returns -1 if a < b, 0 if equal,
// 1 if a > b. Numeric segments compare as integers, never lexically.
func Compare(a, b string) int {
	a, b = Normalize(a), Normalize(b)

	// Strict semver wins when both sides speak it.
	sa, sb := "v"+a, "v"+b
	if semver.IsValid(sa) && semver.IsValid(sb) {
		return semver.Compare(sa, sb)
	}

	numsA, sufA, sufNumA := split(a)
	numsB, sufB, sufNumB := split(b)

	if cmp := compareSegments(numsA, numsB); cmp != 0 {
		return cmp
	}

	prioA, prioB := suffixPriority[sufA], suffixPriority[sufB]
	switch {
	case prioA < prioB:
		return -1
	case prioA > prioB:
		return 1
	case sufNumA < sufNumB:
		return -1
	case sufNumA > sufNumB:
		return 1
	}
	return 0
}

// IsNewer reports whether candidate is strictly newer than current.
func IsNewer(candidate, current string) bool {
	return Compare(candidate, current) > 0
}

// Latest returns the highest version in vs, or "" for an empty slice.
func Latest(vs []string) string {
	latest := ""
	for _, v := range vs {
		if latest == "" || Compare(v, latest) > 0 {
			latest = v
		}
	}
	return latest
}

// split breaks a version into numeric segments plus an optional pre-release
// suffix type and number.
func split(v string) (nums []int, suffix string, suffixNum int) {
	if m := suffixRegex.FindStringSubmatch(v); m != nil {
		suffix = m[1]
		if m[2] != "" {
			suffixNum, _ = strconv.Atoi(m[2])
		}
		v = v[:len(v)-len(m[0])]
	}

	parts := strings.FieldsFunc(v, func(r rune) bool { return r == '.' || r == '-' || r == '_' })
	nums = make([]int, len(parts))
	for i, p := range parts {
		// Tolerate letter tails in segments (1.0a -> 1, 0)
		numStr := strings.TrimRight(p, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
		if numStr == "" {
			nums[i] = 0
		} else {
			nums[i], _ = strconv.Atoi(numStr)
		}
	}
	return nums, suffix, suffixNum
}

func compareSegments(a, b []int) int {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	for i := 0; i < maxLen; i++ {
		var av, bv int
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
