// Package versions implements the bounded version-selection policy: a
// deterministic, small subset of a package's published versions that is
// worth mirroring.
package versions

import (
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Kept line counts: the 3 most recent major lines, the 3 most recent
// minor lines inside each, and the single highest patch per minor line,
// bounding the result to at most 9 versions per package.
const (
	keepMajors = 3
	keepMinors = 3
)

// ProbeFunc reports whether a concrete version actually exists on the
// CDN. A nil probe keeps every candidate.
type ProbeFunc func(version string) bool

// Select reduces all published version strings of a package to the
// mirrored subset. Invalid and pre-release versions are discarded, the
// survivors are bucketed by (major, minor), trimmed to the policy bounds,
// probed, and returned in ascending order.
func Select(all []string, probe ProbeFunc) []string {
	type line struct {
		minor uint64
		best  *semver.Version
	}
	majors := make(map[uint64]map[uint64]*semver.Version)

	for _, raw := range all {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		if v.Prerelease() != "" || v.Metadata() != "" {
			continue
		}
		minors, ok := majors[v.Major()]
		if !ok {
			minors = make(map[uint64]*semver.Version)
			majors[v.Major()] = minors
		}
		if cur, ok := minors[v.Minor()]; !ok || v.GreaterThan(cur) {
			minors[v.Minor()] = v
		}
	}

	majorKeys := make([]uint64, 0, len(majors))
	for m := range majors {
		majorKeys = append(majorKeys, m)
	}
	sort.Slice(majorKeys, func(i, j int) bool { return majorKeys[i] > majorKeys[j] })
	if len(majorKeys) > keepMajors {
		majorKeys = majorKeys[:keepMajors]
	}

	var kept []*semver.Version
	for _, major := range majorKeys {
		lines := make([]line, 0, len(majors[major]))
		for minor, best := range majors[major] {
			lines = append(lines, line{minor: minor, best: best})
		}
		sort.Slice(lines, func(i, j int) bool { return lines[i].minor > lines[j].minor })
		if len(lines) > keepMinors {
			lines = lines[:keepMinors]
		}
		for _, l := range lines {
			kept = append(kept, l.best)
		}
	}

	sort.Sort(semver.Collection(kept))

	selected := make([]string, 0, len(kept))
	for _, v := range kept {
		orig := v.Original()
		if probe != nil && !probe(orig) {
			continue
		}
		selected = append(selected, orig)
	}
	return selected
}
