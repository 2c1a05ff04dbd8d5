// Package graph turns the analyzed catalog into the ordered list of
// units the fetch stage works through. Every package version becomes
// either one context-free base row or one row per peer permutation,
// plus one extra row for each declared standalone subpath. Rows are
// ordered so that a unit's peers always precede the unit itself.
package graph

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/nightconcept/cairn-go/internal/core/cdn"
	"github.com/nightconcept/cairn-go/internal/core/config"
	"github.com/nightconcept/cairn-go/internal/core/index"
	"github.com/nightconcept/cairn-go/internal/core/permute"
)

// Input collects everything the builder needs: the run configuration,
// the selected versions per managed package, and each version's peer
// constraints as published by the registry, keyed "name@version".
type Input struct {
	Config    *config.Config
	Available map[string][]string
	PeerDeps  map[string]map[string]string
}

// Build expands the catalog into dependency rows. Versions whose peer
// constraints cannot be satisfied are skipped and reported in the
// returned warnings; only broken configuration is a hard error.
func Build(in Input) ([]index.AnalyzedDependency, []string, error) {
	var warnings []string
	depths := &depthCalc{
		in:   in,
		memo: make(map[string]int),
		busy: make(map[string]bool),
	}

	names := make([]string, 0, len(in.Available))
	for name := range in.Available {
		names = append(names, name)
	}
	sort.Strings(names)

	var rows []index.AnalyzedDependency
	for _, name := range names {
		for _, version := range in.Available[name] {
			constraints := in.PeerDeps[name+"@"+version]

			root, err := in.Config.URL(name, version)
			if err != nil {
				return nil, nil, fmt.Errorf("building URL for %s@%s: %w", name, version, err)
			}

			if !permute.RequiresPeerContext(name, constraints, in.Config.Groups, in.Available) {
				rows = append(rows, unitRows(in.Config, name, version, root, nil, constraints, 0)...)
				continue
			}

			perms, err := permute.Permutations(name, constraints, in.Config.Groups, in.Available)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("skipping %s@%s: %v", name, version, err))
				continue
			}
			for _, ctx := range perms {
				depth := 1 + depths.maxPeerDepth(ctx, &warnings)
				rows = append(rows, unitRows(in.Config, name, version, root, ctx, constraints, depth)...)
			}
		}
	}

	index.SortRows(rows)
	return rows, warnings, nil
}

// unitRows emits the row for one unit plus one row per standalone
// subpath whose version constraint admits this version.
func unitRows(cfg *config.Config, name, version, root string, ctx map[string]string, constraints map[string]string, depth int) []index.AnalyzedDependency {
	row := index.AnalyzedDependency{
		Name:             name,
		Version:          version,
		URL:              cdn.ContextURL(root, ctx),
		PeerContext:      ctx,
		PeerDependencies: constraints,
		Depth:            depth,
	}
	rows := []index.AnalyzedDependency{row}

	for _, sub := range cfg.Subpaths {
		if sub.Package != name || !subpathApplies(sub, version) {
			continue
		}
		subRow := row
		subRow.URL = cdn.ContextURL(root+"/"+sub.Path, ctx)
		rows = append(rows, subRow)
	}
	return rows
}

func subpathApplies(sub config.Subpath, version string) bool {
	if sub.Constraint == "" {
		return true
	}
	c, err := semver.NewConstraint(sub.Constraint)
	if err != nil {
		return false
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return c.Check(v)
}

// depthCalc memoizes the depth each package's own units settle at, so
// dependents can be placed one level below the deepest unit of every
// peer they reference.
type depthCalc struct {
	in   Input
	memo map[string]int
	busy map[string]bool
}

func (d *depthCalc) maxPeerDepth(ctx map[string]string, warnings *[]string) int {
	max := 0
	for _, peer := range cdn.SortedPeerNames(ctx) {
		if pd := d.pkg(peer, warnings); pd > max {
			max = pd
		}
	}
	return max
}

func (d *depthCalc) pkg(name string, warnings *[]string) int {
	if v, ok := d.memo[name]; ok {
		return v
	}
	if d.busy[name] {
		*warnings = append(*warnings, fmt.Sprintf("peer dependency cycle through %s, treating it as depth 0", name))
		return 0
	}
	d.busy[name] = true
	defer delete(d.busy, name)

	depth := 0
	if !permute.InGroup(name, d.in.Config.Groups) {
		for _, version := range d.in.Available[name] {
			peers := permute.EffectivePeers(name, d.in.PeerDeps[name+"@"+version], d.in.Available)
			if len(peers) == 0 {
				continue
			}
			for peer := range peers {
				if pd := 1 + d.pkg(peer, warnings); pd > depth {
					depth = pd
				}
			}
		}
	}
	d.memo[name] = depth
	return depth
}

// Merge folds freshly built rows into a previously persisted set.
// Existing rows survive unless a fresh row carries the same identity;
// a superseding row keeps the old download and transform marks as long
// as its URL is unchanged, so unchanged units are not refetched.
func Merge(existing, fresh []index.AnalyzedDependency) []index.AnalyzedDependency {
	out := make([]index.AnalyzedDependency, len(existing))
	copy(out, existing)

	pos := make(map[string]int, len(out))
	for i, row := range out {
		pos[mergeKey(row)] = i
	}

	for _, row := range fresh {
		k := mergeKey(row)
		i, ok := pos[k]
		if !ok {
			pos[k] = len(out)
			out = append(out, row)
			continue
		}
		if prev := out[i]; prev.URL == row.URL {
			row.Downloaded = prev.Downloaded
			row.Transformed = prev.Transformed
		}
		out[i] = row
	}

	index.SortRows(out)
	return out
}

// mergeKey extends the canonical key with the unit's subpath so a
// package's root unit and its standalone subpath units never supersede
// each other.
func mergeKey(row index.AnalyzedDependency) string {
	u, err := cdn.ParseUnitURL(row.URL)
	if err != nil || u.Subpath == "" {
		return row.Key()
	}
	return row.Key() + "#" + u.Subpath
}
