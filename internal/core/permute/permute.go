// Package permute expands a package's peer-dependency constraints into
// the concrete peer-version combinations the mirror has to provide.
// Every combination becomes one downloadable unit; a package with two
// compatible versions of one peer yields two units, one per version.
package permute

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/nightconcept/cairn-go/internal/core/config"
)

// UnsatisfiableError reports a peer slot for which the catalog holds no
// compatible version. The owning package version cannot be mirrored in
// any peer combination and should be skipped with a warning.
type UnsatisfiableError struct {
	Package    string
	Peer       string
	Constraint string
}

func (e *UnsatisfiableError) Error() string {
	return fmt.Sprintf("no available version of %s satisfies %q (peer of %s)", e.Peer, e.Constraint, e.Package)
}

// slot is one combinatorial axis of the product: a single peer, or a
// whole SameVersionGroup collapsed onto its primary member.
type slot struct {
	key      string
	members  []string
	versions []string
}

// Permutations expands the peer constraints of one package version into
// full peer-context maps, one map per compatible combination.
//
// constraints maps peer name to its semver range as published by the
// registry. available maps every managed package to its selected
// version list, oldest first; names absent from available are treated
// as unmanaged and ignored. Group members never permute themselves,
// their peers are pinned by the group's single slot.
//
// Each returned map carries an entry for every member of every group a
// chosen version belongs to, so the context can be replayed as a CDN
// query string without consulting the group table again. The slice is
// ordered deterministically: slots sorted by name, last slot varying
// fastest, versions in catalog order.
func Permutations(name string, constraints map[string]string, groups []config.SameVersionGroup, available map[string][]string) ([]map[string]string, error) {
	if groupIndex(name, groups) >= 0 {
		return nil, nil
	}

	effective := effectivePeers(name, constraints, available)
	if len(effective) == 0 {
		return nil, nil
	}

	slots, err := buildSlots(name, effective, groups, available)
	if err != nil {
		return nil, err
	}

	return product(slots), nil
}

// RequiresPeerContext reports whether the package must be mirrored in
// permutation form only. When true, the context-free base entry would
// shadow the permutation-qualified answers and must not be persisted.
func RequiresPeerContext(name string, constraints map[string]string, groups []config.SameVersionGroup, available map[string][]string) bool {
	if groupIndex(name, groups) >= 0 {
		return false
	}
	return len(effectivePeers(name, constraints, available)) > 0
}

// ContextPeers reduces a unit's broadcast peer context to the entries
// that distinguish the unit on disk: the unit itself and its own
// group-mates are dropped, and every other group collapses back to its
// primary member. Filenames and dependency keys are both derived from
// this reduced map, which keeps the two views of a unit in agreement.
func ContextPeers(name string, ctx map[string]string, groups []config.SameVersionGroup) map[string]string {
	if len(ctx) == 0 {
		return nil
	}
	own := groupIndex(name, groups)
	out := make(map[string]string, len(ctx))
	for peer, version := range ctx {
		if peer == name {
			continue
		}
		gi := groupIndex(peer, groups)
		switch {
		case gi < 0:
			out[peer] = version
		case gi == own:
			// Pinned by the unit's own group, not part of its identity.
		default:
			out[groups[gi].Members[0]] = version
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// EffectivePeers returns the peer constraints that actually bind the
// package: entries whose constraint is a wildcard, whose name is not a
// managed package, or whose name is the package itself are dropped.
func EffectivePeers(name string, constraints map[string]string, available map[string][]string) map[string]string {
	out := effectivePeers(name, constraints, available)
	if len(out) == 0 {
		return nil
	}
	return out
}

// InGroup reports whether name belongs to any SameVersionGroup.
func InGroup(name string, groups []config.SameVersionGroup) bool {
	return groupIndex(name, groups) >= 0
}

// effectivePeers drops the constraint entries that never force a
// permutation: wildcards, unmanaged packages, and the package itself.
func effectivePeers(name string, constraints map[string]string, available map[string][]string) map[string]string {
	out := make(map[string]string, len(constraints))
	for peer, raw := range constraints {
		if peer == name || wildcard(raw) {
			continue
		}
		if _, managed := available[peer]; !managed {
			continue
		}
		out[peer] = raw
	}
	return out
}

func wildcard(constraint string) bool {
	c := strings.TrimSpace(constraint)
	return c == "" || c == "*"
}

func groupIndex(name string, groups []config.SameVersionGroup) int {
	for i, g := range groups {
		for _, m := range g.Members {
			if m == name {
				return i
			}
		}
	}
	return -1
}

// buildSlots partitions the effective peers into group slots and
// singleton slots and resolves each slot's compatible version list.
func buildSlots(name string, effective map[string]string, groups []config.SameVersionGroup, available map[string][]string) ([]slot, error) {
	grouped := make(map[int][]string)
	var singles []string
	for peer := range effective {
		if gi := groupIndex(peer, groups); gi >= 0 {
			grouped[gi] = append(grouped[gi], peer)
		} else {
			singles = append(singles, peer)
		}
	}

	groupOrder := make([]int, 0, len(grouped))
	for gi := range grouped {
		groupOrder = append(groupOrder, gi)
	}
	sort.Ints(groupOrder)
	sort.Strings(singles)

	slots := make([]slot, 0, len(grouped)+len(singles))
	for _, gi := range groupOrder {
		present := grouped[gi]
		sort.Strings(present)
		primary := groups[gi].Members[0]
		ranges := make([]string, 0, len(present))
		for _, peer := range present {
			ranges = append(ranges, effective[peer])
		}
		versions, err := compatible(available[primary], ranges)
		if err != nil {
			return nil, fmt.Errorf("peer %s of %s: %w", primary, name, err)
		}
		if len(versions) == 0 {
			return nil, &UnsatisfiableError{Package: name, Peer: primary, Constraint: strings.Join(ranges, " & ")}
		}
		slots = append(slots, slot{key: primary, members: groups[gi].Members, versions: versions})
	}
	for _, peer := range singles {
		versions, err := compatible(available[peer], []string{effective[peer]})
		if err != nil {
			return nil, fmt.Errorf("peer %s of %s: %w", peer, name, err)
		}
		if len(versions) == 0 {
			return nil, &UnsatisfiableError{Package: name, Peer: peer, Constraint: effective[peer]}
		}
		slots = append(slots, slot{key: peer, members: []string{peer}, versions: versions})
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].key < slots[j].key })
	return slots, nil
}

// compatible filters candidates down to the versions satisfying every
// given range, preserving catalog order.
func compatible(candidates []string, ranges []string) ([]string, error) {
	constraints := make([]*semver.Constraints, 0, len(ranges))
	for _, raw := range ranges {
		c, err := semver.NewConstraint(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing constraint %q: %w", raw, err)
		}
		constraints = append(constraints, c)
	}

	var out []string
	for _, candidate := range candidates {
		v, err := semver.NewVersion(candidate)
		if err != nil {
			continue
		}
		ok := true
		for _, c := range constraints {
			if !c.Check(v) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, candidate)
		}
	}
	return out, nil
}

// product walks the Cartesian product of all slots with the last slot
// varying fastest, broadcasting each group slot's choice to every
// member of that group.
func product(slots []slot) []map[string]string {
	total := 1
	for _, s := range slots {
		total *= len(s.versions)
	}

	out := make([]map[string]string, 0, total)
	idx := make([]int, len(slots))
	for {
		ctx := make(map[string]string)
		for i, s := range slots {
			version := s.versions[idx[i]]
			for _, member := range s.members {
				ctx[member] = version
			}
		}
		out = append(out, ctx)

		i := len(slots) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(slots[i].versions) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return out
		}
	}
}
