// Package relmap builds the relative-import trees: for every fetched
// unit it records where each ./ and ../ import actually landed, keyed
// by the unit's dependency key. The rewriter later walks these trees to
// turn relative specifiers into mirror filenames without re-resolving
// anything against the network.
package relmap

import (
	"fmt"
	"strings"

	"github.com/nightconcept/cairn-go/internal/core/cdn"
	"github.com/nightconcept/cairn-go/internal/core/config"
	"github.com/nightconcept/cairn-go/internal/core/fetcher"
	"github.com/nightconcept/cairn-go/internal/core/index"
	"github.com/nightconcept/cairn-go/internal/core/jsscan"
	"github.com/nightconcept/cairn-go/internal/core/permute"
)

// Build maps every relative import observed in the fetched units and
// records the targets in idx.RelativeImports. A relative import whose
// target cannot be found in the store is a structural error: the mirror
// is missing a file it must contain, and the run has to fail loudly
// rather than persist a broken lookup table.
func Build(st *fetcher.Store, idx *index.LookupIndex, groups []config.SameVersionGroup) error {
	for _, url := range st.URLs() {
		info, ok := st.Get(url)
		if !ok {
			continue
		}
		if err := mapUnit(st, idx, groups, info); err != nil {
			return err
		}
	}
	return nil
}

func mapUnit(st *fetcher.Store, idx *index.LookupIndex, groups []config.SameVersionGroup, info *fetcher.DependencyInfo) error {
	imports, err := jsscan.Scan(info.Content)
	if err != nil {
		return fmt.Errorf("scanning %s: %w", info.URL, err)
	}

	var tree *index.PathNode
	base := cdn.StripContext(info.URL)

	for _, imp := range imports {
		if !isRelative(imp.Specifier) {
			continue
		}
		resolved, _, rerr := cdn.ResolveSpecifier(imp.Specifier, base)
		if rerr != nil {
			return fmt.Errorf("resolving %q in %s: %w", imp.Specifier, info.URL, rerr)
		}

		target, ok := lookupTarget(st, resolved, info.PeerContext)
		if !ok {
			return &index.StructuralError{
				Specifier:  imp.Specifier,
				Unit:       info.URL,
				Candidates: nearbyURLs(st, resolved),
			}
		}

		unit, uerr := cdn.ParseUnitURL(target)
		if uerr != nil {
			return fmt.Errorf("mapping %q in %s: %w", imp.Specifier, info.URL, uerr)
		}
		segments := unit.InternalPath()
		if len(segments) == 0 {
			return fmt.Errorf("mapping %q in %s: target %s has no internal path", imp.Specifier, info.URL, target)
		}

		if tree == nil {
			key := index.DepKey(info.Name, info.Version, permute.ContextPeers(info.Name, info.PeerContext, groups))
			tree = idx.RelativeImports[key]
			if tree == nil {
				tree = index.NewBranch()
				idx.RelativeImports[key] = tree
			}
		}
		if err := tree.Set(segments, target); err != nil {
			return fmt.Errorf("mapping %q in %s: %w", imp.Specifier, info.URL, err)
		}
	}
	return nil
}

func isRelative(specifier string) bool {
	return strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../")
}

// lookupTarget finds the stored file a resolved relative import points
// at: first under the importing unit's own peer context, then the exact
// context-free URL, and as a last resort any context-tagged twin of the
// same base URL.
func lookupTarget(st *fetcher.Store, resolved string, ctx map[string]string) (string, bool) {
	if len(ctx) > 0 {
		qualified := cdn.ContextURL(resolved, ctx)
		if _, ok := st.Get(qualified); ok {
			return qualified, true
		}
	}
	if _, ok := st.Get(resolved); ok {
		return resolved, true
	}
	if twins := st.ListByBaseURL(resolved); len(twins) > 0 {
		return twins[0].URL, true
	}
	return "", false
}

func nearbyURLs(st *fetcher.Store, resolved string) []string {
	var out []string
	for _, info := range st.ListByBaseURL(cdn.StripContext(resolved)) {
		out = append(out, info.URL)
	}
	return out
}
