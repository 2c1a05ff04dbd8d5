package fetcher

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/nightconcept/cairn-go/internal/core/cdn"
	"github.com/nightconcept/cairn-go/internal/core/index"
)

// requiresContext collects the name@version identities that ship only
// in permutation form: every unit with at least one context-qualified
// row. Their context-free copies are transient seeds, never artifacts.
func requiresContext(rows []index.AnalyzedDependency) map[string]bool {
	out := make(map[string]bool)
	for _, row := range rows {
		if len(row.PeerContext) > 0 {
			out[row.Name+"@"+row.Version] = true
		}
	}
	return out
}

// cleanupBases deletes the context-free files of units that require a
// peer context, from disk and from the URL map. Left in place they
// would shadow the permutation-qualified answers.
func (f *Fetcher) cleanupBases() {
	requires := requiresContext(f.idx.Packages)
	if len(requires) == 0 {
		return
	}

	doomedFiles := make(map[string]bool)
	var doomedURLs []string
	for url, filename := range f.idx.URLToFile {
		if url != cdn.StripContext(url) {
			continue
		}
		unit, err := cdn.ParseUnitURL(url)
		if err != nil || !requires[unit.Name+"@"+unit.Version] {
			continue
		}
		doomedURLs = append(doomedURLs, url)
		doomedFiles[filename] = true
	}
	if len(doomedURLs) == 0 {
		return
	}

	sort.Strings(doomedURLs)
	for _, url := range doomedURLs {
		delete(f.idx.URLToFile, url)
	}
	// Content addressing lets one file back several URLs; a file a
	// surviving URL still points at stays on disk.
	for _, filename := range f.idx.URLToFile {
		delete(doomedFiles, filename)
	}

	names := make([]string, 0, len(doomedFiles))
	for name := range doomedFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := os.Remove(filepath.Join(f.opts.Dir, name)); err != nil && !os.IsNotExist(err) {
			f.opts.Warnf("removing base copy %s: %v", name, err)
		}
	}
	f.opts.Logf("removed %d transient base copies", len(names))
}
