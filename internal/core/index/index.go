// Package index owns the persisted lookup index: the analyzed units, the
// URL to filename mapping, the relative-import trees and the per-package
// version lists. It is the single cross-run artifact of the mirror and the
// only place mirror filenames are produced or parsed.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// AnalyzedDependency is one resolved unit of work: a (package, version,
// peer-context) combination that must be materialized in the mirror.
type AnalyzedDependency struct {
	Name             string            `json:"name"`
	Version          string            `json:"version"`
	URL              string            `json:"url"`
	PeerContext      map[string]string `json:"peerContext,omitempty"`
	PeerDependencies map[string]string `json:"peerDependencies,omitempty"`
	Depth            int               `json:"depth"`
	Downloaded       bool              `json:"downloaded"`
	Transformed      bool              `json:"transformed"`
}

// Key returns the canonical identity of the unit, used to merge entries
// across incremental runs.
func (d *AnalyzedDependency) Key() string {
	return CanonicalKey(d.Name, d.Version, d.PeerContext)
}

// SortRows orders rows by depth, then canonical key, then URL. This is
// the processing order of the fetch stage: a unit's peers always sort
// before the units that depend on them.
func SortRows(rows []AnalyzedDependency) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Depth != rows[j].Depth {
			return rows[i].Depth < rows[j].Depth
		}
		if ki, kj := rows[i].Key(), rows[j].Key(); ki != kj {
			return ki < kj
		}
		return rows[i].URL < rows[j].URL
	})
}

// CanonicalKey builds the canonical "name@version?peer=ver&..." identity
// string for a unit. Peer entries are sorted by name so equal contexts
// always produce equal keys.
func CanonicalKey(name, version string, peerContext map[string]string) string {
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('@')
	b.WriteString(version)
	if len(peerContext) > 0 {
		b.WriteByte('?')
		names := make([]string, 0, len(peerContext))
		for n := range peerContext {
			names = append(names, n)
		}
		sort.Strings(names)
		for i, n := range names {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(n)
			b.WriteByte('=')
			b.WriteString(peerContext[n])
		}
	}
	return b.String()
}

// DepKey identifies a unit in the relative-import map. It shares the
// canonical key format; callers pass the reduced peer set (group members
// collapsed to their primary, the unit's own group excluded).
func DepKey(name, version string, peers map[string]string) string {
	return CanonicalKey(name, version, peers)
}

// SubpathSpec is a persisted standalone-subpath declaration for a package.
type SubpathSpec struct {
	Path       string `json:"path"`
	Constraint string `json:"constraint,omitempty"`
}

// LookupIndex is the single persisted artifact of the mirror pipeline.
type LookupIndex struct {
	Packages           []AnalyzedDependency     `json:"packages"`
	URLToFile          map[string]string        `json:"urlToFile"`
	RelativeImports    map[string]*PathNode     `json:"relativeImports"`
	AvailableVersions  map[string][]string      `json:"availableVersions"`
	StandaloneSubpaths map[string][]SubpathSpec `json:"standaloneSubpaths,omitempty"`
}

// New creates an empty LookupIndex with all maps initialized.
func New() *LookupIndex {
	return &LookupIndex{
		Packages:          []AnalyzedDependency{},
		URLToFile:         make(map[string]string),
		RelativeImports:   make(map[string]*PathNode),
		AvailableVersions: make(map[string][]string),
	}
}

// Load reads the index at path. A missing file yields a fresh index;
// callers that require a pre-existing index check for the file themselves.
func Load(path string) (*LookupIndex, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", path, err)
	}

	ix := New()
	if err := json.Unmarshal(data, ix); err != nil {
		return nil, fmt.Errorf("failed to decode index %s: %w", path, err)
	}
	if ix.URLToFile == nil {
		ix.URLToFile = make(map[string]string)
	}
	if ix.RelativeImports == nil {
		ix.RelativeImports = make(map[string]*PathNode)
	}
	if ix.AvailableVersions == nil {
		ix.AvailableVersions = make(map[string][]string)
	}
	return ix, nil
}

// Save writes the index atomically: the new content is written to a
// temporary file in the same directory and renamed over path, so a crash
// mid-write never corrupts the previous index.
func (ix *LookupIndex) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create index directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(ix, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".index-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temporary index file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temporary index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temporary index file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace index %s: %w", path, err)
	}
	return nil
}

// RowsByKey returns a canonical-key view of the package rows. The pointers
// alias the index slice so flag updates through them persist.
func (ix *LookupIndex) RowsByKey() map[string]*AnalyzedDependency {
	rows := make(map[string]*AnalyzedDependency, len(ix.Packages))
	for i := range ix.Packages {
		rows[ix.Packages[i].Key()] = &ix.Packages[i]
	}
	return rows
}

// RowsByURL returns a URL view of the package rows, aliasing the index
// slice like RowsByKey.
func (ix *LookupIndex) RowsByURL() map[string]*AnalyzedDependency {
	rows := make(map[string]*AnalyzedDependency, len(ix.Packages))
	for i := range ix.Packages {
		rows[ix.Packages[i].URL] = &ix.Packages[i]
	}
	return rows
}

// SortedURLs returns the urlToFile keys in lexicographic order, for
// deterministic iteration.
func (ix *LookupIndex) SortedURLs() []string {
	urls := make([]string, 0, len(ix.URLToFile))
	for u := range ix.URLToFile {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// StructuralError reports an import that could not be mapped to any known
// mirror file. It aborts the run: skipping it would produce a mirror that
// serves broken code.
type StructuralError struct {
	Specifier  string
	Unit       string
	Candidates []string
}

func (e *StructuralError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cannot resolve import %q referenced by %s", e.Specifier, e.Unit)
	if len(e.Candidates) == 0 {
		b.WriteString(" (no candidate URLs)")
	} else {
		fmt.Fprintf(&b, " (%d candidate URLs considered:", len(e.Candidates))
		for _, c := range e.Candidates {
			b.WriteString("\n  ")
			b.WriteString(c)
		}
		b.WriteString("\n)")
	}
	return b.String()
}
