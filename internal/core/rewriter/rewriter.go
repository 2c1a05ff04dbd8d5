// Package rewriter points mirrored files at each other: every import
// specifier that references a mirrored unit is replaced with the local
// filename of that unit, so the directory can be served without ever
// reaching the CDN again.
package rewriter

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/nightconcept/cairn-go/internal/core/cdn"
	"github.com/nightconcept/cairn-go/internal/core/index"
	"github.com/nightconcept/cairn-go/internal/core/jsscan"
)

// Options configures a rewrite pass.
type Options struct {
	// Dir is the mirror directory holding the downloaded files.
	Dir string
	// Hosts is the set of CDN hosts whose absolute imports get rewritten.
	// Imports pointing anywhere else are left alone.
	Hosts map[string]bool
	// Force reprocesses units already marked transformed.
	Force bool

	Logf     func(format string, args ...any)
	Progress func()
}

// Result summarizes a rewrite pass.
type Result struct {
	FilesInspected int
	FilesRewritten int
	Substitutions  int
	UnitsMarked    int
}

// Run rewrites every mirrored file whose owning unit has not been
// transformed yet. Files of row-less transitive packages are inspected on
// every run; substitution is idempotent so that costs nothing but the
// scan. An import that should resolve into the mirror but cannot aborts
// the whole run.
func Run(idx *index.LookupIndex, opts Options) (*Result, error) {
	if opts.Logf == nil {
		opts.Logf = func(string, ...any) {}
	}
	if opts.Progress == nil {
		opts.Progress = func() {}
	}

	p := &pass{
		idx:      idx,
		opts:     opts,
		rowByURL: idx.RowsByURL(),
		rowByKey: idx.RowsByKey(),
	}

	// Rows are flagged only after the walk so that a unit spanning several
	// files is not skipped halfway through its own first pass.
	inspected := make(map[*index.AnalyzedDependency]bool)
	var result Result
	for _, fileURL := range idx.SortedURLs() {
		row := p.rowFor(fileURL)
		if row != nil && row.Transformed && !opts.Force {
			opts.Progress()
			continue
		}

		subs, err := p.rewriteFile(fileURL, idx.URLToFile[fileURL])
		if err != nil {
			return nil, err
		}
		result.FilesInspected++
		if subs > 0 {
			result.FilesRewritten++
			result.Substitutions += subs
		}
		if row != nil {
			inspected[row] = true
		}
		opts.Progress()
	}

	for row := range inspected {
		row.Transformed = true
	}
	result.UnitsMarked = len(inspected)
	return &result, nil
}

type pass struct {
	idx      *index.LookupIndex
	opts     Options
	rowByURL map[string]*index.AnalyzedDependency
	rowByKey map[string]*index.AnalyzedDependency
}

// rowFor finds the index row gating a mirrored file. Files fetched
// transitively share their unit's row through the canonical key; files of
// unmanaged packages have none.
func (p *pass) rowFor(fileURL string) *index.AnalyzedDependency {
	if row, ok := p.rowByURL[fileURL]; ok {
		return row
	}
	unit, err := cdn.ParseUnitURL(fileURL)
	if err != nil {
		return nil
	}
	return p.rowByKey[index.CanonicalKey(unit.Name, unit.Version, unit.Peers)]
}

// rewriteFile re-extracts the raw imports of one mirrored file and
// substitutes every specifier that resolves into the mirror. The file is
// written back only when at least one substitution happened.
func (p *pass) rewriteFile(fileURL, filename string) (int, error) {
	path := filepath.Join(p.opts.Dir, filename)
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading mirrored file %s: %w", filename, err)
	}

	imports, err := jsscan.Scan(content)
	if err != nil {
		return 0, fmt.Errorf("extracting imports from %s: %w", filename, err)
	}

	text := string(content)
	subs := 0
	seen := make(map[string]bool)
	for _, imp := range imports {
		if seen[imp.Specifier] {
			continue
		}
		seen[imp.Specifier] = true

		target, ok, err := p.resolve(imp.Specifier, fileURL, filename)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}

		// The scanner only reports plain string literals, so replacing the
		// exact quoted spelling covers static, dynamic, re-export and
		// minified forms alike.
		local := "./" + target
		replaced := strings.ReplaceAll(text, `"`+imp.Specifier+`"`, `"`+local+`"`)
		replaced = strings.ReplaceAll(replaced, `'`+imp.Specifier+`'`, `'`+local+`'`)
		if replaced != text {
			text = replaced
			subs++
		}
	}

	if subs == 0 {
		return 0, nil
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return 0, fmt.Errorf("writing rewritten file %s: %w", filename, err)
	}
	p.opts.Logf("rewrote %s (%d imports)", filename, subs)
	return subs, nil
}

// resolve maps one import specifier to a mirror filename. ok=false means
// the specifier is not ours to rewrite: bare module names, foreign hosts
// and specifiers that already point at a mirror file.
func (p *pass) resolve(specifier, fileURL, filename string) (string, bool, error) {
	if _, err := index.ParseFilename(strings.TrimPrefix(specifier, "./")); err == nil {
		return "", false, nil
	}

	switch {
	case strings.HasPrefix(specifier, "http://"), strings.HasPrefix(specifier, "https://"):
		if !cdn.IsHost(specifier, p.opts.Hosts) {
			return "", false, nil
		}
		target, err := p.resolveAbsolute(specifier, specifier, fileURL)
		if err != nil {
			return "", false, err
		}
		return target, true, nil

	case strings.HasPrefix(specifier, "/"):
		u, err := url.Parse(fileURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "", false, fmt.Errorf("cannot resolve %q: invalid unit URL %q", specifier, fileURL)
		}
		target, err := p.resolveAbsolute(u.Scheme+"://"+u.Host+specifier, specifier, fileURL)
		if err != nil {
			return "", false, err
		}
		return target, true, nil

	case strings.HasPrefix(specifier, "./"), strings.HasPrefix(specifier, "../"):
		target, err := p.resolveRelative(specifier, fileURL, filename)
		if err != nil {
			return "", false, err
		}
		return target, true, nil

	default:
		return "", false, nil
	}
}

// resolveAbsolute maps a CDN-addressed import to a mirror filename: exact
// urlToFile hits first, then the constraint-normalized form, then
// substring containment against the known URLs, then the scored best
// match. absolute is the full URL form of the import; specifier is the
// text as written, kept for diagnostics.
func (p *pass) resolveAbsolute(absolute, specifier, fileURL string) (string, error) {
	if f, ok := p.idx.URLToFile[absolute]; ok {
		return f, nil
	}
	stripped := cdn.StripContext(absolute)
	if f, ok := p.idx.URLToFile[stripped]; ok {
		return f, nil
	}

	u, err := url.Parse(stripped)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", &index.StructuralError{Specifier: specifier, Unit: fileURL}
	}
	normPath := cdn.NormalizeConstraintPath(u.Path)
	normalized := u.Scheme + "://" + u.Host + normPath
	if f, ok := p.idx.URLToFile[normalized]; ok {
		return f, nil
	}

	// A context-qualified copy still contains the bare path, so cloned
	// units whose base copy was cleaned up are found here.
	matches := p.containing(normPath)
	if len(matches) == 1 {
		return p.idx.URLToFile[matches[0]], nil
	}

	want, err := cdn.ParseUnitURL(normalized)
	if err != nil {
		return "", &index.StructuralError{Specifier: specifier, Unit: fileURL, Candidates: matches}
	}
	if len(matches) == 0 {
		matches = p.idx.SortedURLs()
	}
	return p.bestMatch(matches, want, cdn.ConstraintFromPath(u.Path), specifier, fileURL)
}

// containing returns the known URLs that contain the normalized specifier
// path as a substring, in lexicographic order.
func (p *pass) containing(normPath string) []string {
	var matches []string
	for _, u := range p.idx.SortedURLs() {
		if strings.Contains(u, normPath) {
			matches = append(matches, u)
		}
	}
	return matches
}

// bestMatch scores candidate URLs against the wanted unit: sharing the
// package name is worth 1 point, an exact subpath match 100 more and a
// subpath containing the wanted one 50. Candidates satisfying the
// specifier's version constraint beat ones that do not; remaining ties
// break on the URL so the choice is deterministic.
func (p *pass) bestMatch(urls []string, want *cdn.UnitURL, constraint, specifier, fileURL string) (string, error) {
	var cons *semver.Constraints
	if constraint != "" {
		if c, err := semver.NewConstraint(constraint); err == nil {
			cons = c
		}
	}

	type scored struct {
		url       string
		score     int
		satisfies bool
	}
	better := func(a, b scored) bool {
		if a.score != b.score {
			return a.score > b.score
		}
		if a.satisfies != b.satisfies {
			return a.satisfies
		}
		return a.url < b.url
	}

	var best *scored
	var considered []string
	for _, raw := range urls {
		unit, err := cdn.ParseUnitURL(raw)
		if err != nil || unit.Name != want.Name {
			continue
		}
		considered = append(considered, raw)

		score := 1
		switch {
		case unit.Subpath == want.Subpath:
			score += 100
		case want.Subpath != "" && strings.Contains(unit.Subpath, want.Subpath):
			score += 50
		}

		satisfies := false
		if cons != nil {
			if v, verr := semver.NewVersion(unit.Version); verr == nil && cons.Check(v) {
				satisfies = true
			}
		}

		s := scored{url: raw, score: score, satisfies: satisfies}
		if best == nil || better(s, *best) {
			best = &s
		}
	}

	if best == nil {
		return "", &index.StructuralError{Specifier: specifier, Unit: fileURL, Candidates: considered}
	}
	return p.idx.URLToFile[best.url], nil
}

// resolveRelative walks the file's own relative-import tree. The tree key
// comes from the filename itself, which encodes exactly the reduced peer
// set the mapper keyed the tree by.
func (p *pass) resolveRelative(specifier, fileURL, filename string) (string, error) {
	info, err := index.ParseFilename(filename)
	if err != nil {
		return "", fmt.Errorf("cannot derive a dependency key from %s: %w", filename, err)
	}

	tree := p.idx.RelativeImports[index.DepKey(info.Name, info.Version, info.Peers)]
	if tree == nil {
		return "", &index.StructuralError{Specifier: specifier, Unit: fileURL}
	}

	target, ok := tree.Get(cdn.RelativeSegments(specifier))
	if !ok {
		return "", &index.StructuralError{Specifier: specifier, Unit: fileURL, Candidates: treeLeaves(tree)}
	}
	f, ok := p.idx.URLToFile[target]
	if !ok {
		return "", &index.StructuralError{Specifier: specifier, Unit: fileURL, Candidates: []string{target}}
	}
	return f, nil
}

func treeLeaves(tree *index.PathNode) []string {
	var urls []string
	tree.Walk(func(_ []string, leaf string) {
		urls = append(urls, leaf)
	})
	sort.Strings(urls)
	return urls
}
