// Package cdn understands the URL shapes served by ESM CDNs: package
// roots like /name@version, scoped packages, build-target directories and
// the peer-context query strings the mirror appends to cloned units.
package cdn

import (
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
)

// buildTargets are the per-runtime output directories a CDN may insert
// between the package root and the actual module file.
var buildTargets = map[string]bool{
	"es2015":   true,
	"es2016":   true,
	"es2017":   true,
	"es2018":   true,
	"es2019":   true,
	"es2020":   true,
	"es2021":   true,
	"es2022":   true,
	"esnext":   true,
	"deno":     true,
	"denonext": true,
	"node":     true,
}

// UnitURL is the decomposed form of a CDN file URL.
type UnitURL struct {
	Base    string            // scheme://host/name@version[/subpath], query dropped
	Name    string            // package name, including any scope
	Version string            // version or tag exactly as it appears in the URL
	Subpath string            // path inside the unit, "" for the package root
	Peers   map[string]string // peer-context query parameters, nil when absent
}

// ParseUnitURL decomposes an absolute CDN URL into its unit parts.
func ParseUnitURL(raw string) (*UnitURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid CDN URL %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("CDN URL %q is not absolute", raw)
	}

	nameVer, subSegs, err := splitPackagePath(u.Path)
	if err != nil {
		return nil, fmt.Errorf("CDN URL %q: %w", raw, err)
	}

	at := strings.LastIndex(nameVer, "@")
	if at <= 0 {
		return nil, fmt.Errorf("CDN URL %q is missing a package version", raw)
	}
	name := nameVer[:at]
	version := nameVer[at+1:]
	if version == "" {
		return nil, fmt.Errorf("CDN URL %q has an empty package version", raw)
	}

	unit := &UnitURL{
		Name:    name,
		Version: version,
		Subpath: strings.Join(subSegs, "/"),
	}

	basePath := "/" + nameVer
	if unit.Subpath != "" {
		basePath += "/" + unit.Subpath
	}
	unit.Base = u.Scheme + "://" + u.Host + basePath

	if u.RawQuery != "" {
		vals, err := url.ParseQuery(u.RawQuery)
		if err != nil {
			return nil, fmt.Errorf("CDN URL %q has an invalid query: %w", raw, err)
		}
		peers := make(map[string]string, len(vals))
		for k, vs := range vals {
			if len(vs) > 0 {
				peers[k] = vs[0]
			}
		}
		if len(peers) > 0 {
			unit.Peers = peers
		}
	}
	return unit, nil
}

// splitPackagePath separates the name@version head of a CDN path from the
// remaining subpath segments, keeping scoped names intact.
func splitPackagePath(p string) (nameVer string, rest []string, err error) {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	if len(segs) == 0 || segs[0] == "" {
		return "", nil, fmt.Errorf("no package in path %q", p)
	}
	nameVer = segs[0]
	rest = segs[1:]
	if strings.HasPrefix(segs[0], "@") && !strings.Contains(segs[0][1:], "@") {
		if len(segs) < 2 {
			return "", nil, fmt.Errorf("scoped package in path %q is missing its name", p)
		}
		nameVer = segs[0] + "/" + segs[1]
		rest = segs[2:]
	}
	return nameVer, rest, nil
}

// ContextURL qualifies base with a sorted peer=version query string. It is
// the single producer of context-qualified URLs, so equal contexts always
// yield byte-identical URLs.
func ContextURL(base string, peers map[string]string) string {
	if len(peers) == 0 {
		return base
	}
	vals := url.Values{}
	for n, v := range peers {
		vals.Set(n, v)
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + vals.Encode()
}

// StripContext removes any query and fragment from a URL, leaving the base
// file URL.
func StripContext(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}

// IsHost reports whether raw points at one of the given CDN hosts.
func IsHost(raw string, hosts map[string]bool) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return hosts[u.Host]
}

// ResolveSpecifier turns an import specifier found in a file fetched from
// `from` into an absolute, query-free URL. Absolute specifiers pass
// through; root-relative specifiers inherit from's scheme and host and
// have any version-constraint operator normalized away; ./ and ../
// specifiers use standard path-segment resolution against from. Bare
// specifiers are returned unchanged with resolved=false.
func ResolveSpecifier(specifier, from string) (resolved string, isURL bool, err error) {
	switch {
	case strings.HasPrefix(specifier, "http://"), strings.HasPrefix(specifier, "https://"):
		return StripContext(specifier), true, nil

	case strings.HasPrefix(specifier, "/"):
		fromURL, err := url.Parse(from)
		if err != nil || fromURL.Scheme == "" || fromURL.Host == "" {
			return "", false, fmt.Errorf("cannot resolve %q: invalid source URL %q", specifier, from)
		}
		return fromURL.Scheme + "://" + fromURL.Host + NormalizeConstraintPath(StripContext(specifier)), true, nil

	case strings.HasPrefix(specifier, "./"), strings.HasPrefix(specifier, "../"):
		base, err := url.Parse(StripContext(from))
		if err != nil || base.Scheme == "" || base.Host == "" {
			return "", false, fmt.Errorf("cannot resolve %q: invalid source URL %q", specifier, from)
		}
		// A package-root URL has no file segment; treat it as a directory
		// so relative imports stay inside the package.
		if unit, uerr := ParseUnitURL(StripContext(from)); uerr == nil && unit.Subpath == "" && !strings.HasSuffix(base.Path, "/") {
			base.Path += "/"
		}
		ref, err := url.Parse(specifier)
		if err != nil {
			return "", false, fmt.Errorf("cannot resolve %q against %q: %w", specifier, from, err)
		}
		return StripContext(base.ResolveReference(ref).String()), true, nil

	default:
		return specifier, false, nil
	}
}

// NormalizeConstraintPath strips semver-constraint operator prefixes from
// the version part of a root-relative path, so /react@^19.1.1/x becomes
// /react@19.1.1/x. Queries and fragments are dropped.
func NormalizeConstraintPath(p string) string {
	p = StripContext(p)
	nameVer, rest, err := splitPackagePath(p)
	if err != nil {
		return p
	}
	at := strings.LastIndex(nameVer, "@")
	if at <= 0 {
		return p
	}
	version := nameVer[at+1:]
	if unescaped, uerr := url.PathUnescape(version); uerr == nil {
		version = unescaped
	}
	version = strings.TrimLeft(version, "^~><=")

	out := "/" + nameVer[:at] + "@" + version
	if len(rest) > 0 {
		out += "/" + strings.Join(rest, "/")
	}
	return out
}

// ConstraintFromPath extracts the raw version text of a specifier path
// before normalization, e.g. "^19.1.1" from /react@^19.1.1/x. Empty when
// the specifier carries no version.
func ConstraintFromPath(p string) string {
	nameVer, _, err := splitPackagePath(StripContext(p))
	if err != nil {
		return ""
	}
	at := strings.LastIndex(nameVer, "@")
	if at <= 0 {
		return ""
	}
	version := nameVer[at+1:]
	if unescaped, uerr := url.PathUnescape(version); uerr == nil {
		return unescaped
	}
	return version
}

// InternalPath returns the unit-internal path segments of a parsed URL
// with any leading build-target directory stripped. Empty for package
// roots.
func (u *UnitURL) InternalPath() []string {
	if u.Subpath == "" {
		return nil
	}
	segs := strings.Split(u.Subpath, "/")
	if len(segs) > 1 && buildTargets[segs[0]] {
		segs = segs[1:]
	}
	return segs
}

// RelativeSegments cleans a ./ or ../ import specifier into the path
// segments used against a relative-import tree: leading dot segments and
// any leading build-target directory are dropped.
func RelativeSegments(specifier string) []string {
	p := path.Clean(StripContext(specifier))
	for strings.HasPrefix(p, "../") {
		p = p[len("../"):]
	}
	if p == "." || p == ".." || p == "" {
		return nil
	}
	segs := strings.Split(p, "/")
	if len(segs) > 1 && buildTargets[segs[0]] {
		segs = segs[1:]
	}
	return segs
}

// SortedPeerNames returns the peer names of a context map in canonical
// order.
func SortedPeerNames(peers map[string]string) []string {
	names := make([]string, 0, len(peers))
	for n := range peers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
