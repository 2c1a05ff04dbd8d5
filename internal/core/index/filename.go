package index

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/nightconcept/cairn-go/internal/core/hasher"
)

// FileExt is the extension carried by every mirrored file.
const FileExt = ".mjs"

// FileInfo is the decoded form of a mirror filename.
type FileInfo struct {
	Name    string
	Version string
	Peers   map[string]string
	Token   string
}

// BuildFilename is the one place mirror filenames are produced. The
// grammar is
//
//	<name>@<version>[~<peer>-<ver>[_<peer>-<ver>...]].<token>.mjs
//
// with "/" in package names replaced by "+" and peer entries sorted by
// name. ParseFilename is its inverse.
func BuildFilename(name, version string, peers map[string]string, token string) string {
	var b strings.Builder
	b.WriteString(sanitizeName(name))
	b.WriteByte('@')
	b.WriteString(version)

	if len(peers) > 0 {
		b.WriteByte('~')
		names := make([]string, 0, len(peers))
		for n := range peers {
			names = append(names, n)
		}
		sort.Strings(names)
		for i, n := range names {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteString(sanitizeName(n))
			b.WriteByte('-')
			b.WriteString(peers[n])
		}
	}

	b.WriteByte('.')
	b.WriteString(token)
	b.WriteString(FileExt)
	return b.String()
}

// ParseFilename decodes a mirror filename back into its (name, version,
// peers, token) parts. It is strict: anything that does not match the
// BuildFilename grammar exactly is an error, which lets callers use it to
// recognize already-mirrored specifiers.
func ParseFilename(filename string) (*FileInfo, error) {
	if !strings.HasSuffix(filename, FileExt) {
		return nil, fmt.Errorf("filename %q does not end in %s", filename, FileExt)
	}
	core := strings.TrimSuffix(filename, FileExt)

	lastDot := strings.LastIndex(core, ".")
	if lastDot < 0 {
		return nil, fmt.Errorf("filename %q is missing its content token", filename)
	}
	token := core[lastDot+1:]
	if !isHexToken(token) {
		return nil, fmt.Errorf("filename %q has an invalid content token %q", filename, token)
	}
	rest := core[:lastDot]

	unit := rest
	var peersPart string
	if tilde := strings.Index(rest, "~"); tilde >= 0 {
		unit = rest[:tilde]
		peersPart = rest[tilde+1:]
	}

	at := strings.LastIndex(unit, "@")
	if at <= 0 {
		return nil, fmt.Errorf("filename %q is missing a version separator", filename)
	}
	name := unsanitizeName(unit[:at])
	version := unit[at+1:]
	if version == "" {
		return nil, fmt.Errorf("filename %q has an empty version", filename)
	}

	info := &FileInfo{Name: name, Version: version, Token: token}
	if peersPart != "" {
		peers, err := parsePeerSuffix(peersPart)
		if err != nil {
			return nil, fmt.Errorf("filename %q: %w", filename, err)
		}
		info.Peers = peers
	}
	return info, nil
}

func sanitizeName(name string) string {
	return strings.ReplaceAll(name, "/", "+")
}

func unsanitizeName(name string) string {
	return strings.ReplaceAll(name, "+", "/")
}

func isHexToken(s string) bool {
	if len(s) != hasher.FileTokenLength {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// parsePeerSuffix splits "name-ver_name-ver..." entries. Package names may
// themselves contain underscores and dashes, so segments are accumulated
// until the accumulated text splits into a name and a release version.
func parsePeerSuffix(s string) (map[string]string, error) {
	peers := make(map[string]string)
	var pending string
	for _, seg := range strings.Split(s, "_") {
		if pending == "" {
			pending = seg
		} else {
			pending = pending + "_" + seg
		}
		name, version, ok := splitPeerEntry(pending)
		if !ok {
			continue
		}
		peers[unsanitizeName(name)] = version
		pending = ""
	}
	if pending != "" {
		return nil, fmt.Errorf("unparseable peer suffix %q", s)
	}
	return peers, nil
}

// splitPeerEntry finds the dash separating a peer name from its version:
// the first dash whose suffix is a plain release version or "latest".
func splitPeerEntry(entry string) (name, version string, ok bool) {
	for i := 0; i < len(entry); i++ {
		if entry[i] != '-' || i == 0 {
			continue
		}
		candidate := entry[i+1:]
		if isPeerVersion(candidate) {
			return entry[:i], candidate, true
		}
	}
	return "", "", false
}

func isPeerVersion(v string) bool {
	if v == "latest" {
		return true
	}
	sv, err := semver.StrictNewVersion(v)
	if err != nil {
		return false
	}
	return sv.Prerelease() == "" && sv.Metadata() == ""
}
