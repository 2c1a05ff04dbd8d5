// Package registry reads package metadata (published versions and peer
// dependency constraints) from an npm-compatible registry.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
)

// ErrNotFound marks a package the registry does not know about. Callers
// skip the package with a warning instead of aborting the run.
var ErrNotFound = errors.New("package not found in registry")

// acceptHeader requests the abbreviated install metadata, which is much
// smaller than the full document and still carries peer dependencies.
const acceptHeader = "application/vnd.npm.install-v1+json"

// PeerMeta qualifies a peer dependency declaration.
type PeerMeta struct {
	Optional bool `json:"optional"`
}

// VersionMetadata is the per-version slice of the registry document the
// analyzer cares about.
type VersionMetadata struct {
	PeerDependencies     map[string]string   `json:"peerDependencies"`
	PeerDependenciesMeta map[string]PeerMeta `json:"peerDependenciesMeta"`
}

// PackageMetadata is the abbreviated registry document for one package.
type PackageMetadata struct {
	Name     string                     `json:"name"`
	Versions map[string]VersionMetadata `json:"versions"`
	DistTags map[string]string          `json:"dist-tags"`
}

// Client queries a package registry. BaseURL is overridable so tests can
// point it at a local server.
type Client struct {
	BaseURL   string
	UserAgent string
	HTTP      *http.Client
}

// NewClient builds a registry client on top of the given HTTP client.
func NewClient(baseURL, userAgent string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{BaseURL: baseURL, UserAgent: userAgent, HTTP: httpClient}
}

// Metadata fetches the abbreviated metadata document for a package.
// Scoped names are escaped the way the npm registry expects
// (@scope%2Fname).
func (c *Client) Metadata(ctx context.Context, name string) (*PackageMetadata, error) {
	apiURL := fmt.Sprintf("%s/%s", c.BaseURL, url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry request for %s: %w", name, err)
	}
	req.Header.Set("Accept", acceptHeader)
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request failed (%s): %w", apiURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("registry request failed with status %s (%s): %s", resp.Status, apiURL, string(bodyBytes))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry response (%s): %w", apiURL, err)
	}

	var meta PackageMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode registry response (%s): %w", apiURL, err)
	}
	if meta.Name == "" {
		meta.Name = name
	}
	return &meta, nil
}

// VersionList returns every published version string in sorted order.
func (m *PackageMetadata) VersionList() []string {
	versions := make([]string, 0, len(m.Versions))
	for v := range m.Versions {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// PeerConstraints returns the peer dependency constraints declared by one
// version, with peers marked optional dropped: optional peers do not force
// permutations.
func (m *PackageMetadata) PeerConstraints(version string) map[string]string {
	vm, ok := m.Versions[version]
	if !ok || len(vm.PeerDependencies) == 0 {
		return nil
	}
	peers := make(map[string]string, len(vm.PeerDependencies))
	for peer, constraint := range vm.PeerDependencies {
		if vm.PeerDependenciesMeta[peer].Optional {
			continue
		}
		peers[peer] = constraint
	}
	if len(peers) == 0 {
		return nil
	}
	return peers
}
