package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
)

// ConfigName is the default configuration filename looked up in the
// working directory.
const ConfigName = "cairn.toml"

// VersionPlaceholder must appear in every package URL template; it is
// substituted with a concrete version when units are generated.
const VersionPlaceholder = "{version}"

// Defaults applied when cairn.toml omits the corresponding [mirror] keys.
const (
	DefaultRegistry    = "https://registry.npmjs.org"
	DefaultMirrorDir   = "mirror"
	DefaultConcurrency = 8
	DefaultRetries     = 4
	DefaultUserAgent   = "cairn-mirror"
)

// MirrorSettings holds the [mirror] table of cairn.toml.
type MirrorSettings struct {
	Dir         string `toml:"dir"`
	Index       string `toml:"index"`
	Registry    string `toml:"registry"`
	CDNHost     string `toml:"cdn_host,omitempty"`
	Concurrency int    `toml:"concurrency"`
	Retries     int    `toml:"retries"`
	UserAgent   string `toml:"user_agent,omitempty"`
}

// SameVersionGroup declares packages whose versions must move in lockstep.
// The first member acts as the group primary when versions are chosen.
type SameVersionGroup struct {
	Members []string `toml:"members"`
}

// Subpath declares a package-internal entry point that is mirrored as its
// own top-level unit, optionally gated by a version constraint.
type Subpath struct {
	Package    string `toml:"package"`
	Path       string `toml:"path"`
	Constraint string `toml:"constraint,omitempty"`
}

// Config represents the full cairn.toml structure.
type Config struct {
	Mirror   MirrorSettings     `toml:"mirror"`
	Packages map[string]string  `toml:"packages"`
	Groups   []SameVersionGroup `toml:"groups,omitempty"`
	Subpaths []Subpath          `toml:"subpaths,omitempty"`
}

// Load reads and validates the configuration at path. An empty path falls
// back to CAIRN_CONFIG, then ConfigName in the current directory.
// CAIRN_REGISTRY, CAIRN_MIRROR_DIR and CAIRN_INDEX environment variables
// override the corresponding file values.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CAIRN_CONFIG")
	}
	if path == "" {
		path = ConfigName
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return &cfg, nil
}

// Write marshals cfg and writes it to path, overwriting any existing file.
func Write(path string, cfg *Config) error {
	buf := new(bytes.Buffer)
	enc := toml.NewEncoder(buf)
	enc.Indent = "\t"
	if err := enc.Encode(cfg); err != nil {
		return err
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	_, err = file.Write(buf.Bytes())
	return err
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CAIRN_REGISTRY"); v != "" {
		cfg.Mirror.Registry = v
	}
	if v := os.Getenv("CAIRN_MIRROR_DIR"); v != "" {
		cfg.Mirror.Dir = v
	}
	if v := os.Getenv("CAIRN_INDEX"); v != "" {
		cfg.Mirror.Index = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Mirror.Registry == "" {
		cfg.Mirror.Registry = DefaultRegistry
	}
	if cfg.Mirror.Dir == "" {
		cfg.Mirror.Dir = DefaultMirrorDir
	}
	if cfg.Mirror.Index == "" {
		cfg.Mirror.Index = filepath.Join(cfg.Mirror.Dir, "index.json")
	}
	if cfg.Mirror.Concurrency <= 0 {
		cfg.Mirror.Concurrency = DefaultConcurrency
	}
	if cfg.Mirror.Retries <= 0 {
		cfg.Mirror.Retries = DefaultRetries
	}
	if cfg.Mirror.UserAgent == "" {
		cfg.Mirror.UserAgent = DefaultUserAgent
	}
}

// Validate checks structural correctness of the configuration: URL
// templates must be absolute and carry the version placeholder, group
// members and subpath parents must be declared packages, and subpath
// constraints must parse.
func (c *Config) Validate() error {
	for name, tmpl := range c.Packages {
		if name == "" {
			return fmt.Errorf("package with empty name")
		}
		if !strings.Contains(tmpl, VersionPlaceholder) {
			return fmt.Errorf("package %q: URL template is missing the %s placeholder", name, VersionPlaceholder)
		}
		probe := strings.ReplaceAll(tmpl, VersionPlaceholder, "0.0.0")
		u, err := url.Parse(probe)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("package %q: URL template %q is not an absolute URL", name, tmpl)
		}
	}

	for i, g := range c.Groups {
		if len(g.Members) < 2 {
			return fmt.Errorf("group %d: needs at least two members", i)
		}
		for _, m := range g.Members {
			if _, ok := c.Packages[m]; !ok {
				return fmt.Errorf("group %d: member %q is not a declared package", i, m)
			}
		}
	}

	for i, s := range c.Subpaths {
		if _, ok := c.Packages[s.Package]; !ok {
			return fmt.Errorf("subpath %d: package %q is not a declared package", i, s.Package)
		}
		if s.Path == "" {
			return fmt.Errorf("subpath %d: empty path for package %q", i, s.Package)
		}
		if s.Constraint != "" {
			if _, err := semver.NewConstraint(s.Constraint); err != nil {
				return fmt.Errorf("subpath %d: invalid constraint %q: %w", i, s.Constraint, err)
			}
		}
	}
	return nil
}

// URL builds the concrete CDN URL for a package at a version by
// substituting the template placeholder.
func (c *Config) URL(name, version string) (string, error) {
	tmpl, ok := c.Packages[name]
	if !ok {
		return "", fmt.Errorf("package %q has no URL template", name)
	}
	return strings.ReplaceAll(tmpl, VersionPlaceholder, version), nil
}

// CDNHosts returns the set of hostnames treated as CDN hosts: the hosts of
// every package URL template plus the optional cdn_host override.
func (c *Config) CDNHosts() map[string]bool {
	hosts := make(map[string]bool)
	if c.Mirror.CDNHost != "" {
		hosts[c.Mirror.CDNHost] = true
	}
	for _, tmpl := range c.Packages {
		probe := strings.ReplaceAll(tmpl, VersionPlaceholder, "0.0.0")
		if u, err := url.Parse(probe); err == nil && u.Host != "" {
			hosts[u.Host] = true
		}
	}
	return hosts
}

// Managed reports whether name is one of the configured packages.
func (c *Config) Managed(name string) bool {
	_, ok := c.Packages[name]
	return ok
}
