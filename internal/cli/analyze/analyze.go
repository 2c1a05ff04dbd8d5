// Package analyze implements the first mirror stage: it reads the
// package catalog from cairn.toml, asks the registry which versions
// exist, narrows them to the mirrored subset and expands every kept
// version into dependency rows in the index.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/nightconcept/cairn-go/internal/core/config"
	"github.com/nightconcept/cairn-go/internal/core/fetcher"
	"github.com/nightconcept/cairn-go/internal/core/graph"
	"github.com/nightconcept/cairn-go/internal/core/index"
	"github.com/nightconcept/cairn-go/internal/core/registry"
	"github.com/nightconcept/cairn-go/internal/core/versions"
)

// Options control one analyze pass.
type Options struct {
	// SkipProbe trusts the registry's version list without confirming
	// each candidate exists on the CDN.
	SkipProbe bool
	// Only restricts the pass to the named packages. Empty means the
	// whole catalog.
	Only    []string
	Verbose bool
}

// NewAnalyzeCommand creates the cli.Command for the "analyze" command.
func NewAnalyzeCommand() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Resolves catalog versions and peer permutations into the mirror index",
		ArgsUsage: "[package_name...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "skip-probe",
				Usage: "Trust the registry's version list without probing the CDN",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable verbose output",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load("")
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return cli.Exit("Error: cairn.toml not found in the current directory. Please run 'cairn init' first.", 1)
				}
				return cli.Exit(fmt.Sprintf("Error loading cairn.toml: %v", err), 1)
			}

			opts := Options{
				SkipProbe: c.Bool("skip-probe"),
				Only:      c.Args().Slice(),
				Verbose:   c.Bool("verbose"),
			}
			if err := Run(c.Context, cfg, opts); err != nil {
				return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
			}
			return nil
		},
	}
}

// Run performs the analyze stage against an already loaded configuration.
// Registry failures are package-scoped: the affected package is skipped
// with a warning and the run continues with the rest of the catalog.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	idx, err := index.Load(cfg.Mirror.Index)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(cfg.Packages))
	for name := range cfg.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No packages configured in cairn.toml. Use 'cairn add' to mirror one.")
		return nil
	}
	if len(opts.Only) > 0 {
		for _, name := range opts.Only {
			if !cfg.Managed(name) {
				return fmt.Errorf("package %q is not in %s", name, config.ConfigName)
			}
		}
		names = append([]string(nil), opts.Only...)
		sort.Strings(names)
	}

	httpClient := fetcher.NewHTTPClient(cfg.Mirror.Retries)
	client := registry.NewClient(cfg.Mirror.Registry, cfg.Mirror.UserAgent, httpClient)

	available := make(map[string][]string)
	peerDeps := make(map[string]map[string]string)

	for _, name := range names {
		if opts.Verbose {
			_, _ = fmt.Fprintf(os.Stdout, "Fetching registry metadata for %s...\n", name)
		}
		meta, err := client.Metadata(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			_, _ = fmt.Fprintf(os.Stderr, "Warning: skipping %s: %v\n", name, err)
			continue
		}

		var probe versions.ProbeFunc
		if !opts.SkipProbe {
			probe = cdnProbe(ctx, cfg, httpClient, name, opts.Verbose)
		}
		selected := versions.Select(meta.VersionList(), probe)
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(selected) == 0 {
			_, _ = fmt.Fprintf(os.Stderr, "Warning: no mirrorable versions found for %s, skipping.\n", name)
			continue
		}
		if opts.Verbose {
			_, _ = fmt.Fprintf(os.Stdout, "  Selected versions: %s\n", strings.Join(selected, ", "))
		}

		available[name] = selected
		for _, version := range selected {
			if peers := meta.PeerConstraints(version); peers != nil {
				peerDeps[name+"@"+version] = peers
			}
		}
	}

	if len(available) == 0 {
		return fmt.Errorf("none of the %d package(s) could be analyzed", len(names))
	}

	combinedAvail, combinedPeers := combineWithIndex(cfg, idx, available, peerDeps)
	rows, warnings, err := graph.Build(graph.Input{
		Config:    cfg,
		Available: combinedAvail,
		PeerDeps:  combinedPeers,
	})
	if err != nil {
		return err
	}
	for _, w := range warnings {
		_, _ = fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}

	before := len(idx.Packages)
	idx.Packages = graph.Merge(idx.Packages, rows)
	for name, selected := range available {
		idx.AvailableVersions[name] = selected
	}
	idx.StandaloneSubpaths = subpathSpecs(cfg)

	if err := idx.Save(cfg.Mirror.Index); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(os.Stdout, "Analyzed %d package(s): %d unit(s) in the index (%d new).\n",
		len(available), len(idx.Packages), len(idx.Packages)-before)
	return nil
}

// combineWithIndex overlays this pass's registry results onto the
// availability and peer constraints persisted with the previous index.
// A permutation may pin a peer that was analyzed in an earlier pass or
// whose registry read failed this time; without the persisted view such
// a package would collapse into a context-free unit.
func combineWithIndex(cfg *config.Config, idx *index.LookupIndex, available map[string][]string, peerDeps map[string]map[string]string) (map[string][]string, map[string]map[string]string) {
	combinedAvail := make(map[string][]string, len(idx.AvailableVersions)+len(available))
	for name, selected := range idx.AvailableVersions {
		if cfg.Managed(name) {
			combinedAvail[name] = selected
		}
	}
	combinedPeers := make(map[string]map[string]string, len(peerDeps))
	for i := range idx.Packages {
		row := &idx.Packages[i]
		if row.PeerDependencies == nil || !cfg.Managed(row.Name) {
			continue
		}
		if _, fresh := available[row.Name]; fresh {
			continue
		}
		combinedPeers[row.Name+"@"+row.Version] = row.PeerDependencies
	}
	for name, selected := range available {
		combinedAvail[name] = selected
	}
	for key, peers := range peerDeps {
		combinedPeers[key] = peers
	}
	return combinedAvail, combinedPeers
}

// cdnProbe builds the existence check version selection runs against the
// CDN: a registry can list versions the CDN never built.
func cdnProbe(ctx context.Context, cfg *config.Config, client *http.Client, name string, verbose bool) versions.ProbeFunc {
	return func(version string) bool {
		if ctx.Err() != nil {
			return false
		}
		probeURL, err := cfg.URL(name, version)
		if err != nil {
			return false
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, probeURL, nil)
		if err != nil {
			return false
		}
		if cfg.Mirror.UserAgent != "" {
			req.Header.Set("User-Agent", cfg.Mirror.UserAgent)
		}
		resp, err := client.Do(req)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Warning: could not probe %s@%s: %v\n", name, version, err)
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode != http.StatusOK {
			if verbose {
				_, _ = fmt.Fprintf(os.Stdout, "  %s@%s is not on the CDN (HTTP %d), dropping it.\n", name, version, resp.StatusCode)
			}
			return false
		}
		return true
	}
}

// subpathSpecs records the configured standalone subpaths in the index so
// later stages can resolve subpath imports without rereading cairn.toml.
func subpathSpecs(cfg *config.Config) map[string][]index.SubpathSpec {
	if len(cfg.Subpaths) == 0 {
		return nil
	}
	specs := make(map[string][]index.SubpathSpec)
	for _, sub := range cfg.Subpaths {
		specs[sub.Package] = append(specs[sub.Package], index.SubpathSpec{
			Path:       sub.Path,
			Constraint: sub.Constraint,
		})
	}
	return specs
}
