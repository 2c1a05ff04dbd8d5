// Package fetch implements the second mirror stage: it downloads every
// unit the index rows call for, replicates peer permutations and records
// the relative-import trees the rewrite stage resolves against.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"

	"github.com/nightconcept/cairn-go/internal/core/config"
	"github.com/nightconcept/cairn-go/internal/core/fetcher"
	"github.com/nightconcept/cairn-go/internal/core/index"
	"github.com/nightconcept/cairn-go/internal/core/relmap"
)

// Options control one fetch pass.
type Options struct {
	// Force redownloads units already marked downloaded.
	Force bool
	// Concurrency overrides the configured worker count when positive.
	Concurrency int
	Verbose     bool
}

// NewFetchCommand creates the cli.Command for the "fetch" command.
func NewFetchCommand() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Downloads the analyzed units into the mirror directory",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "Redownload units even if they are already marked downloaded",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "Download worker count, overriding the configured value",
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
				Force:       c.Bool("force"),
				Concurrency: c.Int("concurrency"),
				Verbose:     c.Bool("verbose"),
			}
			if err := Run(c.Context, cfg, opts); err != nil {
				return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
			}
			return nil
		},
	}
}

// Run performs the fetch stage against an already loaded configuration.
// The index is saved only after the run and the relative-import mapping
// both succeed, so an aborted run never persists download marks whose
// import trees were not recorded.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	idx, err := index.Load(cfg.Mirror.Index)
	if err != nil {
		return err
	}
	if len(idx.Packages) == 0 {
		return fmt.Errorf("index %s has no analyzed units, run 'cairn analyze' first", cfg.Mirror.Index)
	}

	concurrency := cfg.Mirror.Concurrency
	if opts.Concurrency > 0 {
		concurrency = opts.Concurrency
	}
	fopts := fetcher.Options{
		Dir:         cfg.Mirror.Dir,
		Hosts:       cfg.CDNHosts(),
		Groups:      cfg.Groups,
		Concurrency: concurrency,
		Retries:     cfg.Mirror.Retries,
		UserAgent:   cfg.Mirror.UserAgent,
		Force:       opts.Force,
		Warnf: func(format string, args ...any) {
			_, _ = fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
		},
	}

	var bar *progressbar.ProgressBar
	if opts.Verbose {
		fopts.Logf = func(format string, args ...any) {
			_, _ = fmt.Fprintf(os.Stdout, format+"\n", args...)
		}
	} else {
		bar = progressbar.NewOptions(len(idx.Packages),
			progressbar.OptionSetDescription(" fetching"),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
		)
		fopts.Progress = func() { _ = bar.Add(1) }
	}

	f := fetcher.New(idx, fopts)
	runErr := f.Run(ctx)
	if bar != nil {
		_ = bar.Finish()
		_, _ = fmt.Fprintln(os.Stdout)
	}
	if runErr != nil {
		return runErr
	}

	if err := relmap.Build(f.Store(), idx, cfg.Groups); err != nil {
		return err
	}
	if err := idx.Save(cfg.Mirror.Index); err != nil {
		return err
	}

	downloaded := 0
	for i := range idx.Packages {
		if idx.Packages[i].Downloaded {
			downloaded++
		}
	}
	_, _ = fmt.Fprintf(os.Stdout, "Fetched %d of %d unit(s): %d file(s) in %s.\n",
		downloaded, len(idx.Packages), len(idx.URLToFile), cfg.Mirror.Dir)
	return nil
}
