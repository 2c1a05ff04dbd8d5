// Package rewrite implements the third mirror stage: import specifiers
// in the downloaded files are replaced with the local filenames of the
// units they point at.
package rewrite

import (
	"errors"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"

	"github.com/nightconcept/cairn-go/internal/core/config"
	"github.com/nightconcept/cairn-go/internal/core/index"
	"github.com/nightconcept/cairn-go/internal/core/rewriter"
)

// Options control one rewrite pass.
type Options struct {
	// Force reprocesses units already marked transformed.
	Force   bool
	Verbose bool
}

// NewRewriteCommand creates the cli.Command for the "rewrite" command.
func NewRewriteCommand() *cli.Command {
	return &cli.Command{
		Name:  "rewrite",
		Usage: "Rewrites imports in the mirrored files to point into the mirror",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "Reprocess units even if they are already marked transformed",
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
				Force:   c.Bool("force"),
				Verbose: c.Bool("verbose"),
			}
			if err := Run(cfg, opts); err != nil {
				return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
			}
			return nil
		},
	}
}

// Run performs the rewrite stage against an already loaded configuration.
// A structural resolution failure aborts the run before any transform
// marks are persisted; files substituted up to that point are safe to
// reprocess because substitution is idempotent.
func Run(cfg *config.Config, opts Options) error {
	idx, err := index.Load(cfg.Mirror.Index)
	if err != nil {
		return err
	}
	if len(idx.URLToFile) == 0 {
		return fmt.Errorf("index %s records no mirrored files, run 'cairn fetch' first", cfg.Mirror.Index)
	}

	ropts := rewriter.Options{
		Dir:   cfg.Mirror.Dir,
		Hosts: cfg.CDNHosts(),
		Force: opts.Force,
	}

	var bar *progressbar.ProgressBar
	if opts.Verbose {
		ropts.Logf = func(format string, args ...any) {
			_, _ = fmt.Fprintf(os.Stdout, format+"\n", args...)
		}
	} else {
		bar = progressbar.NewOptions(len(idx.URLToFile),
			progressbar.OptionSetDescription(" rewriting"),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
		)
		ropts.Progress = func() { _ = bar.Add(1) }
	}

	res, runErr := rewriter.Run(idx, ropts)
	if bar != nil {
		_ = bar.Finish()
		_, _ = fmt.Fprintln(os.Stdout)
	}
	if runErr != nil {
		return runErr
	}

	if err := idx.Save(cfg.Mirror.Index); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(os.Stdout, "Rewrote %d of %d inspected file(s): %d import(s) now resolve locally.\n",
		res.FilesRewritten, res.FilesInspected, res.Substitutions)
	return nil
}
