// Package mirror wires the three stages into the one command most runs
// use: analyze the catalog, fetch what the index calls for, rewrite the
// downloaded files. Each stage round-trips the index through disk, so an
// interrupted run can be resumed with the individual stage commands.
package mirror

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/nightconcept/cairn-go/internal/cli/analyze"
	"github.com/nightconcept/cairn-go/internal/cli/fetch"
	"github.com/nightconcept/cairn-go/internal/cli/rewrite"
	"github.com/nightconcept/cairn-go/internal/core/config"
)

// NewMirrorCommand creates the cli.Command for the "mirror" command.
func NewMirrorCommand() *cli.Command {
	return &cli.Command{
		Name:  "mirror",
		Usage: "Runs analyze, fetch and rewrite in one pass",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "force",
				Aliases: []string{"f"},
				Usage:   "Redownload and reprocess units even if they are already marked done",
			},
			&cli.BoolFlag{
				Name:  "skip-probe",
				Usage: "Trust the registry's version list without probing the CDN",
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

			force := c.Bool("force")
			verbose := c.Bool("verbose")

			_, _ = fmt.Fprintln(os.Stdout, "Analyzing package catalog...")
			aopts := analyze.Options{
				SkipProbe: c.Bool("skip-probe"),
				Verbose:   verbose,
			}
			if err := analyze.Run(c.Context, cfg, aopts); err != nil {
				return cli.Exit(fmt.Sprintf("Error during analyze: %v", err), 1)
			}

			_, _ = fmt.Fprintln(os.Stdout, "Fetching mirrored files...")
			fopts := fetch.Options{
				Force:       force,
				Concurrency: c.Int("concurrency"),
				Verbose:     verbose,
			}
			if err := fetch.Run(c.Context, cfg, fopts); err != nil {
				return cli.Exit(fmt.Sprintf("Error during fetch: %v", err), 1)
			}

			_, _ = fmt.Fprintln(os.Stdout, "Rewriting imports...")
			if err := rewrite.Run(cfg, rewrite.Options{Force: force, Verbose: verbose}); err != nil {
				return cli.Exit(fmt.Sprintf("Error during rewrite: %v", err), 1)
			}

			_, _ = fmt.Fprintf(os.Stdout, "Mirror in %s is up to date.\n", cfg.Mirror.Dir)
			return nil
		},
	}
}
