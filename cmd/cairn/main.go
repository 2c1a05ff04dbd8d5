package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/nightconcept/cairn-go/commands"
	"github.com/nightconcept/cairn-go/internal/cli/add"
	"github.com/nightconcept/cairn-go/internal/cli/analyze"
	"github.com/nightconcept/cairn-go/internal/cli/fetch"
	"github.com/nightconcept/cairn-go/internal/cli/list"
	"github.com/nightconcept/cairn-go/internal/cli/mirror"
	"github.com/nightconcept/cairn-go/internal/cli/remove"
	"github.com/nightconcept/cairn-go/internal/cli/rewrite"
	"github.com/nightconcept/cairn-go/internal/cli/self"
)

func main() {
	// An optional .env file feeds the CAIRN_* overrides read at config
	// load time.
	_ = godotenv.Load()

	app := &cli.App{
		Name:    "cairn",
		Usage:   "Mirrors ESM packages from a CDN into a self-contained local directory",
		Version: "v0.1.0",
		Action: func(c *cli.Context) error {
			// Default action if no command is specified
			_ = cli.ShowAppHelp(c)
			return nil
		},
		Commands: []*cli.Command{
			commands.GetInitCommand(),
			add.AddCommand,
			remove.RemoveCommand(),
			analyze.NewAnalyzeCommand(),
			fetch.NewFetchCommand(),
			rewrite.NewRewriteCommand(),
			mirror.NewMirrorCommand(),
			list.ListCmd,
			self.NewSelfCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
