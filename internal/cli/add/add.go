package add

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/nightconcept/cairn-go/internal/core/config"
)

// AddCommand defines the structure for the "add" command.
var AddCommand = &cli.Command{
	Name:      "add",
	Usage:     "Adds a package to the mirror catalog",
	ArgsUsage: "<package_name>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "template",
			Aliases: []string{"t"},
			Usage:   "CDN URL template for the package; " + config.VersionPlaceholder + " is replaced per version",
		},
		&cli.StringFlag{
			Name:    "group",
			Aliases: []string{"g"},
			Usage:   "Existing package whose same-version group this package joins",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "Enable verbose output",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() < 1 {
			return cli.Exit("Error: <package_name> argument is required.", 1)
		}
		name := c.Args().Get(0)
		verbose := c.Bool("verbose")

		cfg, err := config.Load("")
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return cli.Exit("Error: cairn.toml not found in the current directory. Please run 'cairn init' first.", 1)
			}
			return cli.Exit(fmt.Sprintf("Error loading %s: %v", config.ConfigName, err), 1)
		}

		template := c.String("template")
		if template == "" {
			template = fmt.Sprintf("https://esm.sh/%s@%s", name, config.VersionPlaceholder)
			if verbose {
				_, _ = fmt.Fprintf(os.Stdout, "No --template given, defaulting to %s\n", template)
			}
		}

		if cfg.Packages == nil {
			cfg.Packages = make(map[string]string)
		}
		if existing, ok := cfg.Packages[name]; ok && verbose {
			_, _ = fmt.Fprintf(os.Stdout, "Replacing existing template for '%s' (%s).\n", name, existing)
		}
		cfg.Packages[name] = template

		if groupWith := c.String("group"); groupWith != "" {
			if groupWith == name {
				return cli.Exit("Error: --group must name a different package.", 1)
			}
			if !cfg.Managed(groupWith) {
				return cli.Exit(fmt.Sprintf("Error: --group package '%s' is not in %s.", groupWith, config.ConfigName), 1)
			}
			joinGroup(cfg, name, groupWith)
			if verbose {
				_, _ = fmt.Fprintf(os.Stdout, "'%s' now moves in lockstep with '%s'.\n", name, groupWith)
			}
		}

		if err := cfg.Validate(); err != nil {
			return cli.Exit(fmt.Sprintf("Error: resulting configuration is invalid: %v", err), 1)
		}
		if err := config.Write(config.ConfigName, cfg); err != nil {
			return cli.Exit(fmt.Sprintf("Error writing %s: %v", config.ConfigName, err), 1)
		}

		_, _ = fmt.Fprintf(os.Stdout, "Added '%s' to %s.\nRun 'cairn mirror' to fetch it.\n", name, config.ConfigName)
		return nil
	},
}

// joinGroup adds name to the group containing groupWith, creating the
// group when groupWith is not in one yet.
func joinGroup(cfg *config.Config, name, groupWith string) {
	for i, g := range cfg.Groups {
		for _, m := range g.Members {
			if m != groupWith {
				continue
			}
			for _, existing := range g.Members {
				if existing == name {
					return
				}
			}
			cfg.Groups[i].Members = append(cfg.Groups[i].Members, name)
			return
		}
	}
	cfg.Groups = append(cfg.Groups, config.SameVersionGroup{Members: []string{groupWith, name}})
}
