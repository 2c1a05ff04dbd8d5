package remove

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/nightconcept/cairn-go/internal/core/config"
)

// RemoveCommand defines the structure for the 'remove' CLI command.
func RemoveCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Removes a package from the mirror catalog",
		ArgsUsage: "<package_name>",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.Exit("Error: Missing package name argument.", 1)
			}
			name := c.Args().First()

			cfg, err := config.Load("")
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return cli.Exit(fmt.Sprintf("Error: %s not found in the current directory.", config.ConfigName), 1)
				}
				return cli.Exit(fmt.Sprintf("Error: Failed to load %s: %v", config.ConfigName, err), 1)
			}

			if !cfg.Managed(name) {
				return cli.Exit(fmt.Sprintf("Error: Package '%s' not found in %s.", name, config.ConfigName), 1)
			}
			delete(cfg.Packages, name)

			// Groups shrinking below two members stop being groups.
			var groups []config.SameVersionGroup
			for _, g := range cfg.Groups {
				var members []string
				for _, m := range g.Members {
					if m != name {
						members = append(members, m)
					}
				}
				if len(members) >= 2 {
					groups = append(groups, config.SameVersionGroup{Members: members})
				}
			}
			cfg.Groups = groups

			var subpaths []config.Subpath
			for _, s := range cfg.Subpaths {
				if s.Package != name {
					subpaths = append(subpaths, s)
				}
			}
			cfg.Subpaths = subpaths

			if err := config.Write(config.ConfigName, cfg); err != nil {
				return cli.Exit(fmt.Sprintf("Error writing %s: %v", config.ConfigName, err), 1)
			}

			fmt.Printf("Removed '%s' from %s.\n", name, config.ConfigName)
			fmt.Println("Previously mirrored files and index rows are left in place.")
			return nil
		},
	}
}
