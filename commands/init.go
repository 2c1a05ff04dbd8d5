// Package commands contains the definitions for the cairn CLI commands.
package commands

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/nightconcept/cairn-go/internal/core/config"
)

// Helper function to prompt user and get input with a default value
func promptWithDefault(reader *bufio.Reader, promptText string, defaultValue string) (string, error) {
	// Show default if not empty
	if defaultValue != "" {
		fmt.Printf("%s (default: %s): ", promptText, defaultValue)
	} else {
		fmt.Printf("%s: ", promptText)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input for '%s': %w", promptText, err)
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultValue, nil
	}
	return input, nil
}

// GetInitCommand returns the definition for the "init" command.
func GetInitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize a new mirror catalog (creates cairn.toml)",
		Action: func(c *cli.Context) error {
			fmt.Println("Starting mirror initialization...")

			reader := bufio.NewReader(os.Stdin)

			registryURL, err := promptWithDefault(reader, "Registry URL", config.DefaultRegistry)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			mirrorDir, err := promptWithDefault(reader, "Mirror directory", config.DefaultMirrorDir)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			packages := make(map[string]string)
			fmt.Println("\nEnter packages to mirror (leave package name empty to finish):")

			for {
				pkgName, err := promptWithDefault(reader, "Package name", "")
				if err != nil {
					return cli.Exit(fmt.Sprintf("Error reading package name: %v", err), 1)
				}

				if pkgName == "" {
					break
				}

				defaultTemplate := fmt.Sprintf("https://esm.sh/%s@%s", pkgName, config.VersionPlaceholder)
				template, err := promptWithDefault(reader, fmt.Sprintf("URL template for '%s'", pkgName), defaultTemplate)
				if err != nil {
					return cli.Exit(fmt.Sprintf("Error reading URL template for '%s': %v", pkgName, err), 1)
				}

				packages[pkgName] = template
			}

			var groups []config.SameVersionGroup
			fmt.Println("\nEnter same-version groups as comma-separated package names (leave empty to finish):")

			for {
				groupLine, err := promptWithDefault(reader, "Group members", "")
				if err != nil {
					return cli.Exit(fmt.Sprintf("Error reading group members: %v", err), 1)
				}

				if groupLine == "" {
					break
				}

				var members []string
				for _, m := range strings.Split(groupLine, ",") {
					if m = strings.TrimSpace(m); m != "" {
						members = append(members, m)
					}
				}
				if len(members) < 2 {
					fmt.Println("A group needs at least two members, skipping.")
					continue
				}
				groups = append(groups, config.SameVersionGroup{Members: members})
			}

			cfg := &config.Config{
				Mirror: config.MirrorSettings{
					Dir:         mirrorDir,
					Index:       filepath.ToSlash(filepath.Join(mirrorDir, "index.json")),
					Registry:    registryURL,
					Concurrency: config.DefaultConcurrency,
					Retries:     config.DefaultRetries,
					UserAgent:   config.DefaultUserAgent,
				},
				Packages: packages,
				Groups:   groups,
			}

			fmt.Println("\n--- Collected Configuration ---")
			fmt.Printf("Registry:  %s\n", registryURL)
			fmt.Printf("Mirror:    %s\n", mirrorDir)
			fmt.Printf("Packages:  %d\n", len(packages))
			fmt.Printf("Groups:    %d\n", len(groups))
			fmt.Println("-------------------------------")

			if err := cfg.Validate(); err != nil {
				return cli.Exit(fmt.Sprintf("Error: collected configuration is invalid: %v", err), 1)
			}

			if err := config.Write(config.ConfigName, cfg); err != nil {
				return cli.Exit(fmt.Sprintf("Error writing %s: %v", config.ConfigName, err), 1)
			}

			fmt.Printf("\nWrote to %s\n", config.ConfigName)

			return nil
		},
	}
}
