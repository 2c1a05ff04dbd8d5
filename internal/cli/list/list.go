package list

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/nightconcept/cairn-go/internal/core/config"
	"github.com/nightconcept/cairn-go/internal/core/index"
)

// packageStatus aggregates everything the report shows for one
// configured package.
type packageStatus struct {
	Name        string   `json:"name"`
	Template    string   `json:"template"`
	Versions    []string `json:"versions,omitempty"`
	Units       int      `json:"units"`
	Downloaded  int      `json:"downloaded"`
	Transformed int      `json:"transformed"`
}

// ListCmd defines the structure for the 'list' command.
var ListCmd = &cli.Command{
	Name:    "list",
	Aliases: []string{"ls"},
	Usage:   "Displays configured packages and their mirror status.",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Emit the status report as JSON",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := config.Load("")
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return cli.Exit(fmt.Sprintf("Error: %s not found. No mirror configuration loaded.", config.ConfigName), 1)
			}
			return cli.Exit(fmt.Sprintf("Error loading %s: %v", config.ConfigName, err), 1)
		}

		idx, err := index.Load(cfg.Mirror.Index)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Error loading index %s: %v", cfg.Mirror.Index, err), 1)
		}

		statuses := collectStatuses(cfg, idx)

		if c.Bool("json") {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(statuses); err != nil {
				return cli.Exit(fmt.Sprintf("Error encoding status report: %v", err), 1)
			}
			return nil
		}

		wd, err := os.Getwd()
		if err != nil {
			wd = "."
		}

		mirrorColor := color.New(color.FgMagenta, color.Bold, color.Underline).SprintFunc()
		registryColor := color.New(color.FgMagenta).SprintFunc()
		pathColor := color.New(color.FgHiBlack, color.Bold, color.Underline).SprintFunc()
		packagesHeaderColor := color.New(color.FgCyan, color.Bold).SprintFunc()
		pkgNameColor := color.New(color.FgWhite).SprintFunc()
		pkgVersionColor := color.New(color.FgYellow).SprintFunc()
		pkgDetailColor := color.New(color.FgHiBlack).SprintFunc()
		atStr := "@"

		fmt.Printf("%s%s%s %s\n", mirrorColor(cfg.Mirror.Dir), atStr, registryColor(cfg.Mirror.Registry), pathColor(wd))
		fmt.Println()

		fmt.Println(packagesHeaderColor("packages:"))
		if len(statuses) == 0 {
			fmt.Printf("No packages configured in %s.\n", config.ConfigName)
			return nil
		}

		for _, st := range statuses {
			versionsText := "not analyzed"
			if len(st.Versions) > 0 {
				versionsText = strings.Join(st.Versions, ", ")
			}
			detail := fmt.Sprintf("%d unit(s), %d downloaded, %d rewritten", st.Units, st.Downloaded, st.Transformed)
			fmt.Printf("%s %s %s\n", pkgNameColor(st.Name), pkgVersionColor(versionsText), pkgDetailColor(detail))
		}

		if files, size := mirrorFootprint(cfg.Mirror.Dir, idx); files > 0 {
			fmt.Println()
			fmt.Printf("%d file(s) mirrored in %s (%s).\n", files, cfg.Mirror.Dir, formatBytes(size))
		}
		return nil
	},
}

// mirrorFootprint counts distinct mirrored files and sums their on-disk
// sizes. Several URLs may map to the same file; missing files count for
// zero bytes.
func mirrorFootprint(dir string, idx *index.LookupIndex) (int, int64) {
	seen := make(map[string]struct{}, len(idx.URLToFile))
	var total int64
	for _, file := range idx.URLToFile {
		if _, dup := seen[file]; dup {
			continue
		}
		seen[file] = struct{}{}
		if fi, err := os.Stat(filepath.Join(dir, file)); err == nil {
			total += fi.Size()
		}
	}
	return len(seen), total
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	value, suffix := float64(n)/unit, "KB"
	for _, next := range []string{"MB", "GB"} {
		if value < unit {
			break
		}
		value /= unit
		suffix = next
	}
	return fmt.Sprintf("%.1f %s", value, suffix)
}

// collectStatuses folds the index rows into per-package counters, in
// configured-package name order.
func collectStatuses(cfg *config.Config, idx *index.LookupIndex) []packageStatus {
	byName := make(map[string]*packageStatus, len(cfg.Packages))
	names := make([]string, 0, len(cfg.Packages))
	for name, template := range cfg.Packages {
		byName[name] = &packageStatus{
			Name:     name,
			Template: template,
			Versions: idx.AvailableVersions[name],
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for i := range idx.Packages {
		row := &idx.Packages[i]
		st, ok := byName[row.Name]
		if !ok {
			continue
		}
		st.Units++
		if row.Downloaded {
			st.Downloaded++
		}
		if row.Transformed {
			st.Transformed++
		}
	}

	statuses := make([]packageStatus, 0, len(names))
	for _, name := range names {
		statuses = append(statuses, *byName[name])
	}
	return statuses
}
