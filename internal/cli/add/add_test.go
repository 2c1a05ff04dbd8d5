package add

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/nightconcept/cairn-go/internal/core/config"
)

// setupAddTestEnvironment creates a temporary directory for testing and
// optionally initializes a cairn.toml file within it.
// It returns the path to the temporary directory.
func setupAddTestEnvironment(t *testing.T, initialCairnTomlContent string) (tempDir string) {
	t.Helper()
	tempDir = t.TempDir()

	if initialCairnTomlContent != "" {
		cairnTomlPath := filepath.Join(tempDir, config.ConfigName)
		err := os.WriteFile(cairnTomlPath, []byte(initialCairnTomlContent), 0644)
		require.NoError(t, err, "Failed to write initial cairn.toml")
	}
	return tempDir
}

// runAddCommand executes the 'add' command within a specific working directory.
// addCmdArgs should be the arguments for the 'add' command itself (name, flags).
func runAddCommand(t *testing.T, workDir string, addCmdArgs ...string) error {
	t.Helper()

	originalWd, err := os.Getwd()
	require.NoError(t, err, "Failed to get current working directory")
	err = os.Chdir(workDir)
	require.NoError(t, err, "Failed to change to working directory: %s", workDir)
	defer func() {
		require.NoError(t, os.Chdir(originalWd), "Failed to restore original working directory")
	}()

	app := &cli.App{
		Name: "cairn-test-add",
		Commands: []*cli.Command{
			AddCommand,
		},
		// Prevent os.Exit from being called by urfave/cli during tests
		ExitErrHandler: func(cCtx *cli.Context, err error) {},
	}
	fullArgs := []string{"cairn", "add"}
	fullArgs = append(fullArgs, addCmdArgs...)

	t.Setenv("NO_COLOR", "1")
	t.Setenv("CAIRN_CONFIG", "")
	t.Setenv("CAIRN_REGISTRY", "")
	t.Setenv("CAIRN_MIRROR_DIR", "")
	t.Setenv("CAIRN_INDEX", "")

	return app.Run(fullArgs)
}

func loadWrittenConfig(t *testing.T, workDir string) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join(workDir, config.ConfigName))
	require.NoError(t, err, "Failed to reload cairn.toml")
	return cfg
}

const minimalCairnToml = `
[mirror]
dir = "mirror"
`

func TestAddCommand_DefaultTemplate(t *testing.T) {
	tempDir := setupAddTestEnvironment(t, minimalCairnToml)

	err := runAddCommand(t, tempDir, "react")
	require.NoError(t, err)

	cfg := loadWrittenConfig(t, tempDir)
	assert.Equal(t, "https://esm.sh/react@{version}", cfg.Packages["react"])
	assert.Empty(t, cfg.Groups)
}

func TestAddCommand_CustomTemplateAndGroup(t *testing.T) {
	tempDir := setupAddTestEnvironment(t, minimalCairnToml+`
[packages]
react = "https://esm.sh/react@{version}"
`)

	err := runAddCommand(t, tempDir, "--template", "https://esm.sh/react-dom@{version}", "--group", "react", "react-dom")
	require.NoError(t, err)

	cfg := loadWrittenConfig(t, tempDir)
	assert.Equal(t, "https://esm.sh/react-dom@{version}", cfg.Packages["react-dom"])
	require.Len(t, cfg.Groups, 1)
	assert.Equal(t, []string{"react", "react-dom"}, cfg.Groups[0].Members)

	// A second member joins the existing group instead of opening a new one.
	err = runAddCommand(t, tempDir, "--group", "react", "scheduler")
	require.NoError(t, err)

	cfg = loadWrittenConfig(t, tempDir)
	require.Len(t, cfg.Groups, 1)
	assert.Equal(t, []string{"react", "react-dom", "scheduler"}, cfg.Groups[0].Members)
}

func TestAddCommand_GroupRequiresKnownPackage(t *testing.T) {
	tempDir := setupAddTestEnvironment(t, minimalCairnToml)

	err := runAddCommand(t, tempDir, "--group", "ghost", "react")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--group package 'ghost' is not in cairn.toml.")

	cfg := loadWrittenConfig(t, tempDir)
	assert.NotContains(t, cfg.Packages, "react", "failed add should not write the package")
}

func TestAddCommand_InvalidTemplateLeavesConfigUntouched(t *testing.T) {
	tempDir := setupAddTestEnvironment(t, minimalCairnToml)

	err := runAddCommand(t, tempDir, "--template", "https://esm.sh/react@18.2.0", "react")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resulting configuration is invalid")

	cfg := loadWrittenConfig(t, tempDir)
	assert.NotContains(t, cfg.Packages, "react")
}

func TestAddCommand_RequiresArgument(t *testing.T) {
	tempDir := setupAddTestEnvironment(t, minimalCairnToml)

	err := runAddCommand(t, tempDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "<package_name> argument is required.")
}

func TestAddCommand_ConfigNotFound(t *testing.T) {
	tempDir := setupAddTestEnvironment(t, "")

	err := runAddCommand(t, tempDir, "react")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cairn.toml not found in the current directory. Please run 'cairn init' first.")
}
