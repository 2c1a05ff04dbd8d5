package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pkg      string
		version  string
		peers    map[string]string
		expected string
	}{
		{
			name:     "no context",
			pkg:      "react",
			version:  "19.2.0",
			expected: "react@19.2.0",
		},
		{
			name:     "context sorted by peer name",
			pkg:      "lib-a",
			version:  "2.0.0",
			peers:    map[string]string{"zeta": "1.0.0", "alpha": "2.0.0"},
			expected: "lib-a@2.0.0?alpha=2.0.0&zeta=1.0.0",
		},
		{
			name:     "scoped package",
			pkg:      "@scope/pkg",
			version:  "1.2.3",
			peers:    map[string]string{"react": "18.0.0"},
			expected: "@scope/pkg@1.2.3?react=18.0.0",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, CanonicalKey(tt.pkg, tt.version, tt.peers))
		})
	}
}

func TestCanonicalKey_EqualMapsEqualKeys(t *testing.T) {
	t.Parallel()
	a := CanonicalKey("x", "1.0.0", map[string]string{"p": "1.0.0", "q": "2.0.0"})
	b := CanonicalKey("x", "1.0.0", map[string]string{"q": "2.0.0", "p": "1.0.0"})
	assert.Equal(t, a, b)
}

func TestLoad_MissingFileYieldsFreshIndex(t *testing.T) {
	t.Parallel()
	ix, err := Load(filepath.Join(t.TempDir(), "index.json"))
	require.NoError(t, err)
	require.NotNil(t, ix)
	assert.Empty(t, ix.Packages)
	assert.NotNil(t, ix.URLToFile)
	assert.NotNil(t, ix.RelativeImports)
	assert.NotNil(t, ix.AvailableVersions)
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "mirror", "index.json")

	ix := New()
	ix.Packages = append(ix.Packages, AnalyzedDependency{
		Name:             "react-dom",
		Version:          "19.2.0",
		URL:              "https://esm.sh/react-dom@19.2.0?react=19.2.0",
		PeerContext:      map[string]string{"react": "19.2.0"},
		PeerDependencies: map[string]string{"react": "^19.2.0"},
		Depth:            1,
		Downloaded:       true,
	})
	ix.URLToFile["https://esm.sh/react-dom@19.2.0?react=19.2.0"] = "react-dom@19.2.0~react-19.2.0.abcd1234.mjs"
	ix.AvailableVersions["react"] = []string{"18.3.1", "19.2.0"}
	ix.StandaloneSubpaths = map[string][]SubpathSpec{
		"react": {{Path: "jsx-runtime", Constraint: ">=17.0.0"}},
	}

	tree := NewBranch()
	require.NoError(t, tree.Set([]string{"client"}, "https://esm.sh/react-dom@19.2.0/client?react=19.2.0"))
	ix.RelativeImports["react-dom@19.2.0?react=19.2.0"] = tree

	require.NoError(t, ix.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)

	require.Len(t, loaded.Packages, 1)
	row := loaded.Packages[0]
	assert.Equal(t, "react-dom", row.Name)
	assert.Equal(t, map[string]string{"react": "19.2.0"}, row.PeerContext)
	assert.True(t, row.Downloaded)
	assert.False(t, row.Transformed)
	assert.Equal(t, 1, row.Depth)

	assert.Equal(t, ix.URLToFile, loaded.URLToFile)
	assert.Equal(t, ix.AvailableVersions["react"], loaded.AvailableVersions["react"])
	require.Contains(t, loaded.StandaloneSubpaths, "react")
	assert.Equal(t, "jsx-runtime", loaded.StandaloneSubpaths["react"][0].Path)

	loadedTree, ok := loaded.RelativeImports["react-dom@19.2.0?react=19.2.0"]
	require.True(t, ok)
	url, ok := loadedTree.Get([]string{"client"})
	require.True(t, ok)
	assert.Equal(t, "https://esm.sh/react-dom@19.2.0/client?react=19.2.0", url)
}

func TestSave_ReplacesAtomically(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "index.json")

	first := New()
	first.AvailableVersions["react"] = []string{"19.2.0"}
	require.NoError(t, first.Save(path))

	second := New()
	second.AvailableVersions["react"] = []string{"19.2.0", "19.3.0"}
	require.NoError(t, second.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"19.2.0", "19.3.0"}, loaded.AvailableVersions["react"])

	// No stray temp files should survive a successful save.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "index.json", entries[0].Name())
}

func TestLoad_CorruptIndexFails(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestRowsByKey_AliasesSlice(t *testing.T) {
	t.Parallel()
	ix := New()
	ix.Packages = append(ix.Packages, AnalyzedDependency{Name: "react", Version: "19.2.0", URL: "https://esm.sh/react@19.2.0"})

	rows := ix.RowsByKey()
	row, ok := rows["react@19.2.0"]
	require.True(t, ok)
	row.Downloaded = true

	assert.True(t, ix.Packages[0].Downloaded, "updates through the key view must reach the index slice")
}

func TestStructuralError_MentionsDiagnostics(t *testing.T) {
	t.Parallel()
	err := &StructuralError{
		Specifier:  "./sub/mod",
		Unit:       "pkg@1.0.0",
		Candidates: []string{"https://cdn/pkg@1.0.0/sub/mod", "https://cdn/pkg@1.0.0/other"},
	}
	msg := err.Error()
	assert.Contains(t, msg, "./sub/mod")
	assert.Contains(t, msg, "pkg@1.0.0")
	assert.Contains(t, msg, "https://cdn/pkg@1.0.0/other")
}
