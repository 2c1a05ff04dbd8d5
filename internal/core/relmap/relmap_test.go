package relmap_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightconcept/cairn-go/internal/core/config"
	"github.com/nightconcept/cairn-go/internal/core/fetcher"
	"github.com/nightconcept/cairn-go/internal/core/index"
	"github.com/nightconcept/cairn-go/internal/core/relmap"
)

func storeWith(t *testing.T, infos ...*fetcher.DependencyInfo) *fetcher.Store {
	t.Helper()
	st := fetcher.NewStore()
	for _, info := range infos {
		_, stored := st.PutIfAbsent(info)
		require.True(t, stored, "duplicate test fixture URL %s", info.URL)
	}
	return st
}

func TestBuild_RecordsSubdirectoryImport(t *testing.T) {
	t.Parallel()

	st := storeWith(t,
		&fetcher.DependencyInfo{
			Name: "pkg", Version: "1.0.0",
			URL:     "https://cdn.test/pkg@1.0.0/index.js",
			Content: []byte(`import x from "./sub/mod"`),
		},
		&fetcher.DependencyInfo{
			Name: "pkg", Version: "1.0.0",
			URL:     "https://cdn.test/pkg@1.0.0/sub/mod",
			Content: []byte(`export default 1;`),
		},
	)

	idx := index.New()
	require.NoError(t, relmap.Build(st, idx, nil))

	tree := idx.RelativeImports["pkg@1.0.0"]
	require.NotNil(t, tree)
	got, ok := tree.Get([]string{"sub", "mod"})
	require.True(t, ok)
	assert.Equal(t, "https://cdn.test/pkg@1.0.0/sub/mod", got)
}

func TestBuild_StripsBuildTargetDirectory(t *testing.T) {
	t.Parallel()

	st := storeWith(t,
		&fetcher.DependencyInfo{
			Name: "lib", Version: "2.0.0",
			URL:     "https://cdn.test/lib@2.0.0/es2022/lib.mjs",
			Content: []byte(`import "./chunk-X.mjs";`),
		},
		&fetcher.DependencyInfo{
			Name: "lib", Version: "2.0.0",
			URL:     "https://cdn.test/lib@2.0.0/es2022/chunk-X.mjs",
			Content: []byte(`export const x = 1;`),
		},
	)

	idx := index.New()
	require.NoError(t, relmap.Build(st, idx, nil))

	tree := idx.RelativeImports["lib@2.0.0"]
	require.NotNil(t, tree)

	// The build-target directory is not part of the import path.
	got, ok := tree.Get([]string{"chunk-X.mjs"})
	require.True(t, ok)
	assert.Equal(t, "https://cdn.test/lib@2.0.0/es2022/chunk-X.mjs", got)
	_, ok = tree.Get([]string{"es2022", "chunk-X.mjs"})
	assert.False(t, ok)
}

func TestBuild_PrefersSameContextTarget(t *testing.T) {
	t.Parallel()

	ctx := map[string]string{"peer": "1.0.0"}
	st := storeWith(t,
		&fetcher.DependencyInfo{
			Name: "pkg", Version: "1.0.0",
			URL:     "https://cdn.test/pkg@1.0.0/index.js",
			Content: []byte(`import x from "./chunk.mjs"`),
		},
		&fetcher.DependencyInfo{
			Name: "pkg", Version: "1.0.0",
			URL:         "https://cdn.test/pkg@1.0.0/index.js?peer=1.0.0",
			Content:     []byte(`import x from "./chunk.mjs"`),
			PeerContext: ctx,
		},
		&fetcher.DependencyInfo{
			Name: "pkg", Version: "1.0.0",
			URL:     "https://cdn.test/pkg@1.0.0/chunk.mjs",
			Content: []byte(`export const base = 1;`),
		},
		&fetcher.DependencyInfo{
			Name: "pkg", Version: "1.0.0",
			URL:         "https://cdn.test/pkg@1.0.0/chunk.mjs?peer=1.0.0",
			Content:     []byte(`export const base = 1;`),
			PeerContext: ctx,
		},
	)

	idx := index.New()
	require.NoError(t, relmap.Build(st, idx, nil))

	tree := idx.RelativeImports["pkg@1.0.0?peer=1.0.0"]
	require.NotNil(t, tree)
	got, ok := tree.Get([]string{"chunk.mjs"})
	require.True(t, ok)
	assert.Equal(t, "https://cdn.test/pkg@1.0.0/chunk.mjs?peer=1.0.0", got,
		"the context-qualified twin wins over the base copy")

	// The base copy of the same unit maps into its own key.
	baseTree := idx.RelativeImports["pkg@1.0.0"]
	require.NotNil(t, baseTree)
	got, ok = baseTree.Get([]string{"chunk.mjs"})
	require.True(t, ok)
	assert.Equal(t, "https://cdn.test/pkg@1.0.0/chunk.mjs", got)
}

func TestBuild_FallsBackToContextFreeThenTwins(t *testing.T) {
	t.Parallel()

	ctx := map[string]string{"peer": "1.0.0"}

	t.Run("context free match", func(t *testing.T) {
		t.Parallel()
		st := storeWith(t,
			&fetcher.DependencyInfo{
				Name: "pkg", Version: "1.0.0",
				URL:         "https://cdn.test/pkg@1.0.0/index.js?peer=1.0.0",
				Content:     []byte(`import "./only-base.mjs";`),
				PeerContext: ctx,
			},
			&fetcher.DependencyInfo{
				Name: "pkg", Version: "1.0.0",
				URL:     "https://cdn.test/pkg@1.0.0/only-base.mjs",
				Content: []byte(`export const v = 1;`),
			},
		)
		idx := index.New()
		require.NoError(t, relmap.Build(st, idx, nil))
		got, ok := idx.RelativeImports["pkg@1.0.0?peer=1.0.0"].Get([]string{"only-base.mjs"})
		require.True(t, ok)
		assert.Equal(t, "https://cdn.test/pkg@1.0.0/only-base.mjs", got)
	})

	t.Run("differently tagged twin", func(t *testing.T) {
		t.Parallel()
		st := storeWith(t,
			&fetcher.DependencyInfo{
				Name: "pkg", Version: "1.0.0",
				URL:         "https://cdn.test/pkg@1.0.0/index.js?peer=1.0.0",
				Content:     []byte(`import "./twin.mjs";`),
				PeerContext: ctx,
			},
			&fetcher.DependencyInfo{
				Name: "pkg", Version: "1.0.0",
				URL:         "https://cdn.test/pkg@1.0.0/twin.mjs?peer=2.0.0",
				Content:     []byte(`export const v = 1;`),
				PeerContext: map[string]string{"peer": "2.0.0"},
			},
		)
		idx := index.New()
		require.NoError(t, relmap.Build(st, idx, nil))
		got, ok := idx.RelativeImports["pkg@1.0.0?peer=1.0.0"].Get([]string{"twin.mjs"})
		require.True(t, ok)
		assert.Equal(t, "https://cdn.test/pkg@1.0.0/twin.mjs?peer=2.0.0", got)
	})
}

func TestBuild_MissingTargetIsStructural(t *testing.T) {
	t.Parallel()

	st := storeWith(t, &fetcher.DependencyInfo{
		Name: "pkg", Version: "1.0.0",
		URL:     "https://cdn.test/pkg@1.0.0/index.js",
		Content: []byte(`import "./nowhere.mjs";`),
	})

	idx := index.New()
	err := relmap.Build(st, idx, nil)
	require.Error(t, err)

	var structural *index.StructuralError
	require.True(t, errors.As(err, &structural))
	assert.Equal(t, "./nowhere.mjs", structural.Specifier)
	assert.Equal(t, "https://cdn.test/pkg@1.0.0/index.js", structural.Unit)
}

func TestBuild_GroupPeersLeaveDependencyKey(t *testing.T) {
	t.Parallel()

	groups := []config.SameVersionGroup{{Members: []string{"react", "react-dom"}}}
	ctx := map[string]string{"react": "18.2.0", "react-dom": "18.2.0"}

	st := storeWith(t,
		&fetcher.DependencyInfo{
			Name: "app", Version: "1.0.0",
			URL:         "https://cdn.test/app@1.0.0?react=18.2.0&react-dom=18.2.0",
			Content:     []byte(`import "./app-impl.mjs";`),
			PeerContext: ctx,
		},
		&fetcher.DependencyInfo{
			Name: "app", Version: "1.0.0",
			URL:         "https://cdn.test/app@1.0.0/app-impl.mjs?react=18.2.0&react-dom=18.2.0",
			Content:     []byte(`export const impl = 1;`),
			PeerContext: ctx,
		},
	)

	idx := index.New()
	require.NoError(t, relmap.Build(st, idx, groups))

	// Only the group primary appears in the key, matching the filename
	// suffix the rewriter parses back.
	require.Contains(t, idx.RelativeImports, "app@1.0.0?react=18.2.0")
	require.NotContains(t, idx.RelativeImports, "app@1.0.0?react=18.2.0&react-dom=18.2.0")
}

func TestBuild_UnitsWithoutRelativeImportsAddNoTrees(t *testing.T) {
	t.Parallel()

	st := storeWith(t, &fetcher.DependencyInfo{
		Name: "pkg", Version: "1.0.0",
		URL:     "https://cdn.test/pkg@1.0.0",
		Content: []byte(`import "https://cdn.test/other@1.0.0"; export const v = 1;`),
	})

	idx := index.New()
	require.NoError(t, relmap.Build(st, idx, nil))
	assert.Empty(t, idx.RelativeImports)
}
