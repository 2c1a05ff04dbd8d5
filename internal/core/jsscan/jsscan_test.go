package jsscan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightconcept/cairn-go/internal/core/jsscan"
)

func scan(t *testing.T, src string) []jsscan.Import {
	t.Helper()
	imports, err := jsscan.Scan([]byte(src))
	require.NoError(t, err)
	return imports
}

func TestScan_StaticImportForms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		want []jsscan.Import
	}{
		{
			name: "side effect import",
			src:  `import "./setup.mjs";`,
			want: []jsscan.Import{{Specifier: "./setup.mjs", Kind: jsscan.KindStatic}},
		},
		{
			name: "default binding",
			src:  `import lib from "https://cdn.test/lib@1.0.0";`,
			want: []jsscan.Import{{Specifier: "https://cdn.test/lib@1.0.0", Kind: jsscan.KindStatic}},
		},
		{
			name: "named bindings",
			src:  `import { a, b as c } from './util.mjs';`,
			want: []jsscan.Import{{Specifier: "./util.mjs", Kind: jsscan.KindStatic}},
		},
		{
			name: "namespace binding",
			src:  `import * as ns from "../deep/mod.mjs";`,
			want: []jsscan.Import{{Specifier: "../deep/mod.mjs", Kind: jsscan.KindStatic}},
		},
		{
			name: "default plus named across lines",
			src: `import d, {
				one,
				two,
			} from "./pair.mjs"`,
			want: []jsscan.Import{{Specifier: "./pair.mjs", Kind: jsscan.KindStatic}},
		},
		{
			name: "binding named from inside braces",
			src:  `import { from } from "./tricky.mjs";`,
			want: []jsscan.Import{{Specifier: "./tricky.mjs", Kind: jsscan.KindStatic}},
		},
		{
			name: "minified spacing",
			src:  `import{a}from"./a.mjs";import*as b from'./b.mjs'`,
			want: []jsscan.Import{
				{Specifier: "./a.mjs", Kind: jsscan.KindStatic},
				{Specifier: "./b.mjs", Kind: jsscan.KindStatic},
			},
		},
		{
			name: "import meta is not an import",
			src:  `const here = import.meta.url;`,
			want: nil,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, scan(t, tt.src))
		})
	}
}

func TestScan_DynamicImportForms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		want []jsscan.Import
	}{
		{
			name: "plain call",
			src:  `const mod = await import("./lazy.mjs");`,
			want: []jsscan.Import{{Specifier: "./lazy.mjs", Kind: jsscan.KindDynamic}},
		},
		{
			name: "call with options argument",
			src:  `import("./data.mjs", { assert: { type: "json" } })`,
			want: []jsscan.Import{{Specifier: "./data.mjs", Kind: jsscan.KindDynamic}},
		},
		{
			name: "computed argument is skipped",
			src:  `import(base + "/mod.mjs");`,
			want: nil,
		},
		{
			name: "concatenation after literal is skipped",
			src:  `import("./prefix-" + name);`,
			want: nil,
		},
		{
			name: "template argument is skipped",
			src:  "import(`./chunk-${id}.mjs`);",
			want: nil,
		},
		{
			name: "nested in exported function",
			src:  `export const load = () => import('./impl.mjs');`,
			want: []jsscan.Import{{Specifier: "./impl.mjs", Kind: jsscan.KindDynamic}},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, scan(t, tt.src))
		})
	}
}

func TestScan_ReExportForms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		want []jsscan.Import
	}{
		{
			name: "star re-export",
			src:  `export * from "https://cdn.test/lib@1.0.0/es2022/lib.mjs";`,
			want: []jsscan.Import{{Specifier: "https://cdn.test/lib@1.0.0/es2022/lib.mjs", Kind: jsscan.KindReExport}},
		},
		{
			name: "named re-export",
			src:  `export { a, b as c } from './inner.mjs';`,
			want: []jsscan.Import{{Specifier: "./inner.mjs", Kind: jsscan.KindReExport}},
		},
		{
			name: "namespace re-export",
			src:  `export * as ns from "./ns.mjs";`,
			want: []jsscan.Import{{Specifier: "./ns.mjs", Kind: jsscan.KindReExport}},
		},
		{
			name: "export list without source",
			src:  `const a = 1; export { a };`,
			want: nil,
		},
		{
			name: "export default value",
			src:  `export default { from: "not-an-import" };`,
			want: nil,
		},
		{
			name: "method call named from",
			src:  `export default Array.from(items);`,
			want: nil,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, scan(t, tt.src))
		})
	}
}

func TestScan_LiteralImmunity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		want []jsscan.Import
	}{
		{
			name: "import text inside string literal",
			src:  `throw new Error('Dynamic require of "x" is not supported, use import("./x.mjs") instead');`,
			want: nil,
		},
		{
			name: "import text inside template literal",
			src:  "const msg = `use import(\"./never.mjs\") here`;",
			want: nil,
		},
		{
			name: "real import inside template substitution",
			src:  "const p = `loading ${import('./real.mjs')} done`;",
			want: []jsscan.Import{{Specifier: "./real.mjs", Kind: jsscan.KindDynamic}},
		},
		{
			name: "import text inside regex",
			src:  `const re = /import\("evil"\)/; import real from "./real.mjs";`,
			want: []jsscan.Import{{Specifier: "./real.mjs", Kind: jsscan.KindStatic}},
		},
		{
			name: "import text inside comments",
			src: `// import "./line.mjs"
/* import "./block.mjs" */
import "./kept.mjs";`,
			want: []jsscan.Import{{Specifier: "./kept.mjs", Kind: jsscan.KindStatic}},
		},
		{
			name: "division is not a regex",
			src:  `const rate = total / count; import "./after-div.mjs";`,
			want: []jsscan.Import{{Specifier: "./after-div.mjs", Kind: jsscan.KindStatic}},
		},
		{
			name: "identifier starting with import",
			src:  `const importCount = 3; let exportMode = "on";`,
			want: nil,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, scan(t, tt.src))
		})
	}
}

func TestScan_DeduplicatesBySpecifierAndKind(t *testing.T) {
	t.Parallel()

	src := `
import "./dup.mjs";
import again from "./dup.mjs";
export * from "./dup.mjs";
`
	assert.Equal(t, []jsscan.Import{
		{Specifier: "./dup.mjs", Kind: jsscan.KindStatic},
		{Specifier: "./dup.mjs", Kind: jsscan.KindReExport},
	}, scan(t, src))
}

func TestScan_RealisticBundleHeader(t *testing.T) {
	t.Parallel()

	src := `/* esm.sh - lib@2.1.0 */
import "/stable/peer@1.0.0/es2022/peer.mjs";
import { helper } from "/lib-utils@^3.0.0?target=es2022";
export * from "/lib@2.1.0/es2022/lib.development.mjs";
export { default } from "./chunk-abc123.mjs";
`
	assert.Equal(t, []jsscan.Import{
		{Specifier: "/stable/peer@1.0.0/es2022/peer.mjs", Kind: jsscan.KindStatic},
		{Specifier: "/lib-utils@^3.0.0?target=es2022", Kind: jsscan.KindStatic},
		{Specifier: "/lib@2.1.0/es2022/lib.development.mjs", Kind: jsscan.KindReExport},
		{Specifier: "./chunk-abc123.mjs", Kind: jsscan.KindReExport},
	}, scan(t, src))
}
