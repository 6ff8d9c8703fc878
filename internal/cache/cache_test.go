package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/fuzzgraph/internal/discover"
	"github.com/phobologic/fuzzgraph/internal/model"
	"github.com/phobologic/fuzzgraph/internal/parse"
	"github.com/phobologic/fuzzgraph/internal/types"
	"github.com/phobologic/fuzzgraph/internal/visibility"
)

func sampleCrate() *parse.Crate {
	out := types.Path("demo::Widget")
	vis := visibility.New("demo")
	vis.Add("demo::inner", false)
	return &parse.Crate{
		Name: "demo",
		Functions: []model.Function{{
			Name:     "demo::Widget::new",
			Params:   []types.Type{types.Primitive(types.U8)},
			Output:   &out,
			Public:   true,
			Generics: []string{"T"},
			Substitutions: map[string]types.Type{
				"T": types.Primitive(types.I32),
			},
			File: "src/lib.rs",
			Line: 3,
		}},
		Visibility: vis,
	}
}

// setup writes one source file and backdates it so a cache written now is
// strictly newer.
func setup(t *testing.T) (root string, files []discover.FileEntry) {
	t.Helper()
	root = t.TempDir()
	src := filepath.Join(root, "src", "lib.rs")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte("pub fn f() {}"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(src, old, old))
	return root, []discover.FileEntry{{Path: "src/lib.rs", Language: "rust"}}
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()
	root, files := setup(t)
	path := filepath.Join(root, ".fuzzgraph.cache")

	want := sampleCrate()
	require.NoError(t, Save(path, want))

	got, ok, err := Load(path, "demo", root, files)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Name, got.Name)
	require.Len(t, got.Functions, 1)
	fn := got.Functions[0]
	assert.Equal(t, "demo::Widget::new", fn.Name)
	assert.True(t, fn.Output.Equal(types.Path("demo::Widget")))
	assert.True(t, fn.Substitutions["T"].Equal(types.Primitive(types.I32)))
	assert.False(t, got.Visibility.Visible("demo::inner"))
}

func TestLoadStale(t *testing.T) {
	t.Parallel()
	root, files := setup(t)
	path := filepath.Join(root, ".fuzzgraph.cache")
	require.NoError(t, Save(path, sampleCrate()))

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "src", "lib.rs"), future, future))

	_, ok, err := Load(path, "demo", root, files)
	require.NoError(t, err)
	assert.False(t, ok, "a source file newer than the cache invalidates it")
}

func TestLoadOtherCrate(t *testing.T) {
	t.Parallel()
	root, files := setup(t)
	path := filepath.Join(root, ".fuzzgraph.cache")
	require.NoError(t, Save(path, sampleCrate()))

	_, ok, err := Load(path, "other", root, files)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	t.Parallel()
	root, files := setup(t)

	_, ok, err := Load(filepath.Join(root, "missing"), "demo", root, files)
	require.NoError(t, err)
	assert.False(t, ok)

	path := filepath.Join(root, "corrupt")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0x00, 0x13}, 0o644))
	_, _, err = Load(path, "demo", root, files)
	assert.Error(t, err)
}

func TestIsFresh(t *testing.T) {
	t.Parallel()
	root, files := setup(t)
	path := filepath.Join(root, "cache")

	assert.False(t, IsFresh(path, root, files))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	assert.True(t, IsFresh(path, root, files))

	missing := append(files, discover.FileEntry{Path: "src/gone.rs"})
	assert.False(t, IsFresh(path, root, missing))
}
