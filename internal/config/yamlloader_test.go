package config

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYAMLLoaderLoadAndResolve(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, util.WriteFile(fsys, "base.yaml", []byte(`
run:
  seed: 7
  max_steps: 100
backbone:
  type: mlp
  args:
    width: 32
`), 0o644))
	require.NoError(t, util.WriteFile(fsys, "exp.yaml", []byte(`
inherit: base.yaml
run:
  max_steps: 500
`), 0o644))

	loader := NewYAMLLoader(fsys)
	doc, err := loader.Load(context.Background(), "exp.yaml")
	require.NoError(t, err)

	resolved, err := Resolve(context.Background(), loader, doc)
	require.NoError(t, err)

	run, ok := resolved.Child("run")
	require.True(t, ok)
	assert.Equal(t, int64(7), run["seed"])
	assert.Equal(t, int64(500), run["max_steps"])

	backbone, ok := resolved.Child("backbone")
	require.True(t, ok)
	typeName, _ := backbone.String("type")
	assert.Equal(t, "mlp", typeName)
}

func TestYAMLLoaderParseError(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, util.WriteFile(fsys, "bad.yaml", []byte("a: [unclosed"), 0o644))

	loader := NewYAMLLoader(fsys)
	_, err := loader.Load(context.Background(), "bad.yaml")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, KindParse, cfgErr.Kind)
}

func TestYAMLLoaderMissingFile(t *testing.T) {
	loader := NewYAMLLoader(memfs.New())
	_, err := loader.Load(context.Background(), "nope.yaml")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, KindParse, cfgErr.Kind)
}

func TestYAMLLoaderDirectoryFragments(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, util.WriteFile(fsys, "conf/10-base.yaml", []byte("k: base\nonly_base: 1\n"), 0o644))
	require.NoError(t, util.WriteFile(fsys, "conf/20-site.yml", []byte("k: site\n"), 0o644))
	require.NoError(t, util.WriteFile(fsys, "conf/notes.txt", []byte("ignored"), 0o644))

	merged, err := NewYAMLLoader(fsys).Load(context.Background(), "conf")
	require.NoError(t, err)
	assert.Equal(t, "site", merged["k"])
	assert.Equal(t, int64(1), merged["only_base"])
}

func TestYAMLLoaderEmptyDirectory(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, fsys.MkdirAll("conf", 0o755))

	_, err := NewYAMLLoader(fsys).Load(context.Background(), "conf")
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, KindParse, cfgErr.Kind)
}

func TestLoadLayersPrecedence(t *testing.T) {
	fsys := memfs.New()
	require.NoError(t, util.WriteFile(fsys, "base.yaml", []byte("k: base\nonly_base: 1\n"), 0o644))
	require.NoError(t, util.WriteFile(fsys, "override.yaml", []byte("k: override\n"), 0o644))

	merged, err := LoadLayers(context.Background(), NewYAMLLoader(fsys), "base.yaml", "override.yaml")
	require.NoError(t, err)
	assert.Equal(t, "override", merged["k"])
	assert.Equal(t, int64(1), merged["only_base"])
}
