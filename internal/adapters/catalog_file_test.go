package adapters

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modkeeper/internal/types"
)

const catalogYAML = `
modules:
  - identifier: ModuleManager
    version: "4.2.3"
    host_version_min: "1.8"
    download: https://example.invalid/mm-4.2.3.zip
    download_hash: abcdef
  - identifier: Scatterer
    version: "0.0838"
    depends:
      - name: ModuleManager
        min_version: "4.0"
    conflicts:
      - name: EVE
    install:
      - match: ["GameData/Scatterer"]
        strip: GameData
        install_to: GameData
`

func TestCatalogFileAdapter_LoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o644))

	modules, err := NewCatalogFileAdapter(path).LoadCatalog(t.Context())
	require.NoError(t, err)
	require.Len(t, modules, 2)

	assert.Equal(t, "ModuleManager", modules[0].Identifier)
	assert.Equal(t, "1.8", modules[0].HostVersionMin)
	assert.Equal(t, "abcdef", modules[0].DownloadHash)

	scatterer := modules[1]
	require.Len(t, scatterer.Depends, 1)
	assert.Equal(t, types.Relationship{Name: "ModuleManager", MinVersion: "4.0"}, scatterer.Depends[0])
	require.Len(t, scatterer.Conflicts, 1)
	assert.Equal(t, "EVE", scatterer.Conflicts[0].Name)
	require.Len(t, scatterer.Install, 1)
	assert.Equal(t, "GameData", scatterer.Install[0].Strip)
}

func TestCatalogFileAdapter_LoadDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte("modules:\n  - identifier: B\n    version: \"1.0\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("modules:\n  - identifier: A\n    version: \"1.0\"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	modules, err := NewCatalogFileAdapter(dir).LoadCatalog(t.Context())
	require.NoError(t, err)
	require.Len(t, modules, 2)
	assert.Equal(t, "A", modules[0].Identifier)
	assert.Equal(t, "B", modules[1].Identifier)
}

func TestCatalogFileAdapter_Errors(t *testing.T) {
	t.Run("missing path", func(t *testing.T) {
		_, err := NewCatalogFileAdapter(filepath.Join(t.TempDir(), "missing.yaml")).LoadCatalog(t.Context())
		require.Error(t, err)
		assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := NewCatalogFileAdapter("").LoadCatalog(t.Context())
		require.Error(t, err)
		assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("modules: [unclosed"), 0o644))
		_, err := NewCatalogFileAdapter(path).LoadCatalog(t.Context())
		require.Error(t, err)
		assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
	})
}
