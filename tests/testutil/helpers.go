// Package testutil provides shared test helpers used across integration
// and e2e test packages.
package testutil

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// RepoRoot returns the absolute path to the repository root by walking
// up from the current working directory. It fails the test if the
// working directory cannot be determined.
func RepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(dir, "..", ".."))
}

// BuildArchive returns a zip holding files, written in name order.
func BuildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := writer.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return buf.Bytes()
}

// WriteArchive writes BuildArchive(files) to path and returns its
// sha256 checksum.
func WriteArchive(t *testing.T, path string, files map[string]string) string {
	t.Helper()
	data := BuildArchive(t, files)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return Checksum(data)
}

func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FixtureArchives writes the archives fixtures/catalog.yaml refers to
// into dir, next to a copy of the catalog.
func FixtureArchives(t *testing.T, root string, dir string) string {
	t.Helper()
	catalog, err := os.ReadFile(filepath.Join(root, "fixtures", "catalog.yaml"))
	require.NoError(t, err)
	catalogPath := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catalogPath, catalog, 0o644))

	archives := map[string]map[string]string{
		"modulemanager-2.2.1.zip": {"GameData/ModuleManager.2.2.1.dll": "mm-2.2.1"},
		"modulemanager-2.3.0.zip": {"GameData/ModuleManager.2.3.0.dll": "mm-2.3.0"},
		"harmony-2.0.4.zip":       {"GameData/Harmony/0Harmony.dll": "harmony"},
		"skybox-1.4.zip":          {"SkyBox/SkyBox.dll": "skybox", "SkyBox/skybox.cfg": "cfg", "README.md": "readme"},
		"skybox-textures-1.0.zip": {"GameData/SkyBox/Textures/day.dds": "day"},
		"legacy-textures-0.9.zip": {"GameData/SkyBox/Textures/legacy.dds": "legacy"},
	}
	for name, files := range archives {
		WriteArchive(t, filepath.Join(dir, name), files)
	}
	return catalogPath
}
