package cli

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modkeeper/internal/core"
	"modkeeper/internal/installer"
	"modkeeper/internal/types"
)

// ---------- Command tree tests ----------

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCommand()
	names := make([]string, 0, len(root.Commands()))
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	for _, name := range []string{"install", "remove", "upgrade", "list", "reconcile"} {
		assert.Contains(t, names, name, "missing subcommand: %s", name)
	}
}

func TestRootCommandVersion(t *testing.T) {
	root := newRootCommand()
	assert.Equal(t, "dev", root.Version)
}

func TestRootCommandPersistentFlags(t *testing.T) {
	root := newRootCommand()
	flags := []string{
		"config", "log-level", "target-dir", "catalog", "registry",
		"cache-dir", "host-version", "fetch-timeout", "fetch-retries",
		"fetch-retry-delay-ms", "fetch-workers", "s3-region",
		"s3-endpoint", "s3-access-key", "s3-secret-key", "metrics-file",
		"trace-endpoint",
	}
	for _, name := range flags {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), "missing flag: %s", name)
	}
}

func TestChangeCommandFlags(t *testing.T) {
	opts := &serviceOptions{}
	assert.NotNil(t, newInstallCommand(opts).Flags().Lookup("dry-run"))
	assert.Nil(t, newInstallCommand(opts).Flags().Lookup("purge-config"))

	remove := newRemoveCommand(opts)
	assert.NotNil(t, remove.Flags().Lookup("dry-run"))
	assert.NotNil(t, remove.Flags().Lookup("purge-config"))

	upgrade := newUpgradeCommand(opts)
	assert.NotNil(t, upgrade.Flags().Lookup("all"))
	assert.NotNil(t, upgrade.Flags().Lookup("purge-config"))
}

func TestListCommandFlags(t *testing.T) {
	cmd := newListCommand(&serviceOptions{})
	for _, name := range []string{"sort", "desc", "installed"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag: %s", name)
	}
}

// ---------- Helper function tests ----------

func TestResolveString(t *testing.T) {
	tests := []struct {
		name     string
		cmd      *cobra.Command
		value    string
		expected string
	}{
		{
			name:     "nil cmd with value returns value",
			cmd:      nil,
			value:    "explicit",
			expected: "explicit",
		},
		{
			name:     "nil cmd empty value returns empty",
			cmd:      nil,
			value:    "",
			expected: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveString(tt.cmd, tt.value, "test_key", "test-flag")
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResolveBool(t *testing.T) {
	assert.True(t, resolveBool(nil, true, "test_key", "test-flag"))
	assert.False(t, resolveBool(nil, false, "test_key", "test-flag"))
}

func TestResolveInt(t *testing.T) {
	assert.Equal(t, 42, resolveInt(nil, 42, "test_key", "test-flag"))
}

func TestFlagChanged(t *testing.T) {
	assert.False(t, flagChanged(nil, "anything"), "nil cmd should return false")
	assert.False(t, flagChanged(nil, ""), "nil cmd with empty name")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("myflag", "", "test flag")
	assert.False(t, flagChanged(cmd, "myflag"), "unchanged flag")
	assert.False(t, flagChanged(cmd, "nonexistent"), "nonexistent flag")

	require.NoError(t, cmd.Flags().Set("myflag", "val"))
	assert.True(t, flagChanged(cmd, "myflag"))
}

func TestServiceConfigPrefersChangedFlags(t *testing.T) {
	root := newRootCommand()
	require.NoError(t, root.PersistentFlags().Set("target-dir", "/srv/game"))
	require.NoError(t, root.PersistentFlags().Set("fetch-workers", "9"))

	cfg := serviceConfig(root, &serviceOptions{TargetDir: "/srv/game", FetchWorkers: 9})
	assert.Equal(t, "/srv/game", cfg.TargetDir)
	assert.Equal(t, 9, cfg.FetchWorkers)
}

func TestDescribeOperation(t *testing.T) {
	v1 := types.ModuleVersion{Identifier: "Lib", Version: "1.0"}
	v2 := types.ModuleVersion{Identifier: "Lib", Version: "2.0"}
	tests := []struct {
		name     string
		op       types.Operation
		expected string
	}{
		{
			name:     "manual install",
			op:       types.Operation{Kind: types.OperationInstall, Identifier: "Lib", To: &v1},
			expected: "install Lib 1.0",
		},
		{
			name:     "auto install",
			op:       types.Operation{Kind: types.OperationInstall, Identifier: "Lib", To: &v1, AutoInstalled: true},
			expected: "install Lib 1.0 (auto)",
		},
		{
			name:     "upgrade",
			op:       types.Operation{Kind: types.OperationUpgrade, Identifier: "Lib", From: &v1, To: &v2},
			expected: "upgrade Lib 1.0 -> 2.0",
		},
		{
			name:     "requested remove",
			op:       types.Operation{Kind: types.OperationRemove, Identifier: "Lib", From: &v1, Reason: types.RemoveRequested},
			expected: "remove Lib 1.0",
		},
		{
			name:     "orphan remove",
			op:       types.Operation{Kind: types.OperationRemove, Identifier: "Lib", From: &v1, AutoInstalled: true, Reason: types.RemoveOrphaned},
			expected: "remove Lib 1.0 (orphaned)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, describeOperation(tt.op))
		})
	}
}

func TestPurgeConfirmer(t *testing.T) {
	var out bytes.Buffer
	assert.False(t, purgeConfirmer{out: &out}.ConfirmDelete(t.Context(), "Mod", []string{"Mod/settings.user"}))
	assert.Empty(t, out.String())

	assert.True(t, purgeConfirmer{purge: true, out: &out}.ConfirmDelete(t.Context(), "Mod", []string{"Mod/settings.user"}))
	assert.Contains(t, out.String(), "Deleting Mod (1 unmanaged file(s))")
}

// ---------- Exit code tests ----------

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name: "invalid argument",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("bad input"),
			expected: 2,
		},
		{
			name: "unknown module",
			err: errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg("module not found"),
			expected: 2,
		},
		{
			name:     "unsatisfiable",
			err:      &core.ResolveError{Kind: core.ResolveUnsatisfiable, Identifier: "Lib"},
			expected: 4,
		},
		{
			name:     "conflict",
			err:      &core.ResolveError{Kind: core.ResolveConflict, Identifier: "Lib"},
			expected: 3,
		},
		{
			name:     "removal blocked",
			err:      &core.ResolveError{Kind: core.ResolveRemovalBlocked, Identifier: "Lib"},
			expected: 3,
		},
		{
			name:     "circular dependency",
			err:      &core.ResolveError{Kind: core.ResolveCircularDependency},
			expected: 3,
		},
		{
			name:     "fetch failed",
			err:      &installer.InstallError{Kind: installer.FetchFailed, Identifier: "Lib", Retryable: true},
			expected: 6,
		},
		{
			name:     "lock contention",
			err:      installer.NewLockContention(assert.AnError),
			expected: 6,
		},
		{
			name:     "extract failed",
			err:      &installer.InstallError{Kind: installer.ExtractFailed, Identifier: "Lib"},
			expected: 7,
		},
		{
			name:     "persist failed",
			err:      &installer.InstallError{Kind: installer.PersistFailed},
			expected: 5,
		},
		{
			name: "stale preview",
			err: errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg("preview is stale"),
			expected: 3,
		},
		{
			name: "internal error",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("boom"),
			expected: 5,
		},
		{
			name:     "unknown error",
			err:      assert.AnError,
			expected: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := exitCodeForError(tt.err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name: "errbuilder with msg",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("something broke"),
			expected: "something broke",
		},
		{
			name:     "plain error",
			err:      assert.AnError,
			expected: assert.AnError.Error(),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errorMessage(tt.err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

// ---------- Command execution tests ----------

const testCatalog = `
modules:
  - identifier: Lib
    name: Library
    version: "1.0"
    download: lib-1.0.zip
  - identifier: App
    name: Application
    version: "2.0"
    download: app-2.0.zip
    depends:
      - name: Lib
`

func writeArchive(t *testing.T, path string, name string, content string) {
	t.Helper()
	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	w, err := writer.Create(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestInstallListRemove(t *testing.T) {
	catalogDir := t.TempDir()
	targetDir := filepath.Join(t.TempDir(), "target")
	catalog := filepath.Join(catalogDir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte(testCatalog), 0o644))
	writeArchive(t, filepath.Join(catalogDir, "lib-1.0.zip"), "GameData/Lib/lib.dll", "lib")
	writeArchive(t, filepath.Join(catalogDir, "app-2.0.zip"), "GameData/App/app.dll", "app")
	common := []string{"--catalog", catalog, "--target-dir", targetDir, "--log-level", "error"}

	out, err := runRoot(t, append([]string{"install", "App", "--dry-run"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "install Lib 1.0 (auto)\ninstall App 2.0\n")
	assert.NoFileExists(t, filepath.Join(targetDir, "GameData/App/app.dll"))

	out, err = runRoot(t, append([]string{"install", "App"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Applied 2 operation(s)")
	assert.FileExists(t, filepath.Join(targetDir, "GameData/App/app.dll"))
	assert.FileExists(t, filepath.Join(targetDir, "GameData/Lib/lib.dll"))

	out, err = runRoot(t, append([]string{"list", "--installed"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "App")
	assert.Contains(t, out, "Lib")

	out, err = runRoot(t, append([]string{"install", "App"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to do")

	_, err = runRoot(t, append([]string{"remove", "App"}, common...)...)
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(targetDir, "GameData"))
}

func TestUpgradeRequiresModulesOrAll(t *testing.T) {
	_, err := runRoot(t, "upgrade", "--log-level", "error")
	require.Error(t, err)
	assert.Equal(t, 2, exitCodeForError(err))
}

func TestInstallUnknownModule(t *testing.T) {
	catalog := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(catalog, []byte(testCatalog), 0o644))

	_, err := runRoot(t, "install", "Missing", "--catalog", catalog, "--target-dir", t.TempDir(), "--log-level", "error")
	require.Error(t, err)
	assert.Equal(t, 4, exitCodeForError(err))
}
