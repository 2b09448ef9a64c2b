package installer

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/require"

	"modkeeper/internal/core"
	"modkeeper/internal/types"
)

func buildArchive(t *testing.T, files map[string]string) []byte {
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

type fakeFetcher struct {
	mu       sync.Mutex
	archives map[string][]byte
	errs     map[string]error
	calls    map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{archives: map[string][]byte{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeFetcher) add(module types.ModuleVersion, data []byte) {
	f.archives[module.Identifier+"@"+module.Version] = data
}

func (f *fakeFetcher) Fetch(ctx context.Context, module types.ModuleVersion) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := module.Identifier + "@" + module.Version
	f.calls[key]++
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	data, ok := f.archives[key]
	if !ok {
		return nil, errbuilder.New().WithCode(errbuilder.CodeNotFound).WithMsg("no archive for " + key)
	}
	return data, nil
}

type fakeStore struct {
	mu    sync.Mutex
	saved []types.RegistrySnapshot
	err   error
}

func (s *fakeStore) LoadSnapshot(ctx context.Context) (types.RegistrySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saved) == 0 {
		return types.RegistrySnapshot{SchemaVersion: types.SnapshotSchemaVersion}, nil
	}
	return s.saved[len(s.saved)-1], nil
}

func (s *fakeStore) SaveSnapshot(ctx context.Context, snapshot types.RegistrySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, snapshot)
	return nil
}

type recordingConfirmer struct {
	approve bool
	asked   map[string][]string
}

func (c *recordingConfirmer) ConfirmDelete(ctx context.Context, dir string, leftovers []string) bool {
	if c.asked == nil {
		c.asked = map[string][]string{}
	}
	c.asked[dir] = leftovers
	return c.approve
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestInstaller(fetcher *fakeFetcher, store *fakeStore) *Installer {
	return &Installer{
		Fetcher:      fetcher,
		Store:        store,
		Workers:      2,
		FetchTimeout: 5 * time.Second,
		Now:          func() time.Time { return fixedNow },
	}
}

func testModule(id string, version string, directives ...types.InstallDirective) types.ModuleVersion {
	return types.ModuleVersion{Identifier: id, Version: version, Name: id, Install: directives}
}

func installed(m types.ModuleVersion, auto bool, files ...string) types.InstalledModule {
	return core.NewInstalledModule(m, auto, files, fixedNow)
}

func newRegistry(t *testing.T, catalog []types.ModuleVersion, mods ...types.InstalledModule) *core.Registry {
	t.Helper()
	snapshot := types.RegistrySnapshot{SchemaVersion: types.SnapshotSchemaVersion, Installed: map[string]types.InstalledModule{}}
	for _, m := range mods {
		snapshot.Installed[m.Module.Identifier] = m
	}
	reg, err := core.NewRegistry(catalog, snapshot)
	require.NoError(t, err)
	return reg
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
}

func readFile(t *testing.T, root string, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func install(m types.ModuleVersion) types.Operation {
	return types.Operation{Kind: types.OperationInstall, Identifier: m.Identifier, To: &m}
}

func upgrade(from types.ModuleVersion, to types.ModuleVersion) types.Operation {
	return types.Operation{Kind: types.OperationUpgrade, Identifier: to.Identifier, From: &from, To: &to}
}

func remove(m types.ModuleVersion) types.Operation {
	return types.Operation{Kind: types.OperationRemove, Identifier: m.Identifier, From: &m, Reason: types.RemoveRequested}
}

func changeSetOf(ops ...types.Operation) types.ChangeSet {
	changeSet := types.ChangeSet{Operations: ops}
	changeSet.Fingerprint = core.Fingerprint(changeSet)
	return changeSet
}
