package core

import (
	"errors"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modkeeper/internal/types"
)

type moduleOption func(*types.ModuleVersion)

func testModule(id string, version string, opts ...moduleOption) types.ModuleVersion {
	module := types.ModuleVersion{Identifier: id, Version: version, Name: id}
	for _, opt := range opts {
		opt(&module)
	}
	return module
}

func withDepends(rels ...types.Relationship) moduleOption {
	return func(m *types.ModuleVersion) { m.Depends = append(m.Depends, rels...) }
}

func withConflicts(rels ...types.Relationship) moduleOption {
	return func(m *types.ModuleVersion) { m.Conflicts = append(m.Conflicts, rels...) }
}

func withProvides(names ...string) moduleOption {
	return func(m *types.ModuleVersion) { m.Provides = append(m.Provides, names...) }
}

func withHost(version string) moduleOption {
	return func(m *types.ModuleVersion) { m.HostVersion = version }
}

func rel(name string) types.Relationship {
	return types.Relationship{Name: name}
}

func anyOf(names ...string) types.Relationship {
	group := types.Relationship{}
	for _, name := range names {
		group.AnyOf = append(group.AnyOf, rel(name))
	}
	return group
}

func installedModule(module types.ModuleVersion, auto bool, files ...string) types.InstalledModule {
	return NewInstalledModule(module, auto, files, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
}

func newTestRegistry(t *testing.T, catalog []types.ModuleVersion, installed ...types.InstalledModule) *Registry {
	t.Helper()
	snapshot := types.RegistrySnapshot{Installed: map[string]types.InstalledModule{}}
	for _, module := range installed {
		snapshot.Installed[module.Module.Identifier] = module
	}
	reg, err := NewRegistry(catalog, snapshot)
	require.NoError(t, err)
	return reg
}

func planVersions(plan types.ResolvePlan) map[string]string {
	out := map[string]string{}
	for _, module := range plan.Modules {
		out[module.Module.Identifier] = module.Module.Version
	}
	return out
}

func requireResolveError(t *testing.T, err error, kind ResolveErrorKind) *ResolveError {
	t.Helper()
	require.Error(t, err)
	var resolveErr *ResolveError
	require.True(t, errors.As(err, &resolveErr), "expected ResolveError, got %v", err)
	if diff := cmp.Diff(kind, resolveErr.Kind); diff != "" {
		t.Fatalf("unexpected error kind (-want +got):\n%s", diff)
	}
	return resolveErr
}

func TestResolveAnyConstraintKeepsInstalledDependency(t *testing.T) {
	y01 := testModule("Y", "0.1")
	reg := newTestRegistry(t,
		[]types.ModuleVersion{
			testModule("X", "1.0", withDepends(rel("Y"))),
			y01,
			testModule("Y", "2.0"),
		},
		installedModule(y01, false, "GameData/Y/y.dll"),
	)
	req := types.ResolveRequest{Install: []string{"X"}}

	plan, err := NewResolver().Resolve(t.Context(), req, reg)
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]string{"X": "1.0", "Y": "0.1"}, planVersions(plan)); diff != "" {
		t.Fatalf("unexpected plan (-want +got):\n%s", diff)
	}

	changeSet := BuildChangeSet(req, plan, reg)
	require.Len(t, changeSet.Operations, 1)
	assert.Equal(t, types.OperationInstall, changeSet.Operations[0].Kind)
	assert.Equal(t, "X", changeSet.Operations[0].Identifier)
}

func TestResolveMutualConflict(t *testing.T) {
	reg := newTestRegistry(t, []types.ModuleVersion{
		testModule("P", "1.0", withConflicts(rel("Q"))),
		testModule("Q", "1.0"),
	})

	_, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Install: []string{"Q", "P"}}, reg)
	resolveErr := requireResolveError(t, err, ResolveConflict)
	if diff := cmp.Diff([]string{"P", "Q"}, resolveErr.Modules); diff != "" {
		t.Fatalf("unexpected conflicting modules (-want +got):\n%s", diff)
	}
	assert.Equal(t, errbuilder.CodeFailedPrecondition, resolveErr.Code())
}

func TestResolveConflictOnProvidedIdentity(t *testing.T) {
	reg := newTestRegistry(t, []types.ModuleVersion{
		testModule("A", "1.0", withConflicts(rel("renderer"))),
		testModule("B", "1.0", withProvides("renderer")),
	})

	_, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Install: []string{"A", "B"}}, reg)
	resolveErr := requireResolveError(t, err, ResolveConflict)
	assert.Equal(t, []string{"A", "B"}, resolveErr.Modules)
}

func TestResolveRemovalOfRequiredModuleBlocked(t *testing.T) {
	lib := testModule("Lib", "1.0")
	app := testModule("App", "1.0", withDepends(rel("Lib")))
	reg := newTestRegistry(t,
		[]types.ModuleVersion{app, lib},
		installedModule(app, false, "app.txt"),
		installedModule(lib, true, "lib.txt"),
	)

	_, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Remove: []string{"Lib"}}, reg)
	resolveErr := requireResolveError(t, err, ResolveRemovalBlocked)
	assert.Equal(t, "Lib", resolveErr.Identifier)
	assert.Equal(t, []string{"App"}, resolveErr.Dependents)
}

func TestResolveRemovalWithDependent(t *testing.T) {
	lib := testModule("Lib", "1.0")
	app := testModule("App", "1.0", withDepends(rel("Lib")))
	reg := newTestRegistry(t,
		[]types.ModuleVersion{app, lib},
		installedModule(app, false),
		installedModule(lib, true),
	)

	plan, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Remove: []string{"App"}}, reg)
	require.NoError(t, err)
	assert.Empty(t, plan.Modules)
	assert.Equal(t, []string{"App"}, plan.Removals)
}

func TestResolveSelectsHighestCompatible(t *testing.T) {
	tests := []struct {
		name string
		host string
		want string
	}{
		{name: "old host", host: "1.11.2", want: "1.5"},
		{name: "new host", host: "1.12.0", want: "2.0"},
		{name: "unknown host", host: "", want: "2.0"},
	}

	reg := newTestRegistry(t, []types.ModuleVersion{
		testModule("Y", "1.0", withHost("1.10")),
		testModule("Y", "1.5", withHost("1.11")),
		testModule("Y", "2.0", withHost("1.12")),
	})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Install: []string{"Y"}, HostVersion: tt.host}, reg)
			require.NoError(t, err)
			if diff := cmp.Diff(map[string]string{"Y": tt.want}, planVersions(plan)); diff != "" {
				t.Fatalf("unexpected plan (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveKeepsHostIncompatibleInstalledVersion(t *testing.T) {
	old := testModule("Y", "1.0", withHost("1.8"))
	reg := newTestRegistry(t,
		[]types.ModuleVersion{old, testModule("Y", "2.0", withHost("1.12"))},
		installedModule(old, false),
	)

	plan, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{HostVersion: "1.12"}, reg)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Y": "1.0"}, planVersions(plan))
}

func TestResolveUpgradeRequested(t *testing.T) {
	y01 := testModule("Y", "0.1")
	reg := newTestRegistry(t,
		[]types.ModuleVersion{y01, testModule("Y", "2.0")},
		installedModule(y01, true),
		installedModule(testModule("Z", "1.0", withDepends(rel("Y"))), false),
	)

	plan, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Upgrade: []string{"Y"}}, reg)
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]string{"Y": "2.0", "Z": "1.0"}, planVersions(plan)); diff != "" {
		t.Fatalf("unexpected plan (-want +got):\n%s", diff)
	}
	for _, module := range plan.Modules {
		if module.Module.Identifier == "Y" {
			assert.True(t, module.AutoInstalled, "upgrade keeps provenance")
		}
	}
}

func TestResolveUnsatisfiableConstraint(t *testing.T) {
	reg := newTestRegistry(t, []types.ModuleVersion{
		testModule("X", "1.0", withDepends(types.Relationship{Name: "Y", MinVersion: "3.0"})),
		testModule("Y", "1.0"),
		testModule("Y", "2.0"),
	})

	_, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Install: []string{"X"}}, reg)
	resolveErr := requireResolveError(t, err, ResolveUnsatisfiable)
	assert.Equal(t, "Y", resolveErr.Identifier)
	assert.Equal(t, []string{">=3.0 (required by X)"}, resolveErr.Constraints)
	assert.Equal(t, errbuilder.CodeNotFound, resolveErr.Code())
}

func TestResolveConflictingConstraints(t *testing.T) {
	reg := newTestRegistry(t, []types.ModuleVersion{
		testModule("A", "1.0", withDepends(types.Relationship{Name: "Y", MinVersion: "2.0"})),
		testModule("B", "1.0", withDepends(types.Relationship{Name: "Y", MaxVersion: "1.0"})),
		testModule("Y", "1.0"),
		testModule("Y", "2.0"),
	})

	_, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Install: []string{"A", "B"}}, reg)
	resolveErr := requireResolveError(t, err, ResolveUnsatisfiable)
	assert.Equal(t, "Y", resolveErr.Identifier)
	assert.Contains(t, resolveErr.Constraints, ">=2.0 (required by A)")
	assert.Contains(t, resolveErr.Constraints, "<=1.0 (required by B)")
}

func TestResolveRestartsWithPinnedConstraint(t *testing.T) {
	reg := newTestRegistry(t, []types.ModuleVersion{
		testModule("A", "1.0", withDepends(rel("B"))),
		testModule("C", "1.0", withDepends(types.Relationship{Name: "B", MaxVersion: "1.0"})),
		testModule("B", "1.0"),
		testModule("B", "2.0"),
	})

	plan, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Install: []string{"A", "C"}}, reg)
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]string{"A": "1.0", "B": "1.0", "C": "1.0"}, planVersions(plan)); diff != "" {
		t.Fatalf("unexpected plan (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"A", "C"}, plan.Modules[1].RequiredBy); diff != "" {
		t.Fatalf("unexpected required-by (-want +got):\n%s", diff)
	}
}

func TestResolveProvides(t *testing.T) {
	catalog := []types.ModuleVersion{
		testModule("App", "1.0", withDepends(rel("renderer"))),
		testModule("RendererB", "1.0", withProvides("renderer")),
		testModule("RendererA", "1.0", withProvides("renderer")),
	}

	t.Run("lowest identifier", func(t *testing.T) {
		reg := newTestRegistry(t, catalog)
		plan, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Install: []string{"App"}}, reg)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"App": "1.0", "RendererA": "1.0"}, planVersions(plan))
		assert.Equal(t, []string{"RendererA"}, plan.Dependencies["App"])
	})

	t.Run("installed provider preferred", func(t *testing.T) {
		reg := newTestRegistry(t, catalog, installedModule(catalog[1], false))
		plan, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Install: []string{"App"}}, reg)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"App": "1.0", "RendererB": "1.0"}, planVersions(plan))
	})

	t.Run("accepted provider preferred", func(t *testing.T) {
		reg := newTestRegistry(t, catalog)
		plan, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Install: []string{"App", "RendererB"}}, reg)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"App": "1.0", "RendererB": "1.0"}, planVersions(plan))
	})
}

func TestResolveAnyOf(t *testing.T) {
	catalog := []types.ModuleVersion{
		testModule("App", "1.0", withDepends(anyOf("Missing", "B", "C"))),
		testModule("B", "1.0"),
		testModule("C", "1.0"),
	}
	reg := newTestRegistry(t, catalog)

	plan, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Install: []string{"App"}}, reg)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"App": "1.0", "B": "1.0"}, planVersions(plan))

	plan, err = NewResolver().Resolve(t.Context(), types.ResolveRequest{Install: []string{"App", "C"}}, reg)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"App": "1.0", "C": "1.0"}, planVersions(plan))

	reg = newTestRegistry(t, []types.ModuleVersion{
		testModule("App", "1.0", withDepends(anyOf("Missing", "AlsoMissing"))),
	})
	_, err = NewResolver().Resolve(t.Context(), types.ResolveRequest{Install: []string{"App"}}, reg)
	resolveErr := requireResolveError(t, err, ResolveUnsatisfiable)
	assert.Equal(t, "Missing | AlsoMissing", resolveErr.Identifier)
}

func TestResolveCircularDependency(t *testing.T) {
	reg := newTestRegistry(t, []types.ModuleVersion{
		testModule("A", "1.0", withDepends(rel("B"))),
		testModule("B", "1.0", withDepends(rel("C"))),
		testModule("C", "1.0", withDepends(rel("A"))),
	})

	_, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Install: []string{"A"}}, reg)
	resolveErr := requireResolveError(t, err, ResolveCircularDependency)
	if diff := cmp.Diff([]string{"A", "B", "C", "A"}, resolveErr.Cycle); diff != "" {
		t.Fatalf("unexpected cycle (-want +got):\n%s", diff)
	}
}

func TestResolveCircularDependencyAcrossTargets(t *testing.T) {
	reg := newTestRegistry(t, []types.ModuleVersion{
		testModule("A", "1.0", withDepends(rel("B"))),
		testModule("B", "1.0", withDepends(rel("A"))),
	})

	_, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Install: []string{"A", "B"}}, reg)
	resolveErr := requireResolveError(t, err, ResolveCircularDependency)
	assert.Equal(t, []string{"A", "B"}, resolveErr.Cycle)
}

func TestResolveBreaksCycleWithOlderVersion(t *testing.T) {
	reg := newTestRegistry(t, []types.ModuleVersion{
		testModule("A", "1.0", withDepends(rel("B"))),
		testModule("B", "2.0", withDepends(rel("A"))),
		testModule("B", "1.0"),
	})

	plan, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Install: []string{"A"}}, reg)
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]string{"A": "1.0", "B": "1.0"}, planVersions(plan)); diff != "" {
		t.Fatalf("unexpected plan (-want +got):\n%s", diff)
	}
	assert.Empty(t, plan.Dependencies["B"])
}

func TestResolveBreaksCycleAtEarlierMember(t *testing.T) {
	reg := newTestRegistry(t, []types.ModuleVersion{
		testModule("A", "2.0", withDepends(rel("B"))),
		testModule("A", "1.0"),
		testModule("B", "1.0", withDepends(rel("A"))),
	})

	plan, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Install: []string{"A"}}, reg)
	require.NoError(t, err)
	if diff := cmp.Diff(map[string]string{"A": "1.0"}, planVersions(plan)); diff != "" {
		t.Fatalf("unexpected plan (-want +got):\n%s", diff)
	}
}

func TestResolveCycleUnbreakableByPinnedVersion(t *testing.T) {
	reg := newTestRegistry(t, []types.ModuleVersion{
		testModule("A", "1.0", withDepends(rel("B"))),
		testModule("B", "2.0", withDepends(rel("A"))),
		testModule("B", "1.0"),
	})

	_, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Install: []string{"A", "B=2.0"}}, reg)
	requireResolveError(t, err, ResolveCircularDependency)
}

func TestResolveAutoInstalledFlags(t *testing.T) {
	lib := testModule("Lib", "1.0")
	util := testModule("Util", "1.0")
	reg := newTestRegistry(t,
		[]types.ModuleVersion{
			testModule("App", "1.0", withDepends(rel("Lib"), rel("Util"), rel("New"))),
			lib,
			util,
			testModule("New", "1.0"),
		},
		installedModule(lib, true),
		installedModule(util, false),
	)

	plan, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Install: []string{"App"}}, reg)
	require.NoError(t, err)
	got := map[string]bool{}
	for _, module := range plan.Modules {
		got[module.Module.Identifier] = module.AutoInstalled
	}
	want := map[string]bool{"App": false, "Lib": true, "New": true, "Util": false}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected auto flags (-want +got):\n%s", diff)
	}
}

func TestResolveExplicitRequestClearsAutoFlag(t *testing.T) {
	lib := testModule("Lib", "1.0")
	app := testModule("App", "1.0", withDepends(rel("Lib")))
	reg := newTestRegistry(t,
		[]types.ModuleVersion{app, lib},
		installedModule(app, false),
		installedModule(lib, true),
	)

	req := types.ResolveRequest{Install: []string{"Lib"}}
	plan, err := NewResolver().Resolve(t.Context(), req, reg)
	require.NoError(t, err)
	changeSet := BuildChangeSet(req, plan, reg)
	assert.Empty(t, changeSet.Operations)
	assert.Equal(t, []types.AutoMark{{Identifier: "Lib", AutoInstalled: false}}, changeSet.Marks)
}

func TestResolveValidation(t *testing.T) {
	lib := testModule("Lib", "1.0")
	reg := newTestRegistry(t, []types.ModuleVersion{lib, testModule("Other", "1.0")}, installedModule(lib, false))

	tests := []struct {
		name     string
		req      types.ResolveRequest
		wantCode errbuilder.ErrCode
		wantKind ResolveErrorKind
	}{
		{name: "install and remove", req: types.ResolveRequest{Install: []string{"Lib"}, Remove: []string{"Lib"}}, wantCode: errbuilder.CodeInvalidArgument},
		{name: "remove not installed", req: types.ResolveRequest{Remove: []string{"Other"}}, wantCode: errbuilder.CodeNotFound},
		{name: "upgrade not installed", req: types.ResolveRequest{Upgrade: []string{"Other"}}, wantCode: errbuilder.CodeNotFound},
		{name: "empty target", req: types.ResolveRequest{Install: []string{" "}}, wantCode: errbuilder.CodeInvalidArgument},
		{name: "different pins", req: types.ResolveRequest{Install: []string{"Other=1.0", "Other=2.0"}}, wantCode: errbuilder.CodeInvalidArgument},
		{name: "unknown module", req: types.ResolveRequest{Install: []string{"Nope"}}, wantKind: ResolveUnsatisfiable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver().Resolve(t.Context(), tt.req, reg)
			require.Error(t, err)
			if tt.wantKind != "" {
				resolveErr := requireResolveError(t, err, tt.wantKind)
				assert.Equal(t, "not in catalog", resolveErr.Reason)
				return
			}
			if diff := cmp.Diff(tt.wantCode, errbuilder.CodeOf(err)); diff != "" {
				t.Fatalf("unexpected error code (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolvePinnedTarget(t *testing.T) {
	reg := newTestRegistry(t, []types.ModuleVersion{
		testModule("Y", "1.0"),
		testModule("Y", "2.0"),
	})

	plan, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Install: []string{"Y=1.0"}}, reg)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Y": "1.0"}, planVersions(plan))
}

func TestResolveIsDeterministic(t *testing.T) {
	catalog := []types.ModuleVersion{
		testModule("App", "1.0", withDepends(rel("Lib"), anyOf("GfxA", "GfxB"), rel("renderer"))),
		testModule("Lib", "1.0"),
		testModule("Lib", "1.1"),
		testModule("GfxA", "1.0"),
		testModule("GfxB", "1.0"),
		testModule("R2", "1.0", withProvides("renderer")),
		testModule("R1", "1.0", withProvides("renderer")),
	}
	reversed := make([]types.ModuleVersion, len(catalog))
	for i, module := range catalog {
		reversed[len(catalog)-1-i] = module
	}
	req := types.ResolveRequest{Install: []string{"App"}}

	first, err := NewResolver().Resolve(t.Context(), req, newTestRegistry(t, catalog))
	require.NoError(t, err)
	second, err := NewResolver().Resolve(t.Context(), req, newTestRegistry(t, catalog))
	require.NoError(t, err)
	third, err := NewResolver().Resolve(t.Context(), req, newTestRegistry(t, reversed))
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("resolution differs between runs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first, third); diff != "" {
		t.Fatalf("resolution depends on catalog order (-first +third):\n%s", diff)
	}
}

func TestResolvePlanHasNoConflictingPairs(t *testing.T) {
	catalog := []types.ModuleVersion{
		testModule("A", "1.0", withDepends(anyOf("B", "C")), withConflicts(rel("B"))),
		testModule("B", "1.0"),
		testModule("C", "1.0", withConflicts(types.Relationship{Name: "D", MaxVersion: "1.0"})),
		testModule("D", "1.0"),
		testModule("D", "2.0"),
		testModule("E", "1.0", withDepends(rel("D"))),
	}
	reg := newTestRegistry(t, catalog)

	requests := [][]string{{"A"}, {"A", "E"}, {"C", "E"}, {"B", "D"}}
	for _, install := range requests {
		plan, err := NewResolver().Resolve(t.Context(), types.ResolveRequest{Install: install}, reg)
		if err != nil {
			var resolveErr *ResolveError
			require.True(t, errors.As(err, &resolveErr))
			continue
		}
		cache := newVersionCache()
		for _, a := range plan.Modules {
			for _, b := range plan.Modules {
				assert.False(t, conflictsWith(cache, a.Module, b.Module), "%s conflicts with %s in plan for %v", a.Module.Identifier, b.Module.Identifier, install)
			}
		}
	}
}

func TestParseTarget(t *testing.T) {
	id, constraint, err := ParseTarget(" Y=1.0 ")
	require.NoError(t, err)
	assert.Equal(t, "Y", id)
	assert.Equal(t, types.VersionConstraint{Kind: types.ConstraintExact, Exact: "1.0"}, constraint)

	_, _, err = ParseTarget("Y=")
	require.Error(t, err)
}
