package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"modkeeper/internal/types"
)

// Registry is an immutable view of the catalog and the installed set.
// Commit returns a new Registry; an existing value never changes, so it
// can be shared with concurrent resolvers.
type Registry struct {
	available       map[string][]types.ModuleVersion
	providers       map[string][]string
	installed       map[string]types.InstalledModule
	catalogRef      string
	hostVersion     string
	generation      int64
	lastTransaction string
}

// NewRegistry indexes catalog modules by identifier and attaches the
// installed state from snapshot. Installed modules that the catalog no
// longer lists stay available so they can be kept.
func NewRegistry(catalog []types.ModuleVersion, snapshot types.RegistrySnapshot) (*Registry, error) {
	reg := &Registry{
		available:       map[string][]types.ModuleVersion{},
		providers:       map[string][]string{},
		installed:       map[string]types.InstalledModule{},
		catalogRef:      snapshot.Catalog,
		hostVersion:     snapshot.HostVersion,
		generation:      snapshot.Generation,
		lastTransaction: snapshot.LastTransaction,
	}
	seen := map[string]struct{}{}
	for _, module := range catalog {
		id := strings.TrimSpace(module.Identifier)
		version := strings.TrimSpace(module.Version)
		if id == "" || version == "" {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("catalog entry requires identifier and version (identifier=%q version=%q)", module.Identifier, module.Version))
		}
		key := id + "@" + version
		if _, ok := seen[key]; ok {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeAlreadyExists).
				WithMsg(fmt.Sprintf("duplicate catalog entry %s %s", id, version))
		}
		seen[key] = struct{}{}
		module.Identifier = id
		module.Version = version
		reg.available[id] = append(reg.available[id], module)
	}
	for id, installed := range snapshot.Installed {
		if installed.Module.Identifier == "" {
			installed.Module.Identifier = id
		}
		if installed.Module.Identifier != id {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("installed entry %s records module %s", id, installed.Module.Identifier))
		}
		installed.Files = append([]string(nil), installed.Files...)
		sort.Strings(installed.Files)
		reg.installed[id] = installed
		key := id + "@" + installed.Module.Version
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			reg.available[id] = append(reg.available[id], installed.Module)
		}
	}
	reg.index()
	return reg, nil
}

func (r *Registry) index() {
	cache := newVersionCache()
	for id, versions := range r.available {
		sort.SliceStable(versions, func(i, j int) bool {
			return cache.compareModule(versions[i].Version, versions[j].Version) > 0
		})
		r.available[id] = versions
	}
	providers := map[string]map[string]struct{}{}
	for id, versions := range r.available {
		for _, version := range versions {
			for _, virtual := range version.Provides {
				virtual = strings.TrimSpace(virtual)
				if virtual == "" || virtual == id {
					continue
				}
				if providers[virtual] == nil {
					providers[virtual] = map[string]struct{}{}
				}
				providers[virtual][id] = struct{}{}
			}
		}
	}
	for virtual, ids := range providers {
		r.providers[virtual] = sortedKeys(ids)
	}
}

// Versions returns the known versions of id, highest first.
func (r *Registry) Versions(id string) []types.ModuleVersion {
	return append([]types.ModuleVersion(nil), r.available[id]...)
}

// Module looks up one exact catalog entry.
func (r *Registry) Module(id string, version string) (types.ModuleVersion, bool) {
	for _, module := range r.available[id] {
		if module.Version == version {
			return module, true
		}
	}
	return types.ModuleVersion{}, false
}

// Known reports whether any version of id exists.
func (r *Registry) Known(id string) bool {
	return len(r.available[id]) > 0
}

// Providers returns the identifiers of modules that provide virtual,
// sorted.
func (r *Registry) Providers(virtual string) []string {
	return append([]string(nil), r.providers[virtual]...)
}

func (r *Registry) Installed(id string) (types.InstalledModule, bool) {
	module, ok := r.installed[id]
	return module, ok
}

// InstalledIDs returns the installed identifiers, sorted.
func (r *Registry) InstalledIDs() []string {
	ids := make([]string, 0, len(r.installed))
	for id := range r.installed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AvailableIDs returns every identifier with at least one version, sorted.
func (r *Registry) AvailableIDs() []string {
	ids := make([]string, 0, len(r.available))
	for id := range r.available {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// InstalledModules returns a copy of the installed map.
func (r *Registry) InstalledModules() map[string]types.InstalledModule {
	out := make(map[string]types.InstalledModule, len(r.installed))
	for id, module := range r.installed {
		module.Files = append([]string(nil), module.Files...)
		out[id] = module
	}
	return out
}

func (r *Registry) Generation() int64 {
	return r.generation
}

func (r *Registry) HostVersion() string {
	return r.hostVersion
}

func (r *Registry) CatalogRef() string {
	return r.catalogRef
}

func (r *Registry) LastTransaction() string {
	return r.lastTransaction
}

// Snapshot returns the persisted form of the registry.
func (r *Registry) Snapshot() types.RegistrySnapshot {
	return types.RegistrySnapshot{
		SchemaVersion:   types.SnapshotSchemaVersion,
		Catalog:         r.catalogRef,
		HostVersion:     r.hostVersion,
		Generation:      r.generation,
		LastTransaction: r.lastTransaction,
		Installed:       r.InstalledModules(),
	}
}

// Commit returns a registry with installed replaced and the generation
// bumped. The catalog is shared with the receiver.
func (r *Registry) Commit(installed map[string]types.InstalledModule, transactionID string) *Registry {
	next := &Registry{
		available:       map[string][]types.ModuleVersion{},
		providers:       r.providers,
		installed:       map[string]types.InstalledModule{},
		catalogRef:      r.catalogRef,
		hostVersion:     r.hostVersion,
		generation:      r.generation + 1,
		lastTransaction: transactionID,
	}
	for id, versions := range r.available {
		next.available[id] = versions
	}
	changed := false
	for id, module := range installed {
		module.Files = append([]string(nil), module.Files...)
		sort.Strings(module.Files)
		next.installed[id] = module
		if _, ok := next.find(id, module.Module.Version); !ok {
			next.available[id] = append(append([]types.ModuleVersion(nil), next.available[id]...), module.Module)
			changed = true
		}
	}
	if changed {
		next.providers = map[string][]string{}
		next.index()
	}
	return next
}

// WithHostVersion returns a copy of the registry recording hostVersion.
func (r *Registry) WithHostVersion(hostVersion string) *Registry {
	next := *r
	next.hostVersion = hostVersion
	return &next
}

func (r *Registry) find(id string, version string) (int, bool) {
	for i, module := range r.available[id] {
		if module.Version == version {
			return i, true
		}
	}
	return -1, false
}

// NewInstalledModule builds the installed record for module.
func NewInstalledModule(module types.ModuleVersion, autoInstalled bool, files []string, at time.Time) types.InstalledModule {
	out := append([]string(nil), files...)
	sort.Strings(out)
	return types.InstalledModule{
		Module:        module,
		AutoInstalled: autoInstalled,
		Files:         out,
		InstalledAt:   at.UTC(),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
