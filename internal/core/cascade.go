package core

import (
	"sort"
	"strings"

	"modkeeper/internal/types"
)

// ComputeCascadeRemovals returns the auto-installed modules that become
// unnecessary once removing is gone: every installed module depending on
// them is itself being removed. The result excludes removing, is sorted,
// and is computed to a fixed point.
func ComputeCascadeRemovals(installed map[string]types.InstalledModule, removing []string) []string {
	gone := map[string]bool{}
	for _, id := range removing {
		gone[strings.TrimSpace(id)] = true
	}
	dependents := installedDependents(installed)

	var cascade []string
	for {
		added := false
		for _, id := range sortedInstalledIDs(installed) {
			if gone[id] || !installed[id].AutoInstalled {
				continue
			}
			users := dependents[id]
			if len(users) == 0 {
				continue
			}
			all := true
			for _, user := range users {
				if !gone[user] {
					all = false
					break
				}
			}
			if all {
				gone[id] = true
				cascade = append(cascade, id)
				added = true
			}
		}
		if !added {
			break
		}
	}
	sort.Strings(cascade)
	return cascade
}

// installedDependencies maps each installed module to the installed
// modules it depends on. Dependencies on provided identities resolve to
// every installed provider.
func installedDependencies(installed map[string]types.InstalledModule) map[string][]string {
	providers := map[string][]string{}
	for _, id := range sortedInstalledIDs(installed) {
		for _, virtual := range installed[id].Module.Provides {
			virtual = strings.TrimSpace(virtual)
			if virtual != "" && virtual != id {
				providers[virtual] = append(providers[virtual], id)
			}
		}
	}
	out := make(map[string][]string, len(installed))
	for id, module := range installed {
		set := map[string]struct{}{}
		for _, name := range relationshipNames(module.Module.Depends) {
			if _, ok := installed[name]; ok && name != id {
				set[name] = struct{}{}
				continue
			}
			for _, provider := range providers[name] {
				if provider != id {
					set[provider] = struct{}{}
				}
			}
		}
		out[id] = sortedKeys(set)
	}
	return out
}

func installedDependents(installed map[string]types.InstalledModule) map[string][]string {
	out := map[string][]string{}
	deps := installedDependencies(installed)
	for _, id := range sortedInstalledIDs(installed) {
		for _, dep := range deps[id] {
			out[dep] = append(out[dep], id)
		}
	}
	return out
}

func sortedInstalledIDs(installed map[string]types.InstalledModule) []string {
	ids := make([]string, 0, len(installed))
	for id := range installed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
