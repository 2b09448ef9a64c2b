package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"modkeeper/internal/types"
)

// BuildChangeSet diffs the installed set against plan. It is pure: the
// same inputs always yield an equal ChangeSet, including its fingerprint.
//
// Removes come first, dependents before their dependencies. Installs and
// upgrades follow, dependencies before their dependents.
func BuildChangeSet(req types.ResolveRequest, plan types.ResolvePlan, reg *Registry) types.ChangeSet {
	installed := reg.InstalledModules()
	planned := make(map[string]types.PlannedModule, len(plan.Modules))
	plannedIDs := make([]string, 0, len(plan.Modules))
	for _, module := range plan.Modules {
		planned[module.Module.Identifier] = module
		plannedIDs = append(plannedIDs, module.Module.Identifier)
	}
	sort.Strings(plannedIDs)

	requested := map[string]bool{}
	var requestedIDs []string
	for _, raw := range req.Remove {
		id := strings.TrimSpace(raw)
		if _, ok := installed[id]; ok && !requested[id] {
			requested[id] = true
			requestedIDs = append(requestedIDs, id)
		}
	}
	cascade := map[string]bool{}
	for _, id := range ComputeCascadeRemovals(installed, requestedIDs) {
		cascade[id] = true
	}

	removals := map[string]types.Operation{}
	for _, id := range sortedInstalledIDs(installed) {
		if _, ok := planned[id]; ok {
			continue
		}
		current := installed[id]
		reason := types.RemoveOrphaned
		switch {
		case requested[id]:
			reason = types.RemoveRequested
		case cascade[id]:
			reason = types.RemoveCascade
		}
		from := current.Module
		removals[id] = types.Operation{
			Kind:          types.OperationRemove,
			Identifier:    id,
			From:          &from,
			AutoInstalled: current.AutoInstalled,
			Reason:        reason,
		}
	}

	changes := map[string]types.Operation{}
	var marks []types.AutoMark
	for _, id := range plannedIDs {
		target := planned[id]
		to := target.Module
		current, ok := installed[id]
		switch {
		case !ok:
			changes[id] = types.Operation{
				Kind:          types.OperationInstall,
				Identifier:    id,
				To:            &to,
				AutoInstalled: target.AutoInstalled,
			}
		case current.Module.Version != to.Version:
			from := current.Module
			changes[id] = types.Operation{
				Kind:          types.OperationUpgrade,
				Identifier:    id,
				From:          &from,
				To:            &to,
				AutoInstalled: target.AutoInstalled,
			}
		case current.AutoInstalled != target.AutoInstalled:
			marks = append(marks, types.AutoMark{Identifier: id, AutoInstalled: target.AutoInstalled})
		}
	}

	var ops []types.Operation
	removeOrder, removeCycle := dependencyOrder(sortedInstalledIDs(installed), installedDependencies(installed))
	for _, id := range append(reverseStrings(removeOrder), removeCycle...) {
		if op, ok := removals[id]; ok {
			ops = append(ops, op)
		}
	}
	installOrder, installCycle := dependencyOrder(plannedIDs, plan.Dependencies)
	for _, id := range append(installOrder, installCycle...) {
		if op, ok := changes[id]; ok {
			ops = append(ops, op)
		}
	}

	changeSet := types.ChangeSet{Operations: ops, Marks: marks}
	changeSet.Fingerprint = Fingerprint(changeSet)
	return changeSet
}

// Fingerprint hashes the canonical rendering of the operations and marks.
func Fingerprint(changeSet types.ChangeSet) string {
	hash := sha256.New()
	for _, op := range changeSet.Operations {
		fmt.Fprintf(hash, "%s %s %s %s %t %s\n",
			op.Kind, op.Identifier, versionOf(op.From), versionOf(op.To), op.AutoInstalled, op.Reason)
	}
	for _, mark := range changeSet.Marks {
		fmt.Fprintf(hash, "mark %s %t\n", mark.Identifier, mark.AutoInstalled)
	}
	return hex.EncodeToString(hash.Sum(nil))
}

func versionOf(module *types.ModuleVersion) string {
	if module == nil {
		return "-"
	}
	return module.Version
}
