package types

// ResolveRequest is the input of the relationship resolver.
type ResolveRequest struct {
	Install     []string
	Remove      []string
	Upgrade     []string
	HostVersion string
}

// PlannedModule is a module accepted into a resolver plan.
type PlannedModule struct {
	Module        ModuleVersion
	AutoInstalled bool
	RequiredBy    []string
}

// ResolvePlan is the accepted module set. Dependencies maps an accepted
// identifier to the accepted identifiers it depends on.
type ResolvePlan struct {
	Modules      []PlannedModule
	Dependencies map[string][]string
	Removals     []string
	HostVersion  string
}

type Operation struct {
	Kind          OperationKind
	Identifier    string
	From          *ModuleVersion
	To            *ModuleVersion
	AutoInstalled bool
	Reason        RemoveReason
}

// AutoMark changes the provenance flag of a module that stays installed
// at the same version.
type AutoMark struct {
	Identifier    string
	AutoInstalled bool
}

type ChangeSet struct {
	Operations  []Operation
	Marks       []AutoMark
	Fingerprint string
}

// Empty reports whether applying the change set would change nothing.
func (c ChangeSet) Empty() bool {
	return len(c.Operations) == 0 && len(c.Marks) == 0
}
