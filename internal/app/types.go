package app

import (
	"time"

	"modkeeper/internal/ports"
	"modkeeper/internal/types"
)

type ChangeRequest struct {
	Install []string
	Remove  []string
	Upgrade []string
	// HostVersion overrides the host version recorded in the registry.
	HostVersion string
}

// ChangeSetPreview is a resolved change set bound to the registry
// generation it was computed from.
type ChangeSetPreview struct {
	Request    types.ResolveRequest
	Plan       types.ResolvePlan
	ChangeSet  types.ChangeSet
	Generation int64
}

type CommitOptions struct {
	// Confirmer overrides the service confirmer for config-only
	// directories during this commit.
	Confirmer ports.ConfigOnlyConfirmer
}

type CommitResult struct {
	TransactionID  string
	Applied        []types.Operation
	Failed         *types.Operation
	ConfigOnlyDirs []string
	Persisted      bool
	Generation     int64
}

type ReconcileResult struct {
	DroppedFiles   []string
	DroppedModules []string
	// Recovered is set when a pending snapshot was merged.
	Recovered  bool
	Generation int64
}

type ListColumn string

const (
	ListByName    ListColumn = "name"
	ListByVersion ListColumn = "version"
	ListByHostMax ListColumn = "host_max"
)

type ListRequest struct {
	SortBy        ListColumn
	Descending    bool
	InstalledOnly bool
}

// ModuleRow is one line of the module listing.
type ModuleRow struct {
	Identifier       string
	Name             string
	Abstract         string
	LatestVersion    string
	InstalledVersion string
	HostVersionMax   string
	Installed        bool
	AutoInstalled    bool
	InstalledAt      time.Time
}
