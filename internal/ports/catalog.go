package ports

import (
	"context"

	"modkeeper/internal/types"
)

type CatalogPort interface {
	LoadCatalog(ctx context.Context) ([]types.ModuleVersion, error)
}

// RegistryStorePort loads and saves the persisted registry snapshot. A
// missing snapshot loads as an empty one.
type RegistryStorePort interface {
	LoadSnapshot(ctx context.Context) (types.RegistrySnapshot, error)
	SaveSnapshot(ctx context.Context, snapshot types.RegistrySnapshot) error
}

// PendingSnapshotPort keeps a committed snapshot that the registry store
// failed to save, so a later process knows a reconcile is due.
type PendingSnapshotPort interface {
	SavePending(ctx context.Context, snapshot types.RegistrySnapshot) error
	// LoadPending reports false when no snapshot is pending.
	LoadPending(ctx context.Context) (types.RegistrySnapshot, bool, error)
	ClearPending(ctx context.Context) error
}
