package ports

import (
	"context"

	"modkeeper/internal/types"
)

// ArchiveCachePort is a content-addressed archive store.
type ArchiveCachePort interface {
	Has(ctx context.Context, key types.ArchiveKey) (bool, error)
	Get(ctx context.Context, key types.ArchiveKey) ([]byte, error)
	// Put stores data under key. It fails when key carries a checksum
	// that data does not match.
	Put(ctx context.Context, key types.ArchiveKey, data []byte) error
}

// FetcherPort downloads the archive of a module version.
type FetcherPort interface {
	Fetch(ctx context.Context, module types.ModuleVersion) ([]byte, error)
}
