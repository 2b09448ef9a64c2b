package types

// ArchiveKey addresses a downloaded archive in the cache. Checksum is the
// hex sha256 of the archive bytes; it may be empty when the catalog does
// not publish one.
type ArchiveKey struct {
	Identifier string
	Version    string
	Checksum   string
}

// KeyFor returns the cache key of module's download.
func KeyFor(module ModuleVersion) ArchiveKey {
	return ArchiveKey{
		Identifier: module.Identifier,
		Version:    module.Version,
		Checksum:   module.DownloadHash,
	}
}
