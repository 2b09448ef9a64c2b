package types

import "time"

// InstalledModule records an installed module, its provenance and the
// files it wrote relative to the target directory.
type InstalledModule struct {
	Module        ModuleVersion `yaml:"module"`
	AutoInstalled bool          `yaml:"auto_installed"`
	Files         []string      `yaml:"files"`
	InstalledAt   time.Time     `yaml:"installed_at"`
}

// RegistrySnapshot is the persisted registry state. Fields are only ever
// added; readers ignore keys they do not know.
type RegistrySnapshot struct {
	SchemaVersion   int                        `yaml:"schema_version"`
	Catalog         string                     `yaml:"catalog,omitempty"`
	HostVersion     string                     `yaml:"host_version,omitempty"`
	Generation      int64                      `yaml:"generation"`
	LastTransaction string                     `yaml:"last_transaction,omitempty"`
	Installed       map[string]InstalledModule `yaml:"installed"`
}

// SnapshotSchemaVersion is written into every saved snapshot.
const SnapshotSchemaVersion = 1
