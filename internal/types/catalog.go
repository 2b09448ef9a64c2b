package types

// ModuleVersion is one installable release of a module as described by
// the catalog. Values are treated as immutable once loaded.
type ModuleVersion struct {
	Identifier     string             `yaml:"identifier"`
	Version        string             `yaml:"version"`
	Name           string             `yaml:"name,omitempty"`
	Abstract       string             `yaml:"abstract,omitempty"`
	HostVersion    string             `yaml:"host_version,omitempty"`
	HostVersionMin string             `yaml:"host_version_min,omitempty"`
	HostVersionMax string             `yaml:"host_version_max,omitempty"`
	Depends        []Relationship     `yaml:"depends,omitempty"`
	Conflicts      []Relationship     `yaml:"conflicts,omitempty"`
	Provides       []string           `yaml:"provides,omitempty"`
	Download       string             `yaml:"download,omitempty"`
	DownloadHash   string             `yaml:"download_hash,omitempty"`
	DownloadSize   int64              `yaml:"download_size,omitempty"`
	Install        []InstallDirective `yaml:"install,omitempty"`
}

// InstallDirective selects archive entries with gitignore-style patterns
// and places them below InstallTo. A leading "!" excludes.
type InstallDirective struct {
	Match     []string `yaml:"match"`
	InstallTo string   `yaml:"install_to,omitempty"`
	Strip     string   `yaml:"strip,omitempty"`
}

type CatalogFile struct {
	Modules []ModuleVersion `yaml:"modules"`
}
