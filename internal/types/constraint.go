package types

// VersionConstraint restricts which versions of a module are acceptable.
// The zero value is ConstraintAny.
type VersionConstraint struct {
	Kind  ConstraintKind
	Exact string
	Min   string
	Max   string
}

// Relationship is a single depends/conflicts entry. Either Name is set,
// or AnyOf lists alternatives of which one must hold.
type Relationship struct {
	Name       string         `yaml:"name,omitempty"`
	Version    string         `yaml:"version,omitempty"`
	MinVersion string         `yaml:"min_version,omitempty"`
	MaxVersion string         `yaml:"max_version,omitempty"`
	AnyOf      []Relationship `yaml:"any_of,omitempty"`
}
