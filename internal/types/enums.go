package types

type ConstraintKind string

const (
	ConstraintAny   ConstraintKind = ""
	ConstraintExact ConstraintKind = "exact"
	ConstraintMin   ConstraintKind = "min"
	ConstraintMax   ConstraintKind = "max"
	ConstraintRange ConstraintKind = "range"
)

type OperationKind string

const (
	OperationInstall OperationKind = "install"
	OperationUpgrade OperationKind = "upgrade"
	OperationRemove  OperationKind = "remove"
)

type RemoveReason string

const (
	RemoveRequested RemoveReason = "requested"
	RemoveCascade   RemoveReason = "cascade"
	RemoveOrphaned  RemoveReason = "orphaned"
)

// AnyVersion is the catalog spelling of an unconstrained version field.
const AnyVersion = "any"
