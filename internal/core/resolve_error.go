package core

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

type ResolveErrorKind string

const (
	ResolveUnsatisfiable      ResolveErrorKind = "unsatisfiable"
	ResolveConflict           ResolveErrorKind = "conflict"
	ResolveCircularDependency ResolveErrorKind = "circular_dependency"
	ResolveRemovalBlocked     ResolveErrorKind = "removal_blocked"
)

// ResolveError explains why a request has no consistent plan. Only the
// fields relevant to Kind are set.
type ResolveError struct {
	Kind ResolveErrorKind
	// Identifier is the identity that could not be satisfied or removed.
	Identifier string
	// Constraints lists the constraints imposed on Identifier, rendered
	// as "<constraint> (required by <module>)".
	Constraints []string
	// Modules holds the two conflicting identifiers.
	Modules []string
	Cycle   []string
	// Dependents lists installed modules that still need Identifier.
	Dependents []string
	Reason     string
}

func (e *ResolveError) Error() string {
	switch e.Kind {
	case ResolveUnsatisfiable:
		msg := fmt.Sprintf("cannot satisfy %s", e.Identifier)
		if e.Reason != "" {
			msg += ": " + e.Reason
		}
		if len(e.Constraints) > 0 {
			msg += " [" + strings.Join(e.Constraints, "; ") + "]"
		}
		return msg
	case ResolveConflict:
		return fmt.Sprintf("modules conflict: %s", strings.Join(e.Modules, " <-> "))
	case ResolveCircularDependency:
		return fmt.Sprintf("circular dependency: %s", strings.Join(e.Cycle, " -> "))
	case ResolveRemovalBlocked:
		return fmt.Sprintf("cannot remove %s: required by %s", e.Identifier, strings.Join(e.Dependents, ", "))
	default:
		return fmt.Sprintf("resolve failed: %s", e.Reason)
	}
}

// Code maps the error onto the errbuilder vocabulary used by callers.
func (e *ResolveError) Code() errbuilder.ErrCode {
	switch e.Kind {
	case ResolveUnsatisfiable:
		return errbuilder.CodeNotFound
	default:
		return errbuilder.CodeFailedPrecondition
	}
}

func unsatisfiable(id string, reason string, constraints []string) *ResolveError {
	return &ResolveError{
		Kind:        ResolveUnsatisfiable,
		Identifier:  id,
		Reason:      reason,
		Constraints: constraints,
	}
}
