package core

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"modkeeper/internal/types"
)

// ParseConstraint builds a VersionConstraint from the catalog's version,
// min_version and max_version fields. Empty fields and the literal "any"
// are unconstrained; an exact version excludes bounds.
func ParseConstraint(version string, minVersion string, maxVersion string) (types.VersionConstraint, error) {
	exact := normalizeBound(version)
	lower := normalizeBound(minVersion)
	upper := normalizeBound(maxVersion)
	if exact != "" && (lower != "" || upper != "") {
		return types.VersionConstraint{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("version %s cannot be combined with min/max bounds", exact))
	}
	switch {
	case exact != "":
		return types.VersionConstraint{Kind: types.ConstraintExact, Exact: exact}, nil
	case lower != "" && upper != "":
		return types.VersionConstraint{Kind: types.ConstraintRange, Min: lower, Max: upper}, nil
	case lower != "":
		return types.VersionConstraint{Kind: types.ConstraintMin, Min: lower}, nil
	case upper != "":
		return types.VersionConstraint{Kind: types.ConstraintMax, Max: upper}, nil
	default:
		return types.VersionConstraint{Kind: types.ConstraintAny}, nil
	}
}

// RelationshipConstraint parses the version fields of a single
// (non any_of) relationship.
func RelationshipConstraint(rel types.Relationship) (types.VersionConstraint, error) {
	return ParseConstraint(rel.Version, rel.MinVersion, rel.MaxVersion)
}

// Allows reports whether version satisfies the constraint. It never
// fails: an any constraint allows every version, and a bound that cannot
// be compared with the version is treated as satisfied.
func Allows(constraint types.VersionConstraint, version string) bool {
	return allows(newVersionCache(), constraint, version)
}

func allows(cache *versionCache, constraint types.VersionConstraint, version string) bool {
	switch constraint.Kind {
	case types.ConstraintAny:
		return true
	case types.ConstraintExact:
		return compareBound(cache, version, constraint.Exact) == 0
	case types.ConstraintMin:
		return compareBound(cache, version, constraint.Min) >= 0
	case types.ConstraintMax:
		return compareBound(cache, version, constraint.Max) <= 0
	case types.ConstraintRange:
		return compareBound(cache, version, constraint.Min) >= 0 &&
			compareBound(cache, version, constraint.Max) <= 0
	default:
		return true
	}
}

// compareBound compares a concrete version with a constraint bound and
// returns 0 when either side does not parse, which every operator above
// accepts.
func compareBound(cache *versionCache, version string, bound string) int {
	v, okV := cache.moduleVersion(version)
	b, okB := cache.moduleVersion(bound)
	if !okV || !okB {
		return 0
	}
	return v.Compare(b)
}

// ConstraintString renders a constraint for messages and fingerprints.
func ConstraintString(constraint types.VersionConstraint) string {
	switch constraint.Kind {
	case types.ConstraintAny:
		return types.AnyVersion
	case types.ConstraintExact:
		return "=" + constraint.Exact
	case types.ConstraintMin:
		return ">=" + constraint.Min
	case types.ConstraintMax:
		return "<=" + constraint.Max
	case types.ConstraintRange:
		return fmt.Sprintf(">=%s,<=%s", constraint.Min, constraint.Max)
	default:
		return string(constraint.Kind)
	}
}

// HostCompatible reports whether module may be installed on hostVersion.
// An empty or "any" host version, an unconstrained module, and versions
// that cannot be parsed are all compatible.
func HostCompatible(module types.ModuleVersion, hostVersion string) bool {
	return hostCompatible(newVersionCache(), module, hostVersion)
}

func hostCompatible(cache *versionCache, module types.ModuleVersion, hostVersion string) bool {
	if isAnyVersion(hostVersion) {
		return true
	}
	host := strings.TrimSpace(hostVersion)
	if !isAnyVersion(module.HostVersion) {
		return hostMatchesPrefix(cache, host, module.HostVersion)
	}
	if !isAnyVersion(module.HostVersionMin) {
		cmp, ok := cache.compareHost(host, strings.TrimSpace(module.HostVersionMin))
		if ok && cmp < 0 {
			return false
		}
	}
	if !isAnyVersion(module.HostVersionMax) {
		upper := strings.TrimSpace(module.HostVersionMax)
		if hostMatchesPrefix(cache, host, upper) {
			return true
		}
		cmp, ok := cache.compareHost(host, upper)
		if ok && cmp > 0 {
			return false
		}
	}
	return true
}

// hostMatchesPrefix reports whether host equals want or is a release
// below it ("1.12.5" matches "1.12"). Unparseable values match.
func hostMatchesPrefix(cache *versionCache, host string, want string) bool {
	want = strings.TrimSpace(want)
	if host == want || strings.HasPrefix(host, want+".") {
		return true
	}
	cmp, ok := cache.compareHost(host, want)
	if !ok {
		return true
	}
	return cmp == 0
}

func normalizeBound(value string) string {
	if isAnyVersion(value) {
		return ""
	}
	return strings.TrimSpace(value)
}
