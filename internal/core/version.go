package core

import (
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
	debversion "github.com/knqyf263/go-deb-version"
)

// versionCache memoizes parsed versions. Module versions use Debian
// ordering, host versions use PEP 440. Entries that fail to parse are
// remembered as failures so a bad string is parsed once.
type versionCache struct {
	deb    map[string]debversion.Version
	debBad map[string]struct{}
	pep    map[string]pep440.Version
	pepBad map[string]struct{}
}

func newVersionCache() *versionCache {
	return &versionCache{
		deb:    map[string]debversion.Version{},
		debBad: map[string]struct{}{},
		pep:    map[string]pep440.Version{},
		pepBad: map[string]struct{}{},
	}
}

// moduleVersion returns the parsed Debian version and whether parsing
// succeeded. A leading "v" is ignored ("v1.2" == "1.2").
func (c *versionCache) moduleVersion(value string) (debversion.Version, bool) {
	if parsed, ok := c.deb[value]; ok {
		return parsed, true
	}
	if _, bad := c.debBad[value]; bad {
		return debversion.Version{}, false
	}
	parsed, err := debversion.NewVersion(trimVersionPrefix(value))
	if err != nil {
		c.debBad[value] = struct{}{}
		return debversion.Version{}, false
	}
	c.deb[value] = parsed
	return parsed, true
}

// hostVersion returns the parsed PEP 440 host version.
func (c *versionCache) hostVersion(value string) (pep440.Version, bool) {
	if parsed, ok := c.pep[value]; ok {
		return parsed, true
	}
	if _, bad := c.pepBad[value]; bad {
		return pep440.Version{}, false
	}
	parsed, err := pep440.Parse(trimVersionPrefix(value))
	if err != nil {
		c.pepBad[value] = struct{}{}
		return pep440.Version{}, false
	}
	c.pep[value] = parsed
	return parsed, true
}

// compareModule orders two module versions. It is total: parseable
// versions sort above unparseable ones, and two unparseable versions
// compare lexically.
func (c *versionCache) compareModule(a string, b string) int {
	va, okA := c.moduleVersion(a)
	vb, okB := c.moduleVersion(b)
	switch {
	case okA && okB:
		return sign(va.Compare(vb))
	case okA:
		return 1
	case okB:
		return -1
	default:
		return strings.Compare(a, b)
	}
}

// compareHost compares two host versions. ok is false when either side
// does not parse; callers must then treat the pair as compatible.
func (c *versionCache) compareHost(a string, b string) (int, bool) {
	va, okA := c.hostVersion(a)
	vb, okB := c.hostVersion(b)
	if !okA || !okB {
		return 0, false
	}
	return sign(va.Compare(vb)), true
}

// CompareVersions orders two module version strings with the same total
// ordering the resolver uses.
func CompareVersions(a string, b string) int {
	return newVersionCache().compareModule(a, b)
}

// CompareHostVersions orders host version bounds for presentation. An
// empty or "any" bound is unbounded and sorts above every version;
// unparseable bounds sort below parseable ones.
func CompareHostVersions(a string, b string) int {
	anyA, anyB := isAnyVersion(a), isAnyVersion(b)
	switch {
	case anyA && anyB:
		return 0
	case anyA:
		return 1
	case anyB:
		return -1
	}
	cache := newVersionCache()
	if result, ok := cache.compareHost(a, b); ok {
		return result
	}
	_, okA := cache.hostVersion(a)
	_, okB := cache.hostVersion(b)
	switch {
	case okA:
		return 1
	case okB:
		return -1
	default:
		return strings.Compare(a, b)
	}
}

func sign(value int) int {
	switch {
	case value < 0:
		return -1
	case value > 0:
		return 1
	default:
		return 0
	}
}

func trimVersionPrefix(value string) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) > 1 && (trimmed[0] == 'v' || trimmed[0] == 'V') && trimmed[1] >= '0' && trimmed[1] <= '9' {
		return trimmed[1:]
	}
	return trimmed
}

func isAnyVersion(value string) bool {
	trimmed := strings.TrimSpace(value)
	return trimmed == "" || strings.EqualFold(trimmed, "any")
}
