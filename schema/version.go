package schema

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// ErrInvalidVersion is returned when a version string is not MAJOR.MINOR.PATCH
var ErrInvalidVersion = errors.New("schema: invalid version")

// Version is a semantic schema version
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion parses a strict MAJOR.MINOR.PATCH version string
func ParseVersion(s string) (Version, error) {
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("%w %q: %v", ErrInvalidVersion, s, err)
	}
	if v.Prerelease() != "" || v.Metadata() != "" {
		return Version{}, fmt.Errorf("%w %q: pre-release and build metadata are not supported", ErrInvalidVersion, s)
	}
	return Version{Major: int(v.Major()), Minor: int(v.Minor()), Patch: int(v.Patch())}, nil
}

// MustParseVersion is like ParseVersion but panics on error
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the MAJOR.MINOR.PATCH form
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1 comparing (major, minor, patch) tuples
func (v Version) Compare(other Version) int {
	switch {
	case v.Major != other.Major:
		return cmpInt(v.Major, other.Major)
	case v.Minor != other.Minor:
		return cmpInt(v.Minor, other.Minor)
	default:
		return cmpInt(v.Patch, other.Patch)
	}
}

// Less reports whether v orders before other
func (v Version) Less(other Version) bool {
	return v.Compare(other) < 0
}

// Equal reports whether both versions are identical
func (v Version) Equal(other Version) bool {
	return v.Compare(other) == 0
}

// IsCompatible reports whether both versions share the same major version
func (v Version) IsCompatible(other Version) bool {
	return v.Major == other.Major
}

// CompareVersions parses and compares two version strings
func CompareVersions(a, b string) (int, error) {
	va, err := ParseVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := ParseVersion(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
