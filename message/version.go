package message

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SemanticVersion is a major.minor.patch version triple.
type SemanticVersion struct {
	Major uint32
	Minor uint32
	Patch uint32
}

// ParseVersion parses a "major.minor.patch" string.
func ParseVersion(s string) (SemanticVersion, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) != 3 {
		return SemanticVersion{}, fmt.Errorf("version %q is not of the form major.minor.patch", s)
	}

	numbers := make([]uint32, 3)
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return SemanticVersion{}, fmt.Errorf("version %q has a non-numeric component: %w", s, err)
		}
		numbers[i] = uint32(n)
	}

	return SemanticVersion{Major: numbers[0], Minor: numbers[1], Patch: numbers[2]}, nil
}

// MustParseVersion parses a version string and panics on failure.
// Intended for compile-time constants.
func MustParseVersion(s string) SemanticVersion {
	version, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return version
}

// IsCompatible reports whether this version can interoperate with the other:
// equal major and minor, and a patch at least as new as the other's.
func (v SemanticVersion) IsCompatible(other SemanticVersion) bool {
	return v.Major == other.Major && v.Minor == other.Minor && v.Patch >= other.Patch
}

// String returns the "major.minor.patch" form.
func (v SemanticVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// MajorMinor returns the "major.minor" form used in protocol identifiers.
func (v SemanticVersion) MajorMinor() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// MarshalJSON encodes the version as its string form.
func (v SemanticVersion) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

// UnmarshalJSON decodes a version from its string form.
func (v *SemanticVersion) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseVersion(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
