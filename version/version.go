// Package version resolves the next release version from a bump kind or an explicit string.
package version

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shono-io/shipwright/sdk"
)

type BumpKind string

const (
	MajorBump BumpKind = "major"
	MinorBump BumpKind = "minor"
	PatchBump BumpKind = "patch"
)

// Parse accepts exactly MAJOR.MINOR.PATCH with non-negative decimal components.
func Parse(s string) (sdk.Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return sdk.Version{}, fmt.Errorf("%w: %q", sdk.ErrInvalidVersionFormat, s)
	}

	var nums [3]int
	for i, p := range parts {
		if p == "" || strings.TrimLeft(p, "0123456789") != "" {
			return sdk.Version{}, fmt.Errorf("%w: %q", sdk.ErrInvalidVersionFormat, s)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return sdk.Version{}, fmt.Errorf("%w: %q", sdk.ErrInvalidVersionFormat, s)
		}
		nums[i] = n
	}

	return sdk.Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// ParseTag is Parse with an optional leading "v", as found in tags and manifests.
func ParseTag(s string) (sdk.Version, error) {
	return Parse(strings.TrimPrefix(strings.TrimSpace(s), "v"))
}

func Bump(current sdk.Version, kind BumpKind) (sdk.Version, error) {
	var component int
	switch kind {
	case PatchBump:
		component = current.Patch
	case MinorBump:
		component = current.Minor
	case MajorBump:
		component = current.Major
	}
	if component == math.MaxInt {
		return sdk.Version{}, fmt.Errorf("%w: %s cannot be bumped past %s", sdk.ErrInvalidVersionFormat, current, kind)
	}

	switch kind {
	case PatchBump:
		return sdk.Version{Major: current.Major, Minor: current.Minor, Patch: current.Patch + 1}, nil
	case MinorBump:
		return sdk.Version{Major: current.Major, Minor: current.Minor + 1}, nil
	case MajorBump:
		return sdk.Version{Major: current.Major + 1}, nil
	default:
		return sdk.Version{}, fmt.Errorf("%w: %q", sdk.ErrUnknownBumpKind, kind)
	}
}

// Resolve returns the explicit version verbatim when given, otherwise current bumped by kind.
func Resolve(current sdk.Version, explicit string, kind BumpKind) (sdk.Version, error) {
	if explicit != "" {
		return Parse(explicit)
	}

	return Bump(current, kind)
}
