package sdk

import "errors"

var (
	ErrInvalidVersionFormat = errors.New("invalid version format")
	ErrUnknownBumpKind      = errors.New("unknown bump kind")
	ErrArtifactMissing      = errors.New("artifact missing")
	ErrNoChecksumTool       = errors.New("no checksum tool available")
	ErrPublishFailed        = errors.New("publish failed")
	ErrReleaseNotFound      = errors.New("release not found")
	ErrToolingUnavailable   = errors.New("build tooling unavailable")
	ErrPrecondition         = errors.New("precondition not met")
)
