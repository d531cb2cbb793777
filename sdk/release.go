package sdk

import (
	"fmt"
	"strings"
	"time"
)

type BuildStrategy string

var (
	NativeStrategy BuildStrategy = "native"
	CrossStrategy  BuildStrategy = "cross"
)

type ArchiveFormat string

var (
	TarGzFormat ArchiveFormat = "tar.gz"
	ZipFormat   ArchiveFormat = "zip"
)

const ChecksumAlgorithm = "sha256"

type Version struct {
	Major int
	Minor int
	Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Tag is the git tag and release tag for the version.
func (v Version) Tag() string {
	return "v" + v.String()
}

// Compare returns -1, 0 or 1 under the usual three-tuple ordering.
func (v Version) Compare(o Version) int {
	a := [3]int{v.Major, v.Minor, v.Patch}
	b := [3]int{o.Major, o.Minor, o.Patch}
	for i := range a {
		if a[i] < b[i] {
			return -1
		}
		if a[i] > b[i] {
			return 1
		}
	}
	return 0
}

func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

type (
	Target struct {
		Triple   string
		Strategy BuildStrategy
		// Env is applied only while this target builds.
		Env map[string]string
		// Clear names host variables removed from the build environment.
		Clear []string
	}

	BuildArtifact struct {
		Target        string
		BinaryPath    string
		ArchivePath   string
		ArchiveFormat ArchiveFormat
	}

	Checksum struct {
		ArtifactPath string
		Algorithm    string
		DigestHex    string
	}

	ReleaseRecord struct {
		Tag         string
		Name        string
		Notes       string
		Draft       bool
		PublishedAt *time.Time
		Assets      []string
	}
)

func (t Target) String() string {
	return t.Triple
}

func (t Target) IsWindows() bool {
	return strings.Contains(t.Triple, "windows")
}

// ArchiveName is the deterministic archive file name for a (version, target) pair.
func ArchiveName(name string, v Version, triple string, format ArchiveFormat) string {
	return fmt.Sprintf("%s-v%s-%s.%s", name, v, triple, format)
}

func (r *ReleaseRecord) HasAsset(name string) bool {
	for _, a := range r.Assets {
		if a == name {
			return true
		}
	}
	return false
}
