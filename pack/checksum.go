package pack

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/shono-io/shipwright/sdk"
)

const (
	ManifestName  = "checksums.txt"
	SidecarSuffix = ".sha256"
)

// Digester hashes a file with sha256.
type Digester interface {
	Name() string
	Available() bool
	Digest(ctx context.Context, path string) (string, error)
}

// ToolDigester shells out to a hashing tool whose first output field is the digest.
type ToolDigester struct {
	Command []string
}

func (t ToolDigester) Name() string {
	return strings.Join(t.Command, " ")
}

func (t ToolDigester) Available() bool {
	if len(t.Command) == 0 {
		return false
	}
	_, err := osexec.LookPath(t.Command[0])
	return err == nil
}

func (t ToolDigester) Digest(ctx context.Context, path string) (string, error) {
	args := append(append([]string{}, t.Command[1:]...), path)
	out, err := osexec.CommandContext(ctx, t.Command[0], args...).Output()
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", t.Name(), err)
	}

	fields := strings.Fields(string(out))
	if len(fields) == 0 || len(fields[0]) != sha256.Size*2 {
		return "", fmt.Errorf("%s produced unexpected output %q", t.Name(), string(out))
	}
	return strings.ToLower(fields[0]), nil
}

// BuiltinDigester hashes in process.
type BuiltinDigester struct{}

func (BuiltinDigester) Name() string { return "builtin" }

func (BuiltinDigester) Available() bool { return true }

func (BuiltinDigester) Digest(_ context.Context, path string) (string, error) {
	return HashFile(path)
}

var (
	Sha256sum = ToolDigester{Command: []string{"sha256sum"}}
	Shasum    = ToolDigester{Command: []string{"shasum", "-a", "256"}}
)

// DefaultDigesters prefers the standard tools and falls back to the in-process hash.
func DefaultDigesters() []Digester {
	return []Digester{Sha256sum, Shasum, BuiltinDigester{}}
}

func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func NewCalculator(digesters []Digester, log zerolog.Logger) *Calculator {
	return &Calculator{digesters: digesters, log: log}
}

type Calculator struct {
	digesters []Digester
	log       zerolog.Logger
}

func (c *Calculator) digester() (Digester, error) {
	for _, d := range c.digesters {
		if d.Available() {
			return d, nil
		}
	}
	return nil, sdk.ErrNoChecksumTool
}

// Sidecar writes {archive}.sha256 and returns the checksum. It is safe to call
// concurrently for different archives.
func (c *Calculator) Sidecar(ctx context.Context, archivePath string) (*sdk.Checksum, error) {
	d, err := c.digester()
	if err != nil {
		return nil, err
	}

	digest, err := d.Digest(ctx, archivePath)
	if err != nil {
		return nil, fmt.Errorf("unable to checksum %s: %w", filepath.Base(archivePath), err)
	}

	if err := os.WriteFile(archivePath+SidecarSuffix, []byte(digest+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("unable to write checksum sidecar: %w", err)
	}

	c.log.Debug().Str("archive", filepath.Base(archivePath)).Str("digester", d.Name()).Str("sha256", digest).Msg("checksummed")
	return &sdk.Checksum{ArtifactPath: archivePath, Algorithm: sdk.ChecksumAlgorithm, DigestHex: digest}, nil
}

// Manifest writes checksums.txt in dir, one "digest  filename" line per checksum sorted by
// file name.
func (c *Calculator) Manifest(dir string, sums []*sdk.Checksum) (string, error) {
	sorted := append([]*sdk.Checksum{}, sums...)
	sort.Slice(sorted, func(i, j int) bool {
		return filepath.Base(sorted[i].ArtifactPath) < filepath.Base(sorted[j].ArtifactPath)
	})

	var buf bytes.Buffer
	for _, s := range sorted {
		fmt.Fprintf(&buf, "%s  %s\n", s.DigestHex, filepath.Base(s.ArtifactPath))
	}

	path := filepath.Join(dir, ManifestName)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("unable to write %s: %w", ManifestName, err)
	}
	return path, nil
}

// Compute is Sidecar for every archive followed by Manifest.
func (c *Calculator) Compute(ctx context.Context, dir string, archives []string) ([]*sdk.Checksum, error) {
	sums := make([]*sdk.Checksum, 0, len(archives))
	for _, a := range archives {
		s, err := c.Sidecar(ctx, a)
		if err != nil {
			return nil, err
		}
		sums = append(sums, s)
	}

	if _, err := c.Manifest(dir, sums); err != nil {
		return nil, err
	}
	return sums, nil
}

// ReadManifest parses checksums.txt into file name -> digest.
func ReadManifest(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	result := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed manifest line %q", line)
		}
		result[strings.TrimPrefix(fields[1], "*")] = fields[0]
	}
	return result, sc.Err()
}

// Verify recomputes every digest listed in dir's manifest and compares it against the
// manifest and the sidecar files.
func Verify(dir string) ([]string, error) {
	manifest, err := ReadManifest(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("unable to read manifest: %w", err)
	}

	names := make([]string, 0, len(manifest))
	for n := range manifest {
		names = append(names, n)
	}
	sort.Strings(names)

	var mismatches []string
	for _, n := range names {
		actual, err := HashFile(filepath.Join(dir, n))
		if err != nil {
			mismatches = append(mismatches, fmt.Sprintf("%s: %v", n, err))
			continue
		}
		if actual != manifest[n] {
			mismatches = append(mismatches, fmt.Sprintf("%s: manifest digest mismatch", n))
		}

		side, err := os.ReadFile(filepath.Join(dir, n+SidecarSuffix))
		if err != nil {
			mismatches = append(mismatches, fmt.Sprintf("%s: sidecar missing", n))
			continue
		}
		if strings.TrimSpace(string(side)) != actual {
			mismatches = append(mismatches, fmt.Sprintf("%s: sidecar digest mismatch", n))
		}
	}
	return mismatches, nil
}

// Archives lists the archives in dir, excluding sidecars, the manifest and temp files.
func Archives(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var result []string
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || n == ManifestName || strings.HasSuffix(n, SidecarSuffix) {
			continue
		}
		if strings.HasSuffix(n, "."+string(sdk.TarGzFormat)) || strings.HasSuffix(n, "."+string(sdk.ZipFormat)) {
			result = append(result, filepath.Join(dir, n))
		}
	}
	sort.Strings(result)
	return result, nil
}
