// Package pack turns built binaries into release archives and checksums them.
package pack

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"

	"github.com/shono-io/shipwright/sdk"
)

type Config struct {
	// Name prefixes every archive name.
	Name string
	// OutputDir holds one sub directory per version.
	OutputDir string
	// Zip enables zip archives for Windows-class targets.
	Zip bool
	// Extras are added next to the binary when they exist (README, LICENSE).
	Extras []string
}

// epoch is written as the mtime of every archive entry so archive bytes depend only on
// their inputs.
var epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func NewPackager(cfg Config, log zerolog.Logger) *Packager {
	return &Packager{cfg: cfg, log: log}
}

type Packager struct {
	cfg Config
	log zerolog.Logger
}

// Dir is the run-scoped output directory for a version.
func (p *Packager) Dir(v sdk.Version) string {
	return filepath.Join(p.cfg.OutputDir, v.Tag())
}

// Format picks the archive format for a target, falling back to tar.gz with a warning
// when zip is disabled for a Windows-class target.
func (p *Packager) Format(t sdk.Target) sdk.ArchiveFormat {
	if !t.IsWindows() {
		return sdk.TarGzFormat
	}
	if !p.cfg.Zip {
		p.log.Warn().Str("target", t.Triple).Msg("zip archiver unavailable, falling back to tar.gz")
		return sdk.TarGzFormat
	}
	return sdk.ZipFormat
}

func (p *Packager) ArchivePath(v sdk.Version, t sdk.Target, f sdk.ArchiveFormat) string {
	return filepath.Join(p.Dir(v), sdk.ArchiveName(p.cfg.Name, v, t.Triple, f))
}

// Package archives binaryPath for the target. Re-running for the same (version, target)
// replaces the archive in place.
func (p *Packager) Package(v sdk.Version, t sdk.Target, binaryPath string) (*sdk.BuildArtifact, error) {
	info, err := os.Stat(binaryPath)
	if err != nil || info.IsDir() {
		return nil, fmt.Errorf("%w: %s for %s", sdk.ErrArtifactMissing, binaryPath, t.Triple)
	}

	if err := os.MkdirAll(p.Dir(v), 0o755); err != nil {
		return nil, fmt.Errorf("unable to create output directory: %w", err)
	}

	format := p.Format(t)
	dst := p.ArchivePath(v, t, format)

	files := []string{binaryPath}
	for _, e := range p.cfg.Extras {
		if st, err := os.Stat(e); err == nil && !st.IsDir() {
			files = append(files, e)
		}
	}

	tmp, err := os.CreateTemp(p.Dir(v), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("unable to create temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	switch format {
	case sdk.ZipFormat:
		err = writeZip(tmp, files)
	default:
		err = writeTarGz(tmp, files)
	}
	if err == nil {
		err = tmp.Chmod(0o644)
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("unable to write %s: %w", dst, err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return nil, fmt.Errorf("unable to move archive into place: %w", err)
	}

	p.log.Info().Str("target", t.Triple).Str("archive", filepath.Base(dst)).Msg("packaged")
	return &sdk.BuildArtifact{
		Target:        t.Triple,
		BinaryPath:    binaryPath,
		ArchivePath:   dst,
		ArchiveFormat: format,
	}, nil
}

func writeTarGz(w io.Writer, files []string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	for _, f := range files {
		if err := addTar(tw, f); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addTar(tw *tar.Writer, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(path)
	hdr.ModTime = epoch
	hdr.AccessTime, hdr.ChangeTime = time.Time{}, time.Time{}
	hdr.Uid, hdr.Gid = 0, 0
	hdr.Uname, hdr.Gname = "", ""

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}

func writeZip(w io.Writer, files []string) error {
	zw := zip.NewWriter(w)

	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.Base(path)
		hdr.Method = zip.Deflate
		hdr.Modified = epoch

		entry, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(entry, f)
		f.Close()
		if err != nil {
			return err
		}
	}

	return zw.Close()
}
