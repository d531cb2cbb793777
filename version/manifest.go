package version

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/shono-io/shipwright/sdk"
)

type cargoManifest struct {
	Package struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
	} `toml:"package"`
	Workspace struct {
		Package struct {
			Version string `toml:"version"`
		} `toml:"package"`
	} `toml:"workspace"`
}

var versionKey = regexp.MustCompile(`^(\s*version\s*=\s*)"[^"]*"(.*)$`)

// ReadCargoVersion reads [package].version, falling back to [workspace.package].version.
func ReadCargoVersion(path string) (sdk.Version, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return sdk.Version{}, fmt.Errorf("unable to read manifest: %w", err)
	}

	var m cargoManifest
	if err := toml.Unmarshal(b, &m); err != nil {
		return sdk.Version{}, fmt.Errorf("unable to parse manifest %s: %w", path, err)
	}

	v := m.Package.Version
	if v == "" {
		v = m.Workspace.Package.Version
	}
	if v == "" {
		return sdk.Version{}, fmt.Errorf("no version recorded in %s", path)
	}

	return ParseTag(v)
}

// CargoPackageName returns [package].name, or "" for virtual workspaces.
func CargoPackageName(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("unable to read manifest: %w", err)
	}

	var m cargoManifest
	if err := toml.Unmarshal(b, &m); err != nil {
		return "", fmt.Errorf("unable to parse manifest %s: %w", path, err)
	}
	return m.Package.Name, nil
}

// SetCargoVersion rewrites the version key of [package] (or [workspace.package]) and
// leaves every other line untouched.
func SetCargoVersion(content []byte, v sdk.Version) ([]byte, error) {
	lines := strings.Split(string(content), "\n")
	section := ""
	replaced := false

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") {
			header, _, _ := strings.Cut(trimmed, "#")
			section = strings.Trim(strings.TrimSpace(header), "[] ")
			continue
		}
		if section != "package" && section != "workspace.package" {
			continue
		}
		m := versionKey.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		lines[i] = fmt.Sprintf(`%s"%s"%s`, m[1], v, m[2])
		replaced = true
		break
	}

	if !replaced {
		return nil, fmt.Errorf("no package version key found")
	}
	return []byte(strings.Join(lines, "\n")), nil
}

func WriteCargoVersion(path string, v sdk.Version) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("unable to read manifest: %w", err)
	}

	out, err := SetCargoVersion(b, v)
	if err != nil {
		return fmt.Errorf("unable to update %s: %w", path, err)
	}
	if bytes.Equal(out, b) {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, info.Mode().Perm())
}
