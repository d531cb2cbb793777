package pkg

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shono-io/shipwright/dist"
	"github.com/shono-io/shipwright/exec"
	"github.com/shono-io/shipwright/pack"
	"github.com/shono-io/shipwright/publish"
	"github.com/shono-io/shipwright/repo"
	"github.com/shono-io/shipwright/scm"
	"github.com/shono-io/shipwright/sdk"
	natsconf "github.com/shono-io/shipwright/sdk/nats"
	"github.com/shono-io/shipwright/telemetry"
	"github.com/shono-io/shipwright/version"
)

const redacted = "***"

// Config is loaded once per invocation and passed by value; components get their own
// section through the accessor methods.
type Config struct {
	// ProjectDir is the root of the project being released.
	ProjectDir string `mapstructure:"project_dir"`
	// Name prefixes archives and names the binary; defaults to the Cargo package name.
	Name      string `mapstructure:"name"`
	Binary    string `mapstructure:"binary"`
	Manifest  string `mapstructure:"manifest"`
	OutputDir string `mapstructure:"output_dir"`

	Log       LogConfig       `mapstructure:"log"`
	Release   ReleaseConfig   `mapstructure:"release"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Nats      NatsConfig      `mapstructure:"nats"`
	Build     BuildConfig     `mapstructure:"build"`
	Package   PackageConfig   `mapstructure:"package"`
	Git       GitConfig       `mapstructure:"git"`
	Crates    CratesConfig    `mapstructure:"crates"`
	Npm       NpmConfig       `mapstructure:"npm"`
	Brew      BrewConfig      `mapstructure:"brew"`
	Docs      DocsConfig      `mapstructure:"docs"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type (
	LogConfig struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	}

	ReleaseConfig struct {
		Draft bool `mapstructure:"draft"`
		// Title may use {name}, {version} and {tag}.
		Title        string        `mapstructure:"title"`
		PollAttempts int           `mapstructure:"poll_attempts"`
		PollInterval time.Duration `mapstructure:"poll_interval"`
	}

	RemoteConfig struct {
		Backend           string        `mapstructure:"backend"`
		Owner             string        `mapstructure:"owner"`
		Repository        string        `mapstructure:"repository"`
		Token             string        `mapstructure:"token"`
		BaseURL           string        `mapstructure:"base_url"`
		UploadURL         string        `mapstructure:"upload_url"`
		KeyValueBucket    string        `mapstructure:"kv_bucket"`
		ObjectStoreBucket string        `mapstructure:"object_bucket"`
		Prefix            string        `mapstructure:"prefix"`
		Timeout           time.Duration `mapstructure:"timeout"`
		UploadTimeout     time.Duration `mapstructure:"upload_timeout"`
	}

	NatsConfig struct {
		Url  string `mapstructure:"url"`
		Jwt  string `mapstructure:"jwt"`
		Seed string `mapstructure:"seed"`
	}

	TargetConfig struct {
		Triple   string            `mapstructure:"triple"`
		Strategy string            `mapstructure:"strategy"`
		Env      map[string]string `mapstructure:"env"`
		Clear    []string          `mapstructure:"clear"`
	}

	BuildConfig struct {
		Parallelism int            `mapstructure:"parallelism"`
		Command     []string       `mapstructure:"command"`
		Targets     []TargetConfig `mapstructure:"targets"`
		Cross       []TargetConfig `mapstructure:"cross"`
		Docker      DockerConfig   `mapstructure:"docker"`
	}

	DockerConfig struct {
		Enabled       bool              `mapstructure:"enabled"`
		Host          string            `mapstructure:"host"`
		ImageTemplate string            `mapstructure:"image_template"`
		Images        map[string]string `mapstructure:"images"`
		Command       []string          `mapstructure:"command"`
		Pull          bool              `mapstructure:"pull"`
	}

	PackageConfig struct {
		Zip    bool     `mapstructure:"zip"`
		Extras []string `mapstructure:"extras"`
	}

	GitConfig struct {
		Remote string `mapstructure:"remote"`
		// Branches, when set, is the list of branches a release may be cut from.
		Branches      []string `mapstructure:"branches"`
		CommitMessage string   `mapstructure:"commit_message"`
	}

	CratesConfig struct {
		Packages   []string `mapstructure:"packages"`
		Token      string   `mapstructure:"token"`
		AllowDirty bool     `mapstructure:"allow_dirty"`
	}

	NpmConfig struct {
		PackageDir string   `mapstructure:"package_dir"`
		Targets    []string `mapstructure:"targets"`
		Registry   string   `mapstructure:"registry"`
		Access     string   `mapstructure:"access"`
		Token      string   `mapstructure:"token"`
	}

	BrewConfig struct {
		TapDir  string   `mapstructure:"tap_dir"`
		Formula string   `mapstructure:"formula"`
		Targets []string `mapstructure:"targets"`
		Remote  string   `mapstructure:"remote"`
		Branch  string   `mapstructure:"branch"`
	}

	DocsConfig struct {
		Url     string        `mapstructure:"url"`
		Token   string        `mapstructure:"token"`
		Timeout time.Duration `mapstructure:"timeout"`
	}

	TelemetryConfig struct {
		Endpoint string `mapstructure:"endpoint"`
		Insecure bool   `mapstructure:"insecure"`
	}
)

var (
	DefaultTargets = []TargetConfig{
		{Triple: "aarch64-apple-darwin"},
		{Triple: "x86_64-apple-darwin"},
	}

	DefaultCrossTargets = []TargetConfig{
		{Triple: "x86_64-unknown-linux-musl"},
		{Triple: "aarch64-unknown-linux-gnu"},
		{Triple: "x86_64-pc-windows-msvc"},
	}
)

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("project_dir", ".")
	v.SetDefault("manifest", "Cargo.toml")
	v.SetDefault("output_dir", "dist")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("release.title", "{tag}")
	v.SetDefault("release.poll_attempts", publish.DefaultPolicy.Attempts)
	v.SetDefault("release.poll_interval", publish.DefaultPolicy.Interval)

	v.SetDefault("remote.backend", repo.GitHubBackend)
	v.SetDefault("remote.kv_bucket", "releases")
	v.SetDefault("remote.object_bucket", "release_assets")
	v.SetDefault("remote.timeout", repo.DefaultTimeout)
	v.SetDefault("remote.upload_timeout", repo.DefaultUploadTimeout)

	v.SetDefault("build.docker.enabled", true)
	v.SetDefault("build.docker.image_template", exec.DefaultImageTemplate)

	v.SetDefault("package.zip", true)
	v.SetDefault("package.extras", []string{"README.md", "LICENSE"})

	v.SetDefault("git.remote", "origin")
	v.SetDefault("git.commit_message", "chore(release): {tag}")

	v.SetDefault("brew.remote", "origin")
	v.SetDefault("npm.access", "public")
}

// BindCredentials maps the conventional credential variables onto config keys.
func BindCredentials(v *viper.Viper) error {
	bindings := map[string][]string{
		"remote.token": {"SHIPWRIGHT_REMOTE_TOKEN", "GITHUB_TOKEN", "GH_TOKEN"},
		"crates.token": {"SHIPWRIGHT_CRATES_TOKEN", "CARGO_REGISTRY_TOKEN"},
		"npm.token":    {"SHIPWRIGHT_NPM_TOKEN", "NPM_TOKEN"},
		"nats.jwt":     {"SHIPWRIGHT_NATS_JWT"},
		"nats.seed":    {"SHIPWRIGHT_NATS_SEED"},
		"docs.token":   {"SHIPWRIGHT_DOCS_TOKEN"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("unable to bind %s: %w", key, err)
		}
	}
	return nil
}

func LoadConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to read configuration: %w", err)
	}

	if len(strings.TrimSpace(cfg.ProjectDir)) == 0 {
		cfg.ProjectDir = "."
	}
	if len(cfg.Build.Targets) == 0 {
		cfg.Build.Targets = DefaultTargets
	}
	if !v.IsSet("build.cross") {
		cfg.Build.Cross = DefaultCrossTargets
	}

	if cfg.Name == "" {
		name, err := cfg.packageName()
		if err != nil {
			return Config{}, err
		}
		cfg.Name = name
	}
	if cfg.Binary == "" {
		cfg.Binary = cfg.Name
	}

	if cfg.Remote.Backend != repo.GitHubBackend && cfg.Remote.Backend != repo.NatsBackend {
		return Config{}, fmt.Errorf("unknown remote backend %q", cfg.Remote.Backend)
	}
	return cfg, nil
}

func (c Config) packageName() (string, error) {
	name, err := version.CargoPackageName(c.ManifestPath())
	if err != nil {
		return "", fmt.Errorf("name is required when the manifest has no package name: %w", err)
	}
	return name, nil
}

func (c Config) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ProjectDir, p)
}

func (c Config) ManifestPath() string {
	return c.path(c.Manifest)
}

// Redacted is a copy safe to log.
func (c Config) Redacted() Config {
	for _, s := range []*string{&c.Remote.Token, &c.Crates.Token, &c.Npm.Token, &c.Nats.Jwt, &c.Nats.Seed, &c.Docs.Token} {
		if *s != "" {
			*s = redacted
		}
	}
	return c
}

func (c Config) Title(v sdk.Version) string {
	r := strings.NewReplacer("{name}", c.Name, "{version}", v.String(), "{tag}", v.Tag())
	return r.Replace(c.Release.Title)
}

func (c Config) CommitMessage(v sdk.Version) string {
	msg := c.Git.CommitMessage
	if msg == "" {
		msg = "chore(release): {tag}"
	}
	return strings.NewReplacer("{version}", v.String(), "{tag}", v.Tag()).Replace(msg)
}

func toTargets(in []TargetConfig, strategy sdk.BuildStrategy) []sdk.Target {
	out := make([]sdk.Target, 0, len(in))
	for _, t := range in {
		s := strategy
		if t.Strategy != "" {
			s = sdk.BuildStrategy(t.Strategy)
		}
		out = append(out, sdk.Target{Triple: t.Triple, Strategy: s, Env: t.Env, Clear: t.Clear})
	}
	return out
}

func (c Config) TargetSet() exec.TargetSet {
	return exec.TargetSet{
		Baseline: toTargets(c.Build.Targets, sdk.NativeStrategy),
		Cross:    toTargets(c.Build.Cross, sdk.CrossStrategy),
	}
}

func (c Config) ExecConfig() exec.Config {
	return exec.Config{
		Parallelism: c.Build.Parallelism,
		Native:      exec.NativeConfig{Command: c.Build.Command},
		Docker: exec.DockerConfig{
			FromEnv:       c.Build.Docker.Host == "",
			Url:           c.Build.Docker.Host,
			ImageTemplate: c.Build.Docker.ImageTemplate,
			Images:        c.Build.Docker.Images,
			Command:       c.Build.Docker.Command,
			Pull:          c.Build.Docker.Pull,
		},
	}
}

func (c Config) PackConfig() pack.Config {
	extras := make([]string, 0, len(c.Package.Extras))
	for _, e := range c.Package.Extras {
		extras = append(extras, c.path(e))
	}
	return pack.Config{Name: c.Name, OutputDir: c.path(c.OutputDir), Zip: c.Package.Zip, Extras: extras}
}

func (c Config) RepoConfig() repo.Config {
	return repo.Config{
		Backend:           c.Remote.Backend,
		Owner:             c.Remote.Owner,
		Name:              c.Remote.Repository,
		Token:             c.Remote.Token,
		BaseURL:           c.Remote.BaseURL,
		UploadURL:         c.Remote.UploadURL,
		KeyValueBucket:    c.Remote.KeyValueBucket,
		ObjectStoreBucket: c.Remote.ObjectStoreBucket,
		Prefix:            c.Remote.Prefix,
		Timeout:           c.Remote.Timeout,
		UploadTimeout:     c.Remote.UploadTimeout,
	}
}

func (c Config) NatsConfig() natsconf.Config {
	return natsconf.Config{Url: c.Nats.Url, Jwt: c.Nats.Jwt, Seed: c.Nats.Seed}
}

func (c Config) PublishConfig() publish.Config {
	return publish.Config{
		Draft:  c.Release.Draft,
		Policy: publish.Policy{Attempts: c.Release.PollAttempts, Interval: c.Release.PollInterval},
	}
}

func (c Config) CratesConfig() dist.CratesConfig {
	return dist.CratesConfig{
		ProjectDir: c.ProjectDir,
		Packages:   c.Crates.Packages,
		Token:      c.Crates.Token,
		AllowDirty: c.Crates.AllowDirty,
	}
}

func (c Config) NpmConfig() dist.NpmConfig {
	return dist.NpmConfig{
		PackageDir: c.path(c.Npm.PackageDir),
		Targets:    c.Npm.Targets,
		Registry:   c.Npm.Registry,
		Access:     c.Npm.Access,
		Token:      c.Npm.Token,
	}
}

func (c Config) BrewConfig() dist.BrewConfig {
	return dist.BrewConfig{
		TapDir:  c.path(c.Brew.TapDir),
		Formula: c.Brew.Formula,
		Targets: c.Brew.Targets,
		Remote:  c.Brew.Remote,
		Branch:  c.Brew.Branch,
	}
}

func (c Config) DocsConfig() scm.DocsConfig {
	return scm.DocsConfig{Url: c.Docs.Url, Token: c.Docs.Token, Timeout: c.Docs.Timeout}
}

func (c Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{Endpoint: c.Telemetry.Endpoint, Insecure: c.Telemetry.Insecure}
}
