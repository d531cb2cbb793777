package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"

	"github.com/shono-io/shipwright/sdk"
)

const (
	targetLabel  = "shipwright_target"
	versionLabel = "shipwright_version"
)

func NewDockerBuilder(cfg DockerConfig, log zerolog.Logger) (*DockerBuilder, error) {
	d := &DockerBuilder{
		cfg: cfg,
		clientOpts: []client.Opt{
			client.WithAPIVersionNegotiation(),
		},
		log: log.With().Str("builder", string(sdk.CrossStrategy)).Logger(),
	}
	if d.cfg.ImageTemplate == "" {
		d.cfg.ImageTemplate = DefaultImageTemplate
	}
	if d.cfg.Workdir == "" {
		d.cfg.Workdir = DefaultWorkdir
	}
	if len(d.cfg.Command) == 0 {
		d.cfg.Command = DefaultCommand
	}

	if cfg.FromEnv {
		d.clientOpts = append(d.clientOpts, client.FromEnv)
	} else {
		if cfg.Url != "" {
			d.clientOpts = append(d.clientOpts, client.WithHost(cfg.Url))
		}
	}

	dc, err := client.NewClientWithOpts(d.clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create docker client: %w", err)
	}
	d.dc = dc

	return d, nil
}

// DockerBuilder is the cross-compilation helper: each target builds inside its own
// container with only the target overlay as environment.
type DockerBuilder struct {
	cfg DockerConfig

	clientOpts []client.Opt
	dc         client.APIClient
	log        zerolog.Logger
}

func (d *DockerBuilder) Strategy() sdk.BuildStrategy {
	return sdk.CrossStrategy
}

func (d *DockerBuilder) Available(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := d.dc.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon unreachable: %w", err)
	}
	return nil
}

func (d *DockerBuilder) Close() error {
	return d.dc.Close()
}

func (d *DockerBuilder) Build(ctx context.Context, req BuildRequest) (string, error) {
	if err := d.ensureAbsent(ctx, req); err != nil {
		return "", err
	}

	if d.cfg.Pull {
		if err := d.pullImage(ctx, d.image(req.Target)); err != nil {
			return "", err
		}
	}

	execId, err := d.createExecution(ctx, req)
	if err != nil {
		return "", err
	}
	// -- the container is removed on every path, including cancellation
	defer func() {
		rctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := d.removeExecution(rctx, execId); err != nil {
			d.log.Warn().Err(err).Str("exec_id", execId).Msg("unable to remove build container")
		}
	}()

	if err := d.startExecution(ctx, execId); err != nil {
		return "", err
	}

	code, err := d.waitExecution(ctx, execId)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("build for %s exited with status %d: %s", req.Target.Triple, code, d.executionLogs(execId))
	}

	return BinaryPath(req.ProjectDir, req.BinaryName, req.Target), nil
}

func (d *DockerBuilder) image(t sdk.Target) string {
	if img, fnd := d.cfg.Images[t.Triple]; fnd {
		return img
	}
	return expand([]string{d.cfg.ImageTemplate}, t)[0]
}

// ensureAbsent removes a container left behind by an interrupted run for the same
// (version, target) pair so the create below never conflicts.
func (d *DockerBuilder) ensureAbsent(ctx context.Context, req BuildRequest) error {
	f := filters.NewArgs()
	f.Add("label", fmt.Sprintf("%s=%s", targetLabel, req.Target.Triple))
	f.Add("label", fmt.Sprintf("%s=%s", versionLabel, req.Version))

	containers, err := d.dc.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return fmt.Errorf("unable to list build containers: %w", err)
	}

	for _, c := range containers {
		d.log.Debug().Str("exec_id", c.ID).Msg("removing stale build container")
		if err := d.removeExecution(ctx, c.ID); err != nil {
			return err
		}
	}
	return nil
}
