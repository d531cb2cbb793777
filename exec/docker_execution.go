package exec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/pkg/stdcopy"
)

func (d *DockerBuilder) pullImage(ctx context.Context, ref string) error {
	out, err := d.dc.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("unable to pull image %s: %w", ref, err)
	}
	defer out.Close()

	// -- the pull only completes once the progress stream is drained
	if _, err := io.Copy(io.Discard, out); err != nil {
		return fmt.Errorf("unable to pull image %s: %w", ref, err)
	}
	return nil
}

func (d *DockerBuilder) createExecution(ctx context.Context, req BuildRequest) (string, error) {
	containerName := fmt.Sprintf("shipwright-%s-%s", req.Version, req.Target.Triple)

	resp, err := d.dc.ContainerCreate(ctx, d.toContainerConfig(req), d.toHostConfig(req), nil, nil, containerName)
	if err != nil {
		return "", fmt.Errorf("unable to create build container: %w", err)
	}

	return resp.ID, nil
}

func (d *DockerBuilder) startExecution(ctx context.Context, execId string) error {
	if err := d.dc.ContainerStart(ctx, execId, container.StartOptions{}); err != nil {
		return fmt.Errorf("unable to start build container: %w", err)
	}

	return nil
}

func (d *DockerBuilder) waitExecution(ctx context.Context, execId string) (int64, error) {
	statusCh, errCh := d.dc.ContainerWait(ctx, execId, container.WaitConditionNotRunning)
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case err := <-errCh:
		return 0, fmt.Errorf("unable to wait for build container: %w", err)
	case st := <-statusCh:
		if st.Error != nil {
			return 0, fmt.Errorf("build container error: %s", st.Error.Message)
		}
		return st.StatusCode, nil
	}
}

func (d *DockerBuilder) executionLogs(execId string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rc, err := d.dc.ContainerLogs(ctx, execId, container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: "20"})
	if err != nil {
		return fmt.Sprintf("(logs unavailable: %v)", err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return fmt.Sprintf("(logs unavailable: %v)", err)
	}
	return buf.String()
}

func (d *DockerBuilder) removeExecution(ctx context.Context, execId string) error {
	if err := d.dc.ContainerRemove(ctx, execId, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("unable to remove build container: %w", err)
	}

	return nil
}

// toContainerConfig passes only the target overlay into the container, so host-only
// toolchain paths never leak into a cross build.
func (d *DockerBuilder) toContainerConfig(req BuildRequest) *container.Config {
	env := make([]string, 0, len(req.Target.Env))
	for k, v := range req.Target.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	cfg := &container.Config{
		Image:      d.image(req.Target),
		Cmd:        expand(d.cfg.Command, req.Target),
		Env:        env,
		WorkingDir: d.cfg.Workdir,
		Labels: map[string]string{
			targetLabel:  req.Target.Triple,
			versionLabel: req.Version.String(),
		},
	}
	if runtime.GOOS != "windows" {
		cfg.User = fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid())
	}
	return cfg
}

func (d *DockerBuilder) toHostConfig(req BuildRequest) *container.HostConfig {
	return &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: req.ProjectDir,
				Target: d.cfg.Workdir,
			},
		},
	}
}
