package provision

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	holonlog "github.com/holon-run/mission/pkg/log"
	"github.com/holon-run/mission/pkg/status"
)

const defaultReadyTimeout = 60 * time.Second

// ContainerAPI is the slice of the Docker Engine API the installer needs.
type ContainerAPI interface {
	Pull(ctx context.Context, ref string) error
	Run(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig) (string, error)
	Remove(ctx context.Context, name string) error
}

// Docker talks to the local Docker daemon.
type Docker struct {
	cli *client.Client
}

// NewDocker connects using the standard DOCKER_* environment.
func NewDocker() (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Docker{cli: cli}, nil
}

// Close releases the client's connections.
func (d *Docker) Close() error {
	return d.cli.Close()
}

// Ping reports whether the daemon answers.
func (d *Docker) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

func (d *Docker) Pull(ctx context.Context, ref string) error {
	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (d *Docker) Run(ctx context.Context, name string, cfg *container.Config, host *container.HostConfig) (string, error) {
	resp, err := d.cli.ContainerCreate(ctx, cfg, host, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}
	return resp.ID, nil
}

func (d *Docker) Remove(ctx context.Context, name string) error {
	return d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
}

// DockerInstaller runs one ServiceSpec as a container and waits until its
// published port accepts connections.
type DockerInstaller struct {
	api          ContainerAPI
	spec         ServiceSpec
	prefix       string
	readyTimeout time.Duration
}

// NewDockerInstaller returns an installer for spec. prefix namespaces the
// container name, typically with the mission id.
func NewDockerInstaller(api ContainerAPI, spec ServiceSpec, prefix string) *DockerInstaller {
	return &DockerInstaller{api: api, spec: spec, prefix: prefix, readyTimeout: defaultReadyTimeout}
}

func (i *DockerInstaller) Name() string {
	return i.spec.Name
}

func (i *DockerInstaller) containerName() string {
	if i.prefix == "" {
		return "mission-" + i.spec.Name
	}
	return "mission-" + i.prefix + "-" + i.spec.Name
}

// Install pulls the image, replaces any container left by a previous run and
// blocks until the service port is reachable.
func (i *DockerInstaller) Install(ctx context.Context) (status.ServiceInstance, map[string]string, error) {
	spec := i.spec
	name := i.containerName()

	holonlog.Progress("pulling service image", "service", spec.Name, "image", spec.Image)
	if err := i.api.Pull(ctx, spec.Image); err != nil {
		// A locally cached image is still usable.
		holonlog.Warn("failed to pull image", "image", spec.Image, "error", err)
	}

	if err := i.api.Remove(ctx, name); err != nil {
		holonlog.Debug("no previous container removed", "container", name, "error", err)
	}

	port, err := nat.NewPort("tcp", strconv.Itoa(spec.ContainerPort))
	if err != nil {
		return status.ServiceInstance{}, nil, fmt.Errorf("invalid port for %s: %w", spec.Name, err)
	}
	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		ExposedPorts: nat.PortSet{port: struct{}{}},
		Labels:       map[string]string{"run.holon.mission.service": spec.Name},
	}
	host := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(spec.hostPort())}},
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}

	id, err := i.api.Run(ctx, name, cfg, host)
	if err != nil {
		return status.ServiceInstance{}, nil, fmt.Errorf("%s: %w", spec.Name, err)
	}
	holonlog.Info("service container started", "service", spec.Name, "container", shortID(id))

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(spec.hostPort()))
	if err := waitForPort(ctx, addr, i.readyTimeout); err != nil {
		return status.ServiceInstance{}, nil, fmt.Errorf("%s did not become reachable: %w", spec.Name, err)
	}

	svc := status.ServiceInstance{Name: spec.Name, URL: spec.URL(), Port: spec.hostPort()}
	env := map[string]string{}
	if spec.EnvKey != "" {
		env[spec.EnvKey] = svc.URL
	}
	return svc, env, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// waitForPort dials addr until it accepts a TCP connection.
func waitForPort(ctx context.Context, addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		attemptCtx, attemptCancel := context.WithTimeout(ctx, time.Second)
		conn, err := d.DialContext(attemptCtx, "tcp", addr)
		attemptCancel()
		if err == nil {
			_ = conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", addr, ctx.Err())
		case <-ticker.C:
		}
	}
}
