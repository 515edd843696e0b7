package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/common/logger"
)

// sandboxLabel marks every container this control plane created so List
// never picks up unrelated containers sharing the same daemon.
const sandboxLabel = "agentcore.sandbox"

// DockerDriver backs sessions with local Docker containers, the self-hosted
// alternative to Sprites for development and on-prem deployments.
type DockerDriver struct {
	cli   *client.Client
	image string
	net   string
	log   *logger.Logger
}

// NewDockerDriver dials the Docker daemon at host (empty uses the default
// DOCKER_HOST resolution) running image for every sandbox.
func NewDockerDriver(host, apiVersion, network, image string, log *logger.Logger) (*DockerDriver, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	if apiVersion != "" {
		opts = append(opts, client.WithVersion(apiVersion))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	return &DockerDriver{
		cli:   cli,
		image: image,
		net:   network,
		log:   log.WithFields(zap.String("component", "sandbox-docker")),
	}, nil
}

func (d *DockerDriver) Name() string { return "docker" }

func (d *DockerDriver) Create(ctx context.Context, req CreateRequest) (*Handle, error) {
	env := make([]string, 0, len(req.Env))
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}

	containerCfg := &container.Config{
		Image: d.image,
		Env:   env,
		Labels: map[string]string{
			sandboxLabel:             "true",
			sandboxLabel + ".session": req.SessionID,
		},
	}
	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode(d.net),
		AutoRemove:  false,
	}

	resp, err := d.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, req.Name)
	if err != nil {
		return nil, fmt.Errorf("creating container %q: %w", req.Name, err)
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container %q: %w", req.Name, err)
	}

	inspect, err := d.cli.ContainerInspect(ctx, resp.ID)
	address := ""
	if err == nil && inspect.NetworkSettings != nil {
		for _, net := range inspect.NetworkSettings.Networks {
			if net.IPAddress != "" {
				address = net.IPAddress
				break
			}
		}
	}

	d.log.Info("container created", zap.String("name", req.Name), zap.String("container_id", resp.ID))
	return &Handle{
		SessionID: req.SessionID,
		Name:      req.Name,
		Driver:    d.Name(),
		Address:   address,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (d *DockerDriver) Probe(ctx context.Context, h *Handle) (HealthState, error) {
	inspect, err := d.cli.ContainerInspect(ctx, h.Name)
	if err != nil {
		return HealthGone, err
	}
	if inspect.State == nil {
		return HealthUnknown, nil
	}
	switch {
	case inspect.State.Running:
		return HealthHealthy, nil
	case inspect.State.Restarting:
		return HealthStarting, nil
	default:
		return HealthUnhealthy, nil
	}
}

func (d *DockerDriver) Stop(ctx context.Context, h *Handle) error {
	timeout := 30
	if err := d.cli.ContainerStop(ctx, h.Name, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("stopping container %q: %w", h.Name, err)
	}
	if err := d.cli.ContainerRemove(ctx, h.Name, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		return fmt.Errorf("removing container %q: %w", h.Name, err)
	}
	return nil
}

func (d *DockerDriver) List(ctx context.Context) ([]*Handle, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", sandboxLabel+"=true")

	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: filterArgs})
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}

	handles := make([]*Handle, 0, len(containers))
	for _, ctr := range containers {
		name := ""
		if len(ctr.Names) > 0 {
			name = ctr.Names[0]
			if len(name) > 0 && name[0] == '/' {
				name = name[1:]
			}
		}
		handles = append(handles, &Handle{
			Name:      name,
			Driver:    d.Name(),
			SessionID: ctr.Labels[sandboxLabel+".session"],
		})
	}
	return handles, nil
}
