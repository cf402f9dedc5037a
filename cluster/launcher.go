package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nandemo-ya/testcontainers-go-pinot/internal/logging"
)

// Launcher creates the runtime resources behind a cluster. The Docker
// implementation is the default; tests substitute an in-memory one.
type Launcher interface {
	// CreateNetwork creates the isolated network every node joins
	CreateNetwork(ctx context.Context) (Network, error)

	// Launch creates and starts one container for spec on the named network.
	// Output is streamed to every consumer from the first line. Launch may
	// return a non-nil Container together with an error when the container
	// was created but failed to start; the caller still owns it.
	Launch(ctx context.Context, spec NodeSpec, network string, consumers ...testcontainers.LogConsumer) (Container, error)
}

// Network is an isolated virtual network shared by the nodes of one cluster
type Network interface {
	Name() string
	Remove(ctx context.Context) error
}

// Container is a started process managed by a Launcher
type Container interface {
	Host(ctx context.Context) (string, error)
	MappedPort(ctx context.Context, port nat.Port) (nat.Port, error)
	Stop(ctx context.Context, timeout *time.Duration) error
	Terminate(ctx context.Context) error

	// Probe runs an active readiness check against the container
	Probe(ctx context.Context, strategy wait.Strategy) error
}

// DockerLauncher launches nodes as Docker containers through testcontainers
type DockerLauncher struct{}

// NewDockerLauncher creates a launcher using the Docker host from the environment
func NewDockerLauncher() *DockerLauncher {
	return &DockerLauncher{}
}

// CreateNetwork creates a bridge network with a random name
func (l *DockerLauncher) CreateNetwork(ctx context.Context) (Network, error) {
	nw, err := network.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker network: %w", err)
	}
	return &dockerNetwork{network: nw}, nil
}

// Launch starts spec's container and attaches it to the network under its alias
func (l *DockerLauncher) Launch(ctx context.Context, spec NodeSpec, networkName string, consumers ...testcontainers.LogConsumer) (Container, error) {
	logging.FromContext(ctx).Debug("creating container", "image", spec.Image, "network", networkName)

	req := testcontainers.ContainerRequest{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		Labels:       spec.Labels,
		ExposedPorts: []string{string(spec.Port)},
		Networks:     []string{networkName},
		NetworkAliases: map[string][]string{
			networkName: {spec.Alias},
		},
		HostConfigModifier: func(hc *container.HostConfig) {
			if spec.MemoryLimit > 0 {
				hc.Resources.Memory = spec.MemoryLimit
			}
		},
	}

	if len(consumers) > 0 {
		req.LogConsumerCfg = &testcontainers.LogConsumerConfig{
			Consumers: consumers,
		}
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if c != nil {
			return &dockerContainer{container: c}, fmt.Errorf("failed to start %s container: %w", spec.Alias, err)
		}
		return nil, fmt.Errorf("failed to start %s container: %w", spec.Alias, err)
	}

	return &dockerContainer{container: c}, nil
}

type dockerNetwork struct {
	network *testcontainers.DockerNetwork
}

func (n *dockerNetwork) Name() string {
	return n.network.Name
}

func (n *dockerNetwork) Remove(ctx context.Context) error {
	return n.network.Remove(ctx)
}

type dockerContainer struct {
	container testcontainers.Container
}

func (c *dockerContainer) Host(ctx context.Context) (string, error) {
	return c.container.Host(ctx)
}

func (c *dockerContainer) MappedPort(ctx context.Context, port nat.Port) (nat.Port, error) {
	return c.container.MappedPort(ctx, port)
}

func (c *dockerContainer) Stop(ctx context.Context, timeout *time.Duration) error {
	return c.container.Stop(ctx, timeout)
}

func (c *dockerContainer) Terminate(ctx context.Context) error {
	return c.container.Terminate(ctx)
}

func (c *dockerContainer) Probe(ctx context.Context, strategy wait.Strategy) error {
	return strategy.WaitUntilReady(ctx, c.container)
}
