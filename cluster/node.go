package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/docker/go-connections/nat"

	"github.com/nandemo-ya/testcontainers-go-pinot/internal/logging"
)

// NodeState is the lifecycle state of a single node
type NodeState int

const (
	NodeCreated NodeState = iota
	NodeStarting
	NodeReady
	NodeStopped
	NodeFailed
)

func (s NodeState) String() string {
	switch s {
	case NodeCreated:
		return "created"
	case NodeStarting:
		return "starting"
	case NodeReady:
		return "ready"
	case NodeStopped:
		return "stopped"
	case NodeFailed:
		return "failed"
	default:
		return fmt.Sprintf("nodestate(%d)", int(s))
	}
}

// Node is one containerized process of a cluster
type Node struct {
	spec        NodeSpec
	dependency  *Node
	launcher    Launcher
	logger      *slog.Logger
	stopTimeout time.Duration
	logs        *LogStream

	mu        sync.Mutex
	state     NodeState
	container Container
	host      string
	hostPort  int
	closed    bool
}

// NewNode creates a node in the Created state. dependency is the node that
// must be Ready before this one starts, or nil for a root.
func NewNode(spec NodeSpec, dependency *Node, launcher Launcher, logger *slog.Logger) *Node {
	if logger == nil {
		logger = logging.Component("cluster")
	}
	return &Node{
		spec:        spec,
		dependency:  dependency,
		launcher:    launcher,
		logger:      logger.With("role", spec.Role.String()),
		stopTimeout: defaultStopTimeout,
		logs:        NewLogStream(),
		state:       NodeCreated,
	}
}

// Role returns the node's role
func (n *Node) Role() Role {
	return n.spec.Role
}

// Spec returns the node's launch contract
func (n *Node) Spec() NodeSpec {
	return n.spec
}

// State returns the node's current lifecycle state
func (n *Node) State() NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Logs returns the combined output captured so far
func (n *Node) Logs() string {
	return n.logs.String()
}

func (n *Node) fail(op string, err error) error {
	n.mu.Lock()
	n.state = NodeFailed
	n.mu.Unlock()
	return n.wrap(op, err)
}

func (n *Node) wrap(op string, err error) error {
	return &NodeError{Role: n.spec.Role, Alias: n.spec.Alias, Op: op, Err: err}
}

// Start launches the container on network and blocks until the node reports
// readiness in its log output. The node must be in the Created state and its
// dependency, if any, must be Ready.
func (n *Node) Start(ctx context.Context, network string) error {
	n.mu.Lock()
	if n.state != NodeCreated || n.closed {
		state := n.state
		n.mu.Unlock()
		return n.wrap("start", fmt.Errorf("%w: node is %s", ErrInvalidState, state))
	}
	if n.dependency != nil && n.dependency.State() != NodeReady {
		n.state = NodeFailed
		n.mu.Unlock()
		return n.wrap("start", fmt.Errorf("%w: %s is %s", ErrDependencyNotReady,
			n.dependency.Role(), n.dependency.State()))
	}
	n.state = NodeStarting
	n.mu.Unlock()

	n.logger.Debug("launching container", "image", n.spec.Image, "alias", n.spec.Alias)

	consumer := logging.NewContainerLogConsumer(n.logger, n.spec.Alias)
	launchCtx := logging.WithNode(logging.WithLogger(ctx, n.logger), n.spec.Alias)
	c, err := n.launcher.Launch(launchCtx, n.spec, network, n.logs, consumer)

	n.mu.Lock()
	if c != nil {
		n.container = c
	}
	closed := n.closed
	n.mu.Unlock()

	if err != nil {
		return n.fail("start", fmt.Errorf("%w: %w", ErrLaunchFailure, err))
	}
	if closed {
		if c != nil {
			_ = c.Terminate(context.WithoutCancel(ctx))
		}
		return n.fail("start", fmt.Errorf("%w: node closed during launch", ErrLaunchFailure))
	}

	if err := n.awaitReady(ctx, c); err != nil {
		return n.fail("start", err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		return n.fail("start", fmt.Errorf("%w: resolving host: %w", ErrLaunchFailure, err))
	}
	mapped, err := c.MappedPort(ctx, n.spec.Port)
	if err != nil {
		return n.fail("start", fmt.Errorf("%w: resolving port %s: %w", ErrLaunchFailure, n.spec.Port, err))
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		n.state = NodeFailed
		return n.wrap("start", fmt.Errorf("%w: node closed during startup", ErrLaunchFailure))
	}
	if n.state != NodeStarting {
		// Stopped while starting: the node stays stopped and its container is removed.
		if err := c.Terminate(context.WithoutCancel(ctx)); err != nil {
			n.logger.Warn("failed to remove container of stopped node", "error", err)
		} else {
			n.container = nil
		}
		return n.wrap("start", fmt.Errorf("%w: node became %s during startup", ErrInvalidState, n.state))
	}
	n.host = host
	n.hostPort = mapped.Int()
	n.state = NodeReady

	n.logger.Info("node ready", "host", host, "port", n.hostPort)
	return nil
}

func (n *Node) awaitReady(ctx context.Context, c Container) error {
	reader := n.logs.NewReader()
	defer reader.Close()

	strategy, err := NewLogMessageStrategy(n.spec.ReadyPattern, 1)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLaunchFailure, err)
	}
	if err = strategy.WithStartupTimeout(n.spec.StartupTimeout).Await(ctx, reader); err != nil {
		return err
	}

	if !n.spec.HealthCheck {
		return nil
	}
	probe := probeFor(n.spec)
	if probe == nil {
		return nil
	}
	if err := c.Probe(ctx, probe); err != nil {
		return fmt.Errorf("%w: health probe: %w", ErrReadinessTimeout, err)
	}
	return nil
}

// MappedPort returns the host port bound to containerPort. The node must be Ready.
func (n *Node) MappedPort(ctx context.Context, containerPort nat.Port) (int, error) {
	n.mu.Lock()
	state, c, cached := n.state, n.container, n.hostPort
	n.mu.Unlock()

	if state != NodeReady {
		return 0, n.wrap("mapped port", fmt.Errorf("%w: node is %s", ErrNotStarted, state))
	}
	if containerPort == n.spec.Port {
		return cached, nil
	}

	mapped, err := c.MappedPort(ctx, containerPort)
	if err != nil {
		return 0, n.wrap("mapped port", err)
	}
	return mapped.Int(), nil
}

// Host returns the host the mapped ports are reachable on. The node must be Ready.
func (n *Node) Host() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != NodeReady {
		return "", n.wrap("host", fmt.Errorf("%w: node is %s", ErrNotStarted, n.state))
	}
	return n.host, nil
}

// Endpoint returns host:port for the node's primary port. The node must be Ready.
func (n *Node) Endpoint() (string, error) {
	host, err := n.Host()
	if err != nil {
		return "", err
	}
	port, err := n.MappedPort(context.Background(), n.spec.Port)
	if err != nil {
		return "", err
	}
	return host + ":" + strconv.Itoa(port), nil
}

// Stop asks the process to exit, waiting up to the stop timeout before the
// runtime kills it. Stopping a node that never launched or is already
// stopped does nothing.
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.container == nil || n.closed || n.state == NodeStopped {
		return nil
	}

	timeout := n.stopTimeout
	if err := n.container.Stop(ctx, &timeout); err != nil {
		return n.wrap("stop", fmt.Errorf("%w: %w", ErrStopFailure, err))
	}
	if n.state != NodeFailed {
		n.state = NodeStopped
	}
	n.logger.Debug("node stopped")
	return nil
}

// Close removes the container and ends the log stream. It is safe to call in
// any state and more than once.
func (n *Node) Close(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true
	_ = n.logs.Close()

	if n.state != NodeFailed && n.state != NodeCreated {
		n.state = NodeStopped
	}
	if n.container == nil {
		return nil
	}

	if err := n.container.Terminate(ctx); err != nil {
		return n.wrap("close", fmt.Errorf("%w: %w", ErrStopFailure, err))
	}
	n.logger.Debug("node removed")
	return nil
}
