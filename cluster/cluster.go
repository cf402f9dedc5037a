package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nandemo-ya/testcontainers-go-pinot/internal/logging"
)

// State is the lifecycle state of a cluster
type State int

const (
	StateUnstarted State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Observer receives node lifecycle events during Start. Calls are made from
// the goroutine running Start, one node at a time.
type Observer interface {
	NodeStarting(spec NodeSpec)
	NodeReady(spec NodeSpec)
	NodeFailed(spec NodeSpec, err error)
}

// Option configures a Cluster
type Option func(*Cluster)

// WithLauncher replaces the Docker launcher
func WithLauncher(l Launcher) Option {
	return func(c *Cluster) {
		c.launcher = l
	}
}

// WithObserver registers an observer for node events
func WithObserver(o Observer) Option {
	return func(c *Cluster) {
		c.observer = o
	}
}

// WithLogger sets the logger used by the cluster and its nodes
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cluster) {
		c.logger = logger
	}
}

// WithStopTimeout sets how long each node gets to exit gracefully on Stop
func WithStopTimeout(d time.Duration) Option {
	return func(c *Cluster) {
		c.stopTimeout = d
	}
}

// Cluster runs one Pinot topology in containers. Nodes start one at a time in
// dependency order and are stopped or removed all at once.
type Cluster struct {
	id          string
	topology    *Topology
	launcher    Launcher
	observer    Observer
	logger      *slog.Logger
	stopTimeout time.Duration
	nodes       map[Role]*Node
	order       []Role

	mu           sync.Mutex
	state        State
	network      Network
	closed       bool
	teardownErrs []error
}

// New builds and validates the topology for cfg. No container is started
// until Start is called.
func New(cfg TopologyConfig, opts ...Option) (*Cluster, error) {
	topology, err := BuildTopology(cfg)
	if err != nil {
		return nil, err
	}
	order, err := topology.StartOrder()
	if err != nil {
		return nil, err
	}

	c := &Cluster{
		id:          uuid.NewString(),
		topology:    topology,
		stopTimeout: defaultStopTimeout,
		nodes:       make(map[Role]*Node, len(topology.Nodes)),
		order:       order,
		state:       StateUnstarted,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.launcher == nil {
		c.launcher = NewDockerLauncher()
	}
	if c.logger == nil {
		c.logger = logging.Component("cluster")
	}
	c.logger = c.logger.With("cluster", c.id[:8])

	for _, role := range order {
		spec, _ := topology.Spec(role)
		spec.Labels = cloneLabels(spec.Labels)
		spec.Labels[LabelCluster] = c.id

		var dependency *Node
		if dep, ok := topology.DependencyOf(role); ok {
			dependency = c.nodes[dep]
		}
		node := NewNode(spec, dependency, c.launcher, c.logger)
		node.stopTimeout = c.stopTimeout
		c.nodes[role] = node
	}

	return c, nil
}

func cloneLabels(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ID returns the identifier stamped on every container of the cluster
func (c *Cluster) ID() string {
	return c.id
}

// Topology returns the topology the cluster was built from
func (c *Cluster) Topology() *Topology {
	return c.topology
}

// State returns the current lifecycle state
func (c *Cluster) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Node returns the node for role if it is part of the topology
func (c *Cluster) Node(role Role) (*Node, bool) {
	n, ok := c.nodes[role]
	return n, ok
}

// Start creates the cluster network and starts every node in dependency
// order, waiting for each to become ready before starting the next. On the
// first failure the cluster enters the Failed state and the error is
// returned. Nodes already running are left running; call Close to remove them.
// A concurrent Stop or Close ends Start early with ErrInvalidState and keeps
// the state they set.
func (c *Cluster) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUnstarted || c.closed {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot start a %s cluster", ErrInvalidState, state)
	}
	c.state = StateStarting
	c.mu.Unlock()

	c.logger.Info("starting cluster", "nodes", len(c.order))
	started := time.Now()

	nw, err := c.launcher.CreateNetwork(ctx)
	if err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("%w: %w", ErrLaunchFailure, err)
	}

	c.mu.Lock()
	c.network = nw
	closed := c.closed
	c.mu.Unlock()
	if closed {
		_ = nw.Remove(context.WithoutCancel(ctx))
		c.setState(StateFailed)
		return fmt.Errorf("%w: cluster closed during start", ErrInvalidState)
	}

	for _, role := range c.order {
		node := c.nodes[role]
		spec := node.Spec()

		if err := c.stillStarting(); err != nil {
			return err
		}
		c.notify(func(o Observer) { o.NodeStarting(spec) })
		if err := node.Start(ctx, nw.Name()); err != nil {
			c.notify(func(o Observer) { o.NodeFailed(spec, err) })
			if c.stillStarting() != nil {
				return err
			}
			c.setState(StateFailed)
			c.logger.Error("cluster start failed", "role", role.String(), "error", err)
			return err
		}
		c.notify(func(o Observer) { o.NodeReady(spec) })

		// A Stop that ran while this node was launching never saw its container.
		if err := c.stillStarting(); err != nil {
			if serr := node.Stop(context.WithoutCancel(ctx)); serr != nil {
				c.recordTeardown(serr)
			}
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStarting {
		return fmt.Errorf("%w: cluster became %s during start", ErrInvalidState, c.state)
	}
	c.state = StateRunning
	c.logger.Info("cluster running", "elapsed", time.Since(started).Round(time.Millisecond))
	return nil
}

// stillStarting fails once a concurrent Stop or Close has taken the cluster
// out of the Starting state.
func (c *Cluster) stillStarting() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStarting || c.closed {
		return fmt.Errorf("%w: cluster became %s during start", ErrInvalidState, c.state)
	}
	return nil
}

func (c *Cluster) notify(fn func(Observer)) {
	if c.observer != nil {
		fn(c.observer)
	}
}

func (c *Cluster) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Stop stops every started node concurrently. Failures are logged and kept
// for TeardownErrors; they never stop the other nodes from being stopped.
// A Failed cluster stays Failed, any other ends Stopped.
func (c *Cluster) Stop(ctx context.Context) {
	c.mu.Lock()
	prev := c.state
	switch prev {
	case StateStopped, StateStopping:
		c.mu.Unlock()
		return
	case StateFailed:
	default:
		c.state = StateStopping
	}
	c.mu.Unlock()

	c.logger.Info("stopping cluster")
	c.fanOut(func(n *Node) error { return n.Stop(ctx) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateFailed {
		c.state = StateStopped
	}
}

// Close removes every container and the network. It runs in any state, can
// be called more than once and never fails; see TeardownErrors.
func (c *Cluster) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.fanOut(func(n *Node) error { return n.Close(ctx) })

	c.mu.Lock()
	nw := c.network
	c.mu.Unlock()
	if nw != nil {
		if err := nw.Remove(ctx); err != nil {
			c.recordTeardown(fmt.Errorf("%w: removing network %s: %w", ErrStopFailure, nw.Name(), err))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateFailed {
		c.state = StateStopped
	}
	c.logger.Info("cluster closed", "teardownErrors", len(c.teardownErrs))
}

func (c *Cluster) fanOut(op func(*Node) error) {
	var g errgroup.Group
	for _, role := range c.order {
		node := c.nodes[role]
		g.Go(func() error {
			if err := op(node); err != nil {
				c.recordTeardown(err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Cluster) recordTeardown(err error) {
	c.logger.Warn("teardown error", "error", err)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownErrs = append(c.teardownErrs, err)
}

// TeardownErrors returns the failures collected by Stop and Close
func (c *Cluster) TeardownErrors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.teardownErrs...)
}

func (c *Cluster) readyNode(role Role) (*Node, error) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state != StateRunning {
		return nil, fmt.Errorf("%w: cluster is %s", ErrNotReady, state)
	}
	node, ok := c.nodes[role]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not enabled", ErrNotReady, role)
	}
	return node, nil
}

func (c *Cluster) port(role Role) (int, error) {
	node, err := c.readyNode(role)
	if err != nil {
		return 0, err
	}
	return node.MappedPort(context.Background(), node.Spec().Port)
}

func (c *Cluster) url(role Role) (string, error) {
	node, err := c.readyNode(role)
	if err != nil {
		return "", err
	}
	endpoint, err := node.Endpoint()
	if err != nil {
		return "", err
	}
	return "http://" + endpoint, nil
}

// ControllerPort returns the host port of the controller's HTTP API
func (c *Cluster) ControllerPort() (int, error) { return c.port(RoleController) }

// BrokerPort returns the host port of the broker's query API
func (c *Cluster) BrokerPort() (int, error) { return c.port(RoleBroker) }

// ServerPort returns the host port mapped to the server's 8098
func (c *Cluster) ServerPort() (int, error) { return c.port(RoleServer) }

// MinionPort returns the host port mapped to the minion's 9514
func (c *Cluster) MinionPort() (int, error) { return c.port(RoleMinion) }

// ObjectStoragePort returns the host port of the S3 emulator
func (c *Cluster) ObjectStoragePort() (int, error) { return c.port(RoleObjectStorage) }

// ControllerURL returns the controller base URL, e.g. http://localhost:32771
func (c *Cluster) ControllerURL() (string, error) { return c.url(RoleController) }

// BrokerURL returns the broker base URL
func (c *Cluster) BrokerURL() (string, error) { return c.url(RoleBroker) }

// ObjectStorageEndpoint returns the S3 endpoint URL of the emulator
func (c *Cluster) ObjectStorageEndpoint() (string, error) { return c.url(RoleObjectStorage) }

// Logs returns the captured output of role's node, or "" if the role is not
// part of the topology. It works in every state.
func (c *Cluster) Logs(role Role) string {
	node, ok := c.nodes[role]
	if !ok {
		return ""
	}
	return node.Logs()
}
