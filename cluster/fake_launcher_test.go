package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nandemo-ya/testcontainers-go-pinot/internal/logging"
)

// fakeLauncher stands in for Docker. Launched containers immediately write a
// boot line and, unless the role is silent, the role's readiness line.
type fakeLauncher struct {
	mu         sync.Mutex
	launched   []Role
	specs      map[Role]NodeSpec
	containers map[Role]*fakeContainer
	networks   []*fakeNetwork
	nextPort   int

	silent     map[Role]bool
	failLaunch map[Role]error
	failStop   map[Role]error
	failProbe  map[Role]error
	networkErr error

	// onLaunch runs before a container is created
	onLaunch func(spec NodeSpec)
	// hostGates hold a role's Host lookup until released
	hostGates map[Role]*gate
	// stopBarrier, when set, makes every Stop wait for all the others
	stopBarrier *barrier
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		specs:      make(map[Role]NodeSpec),
		containers: make(map[Role]*fakeContainer),
		nextPort:   32000,
		silent:     make(map[Role]bool),
		failLaunch: make(map[Role]error),
		failStop:   make(map[Role]error),
		failProbe:  make(map[Role]error),
		hostGates:  make(map[Role]*gate),
	}
}

func (l *fakeLauncher) CreateNetwork(ctx context.Context) (Network, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.networkErr != nil {
		return nil, l.networkErr
	}
	nw := &fakeNetwork{name: fmt.Sprintf("pinot-net-%d", len(l.networks))}
	l.networks = append(l.networks, nw)
	return nw, nil
}

func (l *fakeLauncher) Launch(ctx context.Context, spec NodeSpec, network string, consumers ...testcontainers.LogConsumer) (Container, error) {
	if l.onLaunch != nil {
		l.onLaunch(spec)
	}

	logging.FromContext(ctx).Debug("launching fake container", "image", spec.Image)

	l.mu.Lock()
	l.launched = append(l.launched, spec.Role)
	l.specs[spec.Role] = spec
	if err := l.failLaunch[spec.Role]; err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.nextPort++
	c := &fakeContainer{
		launcher: l,
		role:     spec.Role,
		network:  network,
		ports:    map[nat.Port]int{spec.Port: l.nextPort},
		stopErr:  l.failStop[spec.Role],
		probeErr: l.failProbe[spec.Role],
		hostGate: l.hostGates[spec.Role],
	}
	l.containers[spec.Role] = c
	silent := l.silent[spec.Role]
	l.mu.Unlock()

	emit := func(line string) {
		for _, consumer := range consumers {
			consumer.Accept(testcontainers.Log{LogType: testcontainers.StdoutLog, Content: []byte(line + "\n")})
		}
	}
	emit(fmt.Sprintf("booting %s", spec.Alias))
	if !silent {
		emit(sampleReadyLine(spec.Role))
	}
	return c, nil
}

func (l *fakeLauncher) launchedRoles() []Role {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Role(nil), l.launched...)
}

func (l *fakeLauncher) container(role Role) *fakeContainer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.containers[role]
}

func sampleReadyLine(role Role) string {
	switch role {
	case RoleZookeeper:
		return "2024-05-01 10:00:00,000 [myid:] - INFO  [main:o.a.z.s.NIOServerCnxnFactory@660] - binding to port 0.0.0.0/0.0.0.0:2181"
	case RoleObjectStorage:
		return "Ready."
	default:
		return fmt.Sprintf("Started Pinot [%s] instance [%s_0] in 1200ms", upper(role), role)
	}
}

func upper(role Role) string {
	out := []byte(role.String())
	for i, b := range out {
		if b >= 'a' && b <= 'z' {
			out[i] = b - 'a' + 'A'
		}
	}
	return string(out)
}

type fakeNetwork struct {
	mu      sync.Mutex
	name    string
	removed int
}

func (n *fakeNetwork) Name() string { return n.name }

func (n *fakeNetwork) Remove(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.removed++
	return nil
}

func (n *fakeNetwork) removeCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.removed
}

type fakeContainer struct {
	launcher *fakeLauncher
	role     Role
	network  string
	ports    map[nat.Port]int
	stopErr  error
	probeErr error
	hostGate *gate

	mu         sync.Mutex
	stops      int
	terminates int
	probes     []wait.Strategy
}

func (c *fakeContainer) Host(ctx context.Context) (string, error) {
	if c.hostGate != nil {
		close(c.hostGate.reached)
		select {
		case <-c.hostGate.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "localhost", nil
}

func (c *fakeContainer) MappedPort(ctx context.Context, port nat.Port) (nat.Port, error) {
	p, ok := c.ports[port]
	if !ok {
		return "", fmt.Errorf("port %s is not exposed", port)
	}
	return nat.Port(fmt.Sprintf("%d/tcp", p)), nil
}

func (c *fakeContainer) Stop(ctx context.Context, timeout *time.Duration) error {
	c.mu.Lock()
	c.stops++
	c.mu.Unlock()

	if b := c.launcher.stopBarrier; b != nil {
		if err := b.arrive(2 * time.Second); err != nil {
			return err
		}
	}
	return c.stopErr
}

func (c *fakeContainer) Terminate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminates++
	return nil
}

func (c *fakeContainer) Probe(ctx context.Context, strategy wait.Strategy) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes = append(c.probes, strategy)
	return c.probeErr
}

func (c *fakeContainer) counts() (stops, terminates, probes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops, c.terminates, len(c.probes)
}

// gate parks a call until the test releases it
type gate struct {
	reached chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{reached: make(chan struct{}), release: make(chan struct{})}
}

// barrier releases its waiters once n of them have arrived
type barrier struct {
	mu      sync.Mutex
	n       int
	arrived int
	done    chan struct{}
}

func newBarrier(n int) *barrier {
	return &barrier{n: n, done: make(chan struct{})}
}

func (b *barrier) arrive(timeout time.Duration) error {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.n {
		close(b.done)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-time.After(timeout):
		return errors.New("barrier timed out: stops are not running concurrently")
	}
}

// recordingObserver keeps node events in order
type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) add(kind string, spec NodeSpec) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, kind+":"+spec.Role.String())
}

func (o *recordingObserver) NodeStarting(spec NodeSpec)         { o.add("starting", spec) }
func (o *recordingObserver) NodeReady(spec NodeSpec)            { o.add("ready", spec) }
func (o *recordingObserver) NodeFailed(spec NodeSpec, err error) { o.add("failed", spec) }

func (o *recordingObserver) Events() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

func testConfig() TopologyConfig {
	return TopologyConfig{
		ZookeeperImage:     "zookeeper:3.9",
		PinotImage:         "apachepinot/pinot:latest-21-openjdk",
		ObjectStorageImage: "localstack/localstack:4.0",
		StartupTimeout:     2 * time.Second,
		LogLevel:           "warn",
	}
}
