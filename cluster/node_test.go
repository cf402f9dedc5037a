package cluster

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nandemo-ya/testcontainers-go-pinot/internal/logging"
)

var _ = Describe("Node", func() {
	var (
		ctx      context.Context
		launcher *fakeLauncher
		topology *Topology
	)

	newNode := func(role Role, dependency *Node) *Node {
		spec, ok := topology.Spec(role)
		Expect(ok).To(BeTrue())
		return NewNode(spec, dependency, launcher, logging.Discard())
	}

	BeforeEach(func() {
		ctx = context.Background()
		launcher = newFakeLauncher()

		var err error
		topology, err = BuildTopology(testConfig())
		Expect(err).NotTo(HaveOccurred())
	})

	It("should become ready once its readiness line is logged", func() {
		node := newNode(RoleZookeeper, nil)
		Expect(node.State()).To(Equal(NodeCreated))

		Expect(node.Start(ctx, "net")).To(Succeed())
		Expect(node.State()).To(Equal(NodeReady))
		Expect(launcher.container(RoleZookeeper).network).To(Equal("net"))

		port, err := node.MappedPort(ctx, node.Spec().Port)
		Expect(err).NotTo(HaveOccurred())
		Expect(port).To(BeNumerically(">", 32000))

		host, err := node.Host()
		Expect(err).NotTo(HaveOccurred())
		Expect(host).To(Equal("localhost"))

		Expect(node.Logs()).To(ContainSubstring("binding to port"))
	})

	It("should refuse port lookups before it is ready", func() {
		node := newNode(RoleController, nil)

		_, err := node.MappedPort(ctx, node.Spec().Port)
		Expect(err).To(MatchError(ErrNotStarted))
		_, err = node.Host()
		Expect(err).To(MatchError(ErrNotStarted))
	})

	It("should not start before its dependency is ready", func() {
		zk := newNode(RoleZookeeper, nil)
		controller := newNode(RoleController, zk)

		err := controller.Start(ctx, "net")
		Expect(err).To(MatchError(ErrDependencyNotReady))
		Expect(controller.State()).To(Equal(NodeFailed))
		Expect(launcher.launchedRoles()).To(BeEmpty())
	})

	It("should start after its dependency", func() {
		zk := newNode(RoleZookeeper, nil)
		controller := newNode(RoleController, zk)

		Expect(zk.Start(ctx, "net")).To(Succeed())
		Expect(controller.Start(ctx, "net")).To(Succeed())
		Expect(launcher.launchedRoles()).To(Equal([]Role{RoleZookeeper, RoleController}))
	})

	It("should fail with a readiness timeout when the line never appears", func() {
		launcher.silent[RoleController] = true
		spec, _ := topology.Spec(RoleController)
		spec.StartupTimeout = 50 * time.Millisecond
		node := NewNode(spec, nil, launcher, logging.Discard())

		err := node.Start(ctx, "net")
		Expect(err).To(MatchError(ErrReadinessTimeout))

		var nodeErr *NodeError
		Expect(errors.As(err, &nodeErr)).To(BeTrue())
		Expect(nodeErr.Role).To(Equal(RoleController))
		Expect(nodeErr.Op).To(Equal("start"))
		Expect(node.State()).To(Equal(NodeFailed))
		Expect(node.Logs()).To(ContainSubstring("booting pinot-controller"))
	})

	It("should report launch failures", func() {
		launcher.failLaunch[RoleBroker] = errors.New("image not found")
		node := newNode(RoleBroker, nil)

		err := node.Start(ctx, "net")
		Expect(err).To(MatchError(ErrLaunchFailure))
		Expect(err.Error()).To(ContainSubstring("image not found"))
		Expect(node.State()).To(Equal(NodeFailed))
	})

	It("should only start once", func() {
		node := newNode(RoleZookeeper, nil)
		Expect(node.Start(ctx, "net")).To(Succeed())
		Expect(node.Start(ctx, "net")).To(MatchError(ErrInvalidState))
	})

	It("should run the health probe when enabled", func() {
		spec, _ := topology.Spec(RoleController)
		spec.HealthCheck = true
		node := NewNode(spec, nil, launcher, logging.Discard())

		Expect(node.Start(ctx, "net")).To(Succeed())
		_, _, probes := launcher.container(RoleController).counts()
		Expect(probes).To(Equal(1))
	})

	It("should fail readiness when the health probe fails", func() {
		launcher.failProbe[RoleBroker] = errors.New("connection refused")
		spec, _ := topology.Spec(RoleBroker)
		spec.HealthCheck = true
		node := NewNode(spec, nil, launcher, logging.Discard())

		err := node.Start(ctx, "net")
		Expect(err).To(MatchError(ErrReadinessTimeout))
		Expect(node.State()).To(Equal(NodeFailed))
	})

	It("should skip the probe for roles without one", func() {
		spec, _ := topology.Spec(RoleServer)
		spec.HealthCheck = true
		node := NewNode(spec, nil, launcher, logging.Discard())

		Expect(node.Start(ctx, "net")).To(Succeed())
		_, _, probes := launcher.container(RoleServer).counts()
		Expect(probes).To(BeZero())
	})

	It("should hand the launcher a logger tagged with the node", func() {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
		spec, _ := topology.Spec(RoleBroker)
		node := NewNode(spec, nil, launcher, logger)

		Expect(node.Start(ctx, "net")).To(Succeed())
		Expect(buf.String()).To(ContainSubstring("launching fake container"))
		Expect(buf.String()).To(ContainSubstring("node=pinot-broker"))
	})

	It("should stay stopped when stopped between readiness and startup completion", func() {
		hold := newGate()
		launcher.hostGates[RoleController] = hold
		node := newNode(RoleController, nil)

		result := make(chan error, 1)
		go func() {
			result <- node.Start(ctx, "net")
		}()

		Eventually(hold.reached).Should(BeClosed())
		Expect(node.Stop(ctx)).To(Succeed())
		Expect(node.State()).To(Equal(NodeStopped))
		close(hold.release)

		var err error
		Eventually(result).Should(Receive(&err))
		Expect(err).To(MatchError(ErrInvalidState))
		Expect(node.State()).To(Equal(NodeStopped))

		_, err = node.MappedPort(ctx, node.Spec().Port)
		Expect(err).To(MatchError(ErrNotStarted))

		stops, terminates, _ := launcher.container(RoleController).counts()
		Expect(stops).To(Equal(1))
		Expect(terminates).To(Equal(1))

		Expect(node.Close(ctx)).To(Succeed())
		_, terminates, _ = launcher.container(RoleController).counts()
		Expect(terminates).To(Equal(1))
	})

	It("should reject a ready pattern that does not compile", func() {
		spec, _ := topology.Spec(RoleServer)
		spec.ReadyPattern = "Started Pinot [SERVER"
		node := NewNode(spec, nil, launcher, logging.Discard())

		err := node.Start(ctx, "net")
		Expect(err).To(MatchError(ErrLaunchFailure))
		Expect(node.State()).To(Equal(NodeFailed))
	})

	Describe("Stop and Close", func() {
		It("should do nothing when stopping a node that never started", func() {
			node := newNode(RoleServer, nil)
			Expect(node.Stop(ctx)).To(Succeed())
			Expect(node.State()).To(Equal(NodeCreated))
		})

		It("should stop a ready node", func() {
			node := newNode(RoleZookeeper, nil)
			Expect(node.Start(ctx, "net")).To(Succeed())

			Expect(node.Stop(ctx)).To(Succeed())
			Expect(node.State()).To(Equal(NodeStopped))
			Expect(node.Stop(ctx)).To(Succeed())

			stops, _, _ := launcher.container(RoleZookeeper).counts()
			Expect(stops).To(Equal(1))

			_, err := node.MappedPort(ctx, node.Spec().Port)
			Expect(err).To(MatchError(ErrNotStarted))
		})

		It("should wrap stop failures", func() {
			launcher.failStop[RoleZookeeper] = errors.New("daemon gone")
			node := newNode(RoleZookeeper, nil)
			Expect(node.Start(ctx, "net")).To(Succeed())

			err := node.Stop(ctx)
			Expect(err).To(MatchError(ErrStopFailure))
		})

		It("should terminate exactly once however often it is closed", func() {
			node := newNode(RoleZookeeper, nil)
			Expect(node.Start(ctx, "net")).To(Succeed())

			Expect(node.Close(ctx)).To(Succeed())
			Expect(node.Close(ctx)).To(Succeed())

			_, terminates, _ := launcher.container(RoleZookeeper).counts()
			Expect(terminates).To(Equal(1))
			Expect(node.State()).To(Equal(NodeStopped))
			Expect(node.Logs()).To(ContainSubstring("binding to port"))
		})

		It("should close a failed node and keep it failed", func() {
			launcher.silent[RoleServer] = true
			spec, _ := topology.Spec(RoleServer)
			spec.StartupTimeout = 20 * time.Millisecond
			node := NewNode(spec, nil, launcher, logging.Discard())
			Expect(node.Start(ctx, "net")).NotTo(Succeed())

			Expect(node.Close(ctx)).To(Succeed())
			Expect(node.State()).To(Equal(NodeFailed))
			_, terminates, _ := launcher.container(RoleServer).counts()
			Expect(terminates).To(Equal(1))
		})

		It("should not start after being closed", func() {
			node := newNode(RoleZookeeper, nil)
			Expect(node.Close(ctx)).To(Succeed())
			Expect(node.Start(ctx, "net")).To(MatchError(ErrInvalidState))
			Expect(launcher.launchedRoles()).To(BeEmpty())
		})
	})
})
