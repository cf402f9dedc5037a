package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nandemo-ya/testcontainers-go-pinot/internal/logging"
)

var _ = Describe("Cluster", func() {
	var (
		ctx      context.Context
		cfg      TopologyConfig
		launcher *fakeLauncher
		observer *recordingObserver
	)

	newCluster := func() *Cluster {
		c, err := New(cfg,
			WithLauncher(launcher),
			WithObserver(observer),
			WithLogger(logging.Discard()),
			WithStopTimeout(time.Second),
		)
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	BeforeEach(func() {
		ctx = context.Background()
		cfg = testConfig()
		launcher = newFakeLauncher()
		observer = &recordingObserver{}
	})

	Describe("New", func() {
		It("should not launch anything", func() {
			c := newCluster()

			Expect(c.State()).To(Equal(StateUnstarted))
			Expect(launcher.launchedRoles()).To(BeEmpty())
			Expect(launcher.networks).To(BeEmpty())
			Expect(c.ID()).NotTo(BeEmpty())
			Expect(c.Topology().Roles()).To(HaveLen(4))
		})

		It("should reject an invalid config", func() {
			cfg.PinotImage = ""
			_, err := New(cfg, WithLauncher(launcher))
			Expect(err).To(MatchError(ErrInvalidTopology))
		})
	})

	Describe("Start", func() {
		It("should start every node sequentially in dependency order", func() {
			cfg.EnableMinion = true
			cfg.EnableObjectStorage = true
			c := newCluster()
			defer c.Close(ctx)

			Expect(c.Start(ctx)).To(Succeed())
			Expect(c.State()).To(Equal(StateRunning))
			Expect(launcher.launchedRoles()).To(Equal([]Role{
				RoleZookeeper, RoleController, RoleBroker, RoleServer, RoleMinion, RoleObjectStorage,
			}))
			Expect(observer.Events()).To(Equal([]string{
				"starting:zookeeper", "ready:zookeeper",
				"starting:controller", "ready:controller",
				"starting:broker", "ready:broker",
				"starting:server", "ready:server",
				"starting:minion", "ready:minion",
				"starting:object-storage", "ready:object-storage",
			}))

			ports := map[int]Role{}
			for role, get := range map[Role]func() (int, error){
				RoleController:    c.ControllerPort,
				RoleBroker:        c.BrokerPort,
				RoleServer:        c.ServerPort,
				RoleMinion:        c.MinionPort,
				RoleObjectStorage: c.ObjectStoragePort,
			} {
				port, err := get()
				Expect(err).NotTo(HaveOccurred(), role.String())
				Expect(port).To(BeNumerically(">", 0), role.String())
				Expect(ports).NotTo(HaveKey(port), role.String())
				ports[port] = role
			}
			Expect(ports).To(HaveLen(5))
		})

		It("should stop launching nodes once the cluster is stopped", func() {
			c := newCluster()
			defer c.Close(ctx)

			launcher.onLaunch = func(spec NodeSpec) {
				if spec.Role == RoleBroker {
					c.Stop(ctx)
				}
			}

			err := c.Start(ctx)
			Expect(err).To(MatchError(ErrInvalidState))
			Expect(c.State()).To(Equal(StateStopped))
			Expect(launcher.launchedRoles()).To(Equal([]Role{RoleZookeeper, RoleController, RoleBroker}))

			for _, role := range []Role{RoleZookeeper, RoleController, RoleBroker} {
				stops, _, _ := launcher.container(role).counts()
				Expect(stops).To(Equal(1), role.String())
				node, _ := c.Node(role)
				Expect(node.State()).NotTo(Equal(NodeReady), role.String())
			}
			_, err = c.BrokerPort()
			Expect(err).To(MatchError(ErrNotReady))
		})

		It("should only launch a node once its dependency is ready", func() {
			c := newCluster()
			defer c.Close(ctx)

			launcher.onLaunch = func(spec NodeSpec) {
				dep, ok := c.Topology().DependencyOf(spec.Role)
				if !ok {
					return
				}
				node, _ := c.Node(dep)
				Expect(node.State()).To(Equal(NodeReady))
			}

			Expect(c.Start(ctx)).To(Succeed())
		})

		It("should join every node to one network under its alias", func() {
			c := newCluster()
			defer c.Close(ctx)
			Expect(c.Start(ctx)).To(Succeed())

			Expect(launcher.networks).To(HaveLen(1))
			for _, role := range c.Topology().Roles() {
				Expect(launcher.container(role).network).To(Equal(launcher.networks[0].Name()))
				Expect(launcher.specs[role].Alias).To(Equal(role.Alias()))
				Expect(launcher.specs[role].Labels).To(HaveKeyWithValue(LabelCluster, c.ID()))
			}
		})

		It("should publish ports and URLs once running", func() {
			cfg.EnableObjectStorage = true
			c := newCluster()
			defer c.Close(ctx)
			Expect(c.Start(ctx)).To(Succeed())

			controllerPort, err := c.ControllerPort()
			Expect(err).NotTo(HaveOccurred())
			brokerPort, err := c.BrokerPort()
			Expect(err).NotTo(HaveOccurred())
			Expect(controllerPort).NotTo(Equal(brokerPort))

			_, err = c.ServerPort()
			Expect(err).NotTo(HaveOccurred())
			_, err = c.ObjectStoragePort()
			Expect(err).NotTo(HaveOccurred())

			url, err := c.ControllerURL()
			Expect(err).NotTo(HaveOccurred())
			Expect(url).To(Equal(fmt.Sprintf("http://localhost:%d", controllerPort)))

			endpoint, err := c.ObjectStorageEndpoint()
			Expect(err).NotTo(HaveOccurred())
			Expect(endpoint).To(HavePrefix("http://localhost:"))
		})

		It("should refuse a second start", func() {
			c := newCluster()
			defer c.Close(ctx)
			Expect(c.Start(ctx)).To(Succeed())

			Expect(c.Start(ctx)).To(MatchError(ErrInvalidState))
			Expect(launcher.launchedRoles()).To(HaveLen(4))
		})

		It("should fail without launching nodes when the network cannot be created", func() {
			launcher.networkErr = errors.New("no docker")
			c := newCluster()
			defer c.Close(ctx)

			Expect(c.Start(ctx)).To(MatchError(ErrLaunchFailure))
			Expect(c.State()).To(Equal(StateFailed))
			Expect(launcher.launchedRoles()).To(BeEmpty())
		})

		Context("when a node never becomes ready", func() {
			var c *Cluster

			BeforeEach(func() {
				cfg.StartupTimeout = 50 * time.Millisecond
				launcher.silent[RoleBroker] = true
				c = newCluster()
			})

			It("should fail, abort the remaining starts and leave started nodes running", func() {
				err := c.Start(ctx)
				Expect(err).To(MatchError(ErrReadinessTimeout))

				var nodeErr *NodeError
				Expect(errors.As(err, &nodeErr)).To(BeTrue())
				Expect(nodeErr.Role).To(Equal(RoleBroker))

				Expect(c.State()).To(Equal(StateFailed))
				Expect(launcher.launchedRoles()).To(Equal([]Role{RoleZookeeper, RoleController, RoleBroker}))
				Expect(observer.Events()).To(ContainElement("failed:broker"))

				zk, _ := c.Node(RoleZookeeper)
				Expect(zk.State()).To(Equal(NodeReady))
				_, terminates, _ := launcher.container(RoleZookeeper).counts()
				Expect(terminates).To(BeZero())
			})

			It("should clean up everything on close", func() {
				Expect(c.Start(ctx)).NotTo(Succeed())
				c.Close(ctx)

				for _, role := range []Role{RoleZookeeper, RoleController, RoleBroker} {
					_, terminates, _ := launcher.container(role).counts()
					Expect(terminates).To(Equal(1), role.String())
				}
				Expect(launcher.networks[0].removeCount()).To(Equal(1))
				Expect(c.State()).To(Equal(StateFailed))
				Expect(c.TeardownErrors()).To(BeEmpty())
			})

			It("should keep the logs of the failed node", func() {
				Expect(c.Start(ctx)).NotTo(Succeed())
				Expect(c.Logs(RoleBroker)).To(ContainSubstring("booting pinot-broker"))
				Expect(c.Logs(RoleMinion)).To(BeEmpty())
			})
		})
	})

	Describe("accessors", func() {
		It("should not be ready before start", func() {
			c := newCluster()

			_, err := c.ControllerPort()
			Expect(err).To(MatchError(ErrNotReady))
			_, err = c.BrokerURL()
			Expect(err).To(MatchError(ErrNotReady))
		})

		It("should not be ready for roles that were not enabled", func() {
			c := newCluster()
			defer c.Close(ctx)
			Expect(c.Start(ctx)).To(Succeed())

			_, err := c.MinionPort()
			Expect(err).To(MatchError(ErrNotReady))
			_, err = c.ObjectStoragePort()
			Expect(err).To(MatchError(ContainSubstring("object-storage is not enabled")))
		})

		It("should not be ready after stop", func() {
			c := newCluster()
			defer c.Close(ctx)
			Expect(c.Start(ctx)).To(Succeed())
			c.Stop(ctx)

			_, err := c.BrokerPort()
			Expect(err).To(MatchError(ErrNotReady))
		})
	})

	Describe("Stop", func() {
		It("should stop all nodes concurrently", func() {
			cfg.EnableMinion = true
			c := newCluster()
			defer c.Close(ctx)
			Expect(c.Start(ctx)).To(Succeed())

			launcher.stopBarrier = newBarrier(5)
			c.Stop(ctx)

			Expect(c.TeardownErrors()).To(BeEmpty())
			Expect(c.State()).To(Equal(StateStopped))
			for _, role := range c.Topology().Roles() {
				stops, _, _ := launcher.container(role).counts()
				Expect(stops).To(Equal(1), role.String())
			}
		})

		It("should collect failures without skipping other nodes", func() {
			launcher.failStop[RoleController] = errors.New("daemon gone")
			c := newCluster()
			defer c.Close(ctx)
			Expect(c.Start(ctx)).To(Succeed())

			c.Stop(ctx)

			Expect(c.State()).To(Equal(StateStopped))
			Expect(c.TeardownErrors()).To(HaveLen(1))
			Expect(c.TeardownErrors()[0]).To(MatchError(ErrStopFailure))
			for _, role := range c.Topology().Roles() {
				stops, _, _ := launcher.container(role).counts()
				Expect(stops).To(Equal(1), role.String())
			}
		})

		It("should only stop nodes that were started", func() {
			cfg.StartupTimeout = 50 * time.Millisecond
			launcher.silent[RoleController] = true
			c := newCluster()
			defer c.Close(ctx)
			Expect(c.Start(ctx)).NotTo(Succeed())

			c.Stop(ctx)
			Expect(c.State()).To(Equal(StateFailed))
			Expect(launcher.container(RoleBroker)).To(BeNil())
			Expect(c.TeardownErrors()).To(BeEmpty())
		})

		It("should be a no-op on an unstarted cluster", func() {
			c := newCluster()
			c.Stop(ctx)
			Expect(launcher.launchedRoles()).To(BeEmpty())
			Expect(c.State()).To(Equal(StateStopped))
		})
	})

	Describe("Close", func() {
		It("should remove every node and the network exactly once", func() {
			c := newCluster()
			Expect(c.Start(ctx)).To(Succeed())

			c.Close(ctx)
			c.Close(ctx)

			for _, role := range c.Topology().Roles() {
				_, terminates, _ := launcher.container(role).counts()
				Expect(terminates).To(Equal(1), role.String())
			}
			Expect(launcher.networks[0].removeCount()).To(Equal(1))
			Expect(c.State()).To(Equal(StateStopped))
		})

		It("should be safe before start and block a later start", func() {
			c := newCluster()
			c.Close(ctx)

			Expect(c.Start(ctx)).To(MatchError(ErrInvalidState))
			Expect(launcher.networks).To(BeEmpty())
		})

		It("should work after stop", func() {
			c := newCluster()
			Expect(c.Start(ctx)).To(Succeed())
			c.Stop(ctx)
			c.Close(ctx)

			_, terminates, _ := launcher.container(RoleServer).counts()
			Expect(terminates).To(Equal(1))
		})
	})
})
