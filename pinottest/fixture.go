// Package pinottest starts Pinot clusters for tests and wires clients to them.
package pinottest

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/nandemo-ya/testcontainers-go-pinot/client"
	"github.com/nandemo-ya/testcontainers-go-pinot/cluster"
	"github.com/nandemo-ya/testcontainers-go-pinot/internal/config"
	"github.com/nandemo-ya/testcontainers-go-pinot/internal/logging"
	"github.com/nandemo-ya/testcontainers-go-pinot/objectstore"
)

// TestingT is implemented by *testing.T and by ginkgo.GinkgoT()
type TestingT interface {
	Helper()
	Logf(format string, args ...any)
	Fatalf(format string, args ...any)
	Failed() bool
	Cleanup(func())
}

// logTailLines is how much of each node's log is dumped after a failure
const logTailLines = 40

type settings struct {
	topology    cluster.TopologyConfig
	clusterOpts []cluster.Option
}

// Option adjusts the cluster a fixture starts
type Option func(*settings)

// WithMinion adds the minion node
func WithMinion() Option {
	return func(s *settings) {
		s.topology.EnableMinion = true
	}
}

// WithObjectStorage adds the LocalStack S3 node
func WithObjectStorage() Option {
	return func(s *settings) {
		s.topology.EnableObjectStorage = true
	}
}

// WithTopology edits the topology config directly
func WithTopology(fn func(*cluster.TopologyConfig)) Option {
	return func(s *settings) {
		fn(&s.topology)
	}
}

// WithClusterOptions passes options through to cluster.New
func WithClusterOptions(opts ...cluster.Option) Option {
	return func(s *settings) {
		s.clusterOpts = append(s.clusterOpts, opts...)
	}
}

// DefaultTopologyConfig returns the four-node topology configured through
// internal/config defaults, pinot-tc.yaml and PINOT_TC_* variables.
func DefaultTopologyConfig() cluster.TopologyConfig {
	cfg := config.GetConfig().Cluster
	return cluster.TopologyConfig{
		ZookeeperImage:      cfg.ZookeeperImage,
		PinotImage:          cfg.PinotImage,
		ObjectStorageImage:  cfg.ObjectStorageImage,
		StartupTimeout:      cfg.StartupTimeout,
		HealthChecks:        cfg.HealthChecks,
		LogLevel:            cfg.LogLevel,
		ObjectStorageRegion: cfg.Region,
	}
}

// StartCluster builds and starts a cluster, then publishes its controller
// and broker URLs through config.SetEndpoints. If Start fails the cluster is
// closed before the error is returned.
func StartCluster(ctx context.Context, opts ...Option) (*cluster.Cluster, error) {
	s := &settings{topology: DefaultTopologyConfig()}
	for _, opt := range opts {
		opt(s)
	}

	c, err := cluster.New(s.topology, s.clusterOpts...)
	if err != nil {
		return nil, err
	}

	if err := c.Start(ctx); err != nil {
		logger := logging.Component("pinottest")
		for _, role := range c.Topology().Roles() {
			if tail := LogTail(c.Logs(role), logTailLines); tail != "" {
				logger.Error("node output", "role", role.String(), "tail", tail)
			}
		}
		c.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	if err := publishEndpoints(c); err != nil {
		c.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return c, nil
}

// Start is StartCluster for tests. The cluster is closed when the test ends,
// and node logs are printed if the test failed.
func Start(t TestingT, opts ...Option) *cluster.Cluster {
	t.Helper()

	ctx := context.Background()
	c, err := StartCluster(ctx, opts...)
	if err != nil {
		t.Fatalf("failed to start pinot cluster: %v", err)
		return nil
	}

	t.Cleanup(func() {
		if t.Failed() {
			for _, role := range c.Topology().Roles() {
				t.Logf("--- %s ---\n%s", role, LogTail(c.Logs(role), logTailLines))
			}
		}
		c.Close(ctx)
		for _, err := range c.TeardownErrors() {
			t.Logf("teardown: %v", err)
		}
	})
	return c
}

func publishEndpoints(c *cluster.Cluster) error {
	controllerURL, err := c.ControllerURL()
	if err != nil {
		return err
	}
	brokerURL, err := c.BrokerURL()
	if err != nil {
		return err
	}
	config.SetEndpoints(controllerURL, brokerURL)
	return nil
}

// NewClients creates clients for the endpoints in pinot.controller.url and
// pinot.broker.url.
func NewClients(opts ...client.Option) (*client.ControllerClient, *client.BrokerClient, error) {
	controller, err := client.NewControllerClient(config.ControllerURL(), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("controller client: %w", err)
	}
	broker, err := client.NewBrokerClient(config.BrokerURL(), opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("broker client: %w", err)
	}
	return controller, broker, nil
}

// ObjectStorageProperties returns the values the minion table template
// expects. The endpoint is the in-network alias since Pinot reads from it.
func ObjectStorageProperties(bucket string) map[string]string {
	region := config.GetConfig().Cluster.Region
	if region == "" {
		region = objectstore.DefaultRegion
	}
	return map[string]string{
		"bucket":    bucket,
		"endpoint":  fmt.Sprintf("http://%s:%d", cluster.RoleObjectStorage.Alias(), cluster.ObjectStoragePort),
		"region":    region,
		"accessKey": objectstore.AccessKeyID,
		"secretKey": objectstore.SecretAccessKey,
	}
}

// SeedObjectStorage creates bucket in the cluster's S3 emulator and uploads
// data under key.
func SeedObjectStorage(ctx context.Context, c *cluster.Cluster, bucket, key string, data []byte) error {
	endpoint, err := c.ObjectStorageEndpoint()
	if err != nil {
		return err
	}
	store, err := objectstore.New(ctx, endpoint, c.Topology().Config.ObjectStorageRegion)
	if err != nil {
		return err
	}
	if err := store.CreateBucket(ctx, bucket); err != nil {
		return err
	}
	return store.Upload(ctx, bucket, key, bytes.NewReader(data))
}

// LogTail returns the last n lines of logs
func LogTail(logs string, n int) string {
	lines := strings.Split(strings.TrimRight(logs, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
