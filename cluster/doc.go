// Package cluster runs a disposable Apache Pinot cluster in Docker for
// integration tests.
//
// A Cluster is built in two steps. New resolves a TopologyConfig into the
// nodes and dependency edges of the cluster without touching Docker. Start
// then creates a private network and launches ZooKeeper, the controller, the
// broker, the server and the optional minion and LocalStack nodes one at a
// time, each only after the node it depends on has logged its startup line.
//
//	c, err := cluster.New(cfg)
//	if err != nil {
//		return err
//	}
//	defer c.Close(context.Background())
//
//	if err := c.Start(ctx); err != nil {
//		return err
//	}
//	controller, _ := c.ControllerURL()
//
// Close is always safe to call and removes every container and the network,
// including after a failed Start.
package cluster
