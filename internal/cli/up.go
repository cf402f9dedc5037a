package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/nandemo-ya/testcontainers-go-pinot/cluster"
	"github.com/nandemo-ya/testcontainers-go-pinot/internal/logging"
	"github.com/nandemo-ya/testcontainers-go-pinot/internal/progress"
	"github.com/nandemo-ya/testcontainers-go-pinot/pinottest"
)

var (
	upMinion        bool
	upObjectStorage bool
	upHealthChecks  bool
	upTimeout       time.Duration
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start a cluster and keep it running until interrupted",
	Long: `Start a Pinot cluster and print its endpoints. The cluster runs until the
command receives SIGINT or SIGTERM, then every container and the network
are removed.`,
	RunE: runUp,
}

func init() {
	upCmd.Flags().BoolVar(&upMinion, "minion", false, "Also start a Pinot minion")
	upCmd.Flags().BoolVar(&upObjectStorage, "object-storage", false, "Also start a LocalStack S3 emulator")
	upCmd.Flags().BoolVar(&upHealthChecks, "health-checks", false, "Probe health endpoints after the ready log line")
	upCmd.Flags().DurationVar(&upTimeout, "startup-timeout", 0, "Per-node startup timeout (overrides config)")
}

func runUp(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observer := &deferredObserver{}
	c, err := cluster.New(upTopologyConfig(), cluster.WithObserver(observer))
	if err != nil {
		return err
	}
	progress.SectionHeader("Starting Pinot cluster")
	observer.ClusterObserver = progress.NewClusterObserver(len(c.Topology().Nodes), cmd.ErrOrStderr())
	defer func() {
		spinner := progress.NewSpinner("Removing containers")
		spinner.Start()
		c.Close(context.Background())
		if errs := c.TeardownErrors(); len(errs) > 0 {
			spinner.Fail(fmt.Sprintf("Teardown finished with %d error(s)", len(errs)))
			for _, err := range errs {
				logging.Warn("teardown error", "error", err)
			}
			return
		}
		spinner.Success("Cluster removed")
	}()

	err = c.Start(ctx)
	observer.Finish()
	if table, terr := progress.Table(observer.Summary()); terr == nil {
		fmt.Fprintln(cmd.OutOrStdout(), table)
	}
	if err != nil {
		progress.Error("%s", progress.FormatError(err, "Cluster failed to start",
			"Check that Docker is running and has enough memory for the JVM heaps",
			"Run with --log-level debug to see node output"))
		for _, role := range c.Topology().Roles() {
			if tail := pinottest.LogTail(c.Logs(role), 20); tail != "" {
				pterm.DefaultBox.WithTitle(role.String()).Println(tail)
			}
		}
		return err
	}

	rows, err := endpointRows(c)
	if err != nil {
		return err
	}
	table, err := progress.Table(rows)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), table)
	progress.Success("Cluster %s is running", c.ID()[:8])
	progress.Info("Press Ctrl+C to stop")

	<-ctx.Done()
	logging.Info("shutting down", "cluster", c.ID()[:8])
	return nil
}

// deferredObserver lets the progress display be sized from the topology
// that cluster.New builds.
type deferredObserver struct {
	*progress.ClusterObserver
}

func upTopologyConfig() cluster.TopologyConfig {
	cfg := pinottest.DefaultTopologyConfig()
	cfg.EnableMinion = upMinion
	cfg.EnableObjectStorage = upObjectStorage
	if upHealthChecks {
		cfg.HealthChecks = true
	}
	if upTimeout > 0 {
		cfg.StartupTimeout = upTimeout
	}
	return cfg
}

// endpointRows lists the host endpoint of every node, header first
func endpointRows(c *cluster.Cluster) ([][]string, error) {
	rows := [][]string{{"Role", "Alias", "Container Port", "Endpoint"}}
	for _, role := range c.Topology().Roles() {
		node, ok := c.Node(role)
		if !ok {
			continue
		}
		endpoint, err := node.Endpoint()
		if err != nil {
			return nil, err
		}
		if role != cluster.RoleZookeeper {
			endpoint = "http://" + endpoint
		}
		spec := node.Spec()
		rows = append(rows, []string{role.String(), spec.Alias, strconv.Itoa(spec.Port.Int()), endpoint})
	}
	return rows, nil
}
