package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nandemo-ya/testcontainers-go-pinot/cluster"
)

var topologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Print the nodes a cluster would start, in start order",
	Long: `Print the topology built from the current configuration as YAML without
starting anything. Accepts the same --minion and --object-storage flags as up.`,
	RunE: runTopology,
}

func init() {
	topologyCmd.Flags().BoolVar(&upMinion, "minion", false, "Include a Pinot minion")
	topologyCmd.Flags().BoolVar(&upObjectStorage, "object-storage", false, "Include a LocalStack S3 emulator")
}

type topologyDocument struct {
	StartOrder []cluster.Role `yaml:"startOrder"`
	Nodes      []nodeDocument `yaml:"nodes"`
}

type nodeDocument struct {
	cluster.NodeSpec `yaml:",inline"`
	DependsOn        *cluster.Role `yaml:"dependsOn,omitempty"`
}

func runTopology(cmd *cobra.Command, args []string) error {
	topology, err := cluster.BuildTopology(upTopologyConfig())
	if err != nil {
		return err
	}
	doc, err := newTopologyDocument(topology)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func newTopologyDocument(t *cluster.Topology) (*topologyDocument, error) {
	order, err := t.StartOrder()
	if err != nil {
		return nil, err
	}
	doc := &topologyDocument{StartOrder: order}
	for _, role := range order {
		spec, _ := t.Spec(role)
		node := nodeDocument{NodeSpec: spec}
		if dep, ok := t.DependencyOf(role); ok {
			node.DependsOn = &dep
		}
		doc.Nodes = append(doc.Nodes, node)
	}
	return doc, nil
}
