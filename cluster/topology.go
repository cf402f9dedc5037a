package cluster

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
)

// Container labels stamped on every node
const (
	LabelCluster = "io.pinot.testcontainers.cluster"
	LabelRole    = "io.pinot.testcontainers.role"
)

// TopologyConfig is everything BuildTopology needs. It carries no defaults;
// callers (see package pinottest) decide images and versions.
type TopologyConfig struct {
	// ZookeeperImage is the coordination service image, e.g. "zookeeper:3.9"
	ZookeeperImage string `yaml:"zookeeperImage"`

	// PinotImage runs the controller, broker, server and minion
	PinotImage string `yaml:"pinotImage"`

	// ObjectStorageImage is the LocalStack image, required with EnableObjectStorage
	ObjectStorageImage string `yaml:"objectStorageImage,omitempty"`

	EnableMinion        bool `yaml:"enableMinion"`
	EnableObjectStorage bool `yaml:"enableObjectStorage"`

	// StartupTimeout bounds each node's readiness wait
	StartupTimeout time.Duration `yaml:"startupTimeout"`

	// HealthChecks adds an active probe after log readiness where the role
	// exposes one
	HealthChecks bool `yaml:"healthChecks"`

	// LogLevel is passed to Pinot as LOG4J_CONSOLE_LEVEL
	LogLevel string `yaml:"logLevel,omitempty"`

	// HeapSizes overrides the per-role JVM heap
	HeapSizes map[Role]HeapSize `yaml:"heapSizes,omitempty"`

	// ObjectStorageRegion is the emulated AWS region
	ObjectStorageRegion string `yaml:"objectStorageRegion,omitempty"`

	// MemoryLimit caps each container's memory in bytes; zero means no limit
	MemoryLimit int64 `yaml:"memoryLimit,omitempty"`

	// Labels are added to every container
	Labels map[string]string `yaml:"labels,omitempty"`
}

// Validate checks that the config can produce a topology
func (c TopologyConfig) Validate() error {
	var problems []string
	if c.ZookeeperImage == "" {
		problems = append(problems, "zookeeper image is required")
	}
	if c.PinotImage == "" {
		problems = append(problems, "pinot image is required")
	}
	if c.EnableObjectStorage && c.ObjectStorageImage == "" {
		problems = append(problems, "object storage image is required when object storage is enabled")
	}
	if c.StartupTimeout <= 0 {
		problems = append(problems, "startup timeout must be positive")
	}
	if c.MemoryLimit < 0 {
		problems = append(problems, "memory limit cannot be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTopology, strings.Join(problems, "; "))
	}
	return nil
}

// NodeSpec is the launch contract for one node
type NodeSpec struct {
	Role           Role              `yaml:"role"`
	Image          string            `yaml:"image"`
	Cmd            []string          `yaml:"cmd,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
	Port           nat.Port          `yaml:"port"`
	Alias          string            `yaml:"alias"`
	ReadyPattern   string            `yaml:"readyPattern"`
	StartupTimeout time.Duration     `yaml:"startupTimeout"`
	HealthCheck    bool              `yaml:"healthCheck"`
	MemoryLimit    int64             `yaml:"memoryLimit,omitempty"`
	Labels         map[string]string `yaml:"labels,omitempty"`
}

// Topology is the node set of one cluster and its dependency edges
type Topology struct {
	// Nodes in declaration order
	Nodes []NodeSpec

	// Dependencies maps a role to the role it waits for; roots are absent
	Dependencies map[Role]Role

	// Config is the input the topology was built from
	Config TopologyConfig
}

// BuildTopology resolves cfg into concrete nodes and edges. It has no side
// effects.
func BuildTopology(cfg TopologyConfig) (*Topology, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Topology{
		Dependencies: make(map[Role]Role),
		Config:       cfg,
	}

	add := func(spec NodeSpec, dependsOn ...Role) {
		t.Nodes = append(t.Nodes, spec)
		if len(dependsOn) > 0 {
			t.Dependencies[spec.Role] = dependsOn[0]
		}
	}

	add(zookeeperSpec(cfg))
	add(pinotSpec(cfg, RoleController), RoleZookeeper)
	add(pinotSpec(cfg, RoleBroker), RoleController)
	add(pinotSpec(cfg, RoleServer), RoleBroker)
	if cfg.EnableMinion {
		add(pinotSpec(cfg, RoleMinion), RoleBroker)
	}
	if cfg.EnableObjectStorage {
		add(objectStorageSpec(cfg))
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func baseSpec(cfg TopologyConfig, role Role, image string) NodeSpec {
	labels := make(map[string]string, len(cfg.Labels)+1)
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	labels[LabelRole] = role.String()

	return NodeSpec{
		Role:           role,
		Image:          image,
		Env:            map[string]string{},
		Port:           role.Port(),
		Alias:          role.Alias(),
		ReadyPattern:   role.ReadyPattern(),
		StartupTimeout: cfg.StartupTimeout,
		HealthCheck:    cfg.HealthChecks,
		MemoryLimit:    cfg.MemoryLimit,
		Labels:         labels,
	}
}

func zookeeperSpec(cfg TopologyConfig) NodeSpec {
	spec := baseSpec(cfg, RoleZookeeper, cfg.ZookeeperImage)
	spec.Env["ZOOKEEPER_CLIENT_PORT"] = fmt.Sprint(ZookeeperPort)
	spec.Env["ZOOKEEPER_TICK_TIME"] = "2000"
	return spec
}

func pinotSpec(cfg TopologyConfig, role Role) NodeSpec {
	spec := baseSpec(cfg, role, cfg.PinotImage)
	spec.Cmd = []string{roleDefinitions[role].startCmd, "-zkAddress", zookeeperAddress()}

	heap := role.DefaultHeap()
	if override, ok := cfg.HeapSizes[role]; ok {
		if override.Min != "" {
			heap.Min = override.Min
		}
		if override.Max != "" {
			heap.Max = override.Max
		}
	}
	spec.Env["JAVA_OPTS"] = javaOpts(heap)

	level := cfg.LogLevel
	if level == "" {
		level = "warn"
	}
	spec.Env["LOG4J_CONSOLE_LEVEL"] = level
	return spec
}

func objectStorageSpec(cfg TopologyConfig) NodeSpec {
	spec := baseSpec(cfg, RoleObjectStorage, cfg.ObjectStorageImage)
	spec.Env["SERVICES"] = "s3"
	if cfg.ObjectStorageRegion != "" {
		spec.Env["DEFAULT_REGION"] = cfg.ObjectStorageRegion
	}
	return spec
}

// Has reports whether role is part of the topology
func (t *Topology) Has(role Role) bool {
	_, ok := t.Spec(role)
	return ok
}

// Spec returns the launch contract for role
func (t *Topology) Spec(role Role) (NodeSpec, bool) {
	for _, spec := range t.Nodes {
		if spec.Role == role {
			return spec, true
		}
	}
	return NodeSpec{}, false
}

// Roles returns the roles present, in declaration order
func (t *Topology) Roles() []Role {
	roles := make([]Role, 0, len(t.Nodes))
	for _, spec := range t.Nodes {
		roles = append(roles, spec.Role)
	}
	return roles
}

// DependencyOf returns the role that role waits for, if any
func (t *Topology) DependencyOf(role Role) (Role, bool) {
	dep, ok := t.Dependencies[role]
	return dep, ok
}

// Validate enforces the structural rules: one of each required role, optional
// roles present exactly when enabled, roots without dependencies, every other
// node with exactly one dependency inside the topology, and no cycles.
func (t *Topology) Validate() error {
	counts := make(map[Role]int)
	for _, spec := range t.Nodes {
		counts[spec.Role]++
	}

	for _, role := range []Role{RoleZookeeper, RoleController, RoleBroker, RoleServer} {
		if counts[role] != 1 {
			return fmt.Errorf("%w: expected exactly one %s, found %d", ErrInvalidTopology, role, counts[role])
		}
	}
	optional := map[Role]bool{
		RoleMinion:        t.Config.EnableMinion,
		RoleObjectStorage: t.Config.EnableObjectStorage,
	}
	for role, enabled := range optional {
		want := 0
		if enabled {
			want = 1
		}
		if counts[role] != want {
			return fmt.Errorf("%w: expected %d %s node(s), found %d", ErrInvalidTopology, want, role, counts[role])
		}
	}

	for _, spec := range t.Nodes {
		if spec.Role.IsPinot() && len(spec.Cmd) == 0 {
			return fmt.Errorf("%w: %s has no start command", ErrInvalidTopology, spec.Role)
		}
		if _, err := regexp.Compile(spec.ReadyPattern); err != nil {
			return fmt.Errorf("%w: %s ready pattern: %v", ErrInvalidTopology, spec.Role, err)
		}
	}

	for _, spec := range t.Nodes {
		dep, hasDep := t.Dependencies[spec.Role]
		switch spec.Role {
		case RoleZookeeper, RoleObjectStorage:
			if hasDep {
				return fmt.Errorf("%w: %s is a root and cannot depend on %s", ErrInvalidTopology, spec.Role, dep)
			}
		default:
			if !hasDep {
				return fmt.Errorf("%w: %s has no dependency", ErrInvalidTopology, spec.Role)
			}
			if counts[dep] == 0 {
				return fmt.Errorf("%w: %s depends on missing %s", ErrInvalidTopology, spec.Role, dep)
			}
		}
	}
	for role := range t.Dependencies {
		if counts[role] == 0 {
			return fmt.Errorf("%w: dependency declared for missing %s", ErrInvalidTopology, role)
		}
	}

	_, err := t.StartOrder()
	return err
}

// StartOrder returns the roles sorted so that every node follows its
// dependency. Ties keep declaration order.
func (t *Topology) StartOrder() ([]Role, error) {
	started := make(map[Role]bool, len(t.Nodes))
	order := make([]Role, 0, len(t.Nodes))

	for len(order) < len(t.Nodes) {
		progressed := false
		for _, spec := range t.Nodes {
			if started[spec.Role] {
				continue
			}
			if dep, ok := t.Dependencies[spec.Role]; ok && !started[dep] {
				continue
			}
			started[spec.Role] = true
			order = append(order, spec.Role)
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("%w: dependency cycle among %v", ErrInvalidTopology, t.pending(started))
		}
	}
	return order, nil
}

func (t *Topology) pending(started map[Role]bool) []Role {
	var roles []Role
	for _, spec := range t.Nodes {
		if !started[spec.Role] {
			roles = append(roles, spec.Role)
		}
	}
	return roles
}
