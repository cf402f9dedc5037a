package cluster

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Role identifies one kind of process in a Pinot cluster
type Role int

const (
	// RoleZookeeper is the coordination service every Pinot process registers with
	RoleZookeeper Role = iota
	// RoleController handles schema, table and task administration
	RoleController
	// RoleBroker routes queries to servers and merges their results
	RoleBroker
	// RoleServer hosts queryable segments
	RoleServer
	// RoleMinion runs background tasks such as segment generation
	RoleMinion
	// RoleObjectStorage is a LocalStack S3 emulator used as an ingestion source
	RoleObjectStorage
)

// Fixed container ports
const (
	ZookeeperPort     = 2181
	ControllerPort    = 9000
	BrokerPort        = 8099
	ServerPort        = 8098
	MinionPort        = 9514
	ObjectStoragePort = 4566
)

// HeapSize is a JVM -Xms/-Xmx pair such as {"1G", "4G"}
type HeapSize struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`
}

type roleDefinition struct {
	name       string
	alias      string
	port       int
	startCmd   string
	readyLine  string
	healthPath string
	heap       HeapSize
}

var roleDefinitions = map[Role]roleDefinition{
	RoleZookeeper: {
		name:      "zookeeper",
		alias:     "zookeeper",
		port:      ZookeeperPort,
		readyLine: fmt.Sprintf(`binding to port .*:%d`, ZookeeperPort),
	},
	RoleController: {
		name:       "controller",
		alias:      "pinot-controller",
		port:       ControllerPort,
		startCmd:   "StartController",
		readyLine:  pinotReadyLine("CONTROLLER"),
		healthPath: "/health",
		heap:       HeapSize{Min: "1G", Max: "4G"},
	},
	RoleBroker: {
		name:       "broker",
		alias:      "pinot-broker",
		port:       BrokerPort,
		startCmd:   "StartBroker",
		readyLine:  pinotReadyLine("BROKER"),
		healthPath: "/health",
		heap:       HeapSize{Min: "4G", Max: "4G"},
	},
	RoleServer: {
		name:      "server",
		alias:     "pinot-server",
		port:      ServerPort,
		startCmd:  "StartServer",
		readyLine: pinotReadyLine("SERVER"),
		heap:      HeapSize{Min: "4G", Max: "8G"},
	},
	RoleMinion: {
		name:      "minion",
		alias:     "pinot-minion",
		port:      MinionPort,
		startCmd:  "StartMinion",
		readyLine: pinotReadyLine("MINION"),
		heap:      HeapSize{Min: "4G", Max: "8G"},
	},
	RoleObjectStorage: {
		name:       "object-storage",
		alias:      "localstack",
		port:       ObjectStoragePort,
		readyLine:  `^Ready\.`,
		healthPath: "/_localstack/health",
	},
}

func pinotReadyLine(service string) string {
	return fmt.Sprintf(`Started Pinot \[%s\] instance`, service)
}

// Roles returns every role in declaration order
func Roles() []Role {
	return []Role{RoleZookeeper, RoleController, RoleBroker, RoleServer, RoleMinion, RoleObjectStorage}
}

// ParseRole parses the name returned by Role.String
func ParseRole(s string) (Role, error) {
	for _, r := range Roles() {
		if r.String() == strings.ToLower(strings.TrimSpace(s)) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

func (r Role) String() string {
	if def, ok := roleDefinitions[r]; ok {
		return def.name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// MarshalText implements encoding.TextMarshaler
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Alias is the fixed network alias other nodes use to reach this role
func (r Role) Alias() string {
	return roleDefinitions[r].alias
}

// Port is the fixed container port the role listens on
func (r Role) Port() nat.Port {
	return nat.Port(fmt.Sprintf("%d/tcp", roleDefinitions[r].port))
}

// ReadyPattern is the log pattern announcing the role finished booting
func (r Role) ReadyPattern() string {
	return roleDefinitions[r].readyLine
}

// IsPinot reports whether the role runs the Pinot image
func (r Role) IsPinot() bool {
	return roleDefinitions[r].startCmd != ""
}

// DefaultHeap is the JVM heap used when the config does not override it
func (r Role) DefaultHeap() HeapSize {
	return roleDefinitions[r].heap
}

// probeFor returns the active readiness check that complements log matching,
// or nil when the role exposes nothing to probe.
func probeFor(spec NodeSpec) wait.Strategy {
	def := roleDefinitions[spec.Role]
	if def.healthPath != "" {
		return wait.ForHTTP(def.healthPath).
			WithPort(spec.Port).
			WithStartupTimeout(spec.StartupTimeout)
	}
	if spec.Role == RoleZookeeper {
		return wait.ForListeningPort(spec.Port).WithStartupTimeout(spec.StartupTimeout)
	}
	return nil
}

// zookeeperAddress is the alias:port every Pinot command points at
func zookeeperAddress() string {
	return fmt.Sprintf("%s:%d", RoleZookeeper.Alias(), ZookeeperPort)
}

func javaOpts(heap HeapSize) string {
	return fmt.Sprintf("-Dplugins.dir=/opt/pinot/plugins -Xms%s -Xmx%s -XX:+UseG1GC -XX:MaxGCPauseMillis=200", heap.Min, heap.Max)
}

// defaultStopTimeout is how long a graceful stop waits before the runtime kills the process
const defaultStopTimeout = 10 * time.Second
