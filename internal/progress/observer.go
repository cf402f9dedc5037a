package progress

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nandemo-ya/testcontainers-go-pinot/cluster"
)

// NodeStatus is what the observer knows about one node
type NodeStatus struct {
	Role     cluster.Role
	Alias    string
	Image    string
	Ready    bool
	Err      error
	Duration time.Duration
}

// ClusterObserver drives a progress bar from cluster startup events
type ClusterObserver struct {
	tracker *Tracker

	mu      sync.Mutex
	order   []cluster.Role
	status  map[cluster.Role]*NodeStatus
	started map[cluster.Role]time.Time
}

// NewClusterObserver creates an observer for a cluster of total nodes
func NewClusterObserver(total int, w io.Writer) *ClusterObserver {
	return &ClusterObserver{
		tracker: NewTracker(Options{
			Description:     "Starting cluster",
			Total:           int64(total),
			ShowElapsedTime: true,
			Writer:          w,
		}),
		status:  make(map[cluster.Role]*NodeStatus),
		started: make(map[cluster.Role]time.Time),
	}
}

// NodeStarting implements cluster.Observer
func (o *ClusterObserver) NodeStarting(spec cluster.NodeSpec) {
	o.mu.Lock()
	o.order = append(o.order, spec.Role)
	o.status[spec.Role] = &NodeStatus{Role: spec.Role, Alias: spec.Alias, Image: spec.Image}
	o.started[spec.Role] = time.Now()
	o.mu.Unlock()

	o.tracker.SetDescription(fmt.Sprintf("Starting %s", spec.Alias))
}

// NodeReady implements cluster.Observer
func (o *ClusterObserver) NodeReady(spec cluster.NodeSpec) {
	o.mu.Lock()
	if s, ok := o.status[spec.Role]; ok {
		s.Ready = true
		s.Duration = time.Since(o.started[spec.Role])
	}
	o.mu.Unlock()

	_ = o.tracker.Add(1)
}

// NodeFailed implements cluster.Observer
func (o *ClusterObserver) NodeFailed(spec cluster.NodeSpec, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.status[spec.Role]; ok {
		s.Err = err
		s.Duration = time.Since(o.started[spec.Role])
	}
}

// Finish completes the progress bar
func (o *ClusterObserver) Finish() {
	_ = o.tracker.Finish()
}

// Nodes returns node statuses in the order they started
func (o *ClusterObserver) Nodes() []NodeStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]NodeStatus, 0, len(o.order))
	for _, role := range o.order {
		out = append(out, *o.status[role])
	}
	return out
}

// Summary renders the node statuses as table rows, header first
func (o *ClusterObserver) Summary() [][]string {
	rows := [][]string{{"Role", "Alias", "Image", "Status", "Startup"}}
	for _, n := range o.Nodes() {
		status := "starting"
		switch {
		case n.Err != nil:
			status = "failed"
		case n.Ready:
			status = "ready"
		}
		rows = append(rows, []string{
			n.Role.String(), n.Alias, n.Image, status, n.Duration.Round(time.Millisecond).String(),
		})
	}
	return rows
}

var _ cluster.Observer = (*ClusterObserver)(nil)
