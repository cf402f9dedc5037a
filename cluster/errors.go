package cluster

import (
	"errors"
	"fmt"
)

var (
	// ErrLaunchFailure is returned when a container could not be created or started
	ErrLaunchFailure = errors.New("container launch failed")

	// ErrReadinessTimeout is returned when a node's readiness line did not
	// appear often enough before its startup timeout
	ErrReadinessTimeout = errors.New("readiness timed out")

	// ErrLogStreamClosed is returned when a node's log stream ends before it
	// reported readiness, usually because the process exited
	ErrLogStreamClosed = errors.New("log stream closed before readiness")

	// ErrDependencyNotReady is returned when a node is started before the node
	// it depends on reached Ready
	ErrDependencyNotReady = errors.New("dependency not ready")

	// ErrNotStarted is returned by node accessors used before Start completed
	ErrNotStarted = errors.New("node not started")

	// ErrNotReady is returned by cluster accessors when the cluster is not
	// running or the requested role is not part of its topology
	ErrNotReady = errors.New("cluster not ready")

	// ErrStopFailure marks a failed stop or terminate. These are collected
	// during teardown and never returned from Stop or Close.
	ErrStopFailure = errors.New("stop failed")

	// ErrInvalidState is returned when a lifecycle operation is not allowed
	// in the current state
	ErrInvalidState = errors.New("invalid lifecycle state")

	// ErrInvalidTopology is returned when a topology breaks the dependency rules
	ErrInvalidTopology = errors.New("invalid topology")
)

// NodeError attaches the failing node's role to a lifecycle error
type NodeError struct {
	Role  Role
	Alias string
	Op    string
	Err   error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Role, e.Alias, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}
