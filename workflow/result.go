package workflow

import (
	"encoding/json"
	"time"
)

// NodeStatus is the outcome a node dispatch reports to the post-execution
// pipeline.
type NodeStatus string

const (
	NodeSuccess NodeStatus = "SUCCESS"
	NodeFailure NodeStatus = "FAILURE"
	NodePending NodeStatus = "PENDING" // awaiting external input (review, JSON-RPC reply, join)
	NodeEnd     NodeStatus = "END"
)

// NodeResult is what every node executor returns to the traversal loop,
// regardless of Kind (spec.md §3).
type NodeResult struct {
	Status    NodeStatus
	Output    map[string]interface{}
	Metadata  map[string]interface{}
	Err       error
	Timestamp time.Time
}

func newResult(status NodeStatus, output map[string]interface{}) *NodeResult {
	return &NodeResult{Status: status, Output: output, Timestamp: time.Now()}
}

func successResult(output map[string]interface{}) *NodeResult {
	return newResult(NodeSuccess, output)
}

func failureResult(err error) *NodeResult {
	r := newResult(NodeFailure, nil)
	r.Err = err
	return r
}

func pendingResult(meta map[string]interface{}) *NodeResult {
	r := newResult(NodePending, nil)
	r.Metadata = meta
	return r
}

// outputAsString projects a node's Output map to the single string
// spec.md §4.2 writes into state.Context[nodeID]. A lone "text" field
// (the shape every agent-backed executor produces) is used verbatim;
// any other non-empty output is JSON-encoded so history and context
// always carry a string regardless of node kind.
func outputAsString(output map[string]interface{}) (string, bool) {
	if len(output) == 0 {
		return "", false
	}
	if len(output) == 1 {
		if text, ok := output["text"].(string); ok {
			return text, true
		}
	}
	b, err := json.Marshal(output)
	if err != nil {
		return "", false
	}
	return string(b), true
}

// ExecutionResultKind tags which variant of ExecutionResult is populated.
type ExecutionResultKind string

const (
	ResultCompleted ExecutionResultKind = "COMPLETED"
	ResultPaused    ExecutionResultKind = "PAUSED"
	ResultRejected  ExecutionResultKind = "REJECTED"
	ResultFailure   ExecutionResultKind = "FAILURE"
)

// ExecutionResult is returned by the executor to callers of Execute/Resume —
// a tagged union over the four ways an execution can stop advancing
// (spec.md §3, §9 design note on sum types).
type ExecutionResult struct {
	Kind ExecutionResultKind

	ExecutionID string
	ExitStatus  ExitStatus        // set when Kind == ResultCompleted
	Context     map[string]interface{}

	PauseNodeID string // set when Kind == ResultPaused: node awaiting external input
	PauseReason string

	RejectedAt string // set when Kind == ResultRejected: node ID of the rejecting review
	RejectReason string

	Err error // set when Kind == ResultFailure
}
