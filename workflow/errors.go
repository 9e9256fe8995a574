// Package workflow implements the multi-tenant agent-workflow execution
// engine: graph traversal, node dispatch, the pre/post processor pipeline,
// checkpointing, pause/resume, and the distributed lease protocol.
package workflow

import (
	"errors"
	"strconv"
)

// EngineError is a structured, code-tagged error in the style of the
// teacher's EngineError/NodeError — a Message plus a machine-readable Code,
// never a bare errors.New for anything the caller might branch on.
type EngineError struct {
	Message string
	Code    string
	NodeID  string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

func (e *EngineError) Unwrap() error { return e.Cause }

// Error codes from the taxonomy in spec.md §7. Fatal codes abort the whole
// execution; the rest are recoverable and surface as a node FAILURE routed
// through the node's transition rules.
const (
	CodeNodeMissing          = "NODE_MISSING"
	CodeNoValidTransition    = "NO_VALID_TRANSITION"
	CodeNodeExecutorNotFound = "NODE_EXECUTOR_NOT_FOUND"
	CodePlanCreationError    = "PLAN_CREATION_ERROR"
	CodePlanRevisionError    = "PLAN_REVISION_ERROR"
	CodeJSONRPCError         = "JSONRPC_ERROR"
	CodeTimeout              = "TIMEOUT"
	CodeNotConnected         = "NOT_CONNECTED"
	CodeOutputValidation     = "OUTPUT_VALIDATION"
	CodeMissingInput         = "MISSING_INPUT"
)

// ErrNotFound is returned by repositories when a tenant-scoped lookup has
// no match; distinct from a nil result so callers can branch on it.
var ErrNotFound = errors.New("not found")

// JSONRPCError represents a JSON-RPC 2.0 error object returned by a remote
// tool sidecar (spec.md §4.10, §7).
type JSONRPCError struct {
	Code    int
	Message string
}

func (e *JSONRPCError) Error() string {
	return "jsonrpc error " + strconv.Itoa(e.Code) + ": " + e.Message
}
