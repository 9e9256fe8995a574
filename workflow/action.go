package workflow

import "context"

// ActionKind tags which variant of Action is populated.
type ActionKind string

const (
	ActionSend    ActionKind = "SEND"
	ActionExecute ActionKind = "EXECUTE"
)

// SendAction dispatches a JSON-RPC request or notification to a connected
// client session (spec.md §4.10). Async == true sends a notification and
// does not await a reply; Async == false sends a request and blocks the
// node until the correlated response arrives (or RPCTimeout elapses).
type SendAction struct {
	ClientID string
	Method   string
	Params   map[string]interface{}
	Async    bool
}

// ExecuteAction invokes a named handler from the ActionHandler registry
// in-process, with no round trip to an external client.
type ExecuteAction struct {
	HandlerName string
	Params      map[string]interface{}
}

// Action is a tagged union over the two ways an ActionNode can produce a
// side effect.
type Action struct {
	Kind    ActionKind
	Send    *SendAction
	Execute *ExecuteAction
}

// ActionHandler executes an ExecuteAction's named operation against the
// live context, returning fields to merge into state.Context.
type ActionHandler interface {
	Handle(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)
}

// RPCSender is the subset of the JSON-RPC session manager an ActionNode
// needs; satisfied by *rpc.SessionManager. Declared here, not imported,
// so workflow does not depend on the rpc package.
type RPCSender interface {
	SendRequest(ctx context.Context, clientID, method string, params map[string]interface{}) (map[string]interface{}, error)
	SendNotification(clientID, method string, params map[string]interface{}) error
}
