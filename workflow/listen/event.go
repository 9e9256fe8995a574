// Package listen provides the observer contract and observability sinks
// for workflow execution.
package listen

// Event is the wire shape every Sink receives. Listener methods build one
// of these and forward it to the configured Sink, the way the teacher's
// Emitter backends consume a flat Event regardless of call site.
type Event struct {
	TenantID    string
	ExecutionID string
	NodeID      string
	Step        int
	Msg         string
	Meta        map[string]interface{}
}

// Sink receives observability events from a Listener. Implementations must
// be safe for concurrent use and must not block workflow execution for long;
// a slow sink should buffer or drop, never stall the traversal loop.
type Sink interface {
	Emit(event Event)
}

// Node is the minimal node shape a Listener needs — just enough to log
// identity without importing the workflow package (which imports listen).
type Node struct {
	ID   string
	Type string
}

// Listener receives every observer callback named in spec.md §6. All
// methods must be safe for concurrent invocation: branch, fork, and
// sub-workflow tasks call them from their own goroutines.
type Listener interface {
	OnNodeStart(executionID string, node Node)
	OnNodeComplete(executionID string, node Node, status string, meta map[string]interface{})
	OnAgentStart(executionID, nodeID, agentID string)
	OnAgentComplete(executionID, nodeID, agentID string, meta map[string]interface{})
	OnPlannerStart(executionID, nodeID, prompt string)
	OnPlannerComplete(executionID, nodeID string, stepCount int)
	OnCheckpoint(executionID string, nodeID string, status string)
	OnPlanCreated(executionID, planID, nodeID string, stepCount int)
	OnPlanStepStarted(executionID, planID string, stepIndex int, toolName string)
	OnPlanStepCompleted(executionID, planID string, stepIndex int, status string)
	OnPlanRevised(executionID, planID string, reason string)
	OnPlanCompleted(executionID, planID string, status string)
}

// SinkListener adapts a Sink into a Listener by flattening every named
// callback into an Event. This is the default Listener used when callers
// only care about one observability backend (log, OTel, Prometheus) rather
// than the full typed contract.
type SinkListener struct {
	Sink Sink
	step int
}

// NewSinkListener wraps a Sink as a Listener.
func NewSinkListener(sink Sink) *SinkListener {
	return &SinkListener{Sink: sink}
}

func (l *SinkListener) nextStep() int {
	l.step++
	return l.step
}

func (l *SinkListener) OnNodeStart(executionID string, node Node) {
	l.Sink.Emit(Event{ExecutionID: executionID, NodeID: node.ID, Step: l.nextStep(), Msg: "node_start", Meta: map[string]interface{}{"node_type": node.Type}})
}

func (l *SinkListener) OnNodeComplete(executionID string, node Node, status string, meta map[string]interface{}) {
	l.Sink.Emit(Event{ExecutionID: executionID, NodeID: node.ID, Step: l.step, Msg: "node_complete", Meta: mergeMeta(map[string]interface{}{"status": status}, meta)})
}

func (l *SinkListener) OnAgentStart(executionID, nodeID, agentID string) {
	l.Sink.Emit(Event{ExecutionID: executionID, NodeID: nodeID, Step: l.step, Msg: "agent_start", Meta: map[string]interface{}{"agent_id": agentID}})
}

func (l *SinkListener) OnAgentComplete(executionID, nodeID, agentID string, meta map[string]interface{}) {
	l.Sink.Emit(Event{ExecutionID: executionID, NodeID: nodeID, Step: l.step, Msg: "agent_complete", Meta: mergeMeta(map[string]interface{}{"agent_id": agentID}, meta)})
}

func (l *SinkListener) OnPlannerStart(executionID, nodeID, prompt string) {
	l.Sink.Emit(Event{ExecutionID: executionID, NodeID: nodeID, Step: l.step, Msg: "planner_start", Meta: map[string]interface{}{"prompt": prompt}})
}

func (l *SinkListener) OnPlannerComplete(executionID, nodeID string, stepCount int) {
	l.Sink.Emit(Event{ExecutionID: executionID, NodeID: nodeID, Step: l.step, Msg: "planner_complete", Meta: map[string]interface{}{"step_count": stepCount}})
}

func (l *SinkListener) OnCheckpoint(executionID string, nodeID string, status string) {
	l.Sink.Emit(Event{ExecutionID: executionID, NodeID: nodeID, Step: l.step, Msg: "checkpoint", Meta: map[string]interface{}{"status": status}})
}

func (l *SinkListener) OnPlanCreated(executionID, planID, nodeID string, stepCount int) {
	l.Sink.Emit(Event{ExecutionID: executionID, NodeID: nodeID, Step: l.step, Msg: "plan_created", Meta: map[string]interface{}{"plan_id": planID, "step_count": stepCount}})
}

func (l *SinkListener) OnPlanStepStarted(executionID, planID string, stepIndex int, toolName string) {
	l.Sink.Emit(Event{ExecutionID: executionID, Step: l.step, Msg: "plan_step_started", Meta: map[string]interface{}{"plan_id": planID, "step_index": stepIndex, "tool_name": toolName}})
}

func (l *SinkListener) OnPlanStepCompleted(executionID, planID string, stepIndex int, status string) {
	l.Sink.Emit(Event{ExecutionID: executionID, Step: l.step, Msg: "plan_step_completed", Meta: map[string]interface{}{"plan_id": planID, "step_index": stepIndex, "status": status}})
}

func (l *SinkListener) OnPlanRevised(executionID, planID string, reason string) {
	l.Sink.Emit(Event{ExecutionID: executionID, Step: l.step, Msg: "plan_revised", Meta: map[string]interface{}{"plan_id": planID, "reason": reason}})
}

func (l *SinkListener) OnPlanCompleted(executionID, planID string, status string) {
	l.Sink.Emit(Event{ExecutionID: executionID, Step: l.step, Msg: "plan_completed", Meta: map[string]interface{}{"plan_id": planID, "status": status}})
}

func mergeMeta(base, extra map[string]interface{}) map[string]interface{} {
	if extra == nil {
		return base
	}
	for k, v := range extra {
		base[k] = v
	}
	return base
}

// MultiListener fans callbacks out to several listeners in declared order,
// matching spec.md §5 ("if multiple observers are registered, each observer
// receives the same order").
type MultiListener struct {
	Listeners []Listener
}

func (m MultiListener) OnNodeStart(executionID string, node Node) {
	for _, l := range m.Listeners {
		l.OnNodeStart(executionID, node)
	}
}

func (m MultiListener) OnNodeComplete(executionID string, node Node, status string, meta map[string]interface{}) {
	for _, l := range m.Listeners {
		l.OnNodeComplete(executionID, node, status, meta)
	}
}

func (m MultiListener) OnAgentStart(executionID, nodeID, agentID string) {
	for _, l := range m.Listeners {
		l.OnAgentStart(executionID, nodeID, agentID)
	}
}

func (m MultiListener) OnAgentComplete(executionID, nodeID, agentID string, meta map[string]interface{}) {
	for _, l := range m.Listeners {
		l.OnAgentComplete(executionID, nodeID, agentID, meta)
	}
}

func (m MultiListener) OnPlannerStart(executionID, nodeID, prompt string) {
	for _, l := range m.Listeners {
		l.OnPlannerStart(executionID, nodeID, prompt)
	}
}

func (m MultiListener) OnPlannerComplete(executionID, nodeID string, stepCount int) {
	for _, l := range m.Listeners {
		l.OnPlannerComplete(executionID, nodeID, stepCount)
	}
}

func (m MultiListener) OnCheckpoint(executionID string, nodeID string, status string) {
	for _, l := range m.Listeners {
		l.OnCheckpoint(executionID, nodeID, status)
	}
}

func (m MultiListener) OnPlanCreated(executionID, planID, nodeID string, stepCount int) {
	for _, l := range m.Listeners {
		l.OnPlanCreated(executionID, planID, nodeID, stepCount)
	}
}

func (m MultiListener) OnPlanStepStarted(executionID, planID string, stepIndex int, toolName string) {
	for _, l := range m.Listeners {
		l.OnPlanStepStarted(executionID, planID, stepIndex, toolName)
	}
}

func (m MultiListener) OnPlanStepCompleted(executionID, planID string, stepIndex int, status string) {
	for _, l := range m.Listeners {
		l.OnPlanStepCompleted(executionID, planID, stepIndex, status)
	}
}

func (m MultiListener) OnPlanRevised(executionID, planID string, reason string) {
	for _, l := range m.Listeners {
		l.OnPlanRevised(executionID, planID, reason)
	}
}

func (m MultiListener) OnPlanCompleted(executionID, planID string, status string) {
	for _, l := range m.Listeners {
		l.OnPlanCompleted(executionID, planID, status)
	}
}
