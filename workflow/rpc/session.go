// Package rpc implements the JSON-RPC split-pipe session manager
// (spec.md §4.10): one process-wide manager that pushes JSON-RPC requests
// and notifications to tenant-owned sidecars over a server-to-client
// stream, and correlates their inbound HTTP responses back to the
// goroutine awaiting them by requestId. Grounded on the teacher's own
// rpc-envelope shape (mirroring goadesign-goa-ai's mcp.Caller/rpcRequest)
// and on itsneelabh-gomind's per-client emitter/session registry pattern.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowmesh/orchestrator/workflow/metrics"
)

// DefaultTimeout is sendRequest's timeout when the caller passes zero
// (spec.md §4.10: "timeout = 60s").
const DefaultTimeout = 60 * time.Second

// DefaultEmitterQueueSize bounds each client's outbound push queue. A slow
// or disconnected client must never stall the orchestrator (spec.md §5), so
// the queue is small and drop-oldest on overflow.
const DefaultEmitterQueueSize = 64

// Frame is one JSON-RPC 2.0 envelope pushed to a client: a request (has
// Method and ID), a notification (has Method, no ID), or — symmetrically,
// though the session manager only ever emits the first two — a response
// the manager itself never produces but whose shape HandleResponse parses.
type Frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object, surfaced to callers as
// *JSONRPCError (spec.md §4.10: "presence of an error object ... surfaced
// as JsonRpcError").
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// JSONRPCError wraps a remote JSON-RPC error object as a Go error.
type JSONRPCError struct {
	Code    int
	Message string
}

func (e *JSONRPCError) Error() string { return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message) }

// TimeoutError reports a sendRequest that exceeded its deadline.
type TimeoutError struct{ Method string }

func (e *TimeoutError) Error() string { return "jsonrpc request timed out: " + e.Method }

// NotConnectedError reports sendRequest/sendNotification against a client
// with no live emitter.
type NotConnectedError struct{ ClientID string }

func (e *NotConnectedError) Error() string { return "client not connected: " + e.ClientID }

var errAbandoned = errors.New("pending request abandoned: session terminated")

// ClientInfo records one connected client's identity.
type ClientInfo struct {
	ClientID    string
	ConnectedAt time.Time
}

// emitter is the per-client push queue. push is non-blocking: when the
// queue is full the oldest frame is dropped to make room, so a slow
// consumer degrades (loses old pushes) rather than stalling senders
// (spec.md §5: "each emitter has a bounded queue ... drop-oldest").
type emitter struct {
	ch chan Frame
}

func newEmitter(size int) *emitter {
	return &emitter{ch: make(chan Frame, size)}
}

func (em *emitter) push(f Frame) {
	select {
	case em.ch <- f:
		return
	default:
	}
	select {
	case <-em.ch:
	default:
	}
	select {
	case em.ch <- f:
	default:
	}
}

// pendingRequest is the one-shot completion a sendRequest call awaits.
type pendingRequest struct {
	method   string
	clientID string
	done     chan struct{}
	result   map[string]interface{}
	err      error
	once     sync.Once
}

func (p *pendingRequest) complete(result map[string]interface{}, err error) {
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.done)
	})
}

// SessionManager is the process-wide split-pipe session manager (spec.md
// §4.10). Encapsulated behind an injected handle rather than a
// package-level singleton so multiple orchestrator instances can coexist
// in one binary (spec.md §7, "Global state").
type SessionManager struct {
	mu       sync.RWMutex
	emitters map[string]*emitter
	clients  map[string]ClientInfo
	pending  map[string]*pendingRequest

	queueSize      int
	defaultTimeout time.Duration
	metrics        *metrics.Collector
}

// Option configures a SessionManager.
type Option func(*SessionManager)

// WithQueueSize overrides DefaultEmitterQueueSize.
func WithQueueSize(n int) Option {
	return func(s *SessionManager) { s.queueSize = n }
}

// WithDefaultTimeout overrides DefaultTimeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(s *SessionManager) { s.defaultTimeout = d }
}

// WithMetrics wires JSON-RPC round-trip latency/timeout counters. A nil
// collector (the zero value) is valid and records nothing.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *SessionManager) { s.metrics = c }
}

// NewSessionManager constructs an empty SessionManager.
func NewSessionManager(opts ...Option) *SessionManager {
	s := &SessionManager{
		emitters:       make(map[string]*emitter),
		clients:        make(map[string]ClientInfo),
		pending:        make(map[string]*pendingRequest),
		queueSize:      DefaultEmitterQueueSize,
		defaultTimeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession registers clientID's emitter, pushes an initial ping
// notification, and returns the receive-only stream a transport adapter
// (SSE handler, long-poll handler, etc.) drains to push frames to the
// client. The session is torn down — emitter removed, client info purged,
// every pending request for clientID abandoned — either by an explicit
// Close(clientID) call or by ctx being canceled (spec.md §4.10:
// "installs a termination callback").
func (s *SessionManager) CreateSession(ctx context.Context, clientID string) <-chan Frame {
	em := newEmitter(s.queueSize)

	s.mu.Lock()
	s.emitters[clientID] = em
	s.clients[clientID] = ClientInfo{ClientID: clientID, ConnectedAt: time.Now()}
	s.mu.Unlock()

	em.push(Frame{JSONRPC: "2.0", Method: "ping"})

	go func() {
		<-ctx.Done()
		s.Close(clientID)
	}()

	return em.ch
}

// Close tears down clientID's session: removes its emitter, purges its
// ClientInfo, and abandons every pending request addressed to it: each one
// completes with errAbandoned.
func (s *SessionManager) Close(clientID string) {
	s.mu.Lock()
	delete(s.emitters, clientID)
	delete(s.clients, clientID)
	var abandoned []*pendingRequest
	for id, p := range s.pending {
		if p.clientID == clientID {
			abandoned = append(abandoned, p)
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()

	for _, p := range abandoned {
		p.complete(nil, errAbandoned)
	}
}

// SendRequest implements workflow.RPCSender: pushes a JSON-RPC request and
// blocks until a correlated response arrives, the timeout elapses, the
// session is closed, or ctx is canceled (spec.md §4.10 sendRequest). In
// every terminal path the pendingRequests entry is removed before
// returning (P7).
func (s *SessionManager) SendRequest(ctx context.Context, clientID, method string, params map[string]interface{}) (map[string]interface{}, error) {
	s.mu.RLock()
	em, ok := s.emitters[clientID]
	s.mu.RUnlock()
	if !ok {
		return nil, &NotConnectedError{ClientID: clientID}
	}

	requestID := uuid.NewString()
	p := &pendingRequest{method: method, clientID: clientID, done: make(chan struct{})}
	s.mu.Lock()
	s.pending[requestID] = p
	s.mu.Unlock()

	removePending := func() {
		s.mu.Lock()
		delete(s.pending, requestID)
		s.mu.Unlock()
	}

	raw, err := json.Marshal(params)
	if err != nil {
		removePending()
		return nil, err
	}
	em.push(Frame{JSONRPC: "2.0", ID: requestID, Method: method, Params: raw})

	timeout := s.defaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	start := time.Now()
	select {
	case <-p.done:
		removePending()
		status := "ok"
		if p.err != nil {
			status = "error"
		}
		s.metrics.RecordRPCLatency(method, status, time.Since(start))
		return p.result, p.err
	case <-timer.C:
		removePending()
		s.metrics.IncRPCTimeout(method)
		return nil, &TimeoutError{Method: method}
	case <-ctx.Done():
		removePending()
		return nil, ctx.Err()
	}
}

// SendNotification implements workflow.RPCSender: fire-and-forget, no
// response is awaited. A missing emitter is reported rather than silently
// dropped, matching NotConnected's use elsewhere in the taxonomy; callers
// that truly want "log and drop" semantics for a disconnected client can
// ignore the error (spec.md §4.10 explicitly only asks this of malformed
// handleResponse input, not of a dead client).
func (s *SessionManager) SendNotification(clientID, method string, params map[string]interface{}) error {
	s.mu.RLock()
	em, ok := s.emitters[clientID]
	s.mu.RUnlock()
	if !ok {
		return &NotConnectedError{ClientID: clientID}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	em.push(Frame{JSONRPC: "2.0", Method: method, Params: raw})
	return nil
}

// HandleResponse parses one inbound JSON-RPC response and completes the
// matching pending request. A missing or unmatched id is logged by the
// caller (the HTTP layer) and dropped (spec.md §4.10); HandleResponse
// itself just reports that condition via its bool return.
func (s *SessionManager) HandleResponse(raw []byte) (matched bool, err error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return false, err
	}
	if frame.ID == "" {
		return false, nil
	}

	s.mu.Lock()
	p, ok := s.pending[frame.ID]
	if ok {
		delete(s.pending, frame.ID)
	}
	s.mu.Unlock()
	if !ok {
		return false, nil
	}

	if frame.Error != nil {
		p.complete(nil, &JSONRPCError{Code: frame.Error.Code, Message: frame.Error.Message})
		return true, nil
	}

	result := map[string]interface{}{}
	if len(frame.Result) > 0 {
		if err := json.Unmarshal(frame.Result, &result); err != nil {
			p.complete(nil, err)
			return true, nil
		}
	}
	p.complete(result, nil)
	return true, nil
}

// ClientCount reports how many sessions are currently live.
func (s *SessionManager) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ToolExecutor adapts a SessionManager into workflow.ToolExecutor, routing
// plan-step tool calls to a tenant-owned sidecar over the split-pipe
// transport (spec.md §1: "routing tool invocations to tenant-owned
// external sidecars over JSON-RPC"). One ToolExecutor is scoped to a
// single ClientID; the plan engine never holds a SessionManager directly.
type ToolExecutor struct {
	Manager  *SessionManager
	ClientID string
}

// NewToolExecutor returns a ToolExecutor bound to clientID's session.
func NewToolExecutor(mgr *SessionManager, clientID string) *ToolExecutor {
	return &ToolExecutor{Manager: mgr, ClientID: clientID}
}

// Execute sends toolName/args as a JSON-RPC request and returns the
// sidecar's result map, satisfying workflow.ToolExecutor.
func (t *ToolExecutor) Execute(ctx context.Context, toolName string, args map[string]interface{}) (map[string]interface{}, error) {
	return t.Manager.SendRequest(ctx, t.ClientID, toolName, args)
}
