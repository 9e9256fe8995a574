package workflow

import (
	"context"
	"log"
)

// Service wraps an Engine with asynchronous execution acceptance: callers
// submit a start/resume request and get an executionID back immediately,
// with the actual run happening on a worker goroutine and its result
// published to Completions (spec.md §2, component "Execution Service").
type Service struct {
	engine      *Engine
	lease       *LeaseManager
	Completions chan ExecutionResult
}

// NewService wraps engine, optionally wiring a LeaseManager so every
// accepted execution is tracked for heartbeating.
func NewService(engine *Engine, lease *LeaseManager) *Service {
	return &Service{engine: engine, lease: lease, Completions: make(chan ExecutionResult, 256)}
}

// SubmitStart accepts a new execution request and runs it on a fresh
// goroutine, returning control to the caller immediately.
func (s *Service) SubmitStart(ctx context.Context, tenantID, workflowID string, initialContext map[string]interface{}) {
	go func() {
		result, err := s.engine.Start(ctx, tenantID, workflowID, initialContext)
		s.publish(result, err)
	}()
}

// SubmitResume accepts a resume request for a paused execution.
func (s *Service) SubmitResume(ctx context.Context, tenantID, executionID string, resumeInput map[string]interface{}) {
	go func() {
		result, err := s.engine.Resume(ctx, tenantID, executionID, resumeInput)
		s.publish(result, err)
	}()
}

func (s *Service) publish(result *ExecutionResult, err error) {
	if err != nil {
		log.Printf("workflow: execution failed: %v", err)
		return
	}
	if result == nil {
		return
	}
	if s.lease != nil && result.Kind != ResultCompleted && result.Kind != ResultRejected && result.Kind != ResultFailure {
		s.lease.Track(result.ExecutionID)
	}
	select {
	case s.Completions <- *result:
	default:
		log.Printf("workflow: completions channel full, dropping result for %s", result.ExecutionID)
	}
}
