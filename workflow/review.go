package workflow

import "context"

// ReviewDecisionKind tags which variant of ReviewDecision is populated.
type ReviewDecisionKind string

const (
	ReviewApprove   ReviewDecisionKind = "APPROVE"
	ReviewBacktrack ReviewDecisionKind = "BACKTRACK"
	ReviewReject    ReviewDecisionKind = "REJECT"
)

// ReviewDecision is the outcome of a human (or automated) review gate on a
// Standard node in REQUIRED or OPTIONAL review mode (spec.md §4.3).
type ReviewDecision struct {
	Kind ReviewDecisionKind

	BacktrackTo string // ReviewBacktrack only
	Reason      string
	EditedOutput map[string]interface{} // non-nil when the reviewer edited the output in place
}

// ReviewHandler gates a Standard node's output before it is allowed to
// transition. Implementations typically pause the execution (returning
// NodePending) and resume it once a human responds over JSON-RPC.
type ReviewHandler interface {
	Review(ctx context.Context, executionID, nodeID string, output map[string]interface{}) (*ReviewDecision, error)
}

// applyReview runs a Standard node's ReviewConfig against its result,
// returning a possibly-edited output and the decision taken. ReviewDisabled
// always approves without calling handler. AllowBacktrack/AllowEdit gate
// which ReviewDecisionKind values are honored; a disallowed decision is
// treated as CodeOutputValidation.
func applyReview(ctx context.Context, cfg *ReviewConfig, handler ReviewHandler, executionID, nodeID string, output map[string]interface{}) (map[string]interface{}, *ReviewDecision, error) {
	if cfg == nil || cfg.Mode == ReviewDisabled || handler == nil {
		return output, &ReviewDecision{Kind: ReviewApprove}, nil
	}

	decision, err := handler.Review(ctx, executionID, nodeID, output)
	if err != nil {
		return output, nil, err
	}

	switch decision.Kind {
	case ReviewApprove:
		if decision.EditedOutput != nil {
			if !cfg.AllowEdit {
				return output, nil, &EngineError{Message: "review attempted edit but node does not allow it", Code: CodeOutputValidation, NodeID: nodeID}
			}
			return decision.EditedOutput, decision, nil
		}
		return output, decision, nil
	case ReviewBacktrack:
		if !cfg.AllowBacktrack {
			return output, nil, &EngineError{Message: "review attempted backtrack but node does not allow it", Code: CodeOutputValidation, NodeID: nodeID}
		}
		return output, decision, nil
	case ReviewReject:
		return output, decision, nil
	default:
		return output, nil, &EngineError{Message: "unknown review decision", Code: CodeOutputValidation, NodeID: nodeID}
	}
}
