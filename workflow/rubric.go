package workflow

import (
	"context"
	"strings"

	"github.com/tidwall/sjson"
)

// RubricEvaluation is the scored outcome of running a node's output through
// its rubric (spec.md §3). Only ever set for the currently executing node
// (I6) — Engine.run clears it at the start of every node dispatch.
type RubricEvaluation struct {
	RubricID        string
	Score           int
	Passed          bool
	Feedback        string
	FailedCriteria  []string
	Suggestions     []string
}

// RubricEngine scores a node's output against its rubric definition.
// Implementations call out to an Agent acting as judge, or to a
// deterministic checker; the engine itself is opaque to this package.
type RubricEngine interface {
	Evaluate(ctx context.Context, rubricID string, output map[string]interface{}) (*RubricEvaluation, error)
}

// BacktrackSeverity classifies a rubric score into one of the four bands
// from spec.md §4.4. Bands are evaluated low-to-high and are exclusive.
type BacktrackSeverity string

const (
	SeverityCritical BacktrackSeverity = "CRITICAL" // score < 30
	SeverityModerate BacktrackSeverity = "MODERATE" // 30 <= score < 60
	SeverityMinor    BacktrackSeverity = "MINOR"    // 60 <= score < 80
	SeverityNone     BacktrackSeverity = "NONE"      // score >= 80
)

// classifySeverity maps a rubric score to its backtrack band. Thresholds
// are literal per spec.md §4.4 and are not configurable: changing them
// changes workflow semantics, not engine tuning.
func classifySeverity(score int) BacktrackSeverity {
	switch {
	case score < 30:
		return SeverityCritical
	case score < 60:
		return SeverityModerate
	case score < 80:
		return SeverityMinor
	default:
		return SeverityNone
	}
}

// backtrackPlan is the concrete action the auto-backtrack step takes for a
// given severity band.
type backtrackPlan struct {
	severity BacktrackSeverity
	target   string // "" means no backtrack (retry current node in place)
	reason   string
}

// planBacktrack decides where execution should jump given a rubric score,
// the workflow's startNode (CRITICAL fallback per spec.md §4.4), the
// earliest node in history tagged with a rubric (the primary CRITICAL
// restart target), and the previous phase boundary (for MODERATE jumps).
// Both targets are computed by the caller from WorkflowState.History since
// only the caller knows the workflow's phase structure. A MODERATE band
// with no previous-phase node found yields no auto-backtrack, per spec.
func planBacktrack(score int, startNode, earliestRubricNode, previousPhaseNode string) backtrackPlan {
	sev := classifySeverity(score)
	switch sev {
	case SeverityCritical:
		target := earliestRubricNode
		if target == "" {
			target = startNode
		}
		return backtrackPlan{severity: sev, target: target, reason: "rubric score below 30: restarting from earliest rubric checkpoint"}
	case SeverityModerate:
		if previousPhaseNode == "" {
			return backtrackPlan{severity: sev, target: "", reason: ""}
		}
		target := previousPhaseNode
		return backtrackPlan{severity: sev, target: target, reason: "rubric score 30-60: jumping to previous phase"}
	case SeverityMinor:
		return backtrackPlan{severity: sev, target: "", reason: "rubric score 60-80: retrying current node"}
	default:
		return backtrackPlan{severity: sev, target: "", reason: ""}
	}
}

// earliestRubricNodeIn scans history for the first ExecutionStep whose node
// carried a rubric, in execution order.
func earliestRubricNodeIn(history []HistoryEntry, hasRubric func(nodeID string) bool) string {
	for _, h := range history {
		if h.Step != nil && hasRubric(h.Step.NodeID) {
			return h.Step.NodeID
		}
	}
	return ""
}

// previousPhaseNodeIn scans history right-to-left for the most recent step
// whose node carries a rubric that differs from the current node's
// rubricId (spec.md §4.4 MODERATE band): the "previous phase" boundary.
// rubricOf looks up a node's rubricId by history NodeID, returning "" if
// that node carries none. currentRubricID is the current node's own
// rubricId, so a run of same-rubric steps (e.g. MINOR retries) is skipped.
func previousPhaseNodeIn(history []HistoryEntry, currentNode string, rubricOf func(nodeID string) string, currentRubricID string) string {
	for i := len(history) - 1; i >= 0; i-- {
		h := history[i]
		if h.Step == nil || h.Step.NodeID == currentNode {
			continue
		}
		if rid := rubricOf(h.Step.NodeID); rid != "" && rid != currentRubricID {
			return h.Step.NodeID
		}
	}
	return ""
}

// mergeBacktrackContext writes spec.md §4.4's "merge updates into context"
// step for a triggered (CRITICAL or MODERATE) auto-backtrack: backtrack_reason,
// either failed_criteria or improvement_suggestions depending on severity,
// and a recommendations blob combining any prior self-reported
// recommendations with the rubric's own suggestions. Built with sjson so a
// prior recommendations value (itself produced by an earlier backtrack, or
// self-reported by the node) is appended to rather than clobbered.
func mergeBacktrackContext(ctx map[string]interface{}, rubricEval *RubricEvaluation, sev BacktrackSeverity) {
	ctx["backtrack_reason"] = rubricEval.Feedback

	switch sev {
	case SeverityCritical:
		ctx["failed_criteria"] = strings.Join(rubricEval.FailedCriteria, "; ")
	case SeverityModerate:
		ctx["improvement_suggestions"] = strings.Join(rubricEval.Suggestions, "; ")
	}

	rec := "{}"
	if existing, ok := ctx["recommendations"].(string); ok && existing != "" {
		rec = existing
	}
	for _, s := range rubricEval.Suggestions {
		if updated, err := sjson.Set(rec, "suggestions.-1", s); err == nil {
			rec = updated
		}
	}
	ctx["recommendations"] = rec
}

// incrementRetryAttempt bumps context["retry_attempt"] for a MINOR-severity
// retry-in-place (spec.md §4.4), so a node's prompt/template can reference
// how many times it has been retried. Starts at 1 on the first retry.
func incrementRetryAttempt(ctx map[string]interface{}) {
	n := 0
	switch v := ctx["retry_attempt"].(type) {
	case int:
		n = v
	case float64:
		n = int(v)
	}
	ctx["retry_attempt"] = n + 1
}
