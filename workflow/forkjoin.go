package workflow

import (
	"strings"
	"time"
)

// ForkContext is the in-flight state of one child execution spawned by a
// ForkNode, stashed on the parent WorkflowState's reserved context until a
// matching Join node awaits it (spec.md §4.8). Keys are reserved ("_"
// prefixed) so they never leak through PublicContext (I7).
type ForkContext struct {
	Target      string
	ChildExecID string
	Done        chan struct{}
	Result      *ExecutionResult
	StartedAt   time.Time
	CompletedAt time.Time
}

func forkContextKey(target string) string { return "_fork_" + target }

// stashForkContext records a spawned branch on state so a later Join can
// find it by target node ID.
func stashForkContext(state *WorkflowState, fc *ForkContext) {
	state.Context[forkContextKey(fc.Target)] = fc
}

// lookupForkContext retrieves a previously stashed ForkContext, or nil if
// none was spawned for that target (a JoinNode awaiting a target nothing
// forked is a configuration error, surfaced by the caller).
func lookupForkContext(state *WorkflowState, target string) *ForkContext {
	v, ok := state.Context[forkContextKey(target)]
	if !ok {
		return nil
	}
	fc, _ := v.(*ForkContext)
	return fc
}

// joinedResult pairs one awaited target's outcome with its completion time,
// so mergeForkResults can distinguish "declared order" (CONCATENATE,
// MERGE_MAPS, COLLECT_ALL — spec.md §4.8 says these preserve AwaitTargets
// order) from "actual arrival order" (FIRST_COMPLETED).
type joinedResult struct {
	Target      string
	Result      *ExecutionResult
	CompletedAt time.Time
}

// mergeForkResults combines the outcomes of the targets a Join awaits,
// according to its MergeStrategy. results must be supplied in the Join's
// declared AwaitTargets order; a map would give Go's randomized iteration
// order instead and silently break CONCATENATE/MERGE_MAPS determinism.
func mergeForkResults(strategy MergeStrategy, outputField string, results []joinedResult) map[string]interface{} {
	if outputField == "" {
		outputField = "fork_results"
	}
	switch strategy {
	case MergeFirstCompleted:
		if len(results) == 0 {
			return map[string]interface{}{outputField: nil}
		}
		first := results[0]
		for _, r := range results[1:] {
			if r.CompletedAt.Before(first.CompletedAt) {
				first = r
			}
		}
		return map[string]interface{}{outputField: first.Result.Context}
	case MergeConcatenate:
		var parts []string
		for _, r := range results {
			if text, ok := r.Result.Context["text"].(string); ok {
				parts = append(parts, text)
			}
		}
		return map[string]interface{}{outputField: strings.Join(parts, "\n\n---\n\n")}
	case MergeMaps:
		merged := map[string]interface{}{}
		for _, r := range results {
			for k, v := range r.Result.Context {
				merged[k] = v
			}
		}
		return merged
	case MergeCollectAll, MergeCustom:
		fallthrough
	default:
		byTarget := map[string]interface{}{}
		for _, r := range results {
			byTarget[r.Target] = r.Result.Context
		}
		return map[string]interface{}{outputField: byTarget}
	}
}
