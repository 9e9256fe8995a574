package workflow

// TransitionKind tags which variant of TransitionRule is populated.
type TransitionKind string

const (
	TransitionSuccess TransitionKind = "SUCCESS"
	TransitionFailure TransitionKind = "FAILURE"
	TransitionScore   TransitionKind = "SCORE"
)

// SuccessRule routes to Target when a node completes with NodeSuccess and,
// if Condition is set, the named context key is truthy (non-zero,
// non-empty, non-false).
type SuccessRule struct {
	Target    string
	Condition string
}

// FailureRule retries the failing node up to MaxRetries times before
// routing to Target (spec.md §4.5).
type FailureRule struct {
	Target     string
	MaxRetries int
}

// ScoreCondition is one operator/target pair within a ScoreRule; conditions
// are evaluated in declared order and the first match wins (spec.md §3,
// §4.5).
type ScoreCondition struct {
	Operator   ScoreOperator
	Value      int
	RangeMin   int // RANGE only, inclusive
	RangeMax   int // RANGE only, inclusive
	Target     string
}

// ScoreRule routes to a condition's Target based on a score value sourced
// per spec.md §4.5: the node's rubric evaluation first, then a fixed set
// of self-reported context keys.
type ScoreRule struct {
	Conditions []ScoreCondition
}

func (c ScoreCondition) matches(score int) bool {
	switch c.Operator {
	case ScoreGT:
		return score > c.Value
	case ScoreGTE:
		return score >= c.Value
	case ScoreLT:
		return score < c.Value
	case ScoreLTE:
		return score <= c.Value
	case ScoreRange:
		return score >= c.RangeMin && score <= c.RangeMax
	default:
		return false
	}
}

// selfReportedScoreKeys is the fallback order spec.md §4.5 names when no
// rubric evaluation is attached to the state: "score", "final_score",
// "quality_score", "evaluation_score".
var selfReportedScoreKeys = []string{"score", "final_score", "quality_score", "evaluation_score"}

// scoreSource resolves the score a Score transition rule evaluates against,
// per the priority order in spec.md §4.5: rubric evaluation first, then the
// first self-reported context key present. ok is false when neither source
// has a value, meaning Score rules on this node cannot fire.
func scoreSource(rubric *RubricEvaluation, ctx map[string]interface{}) (int, bool) {
	if rubric != nil {
		return rubric.Score, true
	}
	for _, key := range selfReportedScoreKeys {
		v, present := ctx[key]
		if !present {
			continue
		}
		switch n := v.(type) {
		case int:
			return n, true
		case float64:
			return int(n), true
		}
	}
	return 0, false
}

// TransitionRule is a tagged union over the three ways a node can route to
// its successor.
type TransitionRule struct {
	Kind    TransitionKind
	Success *SuccessRule
	Failure *FailureRule
	Score   *ScoreRule
}

func isTruthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case float64:
		return x != 0
	default:
		return true
	}
}

// scoreRuleMatches reports whether node carries a Score transition rule
// whose conditions match the current score source. Used to enforce P8:
// a matching Score rule takes precedence over rubric auto-backtrack, so
// the executor must suppress auto-backtrack when this returns true.
func scoreRuleMatches(node *Node, rubric *RubricEvaluation, ctx map[string]interface{}) bool {
	score, ok := scoreSource(rubric, ctx)
	if !ok {
		return false
	}
	for _, r := range transitionRulesOf(node) {
		if r.Kind != TransitionScore {
			continue
		}
		for _, cond := range r.Score.Conditions {
			if cond.matches(score) {
				return true
			}
		}
	}
	return false
}

// resolveTransition evaluates a node's TransitionRules in declared order,
// returning the first rule that yields a non-empty target (spec.md §4.5:
// "the rules are scanned in declared order and the first one to produce a
// non-null target wins"). Failure rules below MaxRetries signal a retry by
// returning the same node ID with retry=true. CodeNoValidTransition is
// returned when no rule matches, enforcing I4 (every reachable state has a
// defined transition).
func resolveTransition(node *Node, result *NodeResult, rubric *RubricEvaluation, state *WorkflowState) (next string, retry bool, err error) {
	rules := transitionRulesOf(node)
	score, haveScore := scoreSource(rubric, state.Context)

	for _, r := range rules {
		switch r.Kind {
		case TransitionSuccess:
			if result.Status != NodeSuccess {
				continue
			}
			if r.Success.Condition != "" && !isTruthy(state.Context[r.Success.Condition]) {
				continue
			}
			return r.Success.Target, false, nil

		case TransitionFailure:
			if result.Status != NodeFailure {
				continue
			}
			if node.Kind == KindStandard && node.Standard.retryAttempts < r.Failure.MaxRetries {
				node.Standard.retryAttempts++
				return node.ID, true, nil
			}
			return r.Failure.Target, false, nil

		case TransitionScore:
			if !haveScore {
				continue
			}
			for _, cond := range r.Score.Conditions {
				if cond.matches(score) {
					return cond.Target, false, nil
				}
			}
		}
	}

	return "", false, &EngineError{Message: "no matching transition for node " + node.ID, Code: CodeNoValidTransition, NodeID: node.ID}
}
