package workflow

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Vote is the normalized decision extracted from one branch's output
// (spec.md §4.7).
type Vote string

const (
	VoteApprove Vote = "APPROVE"
	VoteReject  Vote = "REJECT"
	VoteAbstain Vote = "ABSTAIN"
)

// BranchResult is one Parallel branch's outcome, ready for consensus
// evaluation. Metadata carries any rubric_passed/rubric_score/score fields
// an agent or the per-branch rubric evaluation populated (spec.md §4.7).
type BranchResult struct {
	BranchID string
	Output   map[string]interface{}
	Text     string // raw agent output text, used by the regex/keyword vote extractors
	Metadata map[string]interface{}
	Weight   float64
	Err      error
}

// ConsensusOutcome is the result of reducing a set of BranchResults to one
// decision. Reached mirrors "consensusReached" in spec.md §4.7, routing the
// node's onConsensus/onNoConsensus success/failure transitions.
type ConsensusOutcome struct {
	Reached   bool
	Decision  map[string]interface{}
	Agreement float64 // majority/unanimous: share of branches that approved (weights ignored); weighted: score·weight ratio compared with Threshold; judge: 1 if approved, else 0
	Winner    string  // winning branch ID, when applicable
}

var scoreRegex = regexp.MustCompile(`(?i)(score|rating)[":\s]*([0-9]+(?:\.[0-9]+)?)`)

const neutralScore = 50.0

// extractVote derives a (Vote, score) pair from one branch result using the
// priority chain in spec.md §4.7: rubric_passed metadata, numeric score
// metadata, a regex match on the output text, a keyword sniff, and finally
// a threshold-based fallback against the neutral default score.
func extractVote(br BranchResult, cfg *ConsensusConfig) (Vote, float64) {
	if passed, ok := br.Metadata["rubric_passed"].(bool); ok {
		score := neutralScore
		if s, ok := numeric(br.Metadata["rubric_score"]); ok {
			score = s
		}
		if passed {
			return VoteApprove, score
		}
		return VoteReject, score
	}

	score, haveScore := numeric(br.Metadata["score"])
	if !haveScore {
		if m := scoreRegex.FindStringSubmatch(br.Text); m != nil {
			if v, err := strconv.ParseFloat(m[2], 64); err == nil {
				score, haveScore = v, true
			}
		}
	}
	if !haveScore {
		lower := strings.ToLower(br.Text)
		switch {
		case containsAny(lower, "approve", "accept", "pass"):
			return VoteApprove, neutralScore
		case containsAny(lower, "reject", "deny", "fail"):
			return VoteReject, neutralScore
		case containsAny(lower, "abstain", "neutral"):
			return VoteAbstain, neutralScore
		}
		score = neutralScore
	}

	threshold := 70.0
	if cfg != nil && cfg.Threshold != nil {
		threshold = *cfg.Threshold
	}
	switch {
	case score >= threshold:
		return VoteApprove, score
	case score < threshold-20:
		return VoteReject, score
	default:
		return VoteAbstain, score
	}
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// weightOf defaults a zero Weight to 1.0, matching Branch.Weight's default.
func weightOf(br BranchResult) float64 {
	if br.Weight == 0 {
		return 1
	}
	return br.Weight
}

// evaluateConsensus reduces branch results per cfg.Strategy (spec.md §4.7).
// A nil judge is only valid when Strategy != StrategyJudgeDecides.
func evaluateConsensus(ctx context.Context, cfg *ConsensusConfig, results []BranchResult, judge Agent) (*ConsensusOutcome, error) {
	live := make([]BranchResult, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			live = append(live, r)
		}
	}
	if len(live) == 0 {
		return nil, &EngineError{Message: "no branch produced a usable result", Code: CodeNoValidTransition}
	}

	switch cfg.Strategy {
	case StrategyMajorityVote:
		return majorityVote(live, cfg)
	case StrategyUnanimous:
		return unanimousVote(live, cfg)
	case StrategyWeightedVote:
		return weightedVote(live, cfg)
	case StrategyJudgeDecides:
		return judgeDecides(ctx, live, judge)
	default:
		return nil, &EngineError{Message: "unknown consensus strategy: " + string(cfg.Strategy), Code: CodeNoValidTransition}
	}
}

// mergedOutputs builds the decision payload for an approving vote-counting
// strategy: the approving branches' outputs keyed by branch id, plus the
// winning (highest-score approving) branch's own output merged at the top
// level so callers can read fields without knowing the branch id.
func mergedOutputs(approving []BranchResult) (map[string]interface{}, string) {
	if len(approving) == 0 {
		return nil, ""
	}
	winner := approving[0]
	winnerScore := math.Inf(-1)
	for _, br := range approving {
		_, score := extractVote(br, nil)
		if score > winnerScore {
			winnerScore = score
			winner = br
		}
	}
	out := map[string]interface{}{}
	for k, v := range winner.Output {
		out[k] = v
	}
	branches := map[string]interface{}{}
	for _, br := range approving {
		branches[br.BranchID] = br.Output
	}
	out["_branch_outputs"] = branches
	return out, winner.BranchID
}

func majorityVote(results []BranchResult, cfg *ConsensusConfig) (*ConsensusOutcome, error) {
	threshold := 0.5
	if cfg.Threshold != nil {
		threshold = *cfg.Threshold
	}
	var approving []BranchResult
	var totalWeight float64
	for _, br := range results {
		vote, _ := extractVote(br, cfg)
		totalWeight += weightOf(br)
		if vote == VoteApprove {
			approving = append(approving, br)
		}
	}
	needed := int(math.Ceil(float64(len(results)) * threshold))
	reached := len(approving) >= needed
	decision, winner := mergedOutputs(approving)
	agreement := 0.0
	if len(results) > 0 {
		agreement = float64(len(approving)) / float64(len(results))
	}
	return &ConsensusOutcome{Reached: reached, Decision: decision, Agreement: agreement, Winner: winner}, nil
}

func unanimousVote(results []BranchResult, cfg *ConsensusConfig) (*ConsensusOutcome, error) {
	var approving []BranchResult
	for _, br := range results {
		vote, _ := extractVote(br, cfg)
		if vote == VoteApprove {
			approving = append(approving, br)
		}
	}
	reached := len(approving) == len(results)
	agreement := float64(len(approving)) / float64(len(results))
	if !reached {
		return &ConsensusOutcome{Reached: false, Agreement: agreement}, nil
	}
	decision, winner := mergedOutputs(approving)
	return &ConsensusOutcome{Reached: true, Decision: decision, Agreement: agreement, Winner: winner}, nil
}

func weightedVote(results []BranchResult, cfg *ConsensusConfig) (*ConsensusOutcome, error) {
	threshold := 0.5
	if cfg.Threshold != nil {
		threshold = *cfg.Threshold
	}
	var approving []BranchResult
	var numerator, denominator float64
	for _, br := range results {
		vote, score := extractVote(br, cfg)
		w := weightOf(br)
		switch vote {
		case VoteApprove:
			numerator += score * w
			denominator += w
			approving = append(approving, br)
		case VoteReject:
			denominator += w
		}
	}
	if denominator == 0 {
		return &ConsensusOutcome{Reached: false}, nil
	}
	ratio := numerator / denominator
	reached := ratio >= threshold
	decision, winner := mergedOutputs(approving)
	if !reached {
		decision, winner = nil, ""
	}
	return &ConsensusOutcome{Reached: reached, Decision: decision, Agreement: ratio, Winner: winner}, nil
}

// judgeDecides invokes judge with a prompt listing every branch's id, vote,
// score, and output, then parses its response for an approve/reject
// decision plus winning_branch/reasoning/final_output (spec.md §4.7).
func judgeDecides(ctx context.Context, results []BranchResult, judge Agent) (*ConsensusOutcome, error) {
	if judge == nil {
		return nil, &EngineError{Message: "JUDGE_DECIDES strategy requires a judge agent", Code: CodeNodeExecutorNotFound}
	}

	var b strings.Builder
	b.WriteString("Review the following parallel branch results and decide whether to approve, naming the winning branch:\n\n")
	for _, br := range results {
		vote, score := extractVote(br, nil)
		fmt.Fprintf(&b, "branch %s: vote=%s score=%.1f output=%v\n", br.BranchID, vote, score, br.Output)
	}

	resp, err := judge.Execute(ctx, b.String(), map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	if resp.Kind != AgentText {
		return nil, &EngineError{Message: "judge agent returned an unexpected response kind", Code: CodeOutputValidation}
	}

	lower := strings.ToLower(resp.Text)
	approved := strings.Contains(lower, `"approve"`) || (strings.Contains(lower, "approve") && !strings.Contains(lower, "reject"))
	winningBranch := extractJSONField(resp.Text, "winning_branch")
	reasoning := extractJSONField(resp.Text, "reasoning")
	finalOutput := extractJSONField(resp.Text, "final_output")

	if !approved {
		return &ConsensusOutcome{Reached: false, Agreement: 0}, nil
	}

	var winnerOutput map[string]interface{}
	for _, br := range results {
		if br.BranchID == winningBranch {
			winnerOutput = br.Output
			break
		}
	}
	decision := map[string]interface{}{"reasoning": reasoning}
	if finalOutput != "" {
		decision["final_output"] = finalOutput
	}
	for k, v := range winnerOutput {
		decision[k] = v
	}
	return &ConsensusOutcome{Reached: true, Decision: decision, Agreement: 1.0, Winner: winningBranch}, nil
}

var jsonFieldRegex = `(?i)"%s"\s*:\s*"([^"]*)"`

// extractJSONField pulls a "key": "value" pair out of a JSON-like body
// without requiring it to be a fully well-formed JSON document — judge
// agents often wrap their structured answer in prose (spec.md §4.7).
func extractJSONField(text, key string) string {
	re := regexp.MustCompile(fmt.Sprintf(jsonFieldRegex, regexp.QuoteMeta(key)))
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
