// Package rubric provides a concrete workflow.RubricEngine: a judge model
// scores a node's output against a named rubric definition and returns a
// structured workflow.RubricEvaluation.
package rubric

import (
	"context"
	"fmt"
	"strings"

	"github.com/flowmesh/orchestrator/workflow"
	"github.com/flowmesh/orchestrator/workflow/model"
	"github.com/tidwall/gjson"
)

// Criterion is one weighted dimension a rubric scores an output against.
type Criterion struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Weight      int    `yaml:"weight"`
}

// Definition is a named rubric: its criteria and the score at/above which a
// node's output passes (spec.md §3 calls this a node's rubricId target).
type Definition struct {
	ID            string      `yaml:"id"`
	Criteria      []Criterion `yaml:"criteria"`
	PassThreshold int         `yaml:"passThreshold"`
}

// JudgeEngine scores output by prompting a model.ChatModel acting as judge
// and parsing its structured response. One JudgeEngine holds every rubric
// Definition a workflow registers, keyed by ID.
type JudgeEngine struct {
	Judge       model.ChatModel
	Definitions map[string]Definition
}

// NewJudgeEngine builds a JudgeEngine from a slice of Definitions (typically
// loaded via LoadDefinitions).
func NewJudgeEngine(judge model.ChatModel, defs []Definition) *JudgeEngine {
	byID := make(map[string]Definition, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}
	return &JudgeEngine{Judge: judge, Definitions: byID}
}

// Evaluate implements workflow.RubricEngine. It builds a judge prompt from
// the rubric's criteria, asks the judge for a JSON verdict, and parses the
// result with gjson so a judge that wraps its JSON in prose or a markdown
// fence still yields a usable evaluation.
func (e *JudgeEngine) Evaluate(ctx context.Context, rubricID string, output map[string]interface{}) (*workflow.RubricEvaluation, error) {
	def, ok := e.Definitions[rubricID]
	if !ok {
		return nil, fmt.Errorf("rubric: no definition registered for %q", rubricID)
	}

	prompt := buildJudgePrompt(def, output)
	out, err := e.Judge.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: judgeSystemPrompt},
		{Role: model.RoleUser, Content: prompt},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("rubric: judge call failed: %w", err)
	}

	return parseVerdict(def, out.Text)
}

const judgeSystemPrompt = `You are a strict grading judge. Score the candidate output against the
given criteria on a 0-100 scale. Respond with a single JSON object only, no
prose, no markdown fences: {"score": <int>, "feedback": <string>,
"failed_criteria": [<string>...], "suggestions": [<string>...]}.`

func buildJudgePrompt(def Definition, output map[string]interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rubric %q, pass threshold %d.\n\nCriteria:\n", def.ID, def.PassThreshold)
	for _, c := range def.Criteria {
		fmt.Fprintf(&b, "- %s (weight %d): %s\n", c.Name, c.Weight, c.Description)
	}
	b.WriteString("\nCandidate output:\n")
	for k, v := range output {
		fmt.Fprintf(&b, "%s: %v\n", k, v)
	}
	return b.String()
}

// parseVerdict extracts score/feedback/failed_criteria/suggestions from the
// judge's raw text via gjson, tolerating leading/trailing prose around the
// JSON object. A missing or unparsable score is treated as 0 (CRITICAL),
// never as a pass — a judge that fails to answer must not default a node
// through.
func parseVerdict(def Definition, raw string) (*workflow.RubricEvaluation, error) {
	jsonText := extractJSONObject(raw)
	parsed := gjson.Parse(jsonText)

	score := 0
	if s := parsed.Get("score"); s.Exists() {
		score = int(s.Int())
	}

	var failed, suggestions []string
	parsed.Get("failed_criteria").ForEach(func(_, v gjson.Result) bool {
		failed = append(failed, v.String())
		return true
	})
	parsed.Get("suggestions").ForEach(func(_, v gjson.Result) bool {
		suggestions = append(suggestions, v.String())
		return true
	})

	threshold := def.PassThreshold
	if threshold == 0 {
		threshold = 80
	}

	return &workflow.RubricEvaluation{
		RubricID:       def.ID,
		Score:          score,
		Passed:         score >= threshold,
		Feedback:       parsed.Get("feedback").String(),
		FailedCriteria: failed,
		Suggestions:    suggestions,
	}, nil
}

// extractJSONObject returns the substring of raw spanning the first '{' to
// the last '}', or raw itself if no braces are found. Judges occasionally
// wrap their verdict in a sentence or a markdown fence despite instructions.
func extractJSONObject(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < 0 || end < start {
		return raw
	}
	return raw[start : end+1]
}
