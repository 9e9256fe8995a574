package rubric

import (
	"context"
	"testing"

	"github.com/flowmesh/orchestrator/workflow/model"
)

func TestJudgeEngine_Evaluate(t *testing.T) {
	def := Definition{
		ID:            "draft-quality",
		PassThreshold: 75,
		Criteria: []Criterion{
			{Name: "clarity", Weight: 2, Description: "reads clearly"},
		},
	}

	t.Run("parses a clean JSON verdict", func(t *testing.T) {
		judge := &model.MockChatModel{Responses: []model.ChatOut{
			{Text: `{"score": 90, "feedback": "solid draft", "failed_criteria": [], "suggestions": []}`},
		}}
		e := NewJudgeEngine(judge, []Definition{def})

		eval, err := e.Evaluate(context.Background(), "draft-quality", map[string]interface{}{"text": "hello"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if eval.Score != 90 || !eval.Passed {
			t.Errorf("got score=%d passed=%v, want 90/true", eval.Score, eval.Passed)
		}
	})

	t.Run("parses a verdict wrapped in prose", func(t *testing.T) {
		judge := &model.MockChatModel{Responses: []model.ChatOut{
			{Text: "Here is my verdict:\n```json\n{\"score\": 40, \"feedback\": \"weak\", \"failed_criteria\": [\"clarity\"], \"suggestions\": [\"tighten the intro\"]}\n```"},
		}}
		e := NewJudgeEngine(judge, []Definition{def})

		eval, err := e.Evaluate(context.Background(), "draft-quality", map[string]interface{}{"text": "hello"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if eval.Score != 40 || eval.Passed {
			t.Errorf("got score=%d passed=%v, want 40/false", eval.Score, eval.Passed)
		}
		if len(eval.FailedCriteria) != 1 || eval.FailedCriteria[0] != "clarity" {
			t.Errorf("got failed_criteria=%v", eval.FailedCriteria)
		}
		if len(eval.Suggestions) != 1 {
			t.Errorf("got suggestions=%v", eval.Suggestions)
		}
	})

	t.Run("missing score treated as failing, never as a pass", func(t *testing.T) {
		judge := &model.MockChatModel{Responses: []model.ChatOut{
			{Text: "I refuse to grade this."},
		}}
		e := NewJudgeEngine(judge, []Definition{def})

		eval, err := e.Evaluate(context.Background(), "draft-quality", map[string]interface{}{"text": "hello"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if eval.Score != 0 || eval.Passed {
			t.Errorf("got score=%d passed=%v, want 0/false", eval.Score, eval.Passed)
		}
	})

	t.Run("unknown rubric id errors", func(t *testing.T) {
		e := NewJudgeEngine(&model.MockChatModel{}, []Definition{def})
		if _, err := e.Evaluate(context.Background(), "nope", nil); err == nil {
			t.Fatal("expected error for unregistered rubric id")
		}
	})
}

func TestParseDefinitions(t *testing.T) {
	t.Run("parses a valid rubric file", func(t *testing.T) {
		data := []byte(`
rubrics:
  - id: draft-quality
    passThreshold: 75
    criteria:
      - name: clarity
        weight: 2
        description: reads clearly
`)
		defs, err := ParseDefinitions(data)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(defs) != 1 || defs[0].ID != "draft-quality" {
			t.Fatalf("got %+v", defs)
		}
	})

	t.Run("rejects a definition with no criteria", func(t *testing.T) {
		data := []byte(`
rubrics:
  - id: empty
    passThreshold: 50
`)
		if _, err := ParseDefinitions(data); err == nil {
			t.Fatal("expected error for rubric with no criteria")
		}
	})

	t.Run("rejects a definition with no id", func(t *testing.T) {
		data := []byte(`
rubrics:
  - passThreshold: 50
    criteria:
      - name: x
        weight: 1
        description: y
`)
		if _, err := ParseDefinitions(data); err == nil {
			t.Fatal("expected error for rubric with no id")
		}
	})
}
