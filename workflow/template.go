package workflow

import (
	"encoding/json"
	"regexp"
	"strconv"
)

// TemplateResolver expands brace-wrapped placeholders in a prompt template
// against the live context (spec.md §6). Unresolved placeholders are left
// literal rather than erroring, so a node author's typo degrades gracefully
// instead of failing the whole execution.
type TemplateResolver interface {
	Resolve(template string, context map[string]interface{}) string
}

// placeholderRegex matches the "{var}" syntax spec.md §6 names as the
// recognized placeholder form.
var placeholderRegex = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// simpleTemplateResolver is the default TemplateResolver: brace-wrapped
// name substitution against map[string]interface{}, stringifying whatever
// value is found. No conditionals, loops, or nested lookups — those are a
// DSL concern out of scope per spec.md §1.
type simpleTemplateResolver struct{}

// NewTemplateResolver returns the default brace-placeholder resolver.
func NewTemplateResolver() TemplateResolver { return simpleTemplateResolver{} }

func (simpleTemplateResolver) Resolve(template string, context map[string]interface{}) string {
	return placeholderRegex.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		v, ok := context[name]
		if !ok {
			return match
		}
		return stringifyContextValue(v)
	})
}

func stringifyContextValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// promptOverrideKey is the reserved context key a Review Backtrack decision
// writes to override a node's own prompt text on re-entry (spec.md §4.3).
func promptOverrideKey(nodeID string) string { return "_prompt_override_" + nodeID }

// resolvePrompt honors a node's _prompt_override_<nodeId> context entry in
// preference to its own declared prompt, then expands placeholders via
// resolver (spec.md §4.3, §6). A nil resolver returns the raw (possibly
// overridden) template unexpanded, for callers that have not wired one.
func resolvePrompt(resolver TemplateResolver, nodeID, prompt string, context map[string]interface{}) string {
	if override, ok := context[promptOverrideKey(nodeID)]; ok {
		if s, ok := override.(string); ok && s != "" {
			prompt = s
		}
	}
	if resolver == nil {
		return prompt
	}
	return resolver.Resolve(prompt, context)
}
