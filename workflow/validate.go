package workflow

import (
	"unicode"

	"golang.org/x/text/unicode/bidi"
)

// DefaultMaxOutputBytes bounds agent/LLM output before it is written into
// WorkflowState.Context (spec.md §9: "Reject ... on payloads exceeding a
// configurable byte limit (default 1 MiB)").
const DefaultMaxOutputBytes = 1 << 20

// allowedControlRunes is the exact set of control characters spec.md §9
// permits through unvalidated: tab, newline, carriage return. Every other
// rune in the C0/C1 control ranges is rejected.
var allowedControlRunes = map[rune]bool{'\t': true, '\n': true, '\r': true}

// validateOutput implements the output validator named in spec.md §9: LLM
// text must not be written to context unvalidated. It rejects forbidden
// control characters, Unicode bidi/direction-override codepoints (a
// prompt-injection / spoofing vector when later rendered), and payloads
// over maxBytes. A zero maxBytes falls back to DefaultMaxOutputBytes.
func validateOutput(text string, maxBytes int) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxOutputBytes
	}
	if len(text) > maxBytes {
		return &EngineError{Message: "output exceeds maximum byte limit", Code: CodeOutputValidation}
	}
	for _, r := range text {
		if unicode.IsControl(r) && !allowedControlRunes[r] {
			return &EngineError{Message: "output contains a forbidden control character", Code: CodeOutputValidation}
		}
		if isBidiOverride(r) {
			return &EngineError{Message: "output contains a Unicode bidi/direction-override codepoint", Code: CodeOutputValidation}
		}
	}
	return nil
}

// isBidiOverride reports whether r is one of the explicit directional
// formatting characters the Unicode bidi algorithm treats as an override
// or isolate-with-override risk (LRE/RLE/LRO/RLO/PDF and LRI/RLI/FSI/PDI),
// using golang.org/x/text/unicode/bidi's class table rather than a
// hand-maintained codepoint list.
func isBidiOverride(r rune) bool {
	props, _ := bidi.LookupRune(r)
	switch props.Class() {
	case bidi.LRO, bidi.RLO, bidi.LRE, bidi.RLE, bidi.PDF, bidi.LRI, bidi.RLI, bidi.FSI, bidi.PDI:
		return true
	default:
		return false
	}
}
