package assist

import "strings"

// GroundednessChecker decides whether a generated answer is substantiated by
// the supplied context. The phrase checker is a heuristic, kept behind this
// interface so it can be swapped for a confidence score without touching the
// pipeline.
type GroundednessChecker interface {
	IsGrounded(responseText string) bool
}

// phraseChecker flags an answer as ungrounded when it contains any of a
// fixed set of "no grounding" phrase signatures, case-insensitively.
type phraseChecker struct {
	signatures []string
}

func newPhraseChecker() *phraseChecker {
	return &phraseChecker{
		signatures: []string{
			"not found",
			"no information",
			"does not contain",
			"doesn't contain",
			"no relevant information",
			"cannot find",
			"can't find",
			"could not find",
			"not mentioned in",
			"no data available",
			"keine informationen",
			"nicht enthalten",
			"nicht gefunden",
		},
	}
}

func (p *phraseChecker) IsGrounded(responseText string) bool {
	trimmed := strings.TrimSpace(responseText)
	if trimmed == "" {
		return false
	}
	lower := strings.ToLower(trimmed)
	for _, signature := range p.signatures {
		if strings.Contains(lower, signature) {
			return false
		}
	}
	return true
}
