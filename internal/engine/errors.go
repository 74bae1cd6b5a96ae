package engine

import "errors"

// Domain-specific errors for engine operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrRuleNotFound is returned when suspend/resume targets an unknown rule.
	ErrRuleNotFound = errors.New("engine: rule not found")

	// ErrEvaluation is returned when a condition or action references a
	// missing entity or produces an invalid comparison. Always handled
	// at the rule boundary: the rule returns to idle, other rules are
	// unaffected.
	ErrEvaluation = errors.New("engine: rule evaluation failed")
)
