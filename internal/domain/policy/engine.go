package policy

import "context"

// Engine evaluates tool calls against the configured rule set.
type Engine interface {
	// Evaluate runs the rules against the call context in order and returns
	// the first matching rule's decision, or allow when nothing matches.
	Evaluate(ctx context.Context, evalCtx EvaluationContext) (Decision, error)
}
