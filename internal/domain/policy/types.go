// Package policy contains domain types for tool-call filtering.
package policy

import "time"

// Action is the effect of a matching rule.
type Action string

const (
	// ActionAllow permits the tool call to proceed.
	ActionAllow Action = "allow"
	// ActionDeny blocks the tool call.
	ActionDeny Action = "deny"
)

// Rule is a single tool-call filter rule. Rules are ordered; the first rule
// whose expression evaluates true decides the call.
type Rule struct {
	// Name identifies the rule in logs and deny messages.
	Name string
	// Expression is a CEL expression over tool_name, tool_args, session_id,
	// and request_time.
	Expression string
	// Action is applied when the expression evaluates true.
	Action Action
}

// Decision is the outcome of evaluating a tool call against the rule set.
type Decision struct {
	// Allowed is true if the tool call may proceed.
	Allowed bool
	// RuleName names the rule that produced this decision, empty when no
	// rule matched.
	RuleName string
	// Reason explains the decision.
	Reason string
}

// EvaluationContext carries the inputs a rule expression can see.
type EvaluationContext struct {
	// ToolName is the name of the tool being invoked.
	ToolName string
	// ToolArguments are the arguments passed to the tool.
	ToolArguments map[string]any
	// SessionID is the current session identifier.
	SessionID string
	// RequestTime is when the tool call was received.
	RequestTime time.Time
}
