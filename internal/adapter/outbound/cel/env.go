package cel

import (
	"path/filepath"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/fitbridge/fitbridge/internal/domain/policy"
)

// NewRuleEnvironment creates a CEL environment for tool filter rules.
// Rules see four variables:
//   - tool_name: name of the tool being invoked
//   - tool_args: call arguments as a string-keyed map
//   - session_id: transport session issuing the call
//   - request_time: server-side receive time
//
// Two helper functions are available: glob(pattern, value) for wildcard
// matching and tool_arg(tool_args, key) to read one argument without a
// presence check.
func NewRuleEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("tool_name", cel.StringType),
		cel.Variable("tool_args", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("session_id", cel.StringType),
		cel.Variable("request_time", cel.TimestampType),

		// glob: wildcard matching, e.g. glob("log_*", tool_name)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// tool_arg: extract one argument by key, null when absent.
		// Usage: tool_arg(tool_args, "term")
		cel.Function("tool_arg",
			cel.Overload("tool_arg_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(func(mapVal, keyVal ref.Val) ref.Val {
					key := keyVal.Value().(string)
					if m, ok := mapVal.Value().(map[ref.Val]ref.Val); ok {
						if v, found := m[types.String(key)]; found {
							return v
						}
						return types.NullValue
					}
					if goMap, ok := mapVal.Value().(map[string]any); ok {
						if v, found := goMap[key]; found {
							return types.DefaultTypeAdapter.NativeToValue(v)
						}
					}
					return types.NullValue
				}),
			),
		),
	)
}

// BuildActivation creates the CEL variable bindings for one evaluation.
// A nil argument map is replaced with an empty one so rules that index
// tool_args never see a null map.
func BuildActivation(evalCtx policy.EvaluationContext) map[string]any {
	args := evalCtx.ToolArguments
	if args == nil {
		args = map[string]any{}
	}
	return map[string]any{
		"tool_name":    evalCtx.ToolName,
		"tool_args":    args,
		"session_id":   evalCtx.SessionID,
		"request_time": evalCtx.RequestTime,
	}
}
