package service

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fitbridge/fitbridge/internal/domain/fitness"
)

// listWorkoutsInput is empty since this tool has no parameters.
type listWorkoutsInput struct{}

// listWorkoutsOutput is the success response.
type listWorkoutsOutput struct {
	Count    int               `json:"count"`
	Workouts []fitness.Workout `json:"workouts"`
}

// logWeightInput defines the input schema for the log_weight tool.
type logWeightInput struct {
	Date   string  `json:"date"`
	Weight float64 `json:"weight"`
}

// logWeightOutput is the success response.
type logWeightOutput struct {
	Entry   fitness.WeightEntry `json:"entry"`
	Message string              `json:"message"`
}

// listWeightEntriesInput defines the input schema for the list_weight_entries tool.
type listWeightEntriesInput struct {
	DateFrom string `json:"date_from,omitempty"`
	DateTo   string `json:"date_to,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// listWeightEntriesOutput is the success response.
type listWeightEntriesOutput struct {
	Count   int                   `json:"count"`
	Entries []fitness.WeightEntry `json:"entries"`
}

// registerTrackingTools registers the workout and body weight tools.
func (e *Engine) registerTrackingTools(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_workouts",
		Description: "List the user's workout routines with their ids, names, and creation dates.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, e.handleListWorkouts)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "log_weight",
		Description: "Record a body weight measurement in kilograms for a given date (YYYY-MM-DD). " +
			"Creates a new entry in the user's weight journal.",
	}, e.handleLogWeight)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "list_weight_entries",
		Description: "List recorded body weight entries, newest first. Optional date_from and date_to " +
			"bound the range (YYYY-MM-DD); limit caps the number of returned entries.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, e.handleListWeightEntries)
}

// handleListWorkouts handles the list_workouts tool call.
func (e *Engine) handleListWorkouts(ctx context.Context, _ *mcp.CallToolRequest, _ listWorkoutsInput) (*mcp.CallToolResult, any, error) {
	return e.run(ctx, "list_workouts", func(ctx context.Context) (any, error) {
		workouts, err := e.fitness.ListWorkouts(ctx)
		if err != nil {
			return nil, err
		}
		return listWorkoutsOutput{Count: len(workouts), Workouts: workouts}, nil
	})
}

// handleLogWeight handles the log_weight tool call.
func (e *Engine) handleLogWeight(ctx context.Context, _ *mcp.CallToolRequest, input logWeightInput) (*mcp.CallToolResult, any, error) {
	return e.run(ctx, "log_weight", func(ctx context.Context) (any, error) {
		entry, err := e.fitness.LogWeight(ctx, input.Date, input.Weight)
		if err != nil {
			return nil, err
		}
		return logWeightOutput{Entry: *entry, Message: "weight entry recorded"}, nil
	})
}

// handleListWeightEntries handles the list_weight_entries tool call.
func (e *Engine) handleListWeightEntries(ctx context.Context, _ *mcp.CallToolRequest, input listWeightEntriesInput) (*mcp.CallToolResult, any, error) {
	return e.run(ctx, "list_weight_entries", func(ctx context.Context) (any, error) {
		entries, err := e.fitness.ListWeightEntries(ctx, fitness.WeightFilter{
			DateFrom: input.DateFrom,
			DateTo:   input.DateTo,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, err
		}
		return listWeightEntriesOutput{Count: len(entries), Entries: entries}, nil
	})
}
