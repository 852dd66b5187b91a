package service

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fitbridge/fitbridge/internal/domain/fitness"
)

// searchExercisesInput defines the input schema for the search_exercises tool.
type searchExercisesInput struct {
	Term  string `json:"term"`
	Limit int    `json:"limit,omitempty"`
}

// searchExercisesOutput is the success response.
type searchExercisesOutput struct {
	Count     int                `json:"count"`
	Exercises []fitness.Exercise `json:"exercises"`
}

// getExerciseInput defines the input schema for the get_exercise tool.
type getExerciseInput struct {
	ID int `json:"id"`
}

// listEquipmentInput is empty since this tool has no parameters.
type listEquipmentInput struct{}

// listEquipmentOutput is the success response.
type listEquipmentOutput struct {
	Count     int                 `json:"count"`
	Equipment []fitness.Equipment `json:"equipment"`
}

// registerExerciseTools registers the read-only exercise catalog tools.
func (e *Engine) registerExerciseTools(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name: "search_exercises",
		Description: "Search the exercise catalog by name. Returns matching exercises with their ids, " +
			"categories, and target muscles. Use get_exercise with a returned id for full details.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, e.handleSearchExercises)

	mcp.AddTool(srv, &mcp.Tool{
		Name: "get_exercise",
		Description: "Fetch one exercise by id, including its description, primary and secondary " +
			"muscles, and required equipment.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, e.handleGetExercise)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_equipment",
		Description: "List the equipment types exercises can reference, such as barbell or kettlebell.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, e.handleListEquipment)
}

// handleSearchExercises handles the search_exercises tool call.
func (e *Engine) handleSearchExercises(ctx context.Context, _ *mcp.CallToolRequest, input searchExercisesInput) (*mcp.CallToolResult, any, error) {
	return e.run(ctx, "search_exercises", func(ctx context.Context) (any, error) {
		exercises, err := e.fitness.SearchExercises(ctx, input.Term, input.Limit)
		if err != nil {
			return nil, err
		}
		return searchExercisesOutput{Count: len(exercises), Exercises: exercises}, nil
	})
}

// handleGetExercise handles the get_exercise tool call.
func (e *Engine) handleGetExercise(ctx context.Context, _ *mcp.CallToolRequest, input getExerciseInput) (*mcp.CallToolResult, any, error) {
	return e.run(ctx, "get_exercise", func(ctx context.Context) (any, error) {
		exercise, err := e.fitness.GetExercise(ctx, input.ID)
		if err != nil {
			return nil, err
		}
		return exercise, nil
	})
}

// handleListEquipment handles the list_equipment tool call.
func (e *Engine) handleListEquipment(ctx context.Context, _ *mcp.CallToolRequest, _ listEquipmentInput) (*mcp.CallToolResult, any, error) {
	return e.run(ctx, "list_equipment", func(ctx context.Context) (any, error) {
		equipment, err := e.fitness.ListEquipment(ctx)
		if err != nil {
			return nil, err
		}
		return listEquipmentOutput{Count: len(equipment), Equipment: equipment}, nil
	})
}
