// Package outbound defines the outbound port interfaces for reaching the
// upstream fitness API. Adapters implement these against concrete REST
// backends; the tool engine only sees the interface.
package outbound

import (
	"context"

	"github.com/fitbridge/fitbridge/internal/domain/fitness"
)

// FitnessAPI is the outbound port for the upstream fitness service.
type FitnessAPI interface {
	// SearchExercises returns exercises whose names match the query term.
	SearchExercises(ctx context.Context, term string, limit int) ([]fitness.Exercise, error)

	// GetExercise returns full details for one exercise by id.
	GetExercise(ctx context.Context, id int) (*fitness.Exercise, error)

	// ListWorkouts returns the account's saved workout routines.
	ListWorkouts(ctx context.Context) ([]fitness.Workout, error)

	// LogWeight records a bodyweight measurement and returns the stored entry.
	LogWeight(ctx context.Context, date string, weight float64) (*fitness.WeightEntry, error)

	// ListWeightEntries returns weight measurements matching the filter,
	// newest first.
	ListWeightEntries(ctx context.Context, filter fitness.WeightFilter) ([]fitness.WeightEntry, error)

	// ListEquipment returns the equipment catalog.
	ListEquipment(ctx context.Context) ([]fitness.Equipment, error)
}
