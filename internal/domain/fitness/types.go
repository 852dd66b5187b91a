// Package fitness defines the domain types served by the fitness tools.
//
// The types mirror the wger REST API (https://wger.de/api/v2/) closely
// enough that adapters can map responses without information loss, but they
// are transport-neutral: dates are plain YYYY-MM-DD strings as the upstream
// stores them, and nothing here knows about HTTP or JSON-RPC.
package fitness

// Exercise is a single exercise with its translated name and description.
type Exercise struct {
	ID          int      `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Muscles     []string `json:"muscles,omitempty"`
	Equipment   []string `json:"equipment,omitempty"`
}

// Workout is a saved workout routine belonging to the configured account.
type Workout struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// WeightEntry is one bodyweight measurement on a given day.
type WeightEntry struct {
	ID     int     `json:"id"`
	Date   string  `json:"date"`
	Weight float64 `json:"weight"`
}

// Equipment is a piece of training equipment exercises can require.
type Equipment struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// WeightFilter narrows a weight history listing. Zero values mean no bound.
type WeightFilter struct {
	// DateFrom and DateTo are inclusive YYYY-MM-DD bounds.
	DateFrom string
	DateTo   string

	// Limit caps the number of entries returned. Zero means server default.
	Limit int
}
