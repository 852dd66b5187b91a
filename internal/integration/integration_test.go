// Package integration provides end-to-end tests that verify the bridge
// across multiple components working together: upstream client, tool
// engine, filter, session registry, and the transports.
package integration

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

// testLogger returns a logger that writes to stderr at error level (quiet tests).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newFakeFitnessUpstream serves the wger API subset the bridge calls:
// exercise search, exercise detail, workouts, weight journal, equipment.
func newFakeFitnessUpstream(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == "/api/v2/exercise/search/":
			if r.URL.Query().Get("term") == "" {
				http.Error(w, `{"detail":"term required"}`, http.StatusBadRequest)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"suggestions": []map[string]any{
					{
						"value": "Barbell Bench Press",
						"data": map[string]any{
							"id": 7, "base_id": 73,
							"name": "Barbell Bench Press", "category": "Chest",
						},
					},
					{
						"value": "Incline Bench Press",
						"data": map[string]any{
							"id": 8, "base_id": 74,
							"name": "Incline Bench Press", "category": "Chest",
						},
					},
				},
			})

		case r.URL.Path == "/api/v2/exerciseinfo/73/":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":       73,
				"category": map[string]any{"id": 11, "name": "Chest"},
				"muscles": []map[string]any{
					{"id": 4, "name": "Pectoralis major", "name_en": "Chest"},
				},
				"muscles_secondary": []map[string]any{},
				"equipment": []map[string]any{
					{"id": 1, "name": "Barbell"},
				},
				"translations": []map[string]any{
					{"id": 101, "name": "Barbell Bench Press", "description": "<p>Lie on a flat bench.</p>", "language": 2},
				},
			})

		case r.URL.Path == "/api/v2/workout/":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"count": 1,
				"results": []map[string]any{
					{"id": 3, "name": "Push Day", "description": "Chest and triceps", "creation_date": "2025-02-01"},
				},
			})

		case r.URL.Path == "/api/v2/weightentry/" && r.Method == http.MethodPost:
			var payload struct {
				Date   string  `json:"date"`
				Weight float64 `json:"weight"`
			}
			_ = json.NewDecoder(r.Body).Decode(&payload)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": 42, "date": payload.Date, "weight": "81.40",
			})

		case r.URL.Path == "/api/v2/weightentry/":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"count": 1,
				"results": []map[string]any{
					{"id": 42, "date": "2025-03-01", "weight": "81.40"},
				},
			})

		case r.URL.Path == "/api/v2/equipment/":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"count": 2,
				"results": []map[string]any{
					{"id": 1, "name": "Barbell"},
					{"id": 8, "name": "Kettlebell"},
				},
			})

		default:
			http.Error(w, `{"detail":"not found"}`, http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// toolResultText extracts the text content of a tools/call response message.
func toolResultText(t *testing.T, raw []byte) (text string, isError bool) {
	t.Helper()

	var resp struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("tool response is not JSON: %v\n%s", err, raw)
	}

	var b strings.Builder
	for _, c := range resp.Result.Content {
		b.WriteString(c.Text)
	}
	return b.String(), resp.Result.IsError
}
