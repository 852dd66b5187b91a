package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fitbridge/fitbridge/internal/domain/apperr"
	"github.com/fitbridge/fitbridge/internal/domain/fitness"
	"github.com/fitbridge/fitbridge/internal/domain/policy"
	"github.com/fitbridge/fitbridge/internal/port/outbound"
)

// fakeFitnessAPI implements outbound.FitnessAPI with canned data and
// per-method error injection.
type fakeFitnessAPI struct {
	exercises []fitness.Exercise
	workouts  []fitness.Workout
	entries   []fitness.WeightEntry
	equipment []fitness.Equipment

	searchErr error
	logErr    error

	mu         sync.Mutex
	logged     []fitness.WeightEntry
	lastTerm   string
	lastLimit  int
	lastFilter fitness.WeightFilter
}

func (f *fakeFitnessAPI) SearchExercises(_ context.Context, term string, limit int) ([]fitness.Exercise, error) {
	f.mu.Lock()
	f.lastTerm, f.lastLimit = term, limit
	f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.exercises, nil
}

func (f *fakeFitnessAPI) GetExercise(_ context.Context, id int) (*fitness.Exercise, error) {
	for i := range f.exercises {
		if f.exercises[i].ID == id {
			return &f.exercises[i], nil
		}
	}
	return nil, apperr.New(apperr.KindUpstream, "exercise %d not found", id)
}

func (f *fakeFitnessAPI) ListWorkouts(context.Context) ([]fitness.Workout, error) {
	return f.workouts, nil
}

func (f *fakeFitnessAPI) LogWeight(_ context.Context, date string, weight float64) (*fitness.WeightEntry, error) {
	if f.logErr != nil {
		return nil, f.logErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := fitness.WeightEntry{ID: len(f.logged) + 1, Date: date, Weight: weight}
	f.logged = append(f.logged, entry)
	return &entry, nil
}

func (f *fakeFitnessAPI) ListWeightEntries(_ context.Context, filter fitness.WeightFilter) ([]fitness.WeightEntry, error) {
	f.mu.Lock()
	f.lastFilter = filter
	f.mu.Unlock()
	return f.entries, nil
}

func (f *fakeFitnessAPI) ListEquipment(context.Context) ([]fitness.Equipment, error) {
	return f.equipment, nil
}

func (f *fakeFitnessAPI) loggedEntries() []fitness.WeightEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fitness.WeightEntry(nil), f.logged...)
}

var _ outbound.FitnessAPI = (*fakeFitnessAPI)(nil)

// failingFilter always errors, for fail-closed coverage.
type failingFilter struct{}

func (failingFilter) Evaluate(context.Context, policy.EvaluationContext) (policy.Decision, error) {
	return policy.Decision{}, errors.New("rule engine unavailable")
}

// connectTestClient binds a fresh engine server to an in-memory transport and
// returns a connected MCP client session.
func connectTestClient(t *testing.T, e *Engine, sessionID string) *mcp.ClientSession {
	t.Helper()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ss, err := e.Connect(t.Context(), sessionID, serverTransport)
	if err != nil {
		t.Fatalf("Engine.Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(t.Context(), clientTransport, nil)
	if err != nil {
		t.Fatalf("client Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func textContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want *mcp.TextContent", result.Content[0])
	}
	return tc.Text
}

func TestEngine_ListTools(t *testing.T) {
	e := NewEngine(&fakeFitnessAPI{}, nil, discardLogger())
	session := connectTestClient(t, e, "sess-1")

	res, err := session.ListTools(t.Context(), nil)
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}

	got := make(map[string]*mcp.Tool, len(res.Tools))
	for _, tool := range res.Tools {
		got[tool.Name] = tool
	}

	want := []string{
		"search_exercises", "get_exercise", "list_equipment",
		"list_workouts", "log_weight", "list_weight_entries",
	}
	for _, name := range want {
		if _, ok := got[name]; !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
	if len(got) != len(want) {
		t.Errorf("registered %d tools, want %d", len(got), len(want))
	}

	search := got["search_exercises"]
	if search == nil || search.Annotations == nil || !search.Annotations.ReadOnlyHint {
		t.Error("search_exercises should carry the read-only hint")
	}
	logWeight := got["log_weight"]
	if logWeight != nil && logWeight.Annotations != nil && logWeight.Annotations.ReadOnlyHint {
		t.Error("log_weight must not carry the read-only hint")
	}
}

func TestEngine_SearchExercises(t *testing.T) {
	api := &fakeFitnessAPI{exercises: []fitness.Exercise{
		{ID: 9, Name: "Squat", Category: "Legs", Muscles: []string{"Quads"}},
	}}
	e := NewEngine(api, nil, discardLogger())
	session := connectTestClient(t, e, "sess-1")

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{
		Name:      "search_exercises",
		Arguments: map[string]any{"term": "squat", "limit": 5},
	})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("IsError = true, content: %s", textContent(t, result))
	}

	var out searchExercisesOutput
	if err := json.Unmarshal([]byte(textContent(t, result)), &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Count != 1 || len(out.Exercises) != 1 {
		t.Fatalf("Count = %d, len = %d, want 1", out.Count, len(out.Exercises))
	}
	if out.Exercises[0].Name != "Squat" {
		t.Errorf("exercise name = %q, want Squat", out.Exercises[0].Name)
	}
	if api.lastTerm != "squat" || api.lastLimit != 5 {
		t.Errorf("backend saw term=%q limit=%d, want squat/5", api.lastTerm, api.lastLimit)
	}
}

func TestEngine_GetExerciseNotFound(t *testing.T) {
	e := NewEngine(&fakeFitnessAPI{}, nil, discardLogger())
	session := connectTestClient(t, e, "sess-1")

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{
		Name:      "get_exercise",
		Arguments: map[string]any{"id": 99},
	})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for unknown exercise")
	}
	if text := textContent(t, result); !strings.Contains(text, "not found") {
		t.Errorf("error text = %q, want mention of not found", text)
	}
}

func TestEngine_LogWeight(t *testing.T) {
	api := &fakeFitnessAPI{}
	e := NewEngine(api, nil, discardLogger())
	session := connectTestClient(t, e, "sess-1")

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{
		Name:      "log_weight",
		Arguments: map[string]any{"date": "2026-08-25", "weight": 82.5},
	})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("IsError = true, content: %s", textContent(t, result))
	}

	var out logWeightOutput
	if err := json.Unmarshal([]byte(textContent(t, result)), &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Entry.Date != "2026-08-25" || out.Entry.Weight != 82.5 {
		t.Errorf("entry = %+v, want 2026-08-25/82.5", out.Entry)
	}
	if out.Message == "" {
		t.Error("success message is empty")
	}

	logged := api.loggedEntries()
	if len(logged) != 1 || logged[0].Weight != 82.5 {
		t.Errorf("backend logged %+v, want one 82.5 entry", logged)
	}
}

func TestEngine_ListWeightEntriesFilter(t *testing.T) {
	api := &fakeFitnessAPI{entries: []fitness.WeightEntry{
		{ID: 2, Date: "2026-08-24", Weight: 82.1},
		{ID: 1, Date: "2026-08-20", Weight: 82.9},
	}}
	e := NewEngine(api, nil, discardLogger())
	session := connectTestClient(t, e, "sess-1")

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{
		Name: "list_weight_entries",
		Arguments: map[string]any{
			"date_from": "2026-08-01",
			"date_to":   "2026-08-25",
			"limit":     10,
		},
	})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("IsError = true, content: %s", textContent(t, result))
	}

	wantFilter := fitness.WeightFilter{DateFrom: "2026-08-01", DateTo: "2026-08-25", Limit: 10}
	if api.lastFilter != wantFilter {
		t.Errorf("backend filter = %+v, want %+v", api.lastFilter, wantFilter)
	}

	var out listWeightEntriesOutput
	if err := json.Unmarshal([]byte(textContent(t, result)), &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Count != 2 {
		t.Errorf("Count = %d, want 2", out.Count)
	}
}

func TestEngine_PolicyDeniesTool(t *testing.T) {
	filter := newPolicyService(t, []policy.Rule{
		{Name: "block-writes", Expression: `tool_name == "log_weight"`, Action: policy.ActionDeny},
	})
	api := &fakeFitnessAPI{}
	e := NewEngine(api, filter, discardLogger())
	session := connectTestClient(t, e, "sess-1")

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{
		Name:      "log_weight",
		Arguments: map[string]any{"date": "2026-08-25", "weight": 82.5},
	})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for denied tool")
	}
	if text := textContent(t, result); !strings.Contains(text, "block-writes") {
		t.Errorf("error text = %q, want the denying rule name", text)
	}
	if len(api.loggedEntries()) != 0 {
		t.Error("denied call must not reach the backend")
	}

	// Other tools pass through the filter untouched.
	ok, err := session.CallTool(t.Context(), &mcp.CallToolParams{Name: "list_workouts"})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if ok.IsError {
		t.Errorf("list_workouts should be allowed, got: %s", textContent(t, ok))
	}
}

func TestEngine_PolicyScopedToSession(t *testing.T) {
	filter := newPolicyService(t, []policy.Rule{
		{Name: "block-a", Expression: `session_id == "sess-a"`, Action: policy.ActionDeny},
	})
	e := NewEngine(&fakeFitnessAPI{}, filter, discardLogger())

	denied := connectTestClient(t, e, "sess-a")
	allowed := connectTestClient(t, e, "sess-b")

	resA, err := denied.CallTool(t.Context(), &mcp.CallToolParams{Name: "list_workouts"})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if !resA.IsError {
		t.Error("sess-a calls should be denied")
	}

	resB, err := allowed.CallTool(t.Context(), &mcp.CallToolParams{Name: "list_workouts"})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if resB.IsError {
		t.Errorf("sess-b calls should be allowed, got: %s", textContent(t, resB))
	}
}

func TestEngine_PolicyFailureRejectsCall(t *testing.T) {
	e := NewEngine(&fakeFitnessAPI{}, failingFilter{}, discardLogger())
	session := connectTestClient(t, e, "sess-1")

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{Name: "list_workouts"})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if !result.IsError {
		t.Fatal("evaluation failure must reject the call")
	}
	if text := textContent(t, result); !strings.Contains(text, "policy evaluation failed") {
		t.Errorf("error text = %q, want policy failure notice", text)
	}
}

func TestEngine_ProductionModeSanitizesErrors(t *testing.T) {
	api := &fakeFitnessAPI{
		searchErr: apperr.Wrap(apperr.KindUpstream, errors.New("dial tcp 10.0.0.5:443"), "fitness api request failed"),
	}
	e := NewEngine(api, nil, discardLogger(), WithProductionMode(true))
	session := connectTestClient(t, e, "sess-1")

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{
		Name:      "search_exercises",
		Arguments: map[string]any{"term": "squat"},
	})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
	text := textContent(t, result)
	if !strings.Contains(text, "upstream request failed") {
		t.Errorf("error text = %q, want the fixed upstream message", text)
	}
	if strings.Contains(text, "dial tcp") {
		t.Errorf("error text leaks transport detail: %q", text)
	}
}
