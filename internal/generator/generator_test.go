package generator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forest/internal/breaker"
	"forest/internal/intelligence"
	"forest/internal/types"
)

// mockClient returns canned responses in order, then repeats the last.
type mockClient struct {
	responses []string
	err       error
	calls     int
	lastReq   intelligence.Request
}

func (m *mockClient) Request(_ context.Context, req intelligence.Request) (string, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return "", m.err
	}
	idx := m.calls - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return m.responses[idx], nil
}

func (m *mockClient) Name() string { return "mock" }

func TestGenerateLevelValidResponse(t *testing.T) {
	client := &mockClient{responses: []string{`{
		"branches": [
			{"name": "Foundation", "description": "Basics", "priority": 1, "rationale": "start here", "domainFocus": "general"},
			{"name": "Practice", "description": "Reps", "priority": 2, "rationale": "build skill", "domainFocus": "general"},
			{"name": "Mastery", "description": "Depth", "priority": 3, "rationale": "go deep", "domainFocus": "general"}
		]
	}`}}
	g := New(client, nil, time.Second, 0)

	payload, err := g.GenerateLevel(context.Background(), LevelStrategicBranches,
		map[string]interface{}{"goal": "Learn woodworking"}, "You are a planner.")
	require.NoError(t, err)
	require.NotNil(t, payload)

	branches, err := DecodeBranches(payload)
	require.NoError(t, err)
	assert.Len(t, branches, 3)
	assert.Equal(t, "Foundation", branches[0].Name)
}

func TestGenerateLevelStripsMarkdownFences(t *testing.T) {
	client := &mockClient{responses: []string{
		"Here is the plan:\n```json\n{\"domainType\": \"culinary\", \"successCriteria\": [\"bake a loaf\", \"shape consistently\"], \"constraints\": []}\n```\nDone.",
	}}
	g := New(client, nil, time.Second, 0)

	payload, err := g.GenerateLevel(context.Background(), LevelGoalContext,
		map[string]interface{}{"goal": "Learn bread making"}, "")
	require.NoError(t, err)

	gc := DecodeGoalContext(payload, "Learn bread making", 6)
	assert.Equal(t, "culinary", gc.DomainType)
	assert.Equal(t, 6, gc.ComplexityScore)
	assert.Equal(t, "Learn bread making", gc.PrimaryGoal)
}

func TestGenerateLevelRejectsInvalidPayload(t *testing.T) {
	client := &mockClient{responses: []string{`{"branches": []}`}}
	g := New(client, nil, time.Second, 0)

	_, err := g.GenerateLevel(context.Background(), LevelStrategicBranches,
		map[string]interface{}{}, "")
	var verr *types.SchemaValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, LevelStrategicBranches, verr.Level)
}

func TestGenerateLevelRejectsNonJSON(t *testing.T) {
	client := &mockClient{responses: []string{"I cannot help with that."}}
	g := New(client, nil, time.Second, 0)

	_, err := g.GenerateLevel(context.Background(), LevelStrategicBranches,
		map[string]interface{}{}, "")
	var verr *types.SchemaValidationError
	require.ErrorAs(t, err, &verr)
}

func TestGenerateLevelUnknownLevel(t *testing.T) {
	g := New(&mockClient{}, nil, time.Second, 0)
	_, err := g.GenerateLevel(context.Background(), "bogus_level", nil, "")
	require.Error(t, err)
}

func TestGenerateLevelNilClient(t *testing.T) {
	g := New(nil, nil, time.Second, 0)
	assert.False(t, g.SchemaDriven())
	_, err := g.GenerateLevel(context.Background(), LevelGoalContext, nil, "")
	require.Error(t, err)
}

func TestGenerateLevelOpenBreakerFailsFast(t *testing.T) {
	client := &mockClient{err: fmt.Errorf("provider down")}
	b := breaker.New(2, time.Minute)
	g := New(client, b, time.Second, 0)

	for i := 0; i < 2; i++ {
		_, err := g.GenerateLevel(context.Background(), LevelGoalContext, nil, "")
		require.Error(t, err)
	}
	require.Equal(t, 2, client.calls)

	// Breaker is open now: the provider must not be touched again.
	_, err := g.GenerateLevel(context.Background(), LevelGoalContext, nil, "")
	var oerr *types.CircuitOpenError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, 2, client.calls)
}

func TestGenerateLevelCapsTokenBudget(t *testing.T) {
	valid := `{"domainType": "culinary", "successCriteria": ["bake a loaf", "shape consistently"]}`

	client := &mockClient{responses: []string{valid}}
	g := New(client, nil, time.Second, 100)
	_, err := g.GenerateLevel(context.Background(), LevelGoalContext, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 100, client.lastReq.MaxTokens, "configured cap wins over the level budget")

	client = &mockClient{responses: []string{valid}}
	g = New(client, nil, time.Second, 0)
	_, err = g.GenerateLevel(context.Background(), LevelGoalContext, nil, "")
	require.NoError(t, err)
	assert.Equal(t, Levels[LevelGoalContext].MaxTokens, client.lastReq.MaxTokens, "no cap leaves the level budget alone")
}

func TestDecodeBranchesSortsByPriority(t *testing.T) {
	payload := map[string]interface{}{
		"branches": []interface{}{
			map[string]interface{}{"name": "Third", "description": "d", "priority": float64(3), "rationale": "r", "domainFocus": "f"},
			map[string]interface{}{"name": "First", "description": "d", "priority": float64(1), "rationale": "r", "domainFocus": "f"},
			map[string]interface{}{"name": "Second", "description": "d", "priority": float64(2), "rationale": "r", "domainFocus": "f"},
		},
	}
	branches, err := DecodeBranches(payload)
	require.NoError(t, err)
	require.Len(t, branches, 3)
	assert.Equal(t, []string{"First", "Second", "Third"},
		[]string{branches[0].Name, branches[1].Name, branches[2].Name})
}

func TestDecodeTasks(t *testing.T) {
	payload := map[string]interface{}{
		"tasks": []interface{}{
			map[string]interface{}{"title": "Mix dough", "description": "Combine ingredients", "difficulty": float64(2), "duration": "20 minutes"},
			map[string]interface{}{"title": "Proof", "description": "Let it rise", "difficulty": float64(9), "duration": float64(90)},
		},
	}
	tasks, err := DecodeTasks(payload, "Technique Practice", 1, 1)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, "technique_practice_1", tasks[0].ID)
	assert.Equal(t, "technique_practice_2", tasks[1].ID)
	assert.Equal(t, 101, tasks[0].Priority)
	assert.Equal(t, 102, tasks[1].Priority)
	assert.Equal(t, 5, tasks[1].Difficulty, "difficulty clamps to 5")
	assert.Equal(t, "90 minutes", tasks[1].Duration)
	assert.True(t, tasks[0].SchemaDriven)
	assert.False(t, tasks[0].FallbackGenerated)
}

func TestDecodeTasksResolvesPrerequisites(t *testing.T) {
	payload := map[string]interface{}{
		"tasks": []interface{}{
			map[string]interface{}{"title": "Mix dough", "description": "Combine ingredients", "difficulty": float64(2), "duration": "20 minutes"},
			map[string]interface{}{
				"title": "Proof", "description": "Let it rise", "difficulty": float64(3), "duration": "90 minutes",
				// Title reference, local id and an invented id: the first
				// two resolve to the same task, the last must be dropped.
				"prerequisites": []interface{}{"Mix dough", "technique_practice_1", "advanced_kneading_9"},
			},
		},
	}
	tasks, err := DecodeTasks(payload, "Technique Practice", 1, 1)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Empty(t, tasks[0].Prerequisites)
	assert.Equal(t, []string{"technique_practice_1"}, tasks[1].Prerequisites,
		"prerequisites resolve to local ids, duplicates and unknowns dropped")
}

func TestDecodeTasksDropsSelfPrerequisite(t *testing.T) {
	payload := map[string]interface{}{
		"tasks": []interface{}{
			map[string]interface{}{
				"title": "Mix dough", "description": "Combine ingredients", "difficulty": float64(2), "duration": "20 minutes",
				"prerequisites": []interface{}{"Mix dough"},
			},
		},
	}
	tasks, err := DecodeTasks(payload, "Technique Practice", 1, 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Empty(t, tasks[0].Prerequisites)
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"surrounded by prose", "sure: {\"a\": 1} hope that helps", `{"a": 1}`},
		{"no json", "no structured content here", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractJSON(tc.in); got != tc.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestBuildPromptIncludesContext(t *testing.T) {
	prompt, err := buildPrompt(Levels[LevelTaskDecomposition], map[string]interface{}{
		"goal":   "Learn advanced bread making",
		"branch": "Technique Practice",
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "Learn advanced bread making")
	assert.Contains(t, prompt, "Technique Practice")
	assert.Contains(t, prompt, "single JSON object")
}
