package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"forest/internal/breaker"
	"forest/internal/intelligence"
	"forest/internal/logging"
	"forest/internal/types"
)

// Generator produces validated level content through the intelligence
// provider. Every call runs through the circuit breaker; structural
// validation happens before any content is handed back.
type Generator struct {
	client      intelligence.Client
	breaker     *breaker.Breaker
	callTimeout time.Duration
	maxTokens   int
}

// New creates a generator. client may be nil: SchemaDriven then reports
// false and every GenerateLevel call fails fast so callers fall back.
// maxTokens, when positive, caps every level's token budget.
func New(client intelligence.Client, b *breaker.Breaker, callTimeout time.Duration, maxTokens int) *Generator {
	if b == nil {
		b = breaker.New(0, 0)
	}
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Generator{
		client:      client,
		breaker:     b,
		callTimeout: callTimeout,
		maxTokens:   maxTokens,
	}
}

// SchemaDriven reports whether a provider is wired in. Callers branch on
// this flag instead of probing for methods at runtime.
func (g *Generator) SchemaDriven() bool {
	return g.client != nil
}

// GenerateLevel builds the prompt for a decomposition level, invokes the
// provider through the breaker, and returns the decoded payload after
// schema validation. inputData is the accumulated context: the goal
// context plus any prior learned adaptations for deeper levels.
func (g *Generator) GenerateLevel(ctx context.Context, levelKey string, inputData map[string]interface{}, systemMessage string) (map[string]interface{}, error) {
	schema, ok := Levels[levelKey]
	if !ok {
		return nil, fmt.Errorf("unknown decomposition level: %s", levelKey)
	}
	if g.client == nil {
		return nil, fmt.Errorf("no intelligence provider available for level %s", levelKey)
	}

	timer := logging.StartTimer(logging.CategoryGenerator, "GenerateLevel:"+levelKey)
	defer timer.Stop()

	prompt, err := buildPrompt(schema, inputData)
	if err != nil {
		return nil, err
	}

	maxTokens := schema.MaxTokens
	if g.maxTokens > 0 && maxTokens > g.maxTokens {
		maxTokens = g.maxTokens
	}

	raw, err := g.breaker.Execute(ctx, func(callCtx context.Context) (string, error) {
		return g.client.Request(callCtx, intelligence.Request{
			Prompt:      prompt,
			System:      systemMessage,
			MaxTokens:   maxTokens,
			Temperature: schema.Temperature,
		})
	}, g.callTimeout)
	if err != nil {
		logging.Get(logging.CategoryGenerator).Warn("level %s generation failed: %v", levelKey, err)
		return nil, err
	}

	extracted := ExtractJSON(raw)
	if extracted == "" {
		return nil, &types.SchemaValidationError{
			Level:      levelKey,
			Violations: []string{"no JSON object found in provider response"},
		}
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(extracted), &payload); err != nil {
		return nil, &types.SchemaValidationError{
			Level:      levelKey,
			Violations: []string{fmt.Sprintf("response is not valid JSON: %v", err)},
		}
	}

	if err := schema.Validate(payload); err != nil {
		logging.Get(logging.CategoryGenerator).Warn("level %s response rejected: %v", levelKey, err)
		return nil, err
	}

	logging.Generator("level %s generated and validated", levelKey)
	return payload, nil
}

func buildPrompt(schema LevelSchema, inputData map[string]interface{}) (string, error) {
	inputJSON, err := json.MarshalIndent(inputData, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode level input: %w", err)
	}

	return fmt.Sprintf(`%s

Input context:
%s

%s`, schema.Description, string(inputJSON), schema.schemaInstructions()), nil
}

// DecodeBranches converts a validated strategic_branches payload
// into typed branches, sorted by priority ascending.
func DecodeBranches(payload map[string]interface{}) ([]types.StrategicBranch, error) {
	raw, ok := payload["branches"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("payload has no branches array")
	}

	branches := make([]types.StrategicBranch, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("branches[%d] is not an object", i)
		}
		b := types.StrategicBranch{
			Name:        stringField(m, "name"),
			Description: stringField(m, "description"),
			Priority:    intField(m, "priority", i+1),
			DomainFocus: stringField(m, "domainFocus"),
			Rationale:   stringField(m, "rationale"),
		}
		if outcomes, ok := m["expectedOutcomes"].([]interface{}); ok {
			for _, o := range outcomes {
				if s, ok := o.(string); ok {
					b.ExpectedOutcomes = append(b.ExpectedOutcomes, s)
				}
			}
		}
		if b.Priority < 1 {
			b.Priority = i + 1
		}
		branches = append(branches, b)
	}
	sortBranches(branches)
	return branches, nil
}

// DecodeGoalContext converts a validated goal_context payload into the
// immutable goal framing.
func DecodeGoalContext(payload map[string]interface{}, goal string, complexityScore int) *types.GoalContext {
	gc := &types.GoalContext{
		PrimaryGoal:     goal,
		ComplexityScore: complexityScore,
		DomainType:      stringField(payload, "domainType"),
	}
	if criteria, ok := payload["successCriteria"].([]interface{}); ok {
		for _, c := range criteria {
			if s, ok := c.(string); ok {
				gc.SuccessCriteria = append(gc.SuccessCriteria, s)
			}
		}
	}
	if constraints, ok := payload["constraints"].([]interface{}); ok {
		for _, c := range constraints {
			if s, ok := c.(string); ok {
				gc.Constraints = append(gc.Constraints, s)
			}
		}
	}
	return gc
}

// DecodeTasks converts a validated task_decomposition payload into
// typed tasks for the given branch. IDs are derived from the branch name
// and a sequence starting at startSeq.
func DecodeTasks(payload map[string]interface{}, branch string, branchIndex, startSeq int) ([]*types.Task, error) {
	raw, ok := payload["tasks"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("payload has no tasks array")
	}

	tasks := make([]*types.Task, 0, len(raw))
	rawPrereqs := make([][]string, 0, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("tasks[%d] is not an object", i)
		}
		seq := startSeq + i
		task := &types.Task{
			ID:           TaskID(branch, seq),
			Title:        stringField(m, "title"),
			Description:  stringField(m, "description"),
			Difficulty:   clampDifficulty(intField(m, "difficulty", 3)),
			Duration:     durationField(m),
			Branch:       branch,
			Priority:     branchIndex*100 + seq,
			Completed:    false,
			Generated:    true,
			SchemaDriven: true,
		}
		var pre []string
		if items, ok := m["prerequisites"].([]interface{}); ok {
			for _, p := range items {
				if s, ok := p.(string); ok {
					pre = append(pre, s)
				}
			}
		}
		tasks = append(tasks, task)
		rawPrereqs = append(rawPrereqs, pre)
	}
	resolvePrerequisites(tasks, rawPrereqs)
	return tasks, nil
}

// resolvePrerequisites maps provider-supplied prerequisite strings onto
// the ids assigned in this decomposition. Ids are local, so providers
// usually reference earlier tasks by title; titles resolve too.
// Anything matching neither is dropped: a dangling prerequisite would
// block its task forever.
func resolvePrerequisites(tasks []*types.Task, rawPrereqs [][]string) {
	ids := make(map[string]bool, len(tasks))
	byTitle := make(map[string]string, len(tasks))
	for _, t := range tasks {
		ids[t.ID] = true
		byTitle[strings.ToLower(strings.TrimSpace(t.Title))] = t.ID
	}

	for i, t := range tasks {
		seen := map[string]bool{}
		for _, p := range rawPrereqs[i] {
			resolved := ""
			switch {
			case ids[p]:
				resolved = p
			default:
				resolved = byTitle[strings.ToLower(strings.TrimSpace(p))]
			}
			if resolved == "" || resolved == t.ID || seen[resolved] {
				if resolved == "" {
					logging.Get(logging.CategoryGenerator).Warn(
						"dropping unresolvable prerequisite %q on task %s", p, t.ID)
				}
				continue
			}
			seen[resolved] = true
			t.Prerequisites = append(t.Prerequisites, resolved)
		}
	}
}

func stringField(m map[string]interface{}, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func intField(m map[string]interface{}, key string, def int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}

// durationField accepts both numeric minutes and strings like "25 minutes".
func durationField(m map[string]interface{}) string {
	switch v := m["duration"].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%d minutes", int(v))
	}
	if v, ok := m["durationMinutes"].(float64); ok {
		return fmt.Sprintf("%d minutes", int(v))
	}
	return ""
}

func clampDifficulty(d int) int {
	if d < 1 {
		return 1
	}
	if d > 5 {
		return 5
	}
	return d
}

func sortBranches(branches []types.StrategicBranch) {
	// Insertion sort: branch lists are tiny and stability matters.
	for i := 1; i < len(branches); i++ {
		for j := i; j > 0 && branches[j].Priority < branches[j-1].Priority; j-- {
			branches[j], branches[j-1] = branches[j-1], branches[j]
		}
	}
}
