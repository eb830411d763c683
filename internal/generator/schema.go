// Package generator turns a goal into tree content through a chain of
// increasingly granular generation calls. Each decomposition level has a
// structural schema; provider output that fails its schema is rejected
// with a typed error, never coerced. A deterministic fallback chain
// covers every level when the provider is absent or failing.
package generator

import (
	"fmt"
	"strings"

	"forest/internal/types"
)

// Level keys, from coarsest to finest decomposition.
const (
	LevelGoalContext       = "goal_context"
	LevelStrategicBranches = "strategic_branches"
	LevelTaskDecomposition = "task_decomposition"
	LevelMicroParticles    = "micro_particles"
	LevelNanoActions       = "nano_actions"
	LevelPrimitives        = "context_adaptive_primitives"
)

// LevelSchema describes the structural contract for one decomposition
// level: required top-level fields, the main collection with its size
// bounds, and per-item required fields. Token limits and temperature are
// tuned per level: strategic and primitive levels run cold for
// consistency, exploratory middle levels run warmer.
type LevelSchema struct {
	Key          string
	Description  string
	Required     []string // required top-level fields
	ArrayField   string   // main collection field; empty if none
	MinItems     int
	MaxItems     int
	ItemRequired []string // required fields per collection item
	MaxTokens    int
	Temperature  float64
}

// Levels holds the six decomposition level schemas.
var Levels = map[string]LevelSchema{
	LevelGoalContext: {
		Key:         LevelGoalContext,
		Description: "Frame the goal: its domain, what success looks like, and hard constraints.",
		Required:    []string{"domainType", "successCriteria"},
		ArrayField:  "successCriteria",
		MinItems:    2,
		MaxItems:    6,
		MaxTokens:   1024,
		Temperature: 0.2,
	},
	LevelStrategicBranches: {
		Key:          LevelStrategicBranches,
		Description:  "Decompose the goal into strategic phases, ordered by priority.",
		Required:     []string{"branches"},
		ArrayField:   "branches",
		MinItems:     3,
		MaxItems:     7,
		ItemRequired: []string{"name", "description", "priority", "rationale", "domainFocus"},
		MaxTokens:    2048,
		Temperature:  0.25,
	},
	LevelTaskDecomposition: {
		Key:          LevelTaskDecomposition,
		Description:  "Break a strategic branch into concrete, executable tasks.",
		Required:     []string{"tasks"},
		ArrayField:   "tasks",
		MinItems:     2,
		MaxItems:     10,
		ItemRequired: []string{"title", "description", "difficulty", "duration"},
		MaxTokens:    2048,
		Temperature:  0.45,
	},
	LevelMicroParticles: {
		Key:          LevelMicroParticles,
		Description:  "Split a task into micro-steps, each independently verifiable.",
		Required:     []string{"microParticles"},
		ArrayField:   "microParticles",
		MinItems:     2,
		MaxItems:     12,
		ItemRequired: []string{"action", "validation", "duration"},
		MaxTokens:    1536,
		Temperature:  0.5,
	},
	LevelNanoActions: {
		Key:          LevelNanoActions,
		Description:  "Split a micro-step into nano-actions taking a few minutes each.",
		Required:     []string{"nanoActions"},
		ArrayField:   "nanoActions",
		MinItems:     2,
		MaxItems:     15,
		ItemRequired: []string{"action", "duration"},
		MaxTokens:    1024,
		Temperature:  0.5,
	},
	LevelPrimitives: {
		Key:          LevelPrimitives,
		Description:  "Produce context-adaptive primitives: smallest actions with their triggering condition.",
		Required:     []string{"primitives"},
		ArrayField:   "primitives",
		MinItems:     1,
		MaxItems:     8,
		ItemRequired: []string{"action", "condition"},
		MaxTokens:    1024,
		Temperature:  0.15,
	},
}

// Validate checks a decoded provider payload against the schema.
// All violations are collected before returning so the caller sees a
// complete report rather than the first problem only.
func (s LevelSchema) Validate(payload map[string]interface{}) error {
	var violations []string

	if payload == nil {
		return &types.SchemaValidationError{Level: s.Key, Violations: []string{"payload is empty"}}
	}

	for _, field := range s.Required {
		v, ok := payload[field]
		if !ok || v == nil {
			violations = append(violations, fmt.Sprintf("missing required field %q", field))
			continue
		}
		if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
			violations = append(violations, fmt.Sprintf("required field %q is empty", field))
		}
	}

	if s.ArrayField != "" {
		if raw, ok := payload[s.ArrayField]; ok && raw != nil {
			items, isArr := raw.([]interface{})
			if !isArr {
				violations = append(violations, fmt.Sprintf("field %q must be an array", s.ArrayField))
			} else {
				if len(items) < s.MinItems {
					violations = append(violations, fmt.Sprintf("field %q has %d items, minimum is %d",
						s.ArrayField, len(items), s.MinItems))
				}
				if s.MaxItems > 0 && len(items) > s.MaxItems {
					violations = append(violations, fmt.Sprintf("field %q has %d items, maximum is %d",
						s.ArrayField, len(items), s.MaxItems))
				}
				violations = append(violations, s.validateItems(items)...)
			}
		}
	}

	if len(violations) > 0 {
		return &types.SchemaValidationError{Level: s.Key, Violations: violations}
	}
	return nil
}

func (s LevelSchema) validateItems(items []interface{}) []string {
	if len(s.ItemRequired) == 0 {
		return nil
	}
	var violations []string
	for i, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			violations = append(violations, fmt.Sprintf("%s[%d] is not an object", s.ArrayField, i))
			continue
		}
		for _, field := range s.ItemRequired {
			v, present := item[field]
			if !present || v == nil {
				violations = append(violations, fmt.Sprintf("%s[%d] missing required field %q", s.ArrayField, i, field))
				continue
			}
			if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
				violations = append(violations, fmt.Sprintf("%s[%d] field %q is empty", s.ArrayField, i, field))
			}
		}
	}
	return violations
}

// schemaInstructions renders the schema as prompt instructions.
func (s LevelSchema) schemaInstructions() string {
	var sb strings.Builder
	sb.WriteString("Respond with a single JSON object.\n")
	if len(s.Required) > 0 {
		sb.WriteString("Required fields: " + strings.Join(s.Required, ", ") + "\n")
	}
	if s.ArrayField != "" {
		fmt.Fprintf(&sb, "Field %q must be an array of %d to %d entries.\n", s.ArrayField, s.MinItems, s.MaxItems)
		if len(s.ItemRequired) > 0 {
			fmt.Fprintf(&sb, "Every entry must include: %s.\n", strings.Join(s.ItemRequired, ", "))
		}
	}
	sb.WriteString("No prose outside the JSON object.")
	return sb.String()
}
