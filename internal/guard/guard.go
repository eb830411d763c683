// Package guard wraps every tree mutation in a snapshot, a diff and a
// permission check. Functions are registered with an allow-list of task
// fields they may touch; anything outside that list rolls the tree back
// to its pre-call state.
package guard

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"

	"forest/internal/logging"
	"forest/internal/types"
)

// Guard validates tree mutations against per-function field
// permissions.
type Guard struct {
	permissions map[string][]string
}

// Fields every registered function may write, on top of its own list.
// A new task cannot exist without an id, and prerequisite wiring is how
// tasks are sequenced.
var alwaysAllowed = []string{"id", "prerequisites"}

// New creates a guard with the built-in permission table.
func New() *Guard {
	return &Guard{
		permissions: map[string][]string{
			// Generation inserts complete tasks.
			"addGeneratedTasks": {"title", "description", "difficulty", "duration", "branch",
				"priority", "generated", "schemaDriven", "fallbackGenerated", "metadata"},
			// Completion flips the completion pair and may note an
			// outcome.
			"completeTask": {"completed", "completedAt", "metadata"},
			// Evolution appends follow-up tasks after a completion.
			"evolveTree": {"title", "description", "difficulty", "duration", "branch",
				"priority", "generated", "schemaDriven", "fallbackGenerated", "metadata"},
		},
	}
}

// Register adds or replaces the allow-list for a function name.
func (g *Guard) Register(function string, fields []string) {
	g.permissions[function] = fields
}

// Apply snapshots the tree, runs fn, and validates everything fn
// changed against the function's allow-list. On any violation the tree
// is restored byte-for-byte from the snapshot and a
// MutationRejectedError is returned. The error from fn itself is passed
// through after rollback.
func (g *Guard) Apply(tree *types.Tree, function string, fn func(*types.Tree) error) error {
	timer := logging.StartTimer(logging.CategoryGuard, "Apply:"+function)
	defer timer.Stop()

	allowed, registered := g.permissions[function]
	if !registered {
		return &types.MutationRejectedError{
			Function:   function,
			Violations: []string{"function is not registered with the mutation guard"},
		}
	}

	snapshot, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to snapshot tree before %s: %w", function, err)
	}

	if err := fn(tree); err != nil {
		rollback(tree, snapshot)
		return err
	}

	after, err := json.Marshal(tree)
	if err != nil {
		rollback(tree, snapshot)
		return &types.MutationRejectedError{
			Function:   function,
			Violations: []string{fmt.Sprintf("mutated tree is not serializable: %v", err)},
		}
	}

	violations := g.validateDiff(snapshot, after, function, allowed)
	if len(violations) > 0 {
		rollback(tree, snapshot)
		logging.Get(logging.CategoryGuard).Warn("rejected mutation by %s: %s",
			function, strings.Join(violations, "; "))
		return &types.MutationRejectedError{Function: function, Violations: violations}
	}

	logging.Guard("mutation by %s accepted", function)
	return nil
}

// validateDiff compares the task sets before and after, returning every
// field change outside the allow-list plus any structurally invalid new
// task.
func (g *Guard) validateDiff(before, after []byte, function string, allowed []string) []string {
	type treeDoc struct {
		ProjectID     string                   `json:"projectId"`
		PathName      string                   `json:"pathName"`
		Goal          string                   `json:"goal"`
		Complexity    int                      `json:"complexity"`
		GoalContext   map[string]interface{}   `json:"goalContext"`
		FrontierNodes []map[string]interface{} `json:"frontierNodes"`
	}
	var prev, next treeDoc
	// Both payloads came from json.Marshal above, so these cannot fail.
	json.Unmarshal(before, &prev)
	json.Unmarshal(after, &next)

	var violations []string
	if next.ProjectID != prev.ProjectID || next.PathName != prev.PathName {
		violations = append(violations, "tree identity is immutable")
	}
	if next.Goal != prev.Goal || next.Complexity != prev.Complexity {
		violations = append(violations, "goal framing is immutable after creation")
	}
	if prev.GoalContext != nil && !cmp.Equal(prev.GoalContext, next.GoalContext) {
		violations = append(violations, "goal context is immutable after creation")
	}

	prevByID := make(map[string]map[string]interface{}, len(prev.FrontierNodes))
	for _, task := range prev.FrontierNodes {
		if id, ok := task["id"].(string); ok {
			prevByID[id] = task
		}
	}

	permitted := make(map[string]bool, len(allowed)+len(alwaysAllowed))
	for _, f := range allowed {
		permitted[f] = true
	}
	for _, f := range alwaysAllowed {
		permitted[f] = true
	}

	seen := make(map[string]bool, len(next.FrontierNodes))
	for _, task := range next.FrontierNodes {
		id, _ := task["id"].(string)
		if id == "" {
			violations = append(violations, "task created without an id")
			continue
		}
		seen[id] = true

		old, existed := prevByID[id]
		if !existed {
			violations = append(violations, g.validateNewTask(id, task, permitted)...)
			continue
		}
		violations = append(violations, changedFieldsOutside(id, old, task, permitted)...)
	}

	for id := range prevByID {
		if !seen[id] {
			violations = append(violations, fmt.Sprintf("task %q was deleted; tasks are append-only", id))
		}
	}

	if len(violations) > 0 {
		logging.Get(logging.CategoryGuard).Debug("tree diff for rejected %s:\n%s",
			function, cmp.Diff(string(before), string(after)))
	}
	sort.Strings(violations)
	return violations
}

// validateNewTask checks structure and field permissions of an inserted
// task.
func (g *Guard) validateNewTask(id string, task map[string]interface{}, permitted map[string]bool) []string {
	var violations []string
	if title, _ := task["title"].(string); strings.TrimSpace(title) == "" {
		violations = append(violations, fmt.Sprintf("new task %q has no title", id))
	}
	for field, value := range task {
		if isZeroJSON(value) {
			continue
		}
		if !permitted[field] {
			violations = append(violations, fmt.Sprintf("new task %q sets unpermitted field %q", id, field))
		}
	}
	return violations
}

func changedFieldsOutside(id string, old, cur map[string]interface{}, permitted map[string]bool) []string {
	var violations []string
	fields := make(map[string]bool, len(old)+len(cur))
	for f := range old {
		fields[f] = true
	}
	for f := range cur {
		fields[f] = true
	}
	for field := range fields {
		if permitted[field] {
			continue
		}
		if !cmp.Equal(old[field], cur[field]) {
			violations = append(violations, fmt.Sprintf("task %q field %q changed without permission", id, field))
		}
	}
	return violations
}

// isZeroJSON reports whether a decoded JSON value is its zero form, so
// new tasks are not penalized for fields json.Marshal emitted as
// defaults (difficulty 0, completed false, and so on).
func isZeroJSON(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case float64:
		return t == 0
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}

func rollback(tree *types.Tree, snapshot []byte) {
	var restored types.Tree
	if err := json.Unmarshal(snapshot, &restored); err != nil {
		// Snapshot came from json.Marshal of the same type; reaching
		// this means memory corruption, so keep the mutated tree and
		// scream.
		logging.Get(logging.CategoryGuard).Error("rollback failed, tree left mutated: %v", err)
		return
	}
	*tree = restored
}

// ValidateTask checks the structural invariants every stored task must
// hold, independent of any mutation. Used at insertion points outside
// the guard.
func ValidateTask(task *types.Task) []string {
	var violations []string
	if task == nil {
		return []string{"task is nil"}
	}
	if strings.TrimSpace(task.ID) == "" {
		violations = append(violations, "task id is required")
	}
	if strings.TrimSpace(task.Title) == "" {
		violations = append(violations, fmt.Sprintf("task %q title is required", task.ID))
	}
	if task.Difficulty < 1 || task.Difficulty > 5 {
		violations = append(violations, fmt.Sprintf("task %q difficulty %d outside 1..5", task.ID, task.Difficulty))
	}
	return violations
}
