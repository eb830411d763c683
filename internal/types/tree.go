// Package types defines the core domain model shared across forest:
// the hierarchical task tree, its branches and frontier tasks, and the
// typed errors raised by the orchestration layers.
package types

import (
	"strings"
	"time"
)

// GoalContext captures the immutable framing of a tree's goal.
// It is created once, at tree creation, and never mutated afterwards.
type GoalContext struct {
	PrimaryGoal     string   `json:"primaryGoal"`
	ComplexityScore int      `json:"complexityScore"` // 1..10
	DomainType      string   `json:"domainType"`
	SuccessCriteria []string `json:"successCriteria"`
	Constraints     []string `json:"constraints"`
}

// StrategicBranch is a top-level phase of a plan (e.g. "Foundation").
// A tree owns 3-7 branches, ordered by Priority ascending.
type StrategicBranch struct {
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	Priority         int      `json:"priority"`
	DomainFocus      string   `json:"domainFocus"`
	Rationale        string   `json:"rationale"`
	ExpectedOutcomes []string `json:"expectedOutcomes"`
}

// Task is a frontier node: a leaf, executable step in the current tree.
// Tasks are created by generation or fallback, mutated only to flip
// Completed or append Prerequisites, and never deleted.
type Task struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Difficulty    int      `json:"difficulty"` // 1..5
	Duration      string   `json:"duration,omitempty"`
	Branch        string   `json:"branch"`
	Priority      int      `json:"priority"`
	Prerequisites []string `json:"prerequisites,omitempty"`
	Completed     bool     `json:"completed"`
	CompletedAt   string   `json:"completedAt,omitempty"`

	// Provenance flags. SchemaDriven tasks came from the intelligence
	// provider via a level schema; FallbackGenerated tasks came from
	// the deterministic fallback chain.
	Generated         bool `json:"generated"`
	SchemaDriven      bool `json:"schemaDriven"`
	FallbackGenerated bool `json:"fallbackGenerated,omitempty"`

	// Metadata carries free-form provenance details (domain hints,
	// evolution event ids). It must stay JSON-serializable; the
	// mutation guard rejects payloads that are not.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// HierarchyMetadata summarizes tree size and progress.
type HierarchyMetadata struct {
	TotalTasks     int `json:"totalTasks"`
	TotalBranches  int `json:"totalBranches"`
	CompletedTasks int `json:"completedTasks"`
}

// DefaultPathName is the path used when a caller does not name one.
const DefaultPathName = "general"

// Tree is the aggregate root. Exactly one tree exists per
// (ProjectID, PathName); it is evolved by appending branches and tasks,
// never by removing them.
type Tree struct {
	ProjectID         string            `json:"projectId"`
	PathName          string            `json:"pathName"`
	Goal              string            `json:"goal"`
	Complexity        int               `json:"complexity"` // 1..10
	GoalContext       *GoalContext      `json:"goalContext,omitempty"`
	StrategicBranches []StrategicBranch `json:"strategicBranches"`
	FrontierNodes     []*Task           `json:"frontierNodes"`
	HierarchyMetadata HierarchyMetadata `json:"hierarchyMetadata"`
	Created           time.Time         `json:"created"`
	LastUpdated       time.Time         `json:"lastUpdated"`
}

// TaskByID returns the frontier task with the given id, or nil.
func (t *Tree) TaskByID(id string) *Task {
	for _, task := range t.FrontierNodes {
		if task.ID == id {
			return task
		}
	}
	return nil
}

// BranchByName returns the branch with the given name (case-insensitive), or nil.
func (t *Tree) BranchByName(name string) *StrategicBranch {
	for i := range t.StrategicBranches {
		if strings.EqualFold(t.StrategicBranches[i].Name, name) {
			return &t.StrategicBranches[i]
		}
	}
	return nil
}

// Eligible reports whether the task can be worked on now: not completed,
// and every prerequisite resolves to a completed task in this tree.
// A prerequisite that references a missing task blocks the task.
func (t *Tree) Eligible(task *Task) bool {
	if task == nil || task.Completed {
		return false
	}
	for _, pre := range task.Prerequisites {
		dep := t.TaskByID(pre)
		if dep == nil || !dep.Completed {
			return false
		}
	}
	return true
}

// EligibleTasks returns all currently eligible frontier tasks in
// frontier order.
func (t *Tree) EligibleTasks() []*Task {
	var out []*Task
	for _, task := range t.FrontierNodes {
		if t.Eligible(task) {
			out = append(out, task)
		}
	}
	return out
}

// RefreshMetadata recomputes the hierarchy counters from the current
// branches and frontier.
func (t *Tree) RefreshMetadata() {
	meta := HierarchyMetadata{
		TotalBranches: len(t.StrategicBranches),
		TotalTasks:    len(t.FrontierNodes),
	}
	for _, task := range t.FrontierNodes {
		if task.Completed {
			meta.CompletedTasks++
		}
	}
	t.HierarchyMetadata = meta
}
