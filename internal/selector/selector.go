// Package selector picks the next task to work on. When an embedding
// engine is available it ranks tasks by semantic similarity to the
// user's current context; otherwise it falls back to a deterministic
// heuristic over difficulty, duration and priority.
package selector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"forest/internal/logging"
	"forest/internal/store"
	"forest/internal/types"
)

// Constraints describe the user's current capacity.
type Constraints struct {
	// EnergyLevel 1..5; 0 means unspecified and defaults to 3.
	EnergyLevel int
	// TimeAvailable is a duration string like "30 minutes" or "1 hour".
	// Empty means no time limit.
	TimeAvailable string
	// RecentContext is free text describing what the user is doing or
	// thinking about right now. Used for semantic ranking only.
	RecentContext string
}

// Selection is a chosen task plus how it was chosen.
type Selection struct {
	Task   *types.Task
	Method string  // "vector", "keyword" or "heuristic"
	Score  float64 // similarity for vector, heuristic score otherwise
}

// Selector ranks and picks frontier tasks.
type Selector struct {
	manager   *store.DataManager
	topK      int
	threshold float64
}

// New creates a selector. manager may have no embedding engine, in
// which case every selection uses the heuristic path.
func New(manager *store.DataManager, topK int, threshold float64) *Selector {
	if topK <= 0 {
		topK = 10
	}
	return &Selector{manager: manager, topK: topK, threshold: threshold}
}

// NextTask returns the best eligible task for the constraints, or nil
// when nothing in the tree is currently workable. A nil result is not
// an error: an empty or fully blocked frontier is a normal state.
func (s *Selector) NextTask(ctx context.Context, tree *types.Tree, c Constraints) (*Selection, error) {
	timer := logging.StartTimer(logging.CategorySelector, "NextTask")
	defer timer.Stop()

	if tree == nil {
		return nil, fmt.Errorf("cannot select from a nil tree")
	}

	eligible := tree.EligibleTasks()
	if len(eligible) == 0 {
		logging.Selector("no eligible tasks in %s/%s", tree.ProjectID, tree.PathName)
		return nil, nil
	}

	candidates := filterByTime(eligible, c.TimeAvailable)
	if len(candidates) == 0 {
		logging.Selector("all %d eligible tasks exceed the available time %q", len(eligible), c.TimeAvailable)
		return nil, nil
	}

	if c.RecentContext != "" && s.manager != nil && s.manager.HasVectorSearch() {
		if sel := s.vectorSelect(ctx, tree, candidates, c); sel != nil {
			return sel, nil
		}
		logging.Selector("vector ranking yielded nothing usable, falling back to heuristic")
	}

	return s.heuristicSelect(candidates, c), nil
}

// vectorSelect walks the ranked matches and returns the first one that
// maps to a candidate task. Returns nil when ranking fails or no match
// survives, so the caller can fall back.
func (s *Selector) vectorSelect(ctx context.Context, tree *types.Tree, candidates []*types.Task, c Constraints) *Selection {
	method := "vector"
	matches, err := s.manager.QueryTaskVectors(ctx, tree.ProjectID, c.RecentContext, s.topK, s.threshold)
	if err != nil {
		// The engine may be reachable at save time but not now; keyword
		// recall over the mirrored content still beats pure heuristics.
		logging.Get(logging.CategorySelector).Warn("vector ranking failed, trying keyword recall: %v", err)
		method = "keyword"
		matches, err = s.manager.Store().KeywordRecall(c.RecentContext, tree.ProjectID, s.topK)
		if err != nil || len(matches) == 0 {
			return nil
		}
	}

	byID := make(map[string]*types.Task, len(candidates))
	for _, task := range candidates {
		byID[task.ID] = task
	}
	for _, m := range matches {
		taskID, _ := m.Metadata["taskId"].(string)
		if task, ok := byID[taskID]; ok {
			logging.Selector("%s selection: %s (similarity=%.3f)", method, task.ID, m.Similarity)
			return &Selection{Task: task, Method: method, Score: m.Similarity}
		}
	}
	return nil
}

// heuristicSelect scores each candidate and keeps the best. Lower
// energy gap wins; ties fall to the lower Priority value.
func (s *Selector) heuristicSelect(candidates []*types.Task, c Constraints) *Selection {
	energy := c.EnergyLevel
	if energy < 1 {
		energy = 3
	}
	if energy > 5 {
		energy = 5
	}

	var best *types.Task
	bestGap := 0
	for _, task := range candidates {
		gap := task.Difficulty - energy
		if gap < 0 {
			gap = -gap
		}
		switch {
		case best == nil,
			gap < bestGap,
			gap == bestGap && task.Priority < best.Priority:
			best = task
			bestGap = gap
		}
	}

	logging.Selector("heuristic selection: %s (energy gap=%d, priority=%d)", best.ID, bestGap, best.Priority)
	return &Selection{Task: best, Method: "heuristic", Score: float64(-bestGap)}
}

// filterByTime drops tasks whose duration exceeds the available time.
// Tasks without a parseable duration are kept.
func filterByTime(tasks []*types.Task, timeAvailable string) []*types.Task {
	budget, ok := parseDurationMinutes(timeAvailable)
	if !ok {
		return tasks
	}
	var out []*types.Task
	for _, task := range tasks {
		need, parsed := parseDurationMinutes(task.Duration)
		if parsed && need > budget {
			continue
		}
		out = append(out, task)
	}
	return out
}

// parseDurationMinutes understands "30 minutes", "1 hour", "1.5 hours"
// and bare integers (treated as minutes).
func parseDurationMinutes(s string) (int, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, false
	}

	fields := strings.Fields(s)
	value, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}

	unit := "minutes"
	if len(fields) > 1 {
		unit = fields[1]
	}
	switch {
	case strings.HasPrefix(unit, "h"):
		return int(value * 60), true
	case strings.HasPrefix(unit, "m"):
		return int(value), true
	default:
		return 0, false
	}
}
