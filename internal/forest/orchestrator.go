// Package forest is the orchestration layer: it owns tree construction,
// task selection, completion and evolution, coordinating the complexity
// analyzer, the schema-driven generator, the fallback chain, the
// mutation guard and the data manager. All tree mutations for one
// (projectID, pathName) pair are serialized behind a keyed lock.
package forest

import (
	"context"
	"fmt"
	"sync"

	"forest/internal/complexity"
	"forest/internal/generator"
	"forest/internal/guard"
	"forest/internal/logging"
	"forest/internal/selector"
	"forest/internal/store"
	"forest/internal/types"
)

// Orchestrator drives the full tree lifecycle.
type Orchestrator struct {
	gen      *generator.Generator
	fallback *generator.FallbackChain
	guard    *guard.Guard
	manager  *store.DataManager
	selector *selector.Selector

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New wires the orchestrator. gen may be built around a nil client;
// every build then runs the fallback chain.
func New(gen *generator.Generator, manager *store.DataManager, sel *selector.Selector) *Orchestrator {
	return &Orchestrator{
		gen:      gen,
		fallback: generator.NewFallbackChain(),
		guard:    guard.New(),
		manager:  manager,
		selector: sel,
		locks:    make(map[string]*sync.Mutex),
	}
}

// treeLock returns the mutex serializing mutations for one tree.
func (o *Orchestrator) treeLock(projectID, pathName string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := projectID + "\x00" + pathName
	if l, ok := o.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	o.locks[key] = l
	return l
}

func normalizePath(pathName string) string {
	if pathName == "" {
		return types.DefaultPathName
	}
	return pathName
}

// BuildTree creates the tree for (projectID, pathName) from a goal.
// The provider path is attempted first; any failure there degrades to
// the deterministic fallback chain, so the resulting tree is never
// empty or partial. An error is returned only when a tree already
// exists or persistence itself fails.
func (o *Orchestrator) BuildTree(ctx context.Context, projectID, pathName, goal string, focusAreas []string) (*types.Tree, error) {
	timer := logging.StartTimer(logging.CategoryForest, "BuildTree")
	defer timer.Stop()

	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	if goal == "" {
		return nil, fmt.Errorf("goal is required")
	}
	pathName = normalizePath(pathName)

	lock := o.treeLock(projectID, pathName)
	lock.Lock()
	defer lock.Unlock()

	if exists, err := o.manager.Store().TreeExists(projectID, pathName); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("a tree already exists for %s/%s", projectID, pathName)
	}

	result := complexity.Analyze(goal, focusAreas)
	logging.Forest("building tree %s/%s: goal=%q score=%d depth=%d",
		projectID, pathName, goal, result.Score, result.RecommendedDepth)

	tree := &types.Tree{
		ProjectID:  projectID,
		PathName:   pathName,
		Goal:       goal,
		Complexity: result.Score,
		Created:    nowUTC(),
	}

	goalContext, branches, tasks, err := o.generatePlan(ctx, goal, result)
	if err != nil {
		// Both the provider and the fallback failed. Nothing partial is
		// ever persisted.
		return nil, err
	}
	tree.GoalContext = goalContext
	tree.StrategicBranches = branches

	if err := o.guard.Apply(tree, "addGeneratedTasks", func(tr *types.Tree) error {
		for _, task := range tasks {
			if violations := guard.ValidateTask(task); len(violations) > 0 {
				return fmt.Errorf("generated task rejected: %v", violations)
			}
		}
		tr.FrontierNodes = append(tr.FrontierNodes, tasks...)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("task insertion rejected for %s/%s: %w", projectID, pathName, err)
	}

	if err := o.manager.SaveTree(ctx, tree); err != nil {
		return nil, err
	}

	logging.Forest("tree %s/%s built: %d branches, %d tasks",
		projectID, pathName, len(tree.StrategicBranches), len(tree.FrontierNodes))
	return tree, nil
}

// generatePlan runs the schema-driven path and degrades to the fallback
// chain on any failure. The error is non-nil only when both paths fail,
// which for the deterministic fallback means never in practice.
func (o *Orchestrator) generatePlan(ctx context.Context, goal string, result complexity.Result) (*types.GoalContext, []types.StrategicBranch, []*types.Task, error) {
	if o.gen != nil && o.gen.SchemaDriven() {
		gc, branches, tasks, err := o.schemaPlan(ctx, goal, result)
		if err == nil {
			return gc, branches, tasks, nil
		}
		logging.Get(logging.CategoryForest).Warn("schema-driven generation failed, using fallback: %v", err)
	}

	plan := o.fallback.GeneratePlan(goal, result.Score)
	if len(plan.Branches) == 0 || len(plan.Tasks) == 0 {
		return nil, nil, nil, &types.GenerationError{
			Stage:    "strategic_branches",
			Primary:  fmt.Errorf("schema-driven generation unavailable"),
			Fallback: fmt.Errorf("fallback produced an empty plan"),
		}
	}

	gc := &types.GoalContext{
		PrimaryGoal:     goal,
		ComplexityScore: result.Score,
		DomainType:      plan.DomainType,
		SuccessCriteria: []string{
			"Every strategic phase has at least one completed task",
			"The final phase feels routine rather than aspirational",
		},
	}
	return gc, plan.Branches, plan.Tasks, nil
}

// schemaPlan runs the top three decomposition levels against the
// provider. Any level failing fails the whole plan; partial provider
// output is never mixed with fallback output inside one build.
func (o *Orchestrator) schemaPlan(ctx context.Context, goal string, result complexity.Result) (*types.GoalContext, []types.StrategicBranch, []*types.Task, error) {
	input := map[string]interface{}{
		"goal":            goal,
		"complexityScore": result.Score,
		"complexityLevel": string(result.Level),
	}

	ctxPayload, err := o.gen.GenerateLevel(ctx, generator.LevelGoalContext, input, systemMessage)
	if err != nil {
		return nil, nil, nil, err
	}
	goalContext := generator.DecodeGoalContext(ctxPayload, goal, result.Score)
	input["domainType"] = goalContext.DomainType
	input["successCriteria"] = goalContext.SuccessCriteria

	branchPayload, err := o.gen.GenerateLevel(ctx, generator.LevelStrategicBranches, input, systemMessage)
	if err != nil {
		return nil, nil, nil, err
	}
	branches, err := generator.DecodeBranches(branchPayload)
	if err != nil {
		return nil, nil, nil, err
	}

	var tasks []*types.Task
	for i, branch := range branches {
		branchInput := map[string]interface{}{
			"goal":        goal,
			"branch":      branch.Name,
			"description": branch.Description,
			"domainType":  goalContext.DomainType,
		}
		taskPayload, err := o.gen.GenerateLevel(ctx, generator.LevelTaskDecomposition, branchInput, systemMessage)
		if err != nil {
			return nil, nil, nil, err
		}
		branchTasks, err := generator.DecodeTasks(taskPayload, branch.Name, i, 1)
		if err != nil {
			return nil, nil, nil, err
		}
		tasks = append(tasks, branchTasks...)
	}

	return goalContext, branches, tasks, nil
}

const systemMessage = "You decompose goals into hierarchical, achievable plans. " +
	"Respond with JSON only, exactly matching the requested structure."
