package forest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"forest/internal/generator"
	"forest/internal/logging"
	"forest/internal/selector"
	"forest/internal/types"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

// GetNextTask loads the tree and returns the best task for the
// constraints. A nil selection means nothing is workable right now.
func (o *Orchestrator) GetNextTask(ctx context.Context, projectID, pathName string, c selector.Constraints) (*selector.Selection, error) {
	timer := logging.StartTimer(logging.CategoryForest, "GetNextTask")
	defer timer.Stop()

	tree, err := o.manager.LoadTree(projectID, normalizePath(pathName))
	if err != nil {
		return nil, err
	}
	return o.selector.NextTask(ctx, tree, c)
}

// CompleteTask marks the task completed and persists the tree, then
// evolves the tree with follow-up tasks. outcome is an optional free
// text note recorded in the task's metadata. Evolution is best-effort:
// a failure there is logged and the completion still stands.
func (o *Orchestrator) CompleteTask(ctx context.Context, projectID, pathName, taskID, outcome string) (*types.Tree, error) {
	timer := logging.StartTimer(logging.CategoryForest, "CompleteTask")
	defer timer.Stop()

	pathName = normalizePath(pathName)
	lock := o.treeLock(projectID, pathName)
	lock.Lock()
	defer lock.Unlock()

	tree, err := o.manager.LoadTree(projectID, pathName)
	if err != nil {
		return nil, err
	}

	task := tree.TaskByID(taskID)
	if task == nil {
		return nil, fmt.Errorf("task %q not found in %s/%s", taskID, projectID, pathName)
	}
	if task.Completed {
		return nil, fmt.Errorf("task %q is already completed", taskID)
	}

	if err := o.guard.Apply(tree, "completeTask", func(tr *types.Tree) error {
		t := tr.TaskByID(taskID)
		t.Completed = true
		t.CompletedAt = nowUTC().Format(time.RFC3339)
		if outcome != "" {
			if t.Metadata == nil {
				t.Metadata = map[string]interface{}{}
			}
			t.Metadata["outcome"] = outcome
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if err := o.manager.SaveTree(ctx, tree); err != nil {
		return nil, err
	}
	logging.Forest("task %s completed in %s/%s", taskID, projectID, pathName)

	if err := o.evolveAfterCompletion(ctx, tree, task); err != nil {
		logging.Get(logging.CategoryForest).Warn(
			"evolution after completing %s failed (completion stands): %v", taskID, err)
	}
	return tree, nil
}

// evolveAfterCompletion appends follow-up tasks to the completed task's
// branch once the branch is fully done, keeping the frontier from
// drying up before the goal is reached.
func (o *Orchestrator) evolveAfterCompletion(ctx context.Context, tree *types.Tree, completed *types.Task) error {
	branch := completed.Branch
	if branch == "" {
		return nil
	}
	remaining := 0
	highestSeq := 0
	for _, task := range tree.FrontierNodes {
		if task.Branch != branch {
			continue
		}
		if !task.Completed {
			remaining++
		}
		if seq := taskSeq(task.ID); seq > highestSeq {
			highestSeq = seq
		}
	}
	if remaining > 0 {
		return nil
	}

	branchIndex := 0
	for i := range tree.StrategicBranches {
		if strings.EqualFold(tree.StrategicBranches[i].Name, branch) {
			branchIndex = i
			break
		}
	}

	eventID := uuid.NewString()
	followUps := o.evolutionFollowUps(ctx, tree, completed, branchIndex, highestSeq+1)
	for _, task := range followUps {
		if task.Metadata == nil {
			task.Metadata = map[string]interface{}{}
		}
		task.Metadata["evolutionEvent"] = eventID
		task.Metadata["evolvedFrom"] = completed.ID
		// Follow-ups build on the whole finished branch.
		task.Prerequisites = append(task.Prerequisites, completed.ID)
	}

	if err := o.guard.Apply(tree, "evolveTree", func(tr *types.Tree) error {
		tr.FrontierNodes = append(tr.FrontierNodes, followUps...)
		return nil
	}); err != nil {
		return err
	}
	if err := o.manager.SaveTree(ctx, tree); err != nil {
		return err
	}
	logging.Forest("evolved branch %q with %d follow-up tasks (event=%s)", branch, len(followUps), eventID)
	return nil
}

// evolutionFollowUps produces the next tasks for a finished branch.
// The provider path re-runs task decomposition with the completed task
// and its recorded outcome in the input context; any failure there
// degrades to the deterministic templates.
func (o *Orchestrator) evolutionFollowUps(ctx context.Context, tree *types.Tree, completed *types.Task, branchIndex, startSeq int) []*types.Task {
	if o.gen != nil && o.gen.SchemaDriven() {
		input := map[string]interface{}{
			"goal":          tree.Goal,
			"branch":        completed.Branch,
			"completedTask": completed.Title,
		}
		if outcome, ok := completed.Metadata["outcome"].(string); ok && outcome != "" {
			input["completionOutcome"] = outcome
		}
		if tree.GoalContext != nil {
			input["domainType"] = tree.GoalContext.DomainType
		}

		payload, err := o.gen.GenerateLevel(ctx, generator.LevelTaskDecomposition, input, systemMessage)
		if err == nil {
			followUps, derr := generator.DecodeTasks(payload, completed.Branch, branchIndex, startSeq)
			if derr == nil && len(followUps) > 0 {
				return followUps
			}
			err = derr
			if err == nil {
				err = fmt.Errorf("provider returned no tasks")
			}
		}
		logging.Get(logging.CategoryForest).Warn(
			"provider evolution for branch %q failed, using fallback: %v", completed.Branch, err)
	}
	return o.fallback.BranchTasks(completed.Branch, branchIndex, startSeq, 2, tree.Complexity)
}

// taskSeq extracts the trailing sequence number of a generated task id,
// or 0 for ids without one.
func taskSeq(id string) int {
	idx := strings.LastIndex(id, "_")
	if idx < 0 || idx == len(id)-1 {
		return 0
	}
	n := 0
	if _, err := fmt.Sscanf(id[idx+1:], "%d", &n); err != nil {
		return 0
	}
	return n
}

// Decompose expands a task into one of the deeper levels
// (micro_particles, nano_actions or context_adaptive_primitives). The
// result is stored in the task's metadata and returned. Levels are
// generated lazily; repeating a call regenerates the level.
func (o *Orchestrator) Decompose(ctx context.Context, projectID, pathName, taskID, levelKey string) (map[string]interface{}, error) {
	timer := logging.StartTimer(logging.CategoryForest, "Decompose:"+levelKey)
	defer timer.Stop()

	switch levelKey {
	case generator.LevelMicroParticles, generator.LevelNanoActions, generator.LevelPrimitives:
	default:
		return nil, fmt.Errorf("level %q cannot be decomposed on demand", levelKey)
	}

	pathName = normalizePath(pathName)
	lock := o.treeLock(projectID, pathName)
	lock.Lock()
	defer lock.Unlock()

	tree, err := o.manager.LoadTree(projectID, pathName)
	if err != nil {
		return nil, err
	}
	task := tree.TaskByID(taskID)
	if task == nil {
		return nil, fmt.Errorf("task %q not found in %s/%s", taskID, projectID, pathName)
	}

	payload := o.levelContent(ctx, tree, task, levelKey)
	if payload == nil {
		return nil, fmt.Errorf("no content could be produced for level %q", levelKey)
	}

	if err := o.guard.Apply(tree, "addGeneratedTasks", func(tr *types.Tree) error {
		t := tr.TaskByID(taskID)
		if t.Metadata == nil {
			t.Metadata = map[string]interface{}{}
		}
		t.Metadata[levelKey] = payload
		return nil
	}); err != nil {
		return nil, err
	}
	if err := o.manager.SaveTree(ctx, tree); err != nil {
		return nil, err
	}
	return payload, nil
}

// levelContent tries the provider with accumulated context, then the
// deterministic fallback shapes.
func (o *Orchestrator) levelContent(ctx context.Context, tree *types.Tree, task *types.Task, levelKey string) map[string]interface{} {
	if o.gen != nil && o.gen.SchemaDriven() {
		input := map[string]interface{}{
			"goal":       tree.Goal,
			"branch":     task.Branch,
			"task":       task.Title,
			"difficulty": task.Difficulty,
		}
		if tree.GoalContext != nil {
			input["domainType"] = tree.GoalContext.DomainType
		}
		payload, err := o.gen.GenerateLevel(ctx, levelKey, input, systemMessage)
		if err == nil {
			return payload
		}
		logging.Get(logging.CategoryForest).Warn("level %s generation failed, using fallback: %v", levelKey, err)
	}
	return o.fallback.LevelContent(levelKey, task.Title)
}
