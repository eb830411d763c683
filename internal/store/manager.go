package store

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"forest/internal/embedding"
	"forest/internal/logging"
	"forest/internal/types"
)

// =============================================================================
// DATA MANAGER
// =============================================================================

// DataManager coordinates the authoritative document store with the
// derived vector mirror. A document write either succeeds or fails;
// mirror writes are best-effort and never fail the operation.
type DataManager struct {
	store   *Store
	engine  embedding.Engine // nil: mirroring disabled
	retries int
	workers int
}

// NewDataManager wires the manager. engine may be nil, in which case
// SaveTree skips mirroring entirely.
func NewDataManager(s *Store, engine embedding.Engine, mirrorRetries, mirrorWorkers int) *DataManager {
	if mirrorRetries < 0 {
		mirrorRetries = 0
	}
	if mirrorWorkers <= 0 {
		mirrorWorkers = 4
	}
	return &DataManager{store: s, engine: engine, retries: mirrorRetries, workers: mirrorWorkers}
}

// Store exposes the underlying store for direct document access.
func (m *DataManager) Store() *Store {
	return m.store
}

// HasVectorSearch reports whether an embedding engine is wired in.
func (m *DataManager) HasVectorSearch() bool {
	return m.engine != nil
}

// SaveTree persists the tree document first, then mirrors the goal,
// branches and tasks into the vector table. A document failure is
// returned; mirror failures are logged and swallowed.
func (m *DataManager) SaveTree(ctx context.Context, tree *types.Tree) error {
	timer := logging.StartTimer(logging.CategoryStore, "DataManager.SaveTree")
	defer timer.Stop()

	tree.LastUpdated = time.Now().UTC()
	tree.RefreshMetadata()

	if err := m.store.SaveTree(tree); err != nil {
		return fmt.Errorf("failed to persist tree %s/%s: %w", tree.ProjectID, tree.PathName, err)
	}

	if m.engine == nil {
		return nil
	}
	if err := m.mirrorTree(ctx, tree); err != nil {
		logging.Get(logging.CategoryVector).Warn(
			"vector mirror incomplete for %s/%s: %v (documents remain authoritative)",
			tree.ProjectID, tree.PathName, err)
	}
	return nil
}

// LoadTree reads the authoritative document.
func (m *DataManager) LoadTree(projectID, pathName string) (*types.Tree, error) {
	return m.store.LoadTree(projectID, pathName)
}

// QueryTaskVectors embeds the query text and returns ranked task keys
// in the tree's namespace.
func (m *DataManager) QueryTaskVectors(ctx context.Context, projectID, query string, topK int, threshold float64) ([]VectorEntry, error) {
	if m.engine == nil {
		return nil, fmt.Errorf("no embedding engine available")
	}
	vec, err := m.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return m.store.QueryVectors(vec, QueryOptions{
		TopK:      topK,
		Threshold: threshold,
		Namespace: projectID,
		Where:     map[string]interface{}{"kind": "task"},
	})
}

// mirrorTree upserts one vector per goal, branch and task. Workers run
// in parallel; each entry retries up to the configured budget before
// giving up on that entry alone.
func (m *DataManager) mirrorTree(ctx context.Context, tree *types.Tree) error {
	type mirrorEntry struct {
		key     string
		content string
		meta    map[string]interface{}
	}

	entries := []mirrorEntry{{
		key:     tree.ProjectID + ":goal",
		content: tree.Goal,
		meta:    map[string]interface{}{"kind": "goal"},
	}}
	for _, b := range tree.StrategicBranches {
		entries = append(entries, mirrorEntry{
			key:     tree.ProjectID + ":" + b.Name,
			content: b.Name + ": " + b.Description,
			meta:    map[string]interface{}{"kind": "branch", "branch": b.Name},
		})
	}
	for _, task := range tree.FrontierNodes {
		entries = append(entries, mirrorEntry{
			key:     tree.ProjectID + ":" + task.ID,
			content: task.Title + ": " + task.Description,
			meta: map[string]interface{}{
				"kind":      "task",
				"taskId":    task.ID,
				"branch":    task.Branch,
				"completed": task.Completed,
			},
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for _, e := range entries {
		g.Go(func() error {
			var lastErr error
			for attempt := 0; attempt <= m.retries; attempt++ {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				vec, err := m.engine.Embed(gctx, e.content)
				if err == nil {
					err = m.store.UpsertVector(e.key, tree.ProjectID, e.content, vec, e.meta)
				}
				if err == nil {
					return nil
				}
				lastErr = err
			}
			logging.Get(logging.CategoryVector).Warn(
				"giving up on vector %q after %d attempts: %v", e.key, m.retries+1, lastErr)
			// Mirror entries fail independently; one bad embed must not
			// cancel the rest of the group.
			return nil
		})
	}
	return g.Wait()
}
