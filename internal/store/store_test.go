package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"forest/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// opencensus starts a background worker in its package init; it is
		// not a leak from this package. Ignoring it is the goleak-recommended
		// handling for this goroutine.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testTree(projectID string) *types.Tree {
	return &types.Tree{
		ProjectID:  projectID,
		PathName:   types.DefaultPathName,
		Goal:       "Learn advanced bread making",
		Complexity: 6,
		StrategicBranches: []types.StrategicBranch{
			{Name: "Ingredient Foundations", Description: "Flour, water, salt, yeast", Priority: 1},
			{Name: "Technique Practice", Description: "Kneading and shaping", Priority: 2},
			{Name: "Recipe Application", Description: "Full bakes", Priority: 3},
		},
		FrontierNodes: []*types.Task{
			{ID: "ingredient_foundations_1", Title: "Understand flour types", Difficulty: 1, Branch: "Ingredient Foundations", Priority: 1},
			{ID: "technique_practice_1", Title: "Practice kneading", Difficulty: 2, Branch: "Technique Practice", Priority: 101},
		},
		Created: time.Now().UTC(),
	}
}

func TestSaveAndLoadTree(t *testing.T) {
	s := newTestStore(t)
	tree := testTree("proj-1")
	require.NoError(t, s.SaveTree(tree))

	loaded, err := s.LoadTree("proj-1", "")
	require.NoError(t, err)
	assert.Equal(t, tree.Goal, loaded.Goal)
	assert.Equal(t, 6, loaded.Complexity)
	assert.Len(t, loaded.StrategicBranches, 3)
	assert.Len(t, loaded.FrontierNodes, 2)
	assert.Equal(t, "Understand flour types", loaded.FrontierNodes[0].Title)
}

func TestSaveTreeReplacesPreviousRevision(t *testing.T) {
	s := newTestStore(t)
	tree := testTree("proj-1")
	require.NoError(t, s.SaveTree(tree))

	tree.FrontierNodes[0].Completed = true
	require.NoError(t, s.SaveTree(tree))

	loaded, err := s.LoadTree("proj-1", types.DefaultPathName)
	require.NoError(t, err)
	assert.True(t, loaded.FrontierNodes[0].Completed)

	pairs, err := s.ListTrees()
	require.NoError(t, err)
	assert.Len(t, pairs, 1)
}

func TestLoadTreeNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadTree("nope", "")
	var nfe *types.TreeNotFoundError
	require.ErrorAs(t, err, &nfe)
	assert.Equal(t, "nope", nfe.ProjectID)
}

func TestTreeExists(t *testing.T) {
	s := newTestStore(t)
	ok, err := s.TreeExists("proj-1", "")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveTree(testTree("proj-1")))
	ok, err = s.TreeExists("proj-1", "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVectorUpsertAndQuery(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertVector("a", "p1", "kneading dough", []float32{1, 0, 0}, map[string]interface{}{"kind": "task"}))
	require.NoError(t, s.UpsertVector("b", "p1", "shaping loaves", []float32{0.9, 0.1, 0}, map[string]interface{}{"kind": "task"}))
	require.NoError(t, s.UpsertVector("c", "p2", "unrelated", []float32{0, 0, 1}, nil))

	results, err := s.QueryVectors([]float32{1, 0, 0}, QueryOptions{TopK: 5, Namespace: "p1"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Key)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-9)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
}

func TestVectorQueryStableTieBreak(t *testing.T) {
	s := newTestStore(t)
	// Identical vectors: scores tie, insertion order must hold.
	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("v%d", i)
		require.NoError(t, s.UpsertVector(key, "p1", "same", []float32{1, 1}, nil))
	}
	results, err := s.QueryVectors([]float32{1, 1}, QueryOptions{TopK: 10})
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("v%d", i), r.Key)
	}
}

func TestVectorQueryThresholdAndWhere(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertVector("close", "p1", "c", []float32{1, 0}, map[string]interface{}{"kind": "task"}))
	require.NoError(t, s.UpsertVector("far", "p1", "f", []float32{0, 1}, map[string]interface{}{"kind": "task"}))
	require.NoError(t, s.UpsertVector("goal", "p1", "g", []float32{1, 0}, map[string]interface{}{"kind": "goal"}))

	results, err := s.QueryVectors([]float32{1, 0}, QueryOptions{
		TopK:      10,
		Threshold: 0.5,
		Where:     map[string]interface{}{"kind": "task"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "close", results[0].Key)
}

func TestVectorUpsertReplacesKey(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertVector("k", "p1", "old", []float32{1, 0}, nil))
	require.NoError(t, s.UpsertVector("k", "p1", "new", []float32{0, 1}, nil))

	stats, err := s.VectorStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)

	results, err := s.QueryVectors([]float32{0, 1}, QueryOptions{TopK: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].Content)
}

func TestDeleteNamespace(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertVector("a", "p1", "x", []float32{1}, nil))
	require.NoError(t, s.UpsertVector("b", "p1", "y", []float32{1}, nil))
	require.NoError(t, s.UpsertVector("c", "p2", "z", []float32{1}, nil))

	n, err := s.DeleteNamespace("p1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := s.VectorStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 1, stats.Namespaces["p2"])
}

func TestKeywordRecall(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertVector("a", "p1", "Practice kneading dough", []float32{1}, nil))
	require.NoError(t, s.UpsertVector("b", "p1", "Study flour hydration", []float32{1}, nil))

	results, err := s.KeywordRecall("kneading", "p1", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Key)

	results, err = s.KeywordRecall("", "p1", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// fakeEngine returns fixed-size embeddings, optionally failing.
type fakeEngine struct {
	fail bool
}

func (f *fakeEngine) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedding service unavailable")
	}
	vec := make([]float32, 4)
	for i, r := range text {
		vec[i%4] += float32(r) / 1000
	}
	return vec, nil
}

func (f *fakeEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEngine) Dimensions() int { return 4 }
func (f *fakeEngine) Name() string    { return "fake" }

func TestDataManagerMirrorsTree(t *testing.T) {
	s := newTestStore(t)
	m := NewDataManager(s, &fakeEngine{}, 1, 2)

	tree := testTree("proj-1")
	require.NoError(t, m.SaveTree(context.Background(), tree))

	stats, err := s.VectorStats()
	require.NoError(t, err)
	// goal + 3 branches + 2 tasks
	assert.Equal(t, 6, stats.Namespaces["proj-1"])

	// Round-trip through the document store stays intact.
	loaded, err := m.LoadTree("proj-1", "")
	require.NoError(t, err)
	assert.Equal(t, tree.Goal, loaded.Goal)
	assert.Equal(t, 2, loaded.HierarchyMetadata.TotalTasks)
}

func TestDataManagerSurvivesMirrorFailure(t *testing.T) {
	s := newTestStore(t)
	m := NewDataManager(s, &fakeEngine{fail: true}, 1, 2)

	tree := testTree("proj-1")
	require.NoError(t, m.SaveTree(context.Background(), tree), "document save must succeed despite mirror failure")

	loaded, err := m.LoadTree("proj-1", "")
	require.NoError(t, err)
	assert.Equal(t, tree.Goal, loaded.Goal)

	stats, err := s.VectorStats()
	require.NoError(t, err)
	assert.Zero(t, stats.Count)
}

func TestDataManagerNilEngineSkipsMirror(t *testing.T) {
	s := newTestStore(t)
	m := NewDataManager(s, nil, 0, 0)
	assert.False(t, m.HasVectorSearch())

	require.NoError(t, m.SaveTree(context.Background(), testTree("proj-1")))
	stats, err := s.VectorStats()
	require.NoError(t, err)
	assert.Zero(t, stats.Count)

	_, err = m.QueryTaskVectors(context.Background(), "proj-1", "anything", 5, 0)
	require.Error(t, err)
}
