package complexity

import "testing"

func TestAnalyze_EmptyGoal(t *testing.T) {
	r := Analyze("", nil)
	if r.Score != 1 {
		t.Errorf("expected score 1 for empty goal, got %d", r.Score)
	}
	if r.RecommendedDepth != 2 {
		t.Errorf("expected depth 2 for empty goal, got %d", r.RecommendedDepth)
	}
	if r.Level != LevelSimple {
		t.Errorf("expected simple level, got %s", r.Level)
	}
}

func TestAnalyze_ScoreBounds(t *testing.T) {
	goals := []string{
		"do a thing",
		"learn basic cooking",
		"master advanced distributed systems architecture from scratch and publish research while building a startup over several years covering all aspects of machine learning",
	}
	for _, g := range goals {
		r := Analyze(g, []string{"a", "b", "c", "d", "e", "f"})
		if r.Score < 1 || r.Score > 10 {
			t.Errorf("score out of bounds for %q: %d", g, r.Score)
		}
		if r.RecommendedDepth < 2 || r.RecommendedDepth > 5 {
			t.Errorf("depth out of bounds for %q: %d", g, r.RecommendedDepth)
		}
	}
}

func TestAnalyze_DepthMapping(t *testing.T) {
	cases := []struct {
		score int
		depth int
	}{
		{1, 2}, {3, 2}, {4, 3}, {6, 3}, {7, 4}, {8, 4}, {9, 5}, {10, 5},
	}
	for _, c := range cases {
		if got := depthFor(c.score); got != c.depth {
			t.Errorf("depthFor(%d) = %d, want %d", c.score, got, c.depth)
		}
	}
}

func TestAnalyze_Deterministic(t *testing.T) {
	goal := "Learn advanced bread making"
	a := Analyze(goal, nil)
	b := Analyze(goal, nil)
	if a.Score != b.Score || a.Level != b.Level || a.RecommendedDepth != b.RecommendedDepth {
		t.Errorf("analysis not deterministic: %+v vs %+v", a, b)
	}
}

func TestAnalyze_ExpertGoalOutranksSimple(t *testing.T) {
	simple := Analyze("organize my desk", nil)
	expert := Analyze("master professional photography and build a business from scratch over several years", nil)
	if expert.Score <= simple.Score {
		t.Errorf("expected expert goal (%d) to outscore simple goal (%d)", expert.Score, simple.Score)
	}
	if expert.RecommendedDepth <= simple.RecommendedDepth {
		t.Errorf("expected deeper decomposition for expert goal")
	}
}
