package embedding

import (
	"math"
	"testing"
)

func TestCosineSimilarity_Identical(t *testing.T) {
	a := []float32{1, 2, 3}
	sim, err := CosineSimilarity(a, a)
	if err != nil {
		t.Fatalf("CosineSimilarity failed: %v", err)
	}
	if math.Abs(sim-1.0) > 1e-9 {
		t.Errorf("expected similarity 1.0 for identical vectors, got %f", sim)
	}
}

func TestCosineSimilarity_Orthogonal(t *testing.T) {
	sim, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	if err != nil {
		t.Fatalf("CosineSimilarity failed: %v", err)
	}
	if math.Abs(sim) > 1e-9 {
		t.Errorf("expected similarity 0 for orthogonal vectors, got %f", sim)
	}
}

func TestCosineSimilarity_DimensionMismatch(t *testing.T) {
	if _, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); err == nil {
		t.Fatal("expected error for mismatched dimensions")
	}
}

func TestCosineSimilarity_ZeroVector(t *testing.T) {
	sim, err := CosineSimilarity([]float32{0, 0}, []float32{1, 1})
	if err != nil {
		t.Fatalf("CosineSimilarity failed: %v", err)
	}
	if sim != 0 {
		t.Errorf("expected 0 for zero-magnitude vector, got %f", sim)
	}
}

func TestNewEngine_None(t *testing.T) {
	engine, err := NewEngine(Config{Provider: "none"})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if engine != nil {
		t.Error("expected nil engine for provider none")
	}
}

func TestNewEngine_Unsupported(t *testing.T) {
	if _, err := NewEngine(Config{Provider: "quantum"}); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestNewEngine_Ollama(t *testing.T) {
	engine, err := NewEngine(Config{Provider: "ollama"})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if engine.Name() != "ollama:embeddinggemma" {
		t.Errorf("unexpected engine name: %s", engine.Name())
	}
	if engine.Dimensions() != 768 {
		t.Errorf("unexpected dimensions: %d", engine.Dimensions())
	}
	if _, ok := engine.(HealthChecker); !ok {
		t.Error("expected Ollama engine to implement HealthChecker")
	}
}
