// Package complexity scores a goal's difficulty and recommends how deep
// its task tree should be decomposed. Analysis is pure and deterministic:
// keyword and pattern heuristics only, no I/O and no provider calls.
package complexity

import (
	"regexp"
	"strings"
)

// Level buckets a complexity score.
type Level string

const (
	LevelSimple   Level = "simple"
	LevelModerate Level = "moderate"
	LevelComplex  Level = "complex"
	LevelExpert   Level = "expert"
)

// Result is the outcome of analyzing a goal.
type Result struct {
	Score            int // 1..10
	Level            Level
	RecommendedDepth int      // 2..5
	Factors          []string // human-readable scoring reasons
}

// Pattern groups that raise the score. Ordered strongest first.
var (
	expertPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(master|mastery|expert|professional|advanced)\b`),
		regexp.MustCompile(`(?i)\b(research|thesis|dissertation|publish)\b`),
		regexp.MustCompile(`(?i)(build|create|launch)\s+(a\s+)?(company|startup|business|product)`),
		regexp.MustCompile(`(?i)(from\s+scratch|ground\s+up)\s`),
	}

	complexPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(architecture|distributed|machine\s+learning|neural|compiler|cryptograph)`),
		regexp.MustCompile(`(?i)(multiple|several|various)\s+(skills|areas|domains|disciplines)`),
		regexp.MustCompile(`(?i)\b(certification|certified|fluent|fluency)\b`),
		regexp.MustCompile(`(?i)(and|while|plus)\s+.*(and|while|plus)\s+`),
	}

	moderatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(learn|improve|understand|develop|practice)\b`),
		regexp.MustCompile(`(?i)\b(intermediate|better|deeper)\b`),
	}

	// Long-horizon markers add breadth regardless of subject.
	horizonIndicators = []string{
		"year", "months", "career", "lifelong", "long-term", "comprehensive",
		"complete", "entire", "every", "all aspects",
	}
)

// Analyze scores a goal's difficulty on a 1-10 scale and maps it to a
// recommended decomposition depth. An empty goal yields the lowest
// score/depth pair rather than an error.
func Analyze(goal string, focus []string) Result {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return Result{
			Score:            1,
			Level:            LevelSimple,
			RecommendedDepth: 2,
			Factors:          []string{"empty goal"},
		}
	}

	score := 2
	var factors []string
	lower := strings.ToLower(goal)

	for _, p := range expertPatterns {
		if p.MatchString(lower) {
			score += 3
			factors = append(factors, "expert-level ambition detected")
			break
		}
	}
	for _, p := range complexPatterns {
		if p.MatchString(lower) {
			score += 2
			factors = append(factors, "multi-discipline or technical depth detected")
			break
		}
	}
	for _, p := range moderatePatterns {
		if p.MatchString(lower) {
			score++
			factors = append(factors, "learning or improvement goal")
			break
		}
	}
	for _, ind := range horizonIndicators {
		if strings.Contains(lower, ind) {
			score++
			factors = append(factors, "long-horizon scope indicated")
			break
		}
	}

	// Longer goal statements tend to carry more constraints and sub-goals.
	words := len(strings.Fields(goal))
	switch {
	case words > 25:
		score += 2
		factors = append(factors, "detailed goal statement")
	case words > 12:
		score++
		factors = append(factors, "moderately detailed goal statement")
	}

	// Each focus area widens the tree.
	if n := len(focus); n > 0 {
		score += (n + 1) / 2
		factors = append(factors, "additional focus areas supplied")
	}

	score = clampScore(score)
	return Result{
		Score:            score,
		Level:            levelFor(score),
		RecommendedDepth: depthFor(score),
		Factors:          factors,
	}
}

func clampScore(score int) int {
	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}

func levelFor(score int) Level {
	switch {
	case score <= 3:
		return LevelSimple
	case score <= 6:
		return LevelModerate
	case score <= 8:
		return LevelComplex
	default:
		return LevelExpert
	}
}

func depthFor(score int) int {
	switch {
	case score <= 3:
		return 2
	case score <= 6:
		return 3
	case score <= 8:
		return 4
	default:
		return 5
	}
}
