package generator

import (
	"fmt"
	"regexp"
	"strings"

	"forest/internal/logging"
	"forest/internal/types"
)

// FallbackChain produces deterministic tree content when the provider
// is unavailable or its output failed validation. Degradation order:
// domain-hint generation first, generic phase templates last. Both
// always produce at least three branches with at least two tasks each.
type FallbackChain struct{}

// NewFallbackChain creates the fallback chain.
func NewFallbackChain() *FallbackChain {
	return &FallbackChain{}
}

// Plan is a complete deterministic decomposition of a goal.
type Plan struct {
	DomainType string
	Branches   []types.StrategicBranch
	Tasks      []*types.Task
}

type domainHint struct {
	domain   string
	keywords []string
	branches [4]string
}

// Fixed domain categories, matched by keyword against the goal text.
var domainHints = []domainHint{
	{
		domain:   "ai/ml",
		keywords: []string{"machine learning", "neural", "deep learning", "data science", " ai ", "artificial intelligence"},
		branches: [4]string{"ML Foundations", "Hands-on Modeling", "Applied Projects", "Research Mastery"},
	},
	{
		domain:   "security",
		keywords: []string{"security", "hacking", "penetration testing", "cybersecurity", "exploit"},
		branches: [4]string{"Security Fundamentals", "Lab Practice", "Assessment Application", "Advanced Tradecraft"},
	},
	{
		domain:   "programming",
		keywords: []string{"programming", "coding", "software", "golang", "python", "javascript", "web development"},
		branches: [4]string{"Language Foundations", "Project Practice", "Production Application", "Engineering Mastery"},
	},
	{
		domain:   "photography",
		keywords: []string{"photography", "camera", "portrait", "landscape photo"},
		branches: [4]string{"Camera Fundamentals", "Shooting Practice", "Portfolio Application", "Signature Style"},
	},
	{
		domain:   "culinary",
		keywords: []string{"bread", "baking", "cooking", "culinary", "pastry", "sourdough", "cuisine"},
		branches: [4]string{"Ingredient Foundations", "Technique Practice", "Recipe Application", "Artisan Mastery"},
	},
	{
		domain:   "music",
		keywords: []string{"guitar", "piano", "music", "singing", "instrument", "songwriting"},
		branches: [4]string{"Theory Foundations", "Daily Practice", "Performance Application", "Musical Mastery"},
	},
	{
		domain:   "fitness",
		keywords: []string{"fitness", "strength", "running", "marathon", "yoga", "workout"},
		branches: [4]string{"Movement Foundations", "Training Practice", "Program Application", "Peak Performance"},
	},
	{
		domain:   "language",
		keywords: []string{"spanish", "french", "japanese", "mandarin", "german", "vocabulary", "fluency"},
		branches: [4]string{"Core Vocabulary", "Conversation Practice", "Immersion Application", "Fluency Mastery"},
	},
	{
		domain:   "business",
		keywords: []string{"business", "startup", "marketing", "entrepreneur", "sales"},
		branches: [4]string{"Market Foundations", "Skill Practice", "Venture Application", "Growth Mastery"},
	},
	{
		domain:   "writing",
		keywords: []string{"writing", "novel", "blogging", "storytelling", "copywriting"},
		branches: [4]string{"Craft Foundations", "Writing Practice", "Publishing Application", "Voice Mastery"},
	},
}

// Generic phase names used when no domain keyword matches.
var genericPhases = [4]string{"Foundation", "Practice", "Application", "Mastery"}

// Task title templates, indexed by task position within a branch.
var taskTemplates = []string{
	"Get oriented in %s",
	"Work through the core of %s",
	"Apply %s to a small real exercise",
	"Push %s beyond the comfortable range",
	"Consolidate and review %s",
}

// DetectDomain keyword-matches the goal against the fixed domain
// categories. Returns the domain name and true on a hit.
func DetectDomain(goal string) (string, bool) {
	padded := " " + strings.ToLower(goal) + " "
	for _, hint := range domainHints {
		for _, kw := range hint.keywords {
			if strings.Contains(padded, kw) {
				return hint.domain, true
			}
		}
	}
	return "", false
}

// TasksPerBranch is the deterministic per-branch task count for a
// complexity score: max(2, score/2).
func TasksPerBranch(complexityScore int) int {
	n := complexityScore / 2
	if n < 2 {
		n = 2
	}
	return n
}

// GeneratePlan builds a full deterministic plan for the goal. It always
// succeeds and always yields at least three branches with at least two
// tasks each.
func (f *FallbackChain) GeneratePlan(goal string, complexityScore int) *Plan {
	timer := logging.StartTimer(logging.CategoryFallback, "GeneratePlan")
	defer timer.Stop()

	if complexityScore < 1 {
		complexityScore = 1
	}

	names := genericPhases
	domain := "general"
	if d, ok := DetectDomain(goal); ok {
		domain = d
		for _, hint := range domainHints {
			if hint.domain == d {
				names = hint.branches
				break
			}
		}
		logging.Fallback("domain hint matched: %s", domain)
	} else {
		logging.Fallback("no domain hint matched, using generic phases")
	}

	plan := &Plan{DomainType: domain}
	perBranch := TasksPerBranch(complexityScore)

	for i, name := range names {
		plan.Branches = append(plan.Branches, types.StrategicBranch{
			Name:        name,
			Description: fmt.Sprintf("%s work toward: %s", name, goal),
			Priority:    i + 1,
			DomainFocus: domain,
			Rationale:   fmt.Sprintf("Phase %d of a staged progression from basics to mastery", i+1),
			ExpectedOutcomes: []string{
				fmt.Sprintf("Confident footing in %s", strings.ToLower(name)),
				"Ready to move to the next phase",
			},
		})
		plan.Tasks = append(plan.Tasks, f.BranchTasks(name, i, 1, perBranch, complexityScore)...)
	}

	logging.Fallback("plan generated: %d branches, %d tasks (domain=%s)",
		len(plan.Branches), len(plan.Tasks), domain)
	return plan
}

// BranchTasks deterministically generates count tasks for one branch.
// Sequence numbers start at startSeq so evolution can append without id
// collisions. Within a branch each task requires the previous one.
func (f *FallbackChain) BranchTasks(branch string, branchIndex, startSeq, count, complexityScore int) []*types.Task {
	if count < 2 {
		count = 2
	}
	tasks := make([]*types.Task, 0, count)
	for j := 0; j < count; j++ {
		seq := startSeq + j
		template := taskTemplates[j%len(taskTemplates)]
		task := &types.Task{
			ID:                TaskID(branch, seq),
			Title:             fmt.Sprintf(template, branch),
			Description:       fmt.Sprintf("Step %d of the %s phase", seq, branch),
			Difficulty:        clampDifficulty(1 + branchIndex + j/2),
			Duration:          fmt.Sprintf("%d minutes", fallbackDuration(complexityScore, branchIndex)),
			Branch:            branch,
			Priority:          branchIndex*100 + seq,
			Completed:         false,
			Generated:         true,
			SchemaDriven:      false,
			FallbackGenerated: true,
		}
		if j > 0 {
			task.Prerequisites = []string{TaskID(branch, seq-1)}
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// LevelContent produces deterministic payloads for the deeper
// decomposition levels, shaped to pass the same schemas as provider
// output so downstream consumers need no special casing.
func (f *FallbackChain) LevelContent(levelKey, target string) map[string]interface{} {
	switch levelKey {
	case LevelMicroParticles:
		return map[string]interface{}{
			"microParticles": []interface{}{
				map[string]interface{}{"action": "Prepare everything needed for: " + target, "validation": "Workspace and materials ready", "duration": "5 minutes"},
				map[string]interface{}{"action": "Carry out the core of: " + target, "validation": "Main outcome produced", "duration": "15 minutes"},
				map[string]interface{}{"action": "Review the result of: " + target, "validation": "Result checked against intent", "duration": "5 minutes"},
			},
		}
	case LevelNanoActions:
		return map[string]interface{}{
			"nanoActions": []interface{}{
				map[string]interface{}{"action": "Clear distractions and open what is needed for: " + target, "duration": "2 minutes"},
				map[string]interface{}{"action": "Do the first concrete piece of: " + target, "duration": "5 minutes"},
				map[string]interface{}{"action": "Note where to resume on: " + target, "duration": "1 minute"},
			},
		}
	case LevelPrimitives:
		return map[string]interface{}{
			"primitives": []interface{}{
				map[string]interface{}{"action": "Take one small step on: " + target, "condition": "A free five-minute window appears"},
				map[string]interface{}{"action": "Mentally rehearse: " + target, "condition": "Away from the workspace"},
			},
		}
	default:
		return nil
	}
}

var nonIDChars = regexp.MustCompile(`[^a-z0-9]+`)

// TaskID derives a stable task id from the branch name and a sequence
// number, e.g. "technique_practice_3".
func TaskID(branch string, seq int) string {
	slug := nonIDChars.ReplaceAllString(strings.ToLower(branch), "_")
	slug = strings.Trim(slug, "_")
	if slug == "" {
		slug = "task"
	}
	return fmt.Sprintf("%s_%d", slug, seq)
}

func fallbackDuration(complexityScore, branchIndex int) int {
	return 15 + 5*complexityScore + 10*branchIndex
}
