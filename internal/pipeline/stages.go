package pipeline

import (
	"github.com/edforge/edforge-backend/internal/agents"
	"github.com/edforge/edforge-backend/internal/types"
)

// Stage identifies one discrete pipeline step. Stage names are persisted in
// checkpoints, so renaming one is a data migration.
type Stage string

const (
	StageCourseDetection Stage = "course_detection"
	StageGapAnalysis     Stage = "gap_analysis"
	StageDraft           Stage = "draft_creation"
	StageSanitize        Stage = "sanitization"
	StageReview          Stage = "review"
	StageRefine          Stage = "refinement"
	StageFormat          Stage = "formatting"
)

// AgentName maps a stage to the agent that backs it.
func (s Stage) AgentName() string {
	switch s {
	case StageCourseDetection:
		return agents.NameCourseDetector
	case StageGapAnalysis:
		return agents.NameAnalyzer
	case StageDraft:
		return agents.NameCreator
	case StageSanitize:
		return agents.NameSanitizer
	case StageReview:
		return agents.NameReviewer
	case StageRefine:
		return agents.NameRefiner
	case StageFormat:
		return agents.NameFormatter
	}
	return string(s)
}

// baseWeights are the relative shares before normalization. Draft and the
// review/refine pair dominate on purpose: they are where the time goes.
var baseWeights = map[Stage]int{
	StageCourseDetection: 5,
	StageGapAnalysis:     10,
	StageDraft:           40,
	StageSanitize:        5,
	StageReview:          15,
	StageRefine:          15,
	StageFormat:          10,
}

// Plan is the exact ordered stage list for one request, with integer
// weights normalized to sum to exactly 100. Progress after stage i is the
// cumulative weight of stages 0..i.
type Plan struct {
	Stages     []Stage
	Weights    map[Stage]int
	cumulative []int
}

// PlanStages computes the stage list for a (mode, hasTranscript) pair.
// GapAnalysis and Sanitization require a transcript; Formatting only runs
// for assignments. Refinement is always planned but may be skipped at
// runtime when the reviewer is satisfied.
func PlanStages(mode string, hasTranscript bool) Plan {
	stages := []Stage{StageCourseDetection}
	if hasTranscript {
		stages = append(stages, StageGapAnalysis)
	}
	stages = append(stages, StageDraft)
	if hasTranscript {
		stages = append(stages, StageSanitize)
	}
	stages = append(stages, StageReview, StageRefine)
	if mode == types.ModeAssignment {
		stages = append(stages, StageFormat)
	}

	total := 0
	for _, s := range stages {
		total += baseWeights[s]
	}

	weights := make(map[Stage]int, len(stages))
	sum := 0
	for _, s := range stages {
		w := baseWeights[s] * 100 / total
		weights[s] = w
		sum += w
	}
	// Integer division remainder lands on the heaviest stage so every plan
	// sums to exactly 100.
	weights[StageDraft] += 100 - sum

	cumulative := make([]int, len(stages))
	running := 0
	for i, s := range stages {
		running += weights[s]
		cumulative[i] = running
	}

	return Plan{Stages: stages, Weights: weights, cumulative: cumulative}
}

// ProgressAfter returns the progress percentage once the stage at index i
// has completed.
func (p Plan) ProgressAfter(i int) int {
	if i < 0 {
		return 0
	}
	if i >= len(p.cumulative) {
		return 100
	}
	return p.cumulative[i]
}

// IndexOf returns the position of stage in the plan, or -1.
func (p Plan) IndexOf(stage Stage) int {
	for i, s := range p.Stages {
		if s == stage {
			return i
		}
	}
	return -1
}

// TotalWeight returns the weight sum; always 100 by construction.
func (p Plan) TotalWeight() int {
	total := 0
	for _, s := range p.Stages {
		total += p.Weights[s]
	}
	return total
}
