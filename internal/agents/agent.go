// Package agents holds the seven pipeline stage agents. Each agent is one
// prompt build + one gateway call + stage-specific output parsing; the
// orchestrator owns sequencing, persistence and events.
package agents

import (
	"fmt"

	"github.com/edforge/edforge-backend/internal/types"
)

// Agent names as they appear in logs, events and the current_agent column.
const (
	NameCourseDetector = "CourseDetector"
	NameAnalyzer       = "Analyzer"
	NameCreator        = "Creator"
	NameSanitizer      = "Sanitizer"
	NameReviewer       = "Reviewer"
	NameRefiner        = "Refiner"
	NameFormatter      = "Formatter"
)

// Input is the generation context an agent runs against. Fields are filled
// in progressively as earlier stages complete.
type Input struct {
	Topic      string
	Subtopics  []string
	Mode       string
	Transcript string
	Counts     types.AssignmentCounts
	Content    string
	Course     *types.CourseContext
	Gap        *types.GapAnalysisResult
}

// Error wraps any gateway or parse failure with the agent that raised it.
type Error struct {
	Agent string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Agent, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(agent string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Agent: agent, Err: err}
}
