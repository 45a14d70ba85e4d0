package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Generation statuses. A row is mutated by exactly one pipeline run at a
// time; once completed or failed it is immutable until a retry resets it
// back to queued.
const (
	GenerationStatusQueued     = "queued"
	GenerationStatusProcessing = "processing"
	GenerationStatusCompleted  = "completed"
	GenerationStatusFailed     = "failed"
	GenerationStatusStopped    = "stopped"
	GenerationStatusMismatch   = "mismatch"
)

// Generation modes.
const (
	ModeLecture    = "lecture"
	ModePreRead    = "pre-read"
	ModeAssignment = "assignment"
)

type Generation struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`

	// Request
	Topic           string `gorm:"column:topic;not null" json:"topic"`
	Subtopics       string `gorm:"column:subtopics;not null" json:"subtopics"`
	Mode            string `gorm:"column:mode;not null" json:"mode"` // lecture|pre-read|assignment
	Transcript      string `gorm:"column:transcript;type:text" json:"transcript,omitempty"`
	SingleCorrect   int    `gorm:"column:single_correct;not null;default:0" json:"single_correct"`
	MultiCorrect    int    `gorm:"column:multi_correct;not null;default:0" json:"multi_correct"`
	SubjectiveCount int    `gorm:"column:subjective_count;not null;default:0" json:"subjective_count"`

	// Pipeline state
	Status       string `gorm:"column:status;not null;index" json:"status"`
	Stage        string `gorm:"column:stage" json:"stage"`
	Progress     int    `gorm:"column:progress;not null;default:0" json:"progress"`
	Message      string `gorm:"column:message" json:"message"`
	CurrentAgent string `gorm:"column:current_agent" json:"current_agent"`

	// Results
	Content        string         `gorm:"column:content;type:text" json:"content,omitempty"`
	AssignmentJSON datatypes.JSON `gorm:"type:jsonb;column:assignment_json" json:"assignment_json,omitempty"`
	GapAnalysis    datatypes.JSON `gorm:"type:jsonb;column:gap_analysis" json:"gap_analysis,omitempty"`
	CourseContext  datatypes.JSON `gorm:"type:jsonb;column:course_context" json:"course_context,omitempty"`
	Error          string         `gorm:"column:error" json:"error,omitempty"`

	// Resume. ResumeToken holds the id of the newest checkpoint.
	LastStep       string `gorm:"column:last_step" json:"last_step,omitempty"`
	LastStepNumber int    `gorm:"column:last_step_number;not null;default:0" json:"last_step_number"`
	ResumeToken    string `gorm:"column:resume_token" json:"resume_token,omitempty"`

	// Cost
	CostUSD     float64        `gorm:"column:cost_usd;not null;default:0" json:"cost_usd"`
	StageTokens datatypes.JSON `gorm:"type:jsonb;column:stage_tokens" json:"stage_tokens,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Generation) TableName() string { return "generation" }

// HasTranscript reports whether a transcript was supplied with the request.
func (g *Generation) HasTranscript() bool {
	return g != nil && g.Transcript != ""
}

// Terminal reports whether the row may no longer be mutated by a run.
func (g *Generation) Terminal() bool {
	if g == nil {
		return false
	}
	return g.Status == GenerationStatusCompleted || g.Status == GenerationStatusFailed
}
