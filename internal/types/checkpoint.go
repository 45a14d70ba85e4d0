package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Checkpoint is an immutable snapshot of pipeline content at a completed
// stage. Resume picks the row with the highest StepNumber.
type Checkpoint struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	GenerationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"generation_id"`
	StepName     string         `gorm:"column:step_name;not null" json:"step_name"`
	StepNumber   int            `gorm:"column:step_number;not null" json:"step_number"`
	Content      string         `gorm:"column:content;type:text" json:"content"`
	Metadata     datatypes.JSON `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (Checkpoint) TableName() string { return "checkpoint" }
