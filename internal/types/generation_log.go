package types

import (
	"time"

	"github.com/google/uuid"
)

// Log entry types.
const (
	LogTypeInfo    = "info"
	LogTypeSuccess = "success"
	LogTypeWarning = "warning"
	LogTypeError   = "error"
	LogTypeStep    = "step"
)

// GenerationLog is an append-only observability record. Clients rebuild the
// visible step list from these rows in insertion order.
type GenerationLog struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	GenerationID uuid.UUID `gorm:"type:uuid;not null;index" json:"generation_id"`
	Message      string    `gorm:"column:message;not null" json:"message"`
	Type         string    `gorm:"column:type;not null" json:"type"` // info|success|warning|error|step
	Agent        string    `gorm:"column:agent" json:"agent,omitempty"`
	CreatedAt    time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (GenerationLog) TableName() string { return "generation_log" }
