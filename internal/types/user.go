package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Email        string         `gorm:"column:email;uniqueIndex;not null" json:"email"`
	Name         string         `gorm:"column:name" json:"name"`
	Credits      float64        `gorm:"column:credits;not null;default:0" json:"credits"`
	SpentCredits float64        `gorm:"column:spent_credits;not null;default:0" json:"spent_credits"`
	CreatedAt    time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (User) TableName() string { return "user" }

// BudgetExhausted reports whether the user has spent their credit allowance.
// Checked once at submission, never mid-pipeline.
func (u *User) BudgetExhausted() bool {
	return u != nil && u.SpentCredits >= u.Credits
}
