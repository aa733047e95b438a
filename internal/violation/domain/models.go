// Package domain contains the persistence model for policy violations.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Violation tracks a policy breach on an assignment. Daily charges start
// accruing once the grace period runs out.
type Violation struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	AssignmentID snowflake.ID `gorm:"not null;index"`

	// DailyRate overrides the configured default when set. A nil rate is
	// back-filled from settings at finalize time.
	DailyRate *decimal.Decimal `gorm:"type:numeric(10,2)"`
	Note      string           `gorm:"type:text"`

	StartAt time.Time  `gorm:"not null"`
	EndAt   *time.Time `gorm:""`

	Active      bool            `gorm:"not null;default:true;index"`
	Resolved    bool            `gorm:"not null;default:false"`
	TotalCharge decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Violation) TableName() string { return "violations" }
