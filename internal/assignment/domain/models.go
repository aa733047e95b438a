// Package domain contains persistence models for unit assignments.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// AssignmentStatus represents lifecycle states for an assignment.
type AssignmentStatus string

const (
	AssignmentStatusActive   AssignmentStatus = "ACTIVE"
	AssignmentStatusReleased AssignmentStatus = "RELEASED"
)

// Assignment links a member to a unit for a period of time and carries the
// billing linkage that keeps the Stripe subscription in step with occupancy.
type Assignment struct {
	ID       snowflake.ID     `gorm:"primaryKey"`
	UnitID   snowflake.ID     `gorm:"not null;index"`
	MemberID snowflake.ID     `gorm:"not null;index"`
	Status   AssignmentStatus `gorm:"type:text;not null;index"`

	// Complimentary assignments never touch billing.
	Complimentary   bool   `gorm:"not null;default:false"`
	PriceOverrideID string `gorm:"type:text"`

	// PriceSnapshot freezes the monthly price in effect when the unit was
	// claimed, so later price changes do not rewrite history.
	PriceSnapshot decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`

	StartAt time.Time  `gorm:"not null"`
	EndAt   *time.Time `gorm:""`

	StripeSubscriptionID     string     `gorm:"type:text;index"`
	StripeSubscriptionItemID string     `gorm:"type:text"`
	SubscriptionStatus       string     `gorm:"type:text"`
	LastSyncedAt             *time.Time `gorm:""`

	NeedsManualReview bool   `gorm:"not null;default:false"`
	ManualReviewNote  string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Assignment) TableName() string { return "assignments" }

// Billable reports whether this assignment should carry a subscription item.
func (a Assignment) Billable() bool {
	return !a.Complimentary && a.Status == AssignmentStatusActive
}
