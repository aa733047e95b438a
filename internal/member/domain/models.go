// Package domain contains the persistence model for facility members.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Member is a person who can rent storage units.
type Member struct {
	ID               snowflake.ID `gorm:"primaryKey"`
	DisplayName      string       `gorm:"type:text;not null"`
	Email            string       `gorm:"type:text;not null;uniqueIndex"`
	StripeCustomerID string       `gorm:"type:text"`
	CreatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Member) TableName() string { return "members" }
