// Package domain contains persistence models for storage units and unit types.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// UnitStatus represents occupancy states for a storage unit.
type UnitStatus string

const (
	UnitStatusAvailable   UnitStatus = "AVAILABLE"
	UnitStatusOccupied    UnitStatus = "OCCUPIED"
	UnitStatusMaintenance UnitStatus = "MAINTENANCE"
)

// UnitType groups units that share a size, monthly price and billing price id.
type UnitType struct {
	ID            snowflake.ID    `gorm:"primaryKey"`
	Code          string          `gorm:"type:text;not null;uniqueIndex"`
	Name          string          `gorm:"type:text;not null"`
	MonthlyPrice  decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	StripePriceID string          `gorm:"type:text"`
	CreatedAt     time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UnitType) TableName() string { return "unit_types" }

// Unit is a single rentable storage unit.
type Unit struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	Code       string            `gorm:"type:text;not null;uniqueIndex"`
	UnitTypeID snowflake.ID      `gorm:"not null;index"`
	Status     UnitStatus        `gorm:"type:text;not null"`
	Attributes datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Unit) TableName() string { return "units" }
