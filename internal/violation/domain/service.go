package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type StartViolationRequest struct {
	AssignmentID string           `json:"-"`
	DailyRate    *decimal.Decimal `json:"daily_rate,omitempty"`
	Note         string           `json:"note,omitempty"`
	StartAt      *time.Time       `json:"start_at,omitempty"`
}

type FinalizeViolationRequest struct {
	ViolationID string     `json:"-"`
	EndAt       *time.Time `json:"end_at,omitempty"`
}

type UpdateRateRequest struct {
	ViolationID string          `json:"-"`
	DailyRate   decimal.Decimal `json:"daily_rate"`
}

type UpdateNoteRequest struct {
	ViolationID string `json:"-"`
	Note        string `json:"note"`
}

type Service interface {
	// Start opens a violation. Only one violation per assignment may be
	// active at a time.
	Start(context.Context, StartViolationRequest) (Violation, error)
	// AccruedCharge computes the charge as of the given instant without
	// persisting anything.
	AccruedCharge(ctx context.Context, id string, asOf time.Time) (decimal.Decimal, error)
	// Finalize closes the violation and freezes its total charge.
	Finalize(context.Context, FinalizeViolationRequest) (Violation, error)
	UpdateRate(context.Context, UpdateRateRequest) (Violation, error)
	UpdateNote(context.Context, UpdateNoteRequest) (Violation, error)
	Get(ctx context.Context, id string) (Violation, error)
	ActiveByAssignment(ctx context.Context, assignmentID string) (Violation, error)
	ListByAssignment(ctx context.Context, assignmentID string) ([]Violation, error)
}

var (
	ErrViolationNotFound = errors.New("violation_not_found")
	ErrInvalidViolation  = errors.New("invalid_violation")
	ErrViolationActive   = errors.New("violation_already_active")
	ErrAlreadyResolved   = errors.New("violation_already_resolved")
	ErrInvalidRate       = errors.New("invalid_daily_rate")
)
