// Package domain defines staff notification contracts.
package domain

import "context"

// Event names a notifiable occurrence. Operators enable events one by one in
// the storage settings file.
type Event string

const (
	EventManualReview       Event = "manual_review"
	EventAssignmentCreated  Event = "assignment_created"
	EventAssignmentReleased Event = "assignment_released"
	EventViolationStarted   Event = "violation_started"
	EventViolationFinalized Event = "violation_finalized"
)

// Service delivers staff notifications. Sends are best effort: a disabled
// event or empty recipient list is not an error.
type Service interface {
	SendEvent(ctx context.Context, event Event, subject, body string) error
}
