package domain

import (
	"context"
	"errors"

	"github.com/makerhaus/storman/pkg/db/pagination"
)

type ClaimUnitRequest struct {
	UnitID          string `json:"unit_id"`
	MemberID        string `json:"member_id"`
	Complimentary   bool   `json:"complimentary,omitempty"`
	PriceOverrideID string `json:"price_override_id,omitempty"`
}

type ListAssignmentsRequest struct {
	pagination.Pagination
	MemberID string `form:"member_id"`
	UnitID   string `form:"unit_id"`
	Status   string `form:"status"`
}

type ListAssignmentsResponse struct {
	pagination.PageInfo
	Assignments []Assignment `json:"assignments"`
}

type ResolveManualReviewRequest struct {
	AssignmentID string `json:"-"`
	Note         string `json:"note,omitempty"`
}

type LinkSubscriptionItemRequest struct {
	AssignmentID       string `json:"-"`
	SubscriptionID     string `json:"subscription_id"`
	SubscriptionItemID string `json:"subscription_item_id"`
}

type Service interface {
	// Claim creates an ACTIVE assignment and marks the unit occupied. The
	// occupancy change commits before billing sync runs, so a billing
	// failure leaves the member in the unit with the assignment flagged
	// for manual review.
	Claim(context.Context, ClaimUnitRequest) (Assignment, error)
	// Release ends the assignment, frees the unit, and detaches the
	// Stripe subscription item.
	Release(ctx context.Context, id string) (Assignment, error)
	Get(ctx context.Context, id string) (Assignment, error)
	List(context.Context, ListAssignmentsRequest) (ListAssignmentsResponse, error)
	// Resync replays the billing sync for one assignment.
	Resync(ctx context.Context, id string) (Assignment, error)
	// ResolveManualReview clears the review flag after a human fixed the
	// underlying problem.
	ResolveManualReview(context.Context, ResolveManualReviewRequest) (Assignment, error)
	// LinkToSubscriptionItem attaches the assignment to an existing
	// subscription item, merging it into the Stripe metadata sets.
	LinkToSubscriptionItem(context.Context, LinkSubscriptionItemRequest) (Assignment, error)
}

var (
	ErrAssignmentNotFound  = errors.New("assignment_not_found")
	ErrInvalidAssignment   = errors.New("invalid_assignment")
	ErrUnitNotAvailable    = errors.New("unit_not_available")
	ErrAssignmentNotActive = errors.New("assignment_not_active")
	ErrNotUnderReview      = errors.New("not_under_review")
)
