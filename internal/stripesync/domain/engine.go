package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Engine reconciles assignment occupancy with Stripe subscriptions.
type Engine interface {
	// SyncAssignment brings the subscription item for one assignment in
	// line with the stored state. It is idempotent: a second call with
	// nothing changed performs no Stripe writes.
	SyncAssignment(ctx context.Context, assignmentID snowflake.ID) error
	// ReleaseAssignment detaches the assignment from its subscription,
	// cancelling the subscription when it was managed by this service and
	// nothing else hangs off it.
	ReleaseAssignment(ctx context.Context, assignmentID snowflake.ID) error
	// RefreshSubscriptionStatus updates the cached status on every
	// assignment linked to the subscription.
	RefreshSubscriptionStatus(ctx context.Context, subscriptionID, status string) error
	// AssignmentPriceID resolves the price the assignment would bill at,
	// walking the override, unit type, and default chain.
	AssignmentPriceID(ctx context.Context, assignmentID snowflake.ID) (string, error)
	// LinkAssignment attaches the assignment to an existing subscription
	// item by hand, merging it into the remote metadata sets.
	LinkAssignment(ctx context.Context, assignmentID snowflake.ID, subscriptionID, itemID string) error
}

var (
	ErrBillingDisabled         = errors.New("billing_disabled")
	ErrNoPriceResolved         = errors.New("no_price_resolved")
	ErrNoCustomer              = errors.New("no_customer")
	ErrItemNotFound            = errors.New("item_not_found")
	ErrComplimentaryAssignment = errors.New("complimentary_assignment")
)

// ConfigurationError marks failures an operator must fix in settings or unit
// type data rather than retry.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string { return fmt.Sprintf("configuration: %v", e.Err) }
func (e *ConfigurationError) Unwrap() error { return e.Err }

// ReconciliationError marks transient failures talking to Stripe.
type ReconciliationError struct {
	Op  string
	Err error
}

func (e *ReconciliationError) Error() string { return fmt.Sprintf("reconciliation %s: %v", e.Op, e.Err) }
func (e *ReconciliationError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether the error stems from missing or
// invalid billing configuration.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsReconciliationError reports whether the error came from a Stripe call.
func IsReconciliationError(err error) bool {
	var re *ReconciliationError
	return errors.As(err, &re)
}
