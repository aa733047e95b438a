// Package domain defines the billing reconciliation contracts: the narrow
// Stripe client surface the engine depends on and the subscription metadata
// conventions that mark what this service manages.
package domain

import (
	"context"

	stripe "github.com/stripe/stripe-go/v82"
)

// Client is the slice of the Stripe API the reconciliation engine uses.
// Implementations wrap the real SDK; tests substitute an in-memory fake.
type Client interface {
	FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error)
	CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error)

	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	CreateSubscription(ctx context.Context, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, id string) (*stripe.Subscription, error)

	GetSubscriptionItem(ctx context.Context, id string) (*stripe.SubscriptionItem, error)
	CreateSubscriptionItem(ctx context.Context, params *stripe.SubscriptionItemParams) (*stripe.SubscriptionItem, error)
	UpdateSubscriptionItem(ctx context.Context, id string, params *stripe.SubscriptionItemParams) (*stripe.SubscriptionItem, error)
	DeleteSubscriptionItem(ctx context.Context, id string) (*stripe.SubscriptionItem, error)
}
