// Package stripe wraps the Stripe SDK behind the narrow client surface the
// reconciliation engine uses.
package stripe

import (
	"context"

	stripesyncdomain "github.com/makerhaus/storman/internal/stripesync/domain"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/subscriptionitem"
)

type client struct{}

// NewClient returns the SDK-backed Stripe client. The package-level API key
// must already be configured.
func NewClient() stripesyncdomain.Client {
	return &client{}
}

func (c *client) FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := customer.List(params)
	for iter.Next() {
		return iter.Customer(), nil
	}
	return nil, iter.Err()
}

func (c *client) CreateCustomer(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	params.Context = ctx
	return customer.New(params)
}

func (c *client) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	return subscription.Get(id, params)
}

func (c *client) CreateSubscription(ctx context.Context, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	params.Context = ctx
	return subscription.New(params)
}

func (c *client) UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	params.Context = ctx
	return subscription.Update(id, params)
}

func (c *client) CancelSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	return subscription.Cancel(id, params)
}

func (c *client) GetSubscriptionItem(ctx context.Context, id string) (*stripe.SubscriptionItem, error) {
	params := &stripe.SubscriptionItemParams{}
	params.Context = ctx
	return subscriptionitem.Get(id, params)
}

func (c *client) CreateSubscriptionItem(ctx context.Context, params *stripe.SubscriptionItemParams) (*stripe.SubscriptionItem, error) {
	params.Context = ctx
	return subscriptionitem.New(params)
}

func (c *client) UpdateSubscriptionItem(ctx context.Context, id string, params *stripe.SubscriptionItemParams) (*stripe.SubscriptionItem, error) {
	params.Context = ctx
	return subscriptionitem.Update(id, params)
}

func (c *client) DeleteSubscriptionItem(ctx context.Context, id string) (*stripe.SubscriptionItem, error) {
	params := &stripe.SubscriptionItemParams{}
	params.Context = ctx
	return subscriptionitem.Del(id, params)
}
