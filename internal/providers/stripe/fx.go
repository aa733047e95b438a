package stripe

import (
	"github.com/makerhaus/storman/internal/config"
	stripesyncdomain "github.com/makerhaus/storman/internal/stripesync/domain"
	stripe "github.com/stripe/stripe-go/v82"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.stripe",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) stripesyncdomain.Client {
	stripe.Key = cfg.StripeSecretKey
	return NewClient()
}
