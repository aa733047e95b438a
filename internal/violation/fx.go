package violation

import (
	"github.com/makerhaus/storman/internal/violation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("violation.service",
	fx.Provide(service.NewService),
)
