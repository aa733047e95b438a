package unit

import (
	"github.com/makerhaus/storman/internal/unit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("unit.service",
	fx.Provide(service.NewService),
)
