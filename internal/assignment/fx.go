package assignment

import (
	"github.com/makerhaus/storman/internal/assignment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("assignment.service",
	fx.Provide(service.NewService),
)
