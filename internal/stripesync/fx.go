package stripesync

import (
	"github.com/makerhaus/storman/internal/stripesync/service"
	"go.uber.org/fx"
)

var Module = fx.Module("stripesync.engine",
	fx.Provide(service.NewEngine),
)
