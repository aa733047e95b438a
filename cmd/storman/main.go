package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/makerhaus/storman/internal/clock"
	"github.com/makerhaus/storman/internal/config"
	"github.com/makerhaus/storman/internal/migration"
	"github.com/makerhaus/storman/internal/observability"
	"github.com/makerhaus/storman/internal/server"
	"github.com/makerhaus/storman/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
