// Package migration applies the database schema. Postgres deployments run
// the embedded SQL migrations; other dialects fall back to gorm automigrate,
// which is what the test suite uses against in-memory sqlite.
package migration

import (
	"embed"
	"errors"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	assignmentdomain "github.com/makerhaus/storman/internal/assignment/domain"
	"github.com/makerhaus/storman/internal/config"
	memberdomain "github.com/makerhaus/storman/internal/member/domain"
	unitdomain "github.com/makerhaus/storman/internal/unit/domain"
	violationdomain "github.com/makerhaus/storman/internal/violation/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Run applies pending migrations.
func Run(cfg config.Config, conn *gorm.DB, log *zap.Logger) error {
	if strings.EqualFold(cfg.DBType, "postgres") {
		return runPostgres(conn, log)
	}
	return autoMigrate(conn, log)
}

func runPostgres(conn *gorm.DB, log *zap.Logger) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}

	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}

	driver, err := migratepg.WithInstance(sqlDB, &migratepg.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	log.Info("database migrations applied")
	return nil
}

func autoMigrate(conn *gorm.DB, log *zap.Logger) error {
	if err := conn.AutoMigrate(
		&unitdomain.UnitType{},
		&unitdomain.Unit{},
		&memberdomain.Member{},
		&assignmentdomain.Assignment{},
		&violationdomain.Violation{},
	); err != nil {
		return err
	}

	log.Info("database schema automigrated")
	return nil
}
