package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/makerhaus/storman/internal/clock"
	unitdomain "github.com/makerhaus/storman/internal/unit/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupUnitService(t *testing.T) (unitdomain.Service, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&unitdomain.UnitType{}, &unitdomain.Unit{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
	})

	return svc, fake
}

func TestCreateUnitTypeAndUnit(t *testing.T) {
	svc, _ := setupUnitService(t)
	ctx := context.Background()

	unitType, err := svc.CreateType(ctx, unitdomain.CreateUnitTypeRequest{
		Code:          "locker-s",
		Name:          "Small locker",
		MonthlyPrice:  decimal.RequireFromString("25.00"),
		StripePriceID: "price_small",
	})
	require.NoError(t, err)
	assert.Equal(t, "locker-s", unitType.Code)

	unit, err := svc.Create(ctx, unitdomain.CreateUnitRequest{
		Code:       "A-101",
		UnitTypeID: unitType.ID.String(),
		Attributes: map[string]any{"floor": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, unitdomain.UnitStatusAvailable, unit.Status)
	assert.Equal(t, unitType.ID, unit.UnitTypeID)

	byCode, err := svc.GetByCode(ctx, "A-101")
	require.NoError(t, err)
	assert.Equal(t, unit.ID, byCode.ID)
}

func TestCreateUnitTypeRejectsBlankCode(t *testing.T) {
	svc, _ := setupUnitService(t)

	_, err := svc.CreateType(context.Background(), unitdomain.CreateUnitTypeRequest{
		Code:         "   ",
		MonthlyPrice: decimal.RequireFromString("25.00"),
	})
	assert.ErrorIs(t, err, unitdomain.ErrInvalidCode)
}

func TestCreateUnitDuplicateCode(t *testing.T) {
	svc, _ := setupUnitService(t)
	ctx := context.Background()

	unitType, err := svc.CreateType(ctx, unitdomain.CreateUnitTypeRequest{
		Code:         "locker-s",
		MonthlyPrice: decimal.RequireFromString("25.00"),
	})
	require.NoError(t, err)

	_, err = svc.Create(ctx, unitdomain.CreateUnitRequest{Code: "A-101", UnitTypeID: unitType.ID.String()})
	require.NoError(t, err)

	_, err = svc.Create(ctx, unitdomain.CreateUnitRequest{Code: "A-101", UnitTypeID: unitType.ID.String()})
	assert.ErrorIs(t, err, unitdomain.ErrCodeExists)
}

func TestCreateUnitUnknownType(t *testing.T) {
	svc, _ := setupUnitService(t)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), unitdomain.CreateUnitRequest{
		Code:       "A-101",
		UnitTypeID: node.Generate().String(),
	})
	assert.ErrorIs(t, err, unitdomain.ErrUnitTypeNotFound)
}

func TestSetUnitStatus(t *testing.T) {
	svc, _ := setupUnitService(t)
	ctx := context.Background()

	unitType, err := svc.CreateType(ctx, unitdomain.CreateUnitTypeRequest{
		Code:         "locker-s",
		MonthlyPrice: decimal.RequireFromString("25.00"),
	})
	require.NoError(t, err)

	unit, err := svc.Create(ctx, unitdomain.CreateUnitRequest{Code: "A-101", UnitTypeID: unitType.ID.String()})
	require.NoError(t, err)

	updated, err := svc.SetStatus(ctx, unitdomain.SetUnitStatusRequest{
		UnitID: unit.ID.String(),
		Status: unitdomain.UnitStatusMaintenance,
	})
	require.NoError(t, err)
	assert.Equal(t, unitdomain.UnitStatusMaintenance, updated.Status)

	_, err = svc.SetStatus(ctx, unitdomain.SetUnitStatusRequest{
		UnitID: unit.ID.String(),
		Status: unitdomain.UnitStatus("BROKEN"),
	})
	assert.ErrorIs(t, err, unitdomain.ErrInvalidStatus)
}

func TestListUnitsFilters(t *testing.T) {
	svc, fake := setupUnitService(t)
	ctx := context.Background()

	unitType, err := svc.CreateType(ctx, unitdomain.CreateUnitTypeRequest{
		Code:         "locker-s",
		MonthlyPrice: decimal.RequireFromString("25.00"),
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = svc.Create(ctx, unitdomain.CreateUnitRequest{
			Code:       fmt.Sprintf("A-10%d", i),
			UnitTypeID: unitType.ID.String(),
		})
		require.NoError(t, err)
		fake.Advance(time.Second)
	}

	all, err := svc.List(ctx, unitdomain.ListUnitsRequest{})
	require.NoError(t, err)
	assert.Len(t, all.Units, 3)

	available, err := svc.List(ctx, unitdomain.ListUnitsRequest{Status: "available"})
	require.NoError(t, err)
	assert.Len(t, available.Units, 3)

	_, err = svc.List(ctx, unitdomain.ListUnitsRequest{Status: "nonsense"})
	assert.ErrorIs(t, err, unitdomain.ErrInvalidStatus)
}
