package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/makerhaus/storman/internal/clock"
	unitdomain "github.com/makerhaus/storman/internal/unit/domain"
	"github.com/makerhaus/storman/pkg/db"
	"github.com/makerhaus/storman/pkg/db/option"
	"github.com/makerhaus/storman/pkg/db/pagination"
	"github.com/makerhaus/storman/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock

	unitRepo repository.Repository[unitdomain.Unit]
	typeRepo repository.Repository[unitdomain.UnitType]
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

func NewService(p ServiceParam) unitdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("unit.service"),

		genID: p.GenID,
		clock: p.Clock,

		unitRepo: repository.ProvideStore[unitdomain.Unit](p.DB),
		typeRepo: repository.ProvideStore[unitdomain.UnitType](p.DB),
	}
}

// CreateType implements domain.Service.
func (s *Service) CreateType(ctx context.Context, req unitdomain.CreateUnitTypeRequest) (unitdomain.UnitType, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return unitdomain.UnitType{}, unitdomain.ErrInvalidCode
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = code
	}

	now := s.clock.Now()
	unitType := unitdomain.UnitType{
		ID:            s.genID.Generate(),
		Code:          code,
		Name:          name,
		MonthlyPrice:  req.MonthlyPrice,
		StripePriceID: strings.TrimSpace(req.StripePriceID),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.typeRepo.Create(ctx, &unitType); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return unitdomain.UnitType{}, unitdomain.ErrCodeExists
		}
		return unitdomain.UnitType{}, err
	}

	return unitType, nil
}

// GetType implements domain.Service.
func (s *Service) GetType(ctx context.Context, id string) (unitdomain.UnitType, error) {
	typeID, err := parseID(id, unitdomain.ErrInvalidUnitType)
	if err != nil {
		return unitdomain.UnitType{}, err
	}

	unitType, err := s.typeRepo.FindOne(ctx, &unitdomain.UnitType{ID: typeID})
	if err != nil {
		return unitdomain.UnitType{}, err
	}
	if unitType == nil {
		return unitdomain.UnitType{}, unitdomain.ErrUnitTypeNotFound
	}

	return *unitType, nil
}

// ListTypes implements domain.Service.
func (s *Service) ListTypes(ctx context.Context) ([]unitdomain.UnitType, error) {
	rows, err := s.typeRepo.Find(ctx, &unitdomain.UnitType{}, option.WithSortBy("code asc"))
	if err != nil {
		return nil, err
	}

	types := make([]unitdomain.UnitType, 0, len(rows))
	for _, row := range rows {
		types = append(types, *row)
	}
	return types, nil
}

// Create implements domain.Service.
func (s *Service) Create(ctx context.Context, req unitdomain.CreateUnitRequest) (unitdomain.Unit, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return unitdomain.Unit{}, unitdomain.ErrInvalidCode
	}

	typeID, err := parseID(req.UnitTypeID, unitdomain.ErrInvalidUnitType)
	if err != nil {
		return unitdomain.Unit{}, err
	}
	unitType, err := s.typeRepo.FindOne(ctx, &unitdomain.UnitType{ID: typeID})
	if err != nil {
		return unitdomain.Unit{}, err
	}
	if unitType == nil {
		return unitdomain.Unit{}, unitdomain.ErrUnitTypeNotFound
	}

	now := s.clock.Now()
	unit := unitdomain.Unit{
		ID:         s.genID.Generate(),
		Code:       code,
		UnitTypeID: unitType.ID,
		Status:     unitdomain.UnitStatusAvailable,
		Attributes: datatypes.JSONMap(req.Attributes),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.unitRepo.Create(ctx, &unit); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return unitdomain.Unit{}, unitdomain.ErrCodeExists
		}
		return unitdomain.Unit{}, err
	}

	return unit, nil
}

// Get implements domain.Service.
func (s *Service) Get(ctx context.Context, id string) (unitdomain.Unit, error) {
	unitID, err := parseID(id, unitdomain.ErrInvalidUnit)
	if err != nil {
		return unitdomain.Unit{}, err
	}

	unit, err := s.unitRepo.FindOne(ctx, &unitdomain.Unit{ID: unitID})
	if err != nil {
		return unitdomain.Unit{}, err
	}
	if unit == nil {
		return unitdomain.Unit{}, unitdomain.ErrUnitNotFound
	}

	return *unit, nil
}

// GetByCode implements domain.Service.
func (s *Service) GetByCode(ctx context.Context, code string) (unitdomain.Unit, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return unitdomain.Unit{}, unitdomain.ErrInvalidCode
	}

	unit, err := s.unitRepo.FindOne(ctx, &unitdomain.Unit{Code: code})
	if err != nil {
		return unitdomain.Unit{}, err
	}
	if unit == nil {
		return unitdomain.Unit{}, unitdomain.ErrUnitNotFound
	}

	return *unit, nil
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context, req unitdomain.ListUnitsRequest) (unitdomain.ListUnitsResponse, error) {
	query := unitdomain.Unit{}
	if status := strings.TrimSpace(req.Status); status != "" {
		unitStatus := unitdomain.UnitStatus(strings.ToUpper(status))
		if !unitdomain.ValidStatus(unitStatus) {
			return unitdomain.ListUnitsResponse{}, unitdomain.ErrInvalidStatus
		}
		query.Status = unitStatus
	}
	if typeID := strings.TrimSpace(req.UnitTypeID); typeID != "" {
		parsed, err := parseID(typeID, unitdomain.ErrInvalidUnitType)
		if err != nil {
			return unitdomain.ListUnitsResponse{}, err
		}
		query.UnitTypeID = parsed
	}

	rows, err := s.unitRepo.Find(ctx, &query,
		option.ApplyPagination(req.Pagination),
		option.WithSortBy("created_at desc"),
	)
	if err != nil {
		return unitdomain.ListUnitsResponse{}, err
	}

	pageInfo, rows := pagination.BuildCursorPageInfo(rows, req.PageSize, func(u *unitdomain.Unit) pagination.Cursor {
		return pagination.Cursor{CreatedAt: u.CreatedAt.Format(time.RFC3339Nano)}
	})

	units := make([]unitdomain.Unit, 0, len(rows))
	for _, row := range rows {
		units = append(units, *row)
	}

	return unitdomain.ListUnitsResponse{PageInfo: pageInfo, Units: units}, nil
}

// SetStatus implements domain.Service.
func (s *Service) SetStatus(ctx context.Context, req unitdomain.SetUnitStatusRequest) (unitdomain.Unit, error) {
	if !unitdomain.ValidStatus(req.Status) {
		return unitdomain.Unit{}, unitdomain.ErrInvalidStatus
	}

	unit, err := s.Get(ctx, req.UnitID)
	if err != nil {
		return unitdomain.Unit{}, err
	}
	if unit.Status == req.Status {
		return unit, nil
	}

	unit.Status = req.Status
	unit.UpdatedAt = s.clock.Now()
	if err := s.unitRepo.Update(ctx, unit.ID.String(), map[string]any{
		"status":     unit.Status,
		"updated_at": unit.UpdatedAt,
	}); err != nil {
		return unitdomain.Unit{}, err
	}

	return unit, nil
}

func parseID(raw string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, invalid
	}
	return id, nil
}
