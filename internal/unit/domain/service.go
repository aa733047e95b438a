package domain

import (
	"context"
	"errors"

	"github.com/makerhaus/storman/pkg/db/pagination"
	"github.com/shopspring/decimal"
)

type CreateUnitTypeRequest struct {
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	MonthlyPrice  decimal.Decimal `json:"monthly_price"`
	StripePriceID string          `json:"stripe_price_id,omitempty"`
}

type CreateUnitRequest struct {
	Code       string         `json:"code"`
	UnitTypeID string         `json:"unit_type_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type ListUnitsRequest struct {
	pagination.Pagination
	Status     string `form:"status"`
	UnitTypeID string `form:"unit_type_id"`
}

type ListUnitsResponse struct {
	pagination.PageInfo
	Units []Unit `json:"units"`
}

type SetUnitStatusRequest struct {
	UnitID string     `json:"-"`
	Status UnitStatus `json:"status"`
}

type Service interface {
	CreateType(context.Context, CreateUnitTypeRequest) (UnitType, error)
	GetType(ctx context.Context, id string) (UnitType, error)
	ListTypes(ctx context.Context) ([]UnitType, error)
	Create(context.Context, CreateUnitRequest) (Unit, error)
	Get(ctx context.Context, id string) (Unit, error)
	GetByCode(ctx context.Context, code string) (Unit, error)
	List(context.Context, ListUnitsRequest) (ListUnitsResponse, error)
	SetStatus(context.Context, SetUnitStatusRequest) (Unit, error)
}

var (
	ErrUnitNotFound     = errors.New("unit_not_found")
	ErrUnitTypeNotFound = errors.New("unit_type_not_found")
	ErrInvalidUnit      = errors.New("invalid_unit")
	ErrInvalidUnitType  = errors.New("invalid_unit_type")
	ErrInvalidCode      = errors.New("invalid_code")
	ErrCodeExists       = errors.New("code_exists")
	ErrInvalidStatus    = errors.New("invalid_status")
)

// ValidStatus reports whether the status is one of the known unit states.
func ValidStatus(status UnitStatus) bool {
	switch status {
	case UnitStatusAvailable, UnitStatusOccupied, UnitStatusMaintenance:
		return true
	}
	return false
}
