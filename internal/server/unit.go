package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	unitdomain "github.com/makerhaus/storman/internal/unit/domain"
	"github.com/shopspring/decimal"
)

type createUnitTypeRequest struct {
	Code          string `json:"code"`
	Name          string `json:"name"`
	MonthlyPrice  string `json:"monthly_price"`
	StripePriceID string `json:"stripe_price_id"`
}

func (s *Server) CreateUnitType(c *gin.Context) {
	var req createUnitTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	price := decimal.Zero
	if raw := strings.TrimSpace(req.MonthlyPrice); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || parsed.IsNegative() {
			AbortWithError(c, newValidationError("monthly_price", "invalid_monthly_price", "invalid monthly price"))
			return
		}
		price = parsed
	}

	resp, err := s.unitSvc.CreateType(c.Request.Context(), unitdomain.CreateUnitTypeRequest{
		Code:          strings.TrimSpace(req.Code),
		Name:          strings.TrimSpace(req.Name),
		MonthlyPrice:  price,
		StripePriceID: strings.TrimSpace(req.StripePriceID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetUnitTypeByID(c *gin.Context) {
	resp, err := s.unitSvc.GetType(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListUnitTypes(c *gin.Context) {
	resp, err := s.unitSvc.ListTypes(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type createUnitRequest struct {
	Code       string         `json:"code"`
	UnitTypeID string         `json:"unit_type_id"`
	Attributes map[string]any `json:"attributes"`
}

func (s *Server) CreateUnit(c *gin.Context) {
	var req createUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.unitSvc.Create(c.Request.Context(), unitdomain.CreateUnitRequest{
		Code:       strings.TrimSpace(req.Code),
		UnitTypeID: strings.TrimSpace(req.UnitTypeID),
		Attributes: req.Attributes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetUnitByID(c *gin.Context) {
	resp, err := s.unitSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListUnits(c *gin.Context) {
	var query unitdomain.ListUnitsRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.unitSvc.List(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type setUnitStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) SetUnitStatus(c *gin.Context) {
	var req setUnitStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.unitSvc.SetStatus(c.Request.Context(), unitdomain.SetUnitStatusRequest{
		UnitID: c.Param("id"),
		Status: unitdomain.UnitStatus(strings.ToUpper(strings.TrimSpace(req.Status))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
