package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	violationdomain "github.com/makerhaus/storman/internal/violation/domain"
	"github.com/shopspring/decimal"
)

type startViolationRequest struct {
	DailyRate string `json:"daily_rate"`
	Note      string `json:"note"`
	StartAt   string `json:"start_at"`
}

func (s *Server) StartViolation(c *gin.Context) {
	var req startViolationRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	var rate *decimal.Decimal
	if raw := strings.TrimSpace(req.DailyRate); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			AbortWithError(c, newValidationError("daily_rate", "invalid_daily_rate", "invalid daily rate"))
			return
		}
		rate = &parsed
	}

	startAt, err := parseOptionalTime(req.StartAt)
	if err != nil {
		AbortWithError(c, newValidationError("start_at", "invalid_start_at", "invalid start_at"))
		return
	}

	resp, err := s.violationSvc.Start(c.Request.Context(), violationdomain.StartViolationRequest{
		AssignmentID: c.Param("id"),
		DailyRate:    rate,
		Note:         strings.TrimSpace(req.Note),
		StartAt:      startAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListViolations(c *gin.Context) {
	resp, err := s.violationSvc.ListByAssignment(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetViolationByID(c *gin.Context) {
	resp, err := s.violationSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetAccruedCharge(c *gin.Context) {
	asOf := time.Now().UTC()
	if raw := strings.TrimSpace(c.Query("as_of")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			AbortWithError(c, newValidationError("as_of", "invalid_as_of", "invalid as_of"))
			return
		}
		asOf = parsed.UTC()
	}

	charge, err := s.violationSvc.AccruedCharge(c.Request.Context(), c.Param("id"), asOf)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"as_of":          asOf,
		"accrued_charge": charge.StringFixed(2),
	}})
}

type finalizeViolationRequest struct {
	EndAt string `json:"end_at"`
}

func (s *Server) FinalizeViolation(c *gin.Context) {
	var req finalizeViolationRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	endAt, err := parseOptionalTime(req.EndAt)
	if err != nil {
		AbortWithError(c, newValidationError("end_at", "invalid_end_at", "invalid end_at"))
		return
	}

	resp, err := s.violationSvc.Finalize(c.Request.Context(), violationdomain.FinalizeViolationRequest{
		ViolationID: c.Param("id"),
		EndAt:       endAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateViolationRateRequest struct {
	DailyRate string `json:"daily_rate"`
}

func (s *Server) UpdateViolationRate(c *gin.Context) {
	var req updateViolationRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rate, err := decimal.NewFromString(strings.TrimSpace(req.DailyRate))
	if err != nil {
		AbortWithError(c, newValidationError("daily_rate", "invalid_daily_rate", "invalid daily rate"))
		return
	}

	resp, err := s.violationSvc.UpdateRate(c.Request.Context(), violationdomain.UpdateRateRequest{
		ViolationID: c.Param("id"),
		DailyRate:   rate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type updateViolationNoteRequest struct {
	Note string `json:"note"`
}

func (s *Server) UpdateViolationNote(c *gin.Context) {
	var req updateViolationNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.violationSvc.UpdateNote(c.Request.Context(), violationdomain.UpdateNoteRequest{
		ViolationID: c.Param("id"),
		Note:        req.Note,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func parseOptionalTime(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	utc := parsed.UTC()
	return &utc, nil
}
