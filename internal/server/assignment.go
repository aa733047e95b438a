package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	assignmentdomain "github.com/makerhaus/storman/internal/assignment/domain"
)

type claimUnitRequest struct {
	UnitID          string `json:"unit_id"`
	MemberID        string `json:"member_id"`
	Complimentary   bool   `json:"complimentary"`
	PriceOverrideID string `json:"price_override_id"`
}

func (s *Server) ClaimUnit(c *gin.Context) {
	var req claimUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.assignmentSvc.Claim(c.Request.Context(), assignmentdomain.ClaimUnitRequest{
		UnitID:          strings.TrimSpace(req.UnitID),
		MemberID:        strings.TrimSpace(req.MemberID),
		Complimentary:   req.Complimentary,
		PriceOverrideID: strings.TrimSpace(req.PriceOverrideID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetAssignmentByID(c *gin.Context) {
	resp, err := s.assignmentSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListAssignments(c *gin.Context) {
	var query assignmentdomain.ListAssignmentsRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.assignmentSvc.List(c.Request.Context(), query)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReleaseAssignment(c *gin.Context) {
	resp, err := s.assignmentSvc.Release(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ResyncAssignment(c *gin.Context) {
	resp, err := s.assignmentSvc.Resync(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type resolveManualReviewRequest struct {
	Note string `json:"note"`
}

func (s *Server) ResolveManualReview(c *gin.Context) {
	var req resolveManualReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.assignmentSvc.ResolveManualReview(c.Request.Context(), assignmentdomain.ResolveManualReviewRequest{
		AssignmentID: c.Param("id"),
		Note:         strings.TrimSpace(req.Note),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// GetAssignmentPrice returns the Stripe price the assignment bills at after
// walking the override chain.
func (s *Server) GetAssignmentPrice(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, assignmentdomain.ErrInvalidAssignment)
		return
	}

	priceID, err := s.syncEngine.AssignmentPriceID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"price_id": priceID}})
}

type linkSubscriptionItemRequest struct {
	SubscriptionID     string `json:"subscription_id"`
	SubscriptionItemID string `json:"subscription_item_id"`
}

func (s *Server) LinkSubscriptionItem(c *gin.Context) {
	var req linkSubscriptionItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.assignmentSvc.LinkToSubscriptionItem(c.Request.Context(), assignmentdomain.LinkSubscriptionItemRequest{
		AssignmentID:       c.Param("id"),
		SubscriptionID:     strings.TrimSpace(req.SubscriptionID),
		SubscriptionItemID: strings.TrimSpace(req.SubscriptionItemID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
