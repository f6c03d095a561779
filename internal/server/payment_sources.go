package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	sourcedomain "github.com/smallbiznis/rebill/internal/paymentsource/domain"
)

func (s *Server) CreatePaymentSource(c *gin.Context) {
	subscriberID, err := subscriberParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req struct {
		CardToken     string `json:"card_token"`
		CustomerEmail string `json:"customer_email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	source, err := s.sources.CreateFromToken(c.Request.Context(), sourcedomain.CreateFromTokenRequest{
		SubscriberID:  subscriberID,
		CardToken:     strings.TrimSpace(req.CardToken),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": source})
}

func (s *Server) GetActivePaymentSource(c *gin.Context) {
	subscriberID, err := subscriberParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	source, err := s.sources.FindActive(c.Request.Context(), subscriberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": source})
}

func (s *Server) CancelPaymentSource(c *gin.Context) {
	subscriberID, err := subscriberParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.sources.Cancel(c.Request.Context(), subscriberID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) ReactivatePaymentSource(c *gin.Context) {
	subscriberID, err := subscriberParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.sources.Reactivate(c.Request.Context(), subscriberID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func subscriberParam(c *gin.Context) (snowflake.ID, error) {
	raw := strings.TrimSpace(c.Param("subscriberId"))
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, newValidationError("subscriber_id", "invalid_subscriber", "invalid subscriber id")
	}
	return id, nil
}
