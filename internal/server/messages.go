package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	messagingdomain "github.com/smallbiznis/campaigncredit/internal/messaging/domain"
	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
	"github.com/smallbiznis/campaigncredit/internal/tenantcontext"
)

type sendMessageRequest struct {
	Channel    string   `json:"channel"`
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	Reference  string   `json:"reference"`
}

func (s *Server) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	channel, err := pricingdomain.ParseChannel(req.Channel)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	tenantID, _ := tenantcontext.TenantIDFromContext(c.Request.Context())
	resp, err := s.messagingSvc.Send(c.Request.Context(), messagingdomain.Message{
		TenantID:   tenantID,
		Channel:    channel,
		Recipients: req.Recipients,
		Subject:    strings.TrimSpace(req.Subject),
		Body:       req.Body,
		Reference:  strings.TrimSpace(req.Reference),
	})
	if err != nil {
		// partial deliveries still report what was charged and refunded
		if errors.Is(err, messagingdomain.ErrDeliveryFailed) && resp != nil {
			status, payload := mapError(err)
			c.JSON(status, gin.H{"error": payload, "data": resp})
			return
		}
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
