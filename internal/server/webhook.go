package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitled/internal/entitlement/domain"
	"github.com/smallbiznis/entitled/internal/provider/dodo"
)

const maxWebhookBody = 1 << 20

// HandleWebhook verifies, parses, and reconciles one Dodo delivery. Replays
// and unrecognized event types are acknowledged with 200 so the provider
// stops retrying.
func (s *Server) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, domain.ErrInvalidPayload)
		return
	}

	webhookID, err := s.verifier.Verify(c.Request.Header, body)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	event, err := dodo.ParseEvent(body)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if _, err := s.reconciler.Apply(c.Request.Context(), event, domain.Delivery{
		WebhookID: webhookID,
		Payload:   body,
	}); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
