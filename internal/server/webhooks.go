package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandleGatewayWebhook ingests one asynchronous gateway event. Duplicates and
// events the engine does not act on still return 200 so the gateway stops
// redelivering.
func (s *Server) HandleGatewayWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.reconciler.Ingest(c.Request.Context(), payload, c.Request.Header); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
