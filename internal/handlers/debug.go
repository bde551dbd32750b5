package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"conversation-service/internal/telemetry"
	"conversation-service/internal/ws"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRoutes, hub *ws.Hub, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/hub", func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.Stats())
	})

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), telemetry.AuditRecord{Action: "audit_test", ActorID: userID(c), Text: "audit test"})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
