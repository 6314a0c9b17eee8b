package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"realtime-chat/internal/telemetry"
	"realtime-chat/internal/ws"
)

// DebugDeps are the registries exposed by the debug routes.
type DebugDeps struct {
	Emitter  *telemetry.AuditEmitter
	Chat     *ws.Presence
	Calls    *ws.Presence
	Bus      *ws.Bus
	Registry *CallRegistry
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, deps DebugDeps, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/presence", func(c *gin.Context) {
		online := deps.Chat.Online()
		groups := make(map[string]int, len(online))
		for _, identity := range online {
			groups[ws.ChatGroup(identity)] = deps.Bus.Size(ws.ChatGroup(identity))
		}
		calls := make([]gin.H, 0)
		for _, call := range deps.Registry.Active() {
			calls = append(calls, gin.H{"caller": call.Caller, "callee": call.Callee, "state": call.State.String()})
		}
		c.JSON(http.StatusOK, gin.H{
			"online":  online,
			"calling": deps.Calls.Online(),
			"groups":  groups,
			"calls":   calls,
		})
	})

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if deps.Emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		deps.Emitter.Emit(c.Request.Context(), "INFO", "audit test", requestIDFromContext(c), usernameFromContext(c))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
