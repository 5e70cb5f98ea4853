package main

import (
	"chat-relay/internal/gateway"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. The relay's surface is small
// on purpose: account and history CRUD lives in a separate service that
// shares the same database and JWT secret.
func registerRoutes(r *gin.Engine, ws *gateway.Handler) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// The persistent signaling connection. Authentication happens inside
	// the handler: the token rides the query string because browser
	// WebSocket clients cannot set an Authorization header.
	r.GET("/chat-ws", ws.Serve)
}
