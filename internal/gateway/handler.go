package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/registry"
	"chat-relay/internal/signaling"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const defaultMaxMessageBytes = 64 * 1024

// Handler upgrades HTTP requests to the persistent signaling connection
// and runs each connection's read loop. One goroutine per connection;
// inbound events are processed in arrival order.
type Handler struct {
	Auth     *auth.Manager
	Registry *registry.Registry
	Router   *signaling.Router

	// MaxMessageBytes caps one inbound frame; zero means the default.
	MaxMessageBytes int64

	Log *slog.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect from app origins unknown to the relay;
	// origin enforcement belongs to the fronting proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve handles GET /chat-ws. The bearer token rides the `token` query
// parameter and is verified before any frame is processed; a bad
// handshake is answered with a policy-violation close, mirroring what
// clients of the protocol expect.
func (h *Handler) Serve(c *gin.Context) {
	log := h.logger()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Warn("websocket upgrade failed", "err", err)
		return
	}

	token := c.Query("token")
	if token == "" {
		closePolicyViolation(ws, "Token required")
		return
	}

	claims, err := h.Auth.Verify(token, auth.TokenTypeAccess, time.Now())
	if err != nil {
		closePolicyViolation(ws, "Invalid token")
		return
	}

	conn := newConn(claims.UserID, ws)
	h.Registry.Register(conn)

	log = log.With("user_id", claims.UserID)
	log.Info("user connected")

	defer func() {
		// Remove only if this handle is still the registered one; a
		// reconnect may have replaced it already.
		h.Registry.Remove(claims.UserID, conn)
		_ = conn.Close()
		log.Info("user disconnected")
	}()

	limit := h.MaxMessageBytes
	if limit <= 0 {
		limit = defaultMaxMessageBytes
	}
	ws.SetReadLimit(limit)

	// Store writes triggered by this connection's final events must not
	// be cancelled by the socket going away mid-write.
	evCtx := auth.WithIdentity(context.WithoutCancel(c.Request.Context()), claims.UserID)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn("connection read failed", "err", err)
			}
			return
		}
		h.Router.HandleFrame(evCtx, claims.UserID, data)
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}
