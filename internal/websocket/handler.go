package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rescuelink/backend/internal/auth"
)

// Handler upgrades dashboard connections and hands them to the hub.
type Handler struct {
	hub        *Hub
	jwtService *auth.JWTService
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewHandler creates a new WebSocket handler. With no allowed origins every
// origin is accepted, which is only meant for development.
func NewHandler(hub *Hub, jwtService *auth.JWTService, allowedOrigins []string, logger *zap.Logger) *Handler {
	return &Handler{
		hub:        hub,
		jwtService: jwtService,
		upgrader:   NewUpgrader(allowedOrigins),
		logger:     logger.With(zap.String("component", "gateway")),
	}
}

// NewUpgrader builds an upgrader that checks Origin against allowedOrigins.
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return false
			}
			for _, pattern := range allowedOrigins {
				if matchOrigin(strings.TrimSpace(pattern), origin) {
					return true
				}
			}
			return false
		},
	}
}

// HandleWebSocket handles dashboard upgrade requests. A token query parameter
// is optional; when present it must be valid and pre-authenticates the client.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	var claims *auth.Claims
	if token := c.Query("token"); token != "" {
		var err error
		claims, err = h.jwtService.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade dashboard connection", zap.Error(err))
		return
	}

	client := h.hub.Register(NewPeer(conn, h.hub.opts.SendBufferSize))
	if claims != nil {
		client.setIdentity(claims.Subject, claims.Role)
	}

	go h.hub.Serve(client)
}

// Stats reports connected clients.
func (h *Handler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"clients": h.hub.ClientCount(),
	})
}

// matchOrigin supports exact matches or wildcard patterns like *.example.com
func matchOrigin(pattern, origin string) bool {
	if pattern == "*" || pattern == origin {
		return true
	}
	if strings.HasPrefix(pattern, "*.") {
		originHost := origin
		if u, err := url.Parse(origin); err == nil && u.Hostname() != "" {
			originHost = u.Hostname()
		}
		suffix := strings.TrimPrefix(pattern, "*")
		return strings.HasSuffix(originHost, suffix)
	}
	return false
}
