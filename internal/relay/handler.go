package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rescuelink/backend/internal/auth"
	"github.com/rescuelink/backend/internal/models"
	ws "github.com/rescuelink/backend/internal/websocket"
)

// The bridge connects server to server and sends no browser Origin.
var bridgeUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Handler exposes the bridge media endpoint, operator listen-in, and the
// live call listing.
type Handler struct {
	relay      *Relay
	jwtService *auth.JWTService
	upgrader   websocket.Upgrader
	bufferSize int
	logger     *zap.Logger
}

func NewHandler(relay *Relay, jwtService *auth.JWTService, allowedOrigins []string, bufferSize int, logger *zap.Logger) *Handler {
	return &Handler{
		relay:      relay,
		jwtService: jwtService,
		upgrader:   ws.NewUpgrader(allowedOrigins),
		bufferSize: bufferSize,
		logger:     logger.With(zap.String("component", "relay")),
	}
}

// HandleMediaStream accepts the telephony bridge socket. The stream is
// registered on the bridge's start frame and torn down on stop or when the
// socket drops.
func (h *Handler) HandleMediaStream(c *gin.Context) {
	conn, err := bridgeUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade bridge connection", zap.Error(err))
		return
	}

	peer := ws.NewPeer(conn, h.bufferSize)
	go peer.WritePump()

	ctx := context.WithoutCancel(c.Request.Context())
	var callSID string
	err = peer.ReadLoop(func(data []byte) {
		var msg models.BridgeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("malformed bridge frame", zap.Error(err))
			return
		}
		if msg.Event == models.BridgeEventStart && callSID == "" {
			callSID = msg.ResolveCallSID()
			if callSID == "" {
				h.logger.Warn("bridge start frame without call id")
				return
			}
			var params map[string]interface{}
			if msg.Start != nil {
				params = msg.Start.CustomParameters
			}
			h.relay.RegisterStream(ctx, callSID, msg.ResolveStreamSID(), params, peer)
		}
		if callSID == "" {
			return
		}
		h.relay.HandleBridgeMessage(ctx, callSID, msg)
	})
	if err != nil {
		h.logger.Warn("bridge connection error", zap.String("call_sid", callSID), zap.Error(err))
	}
	if callSID != "" {
		h.relay.CleanupBridge(ctx, callSID, peer)
	}
}

// HandleListen attaches an operator socket to a live call. The operator is
// identified by the token subject.
func (h *Handler) HandleListen(c *gin.Context) {
	callSID := c.Param("callSid")

	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token required"})
		return
	}
	claims, err := h.jwtService.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	if !h.relay.HasStream(callSID) {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrStreamNotFound.Error()})
		return
	}

	filters := models.TrackFilters{
		IncludeInbound:  queryBool(c, "includeInbound", true),
		IncludeOutbound: queryBool(c, "includeOutbound", true),
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade operator connection", zap.Error(err))
		return
	}

	peer := ws.NewPeer(conn, h.bufferSize)
	go peer.WritePump()

	if !h.relay.AddOperator(callSID, claims.Subject, peer, &filters) {
		peer.Close(websocket.CloseNormalClosure, "call ended")
		return
	}

	// Operators only listen; inbound frames are drained to keep pongs flowing.
	if err := peer.ReadLoop(func([]byte) {}); err != nil {
		h.logger.Debug("operator connection error", zap.String("operator_id", claims.Subject), zap.Error(err))
	}
}

// ListActive returns live call streams.
func (h *Handler) ListActive(c *gin.Context) {
	streams := h.relay.ActiveStreams()
	c.JSON(http.StatusOK, gin.H{
		"streams": streams,
		"count":   len(streams),
	})
}

func queryBool(c *gin.Context, key string, def bool) bool {
	v, err := strconv.ParseBool(c.Query(key))
	if err != nil {
		return def
	}
	return v
}
