package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rescuelink/backend/internal/eventbus"
	"github.com/rescuelink/backend/internal/metrics"
	"github.com/rescuelink/backend/internal/models"
)

// Subscriber is the part of the event bus the hub listens on.
type Subscriber interface {
	Subscribe(ctx context.Context, eventName, handlerName string, fn eventbus.HandlerFunc) error
}

// eventRooms maps each domain event to the rooms it is fanned out to.
var eventRooms = map[string][]models.Room{
	models.EventCallStarted:             {models.QueueRoom},
	models.EventCallQueued:              {models.QueueRoom},
	models.EventCallEnded:               {models.QueueRoom},
	models.EventOperatorStatusChanged:   {models.OperatorsRoom},
	models.EventDispatchCreated:         {models.DispatchesRoom},
	models.EventDispatchStatusChanged:   {models.DispatchesRoom},
	models.EventAmbulanceAssigned:       {models.DispatchesRoom, models.MapRoom},
	models.EventAmbulanceLocationUpdate: {models.MapRoom},
	models.EventAmbulanceStatusChanged:  {models.MapRoom},
	models.EventSystemNotice:            {models.AllRoom},
}

// Events whose payload may carry a dispatchId and so also reach dispatch-<id>.
var dispatchScoped = map[string]bool{
	models.EventDispatchCreated:         true,
	models.EventDispatchStatusChanged:   true,
	models.EventAmbulanceAssigned:       true,
	models.EventAmbulanceLocationUpdate: true,
	models.EventAmbulanceStatusChanged:  true,
}

// RoomsFor returns every room evt should be broadcast to.
func RoomsFor(evt models.DomainEvent) []models.Room {
	rooms := append([]models.Room(nil), eventRooms[evt.Name]...)
	if dispatchScoped[evt.Name] {
		if id, ok := evt.DispatchID(); ok {
			rooms = append(rooms, models.DispatchRoom(uuid.MustParse(id)))
		}
	}
	return rooms
}

// Client is a connected dashboard.
type Client struct {
	id          string
	peer        *Peer
	limiter     *rate.Limiter
	connectedAt time.Time

	mu       sync.RWMutex
	userID   string
	userRole string
}

func (c *Client) ID() string { return c.id }

// Identity returns the user attached by authenticate, if any.
func (c *Client) Identity() (userID, userRole string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID, c.userRole
}

func (c *Client) setIdentity(userID, userRole string) {
	c.mu.Lock()
	c.userID = userID
	c.userRole = userRole
	c.mu.Unlock()
}

// HubOptions tunes per-client behaviour.
type HubOptions struct {
	ClientMessagesPerSec int
	SendBufferSize       int
}

// Hub maintains connected dashboard clients, their room memberships, and
// fans domain events out to rooms.
type Hub struct {
	bus     Subscriber
	logger  *zap.Logger
	metrics *metrics.Metrics
	opts    HubOptions

	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[models.Room]map[string]*Client
	joined  map[string]map[models.Room]struct{}
}

// NewHub creates a new Hub
func NewHub(bus Subscriber, logger *zap.Logger, m *metrics.Metrics, opts HubOptions) *Hub {
	if opts.ClientMessagesPerSec <= 0 {
		opts.ClientMessagesPerSec = 20
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = defaultSendBuffer
	}
	return &Hub{
		bus:     bus,
		logger:  logger.With(zap.String("component", "gateway")),
		metrics: m,
		opts:    opts,
		clients: make(map[string]*Client),
		rooms:   make(map[models.Room]map[string]*Client),
		joined:  make(map[string]map[models.Room]struct{}),
	}
}

// Start subscribes the hub to every routed domain event.
func (h *Hub) Start(ctx context.Context) error {
	for name := range eventRooms {
		if err := h.bus.Subscribe(ctx, name, "dashboard-gateway", h.handleEvent); err != nil {
			return fmt.Errorf("gateway subscribe %s: %w", name, err)
		}
	}
	h.logger.Info("dashboard gateway started", zap.Int("routes", len(eventRooms)))
	return nil
}

func (h *Hub) handleEvent(_ context.Context, evt models.DomainEvent) error {
	for _, room := range RoomsFor(evt) {
		h.BroadcastToRoom(room, evt)
	}
	return nil
}

// Register adds a client for peer, joins it to the all room, and sends the
// connection greeting.
func (h *Hub) Register(peer *Peer) *Client {
	c := &Client{
		id:          uuid.NewString(),
		peer:        peer,
		limiter:     rate.NewLimiter(rate.Limit(h.opts.ClientMessagesPerSec), h.opts.ClientMessagesPerSec*2),
		connectedAt: time.Now().UTC(),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.joined[c.id] = make(map[models.Room]struct{})
	h.joinLocked(c, models.AllRoom)
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetDashboardClients(count)
	h.logger.Info("dashboard client connected", zap.String("client_id", c.id), zap.Int("clients", count))

	h.sendJSON(c, models.WSConnectionMessage{
		Type:      models.ServerMsgConnection,
		ClientID:  c.id,
		Timestamp: c.connectedAt,
	})
	return c
}

// Unregister removes the client from every room and closes its peer. Calling
// it more than once is a no-op.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	for room := range h.joined[c.id] {
		h.leaveLocked(c, room)
	}
	delete(h.joined, c.id)
	delete(h.clients, c.id)
	count := len(h.clients)
	h.mu.Unlock()

	c.peer.Close(websocket.CloseNormalClosure, "")
	h.metrics.SetDashboardClients(count)
	h.logger.Info("dashboard client disconnected", zap.String("client_id", c.id), zap.Int("clients", count))
}

// Serve pumps the client's connection until it closes.
func (h *Hub) Serve(c *Client) {
	defer h.Unregister(c)

	go c.peer.WritePump()
	if err := c.peer.ReadLoop(func(data []byte) { h.HandleMessage(c, data) }); err != nil {
		h.logger.Warn("dashboard connection error", zap.String("client_id", c.id), zap.Error(err))
	}
}

// HandleMessage applies one inbound client message.
func (h *Hub) HandleMessage(c *Client, data []byte) {
	if !c.limiter.Allow() {
		h.sendError(c, "rate limit exceeded")
		return
	}

	var msg models.WSClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Warn("invalid client message", zap.String("client_id", c.id), zap.Error(err))
		h.sendError(c, "invalid message format")
		return
	}

	switch msg.Type {
	case models.ClientMsgSubscribe:
		room, ok := h.parseRoom(c, msg.Room)
		if !ok {
			return
		}
		h.Join(c, room)
		h.sendJSON(c, models.WSRoomAck{Type: models.ServerMsgSubscribed, Room: room.String()})

	case models.ClientMsgUnsubscribe:
		room, ok := h.parseRoom(c, msg.Room)
		if !ok {
			return
		}
		h.Leave(c, room)
		h.sendJSON(c, models.WSRoomAck{Type: models.ServerMsgUnsubscribed, Room: room.String()})

	case models.ClientMsgAuthenticate:
		c.setIdentity(msg.UserID, msg.UserRole)
		h.logger.Info("dashboard client authenticated",
			zap.String("client_id", c.id),
			zap.String("user_id", msg.UserID),
			zap.String("user_role", msg.UserRole))
		h.sendJSON(c, models.WSAuthenticatedMessage{
			Type:     models.ServerMsgAuthenticated,
			UserID:   msg.UserID,
			UserRole: msg.UserRole,
		})

	case models.ClientMsgPing:
		h.sendJSON(c, models.WSPongMessage{Type: models.ServerMsgPong, Timestamp: time.Now().UTC()})

	default:
		h.logger.Warn("ignoring unknown client message", zap.String("client_id", c.id), zap.String("type", msg.Type))
	}
}

func (h *Hub) parseRoom(c *Client, raw string) (models.Room, bool) {
	room, err := models.ParseRoom(raw)
	if err != nil {
		h.logger.Warn("client requested invalid room", zap.String("client_id", c.id), zap.String("room", raw))
		h.sendError(c, "invalid room: "+raw)
		return models.Room{}, false
	}
	return room, true
}

// Join adds the client to room. Joining twice is harmless.
func (h *Hub) Join(c *Client, room models.Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	h.joinLocked(c, room)
}

// Leave removes the client from room.
func (h *Hub) Leave(c *Client, room models.Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) joinLocked(c *Client, room models.Room) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[c.id] = c
	h.joined[c.id][room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Client, room models.Room) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.joined[c.id]; ok {
		delete(rooms, room)
	}
}

// BroadcastToRoom sends evt to every current member of room. A client that
// cannot take the message is logged and skipped.
func (h *Hub) BroadcastToRoom(room models.Room, evt models.DomainEvent) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	if len(members) == 0 {
		h.logger.Debug("no clients in room", zap.String("room", room.String()), zap.String("event_name", evt.Name))
		return
	}

	data, err := json.Marshal(models.WSEventEnvelope{
		Type:      models.ServerMsgEvent,
		Room:      room.String(),
		Event:     evt,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("failed to encode event envelope", zap.String("event_name", evt.Name), zap.Error(err))
		return
	}

	h.metrics.Broadcast(roomLabel(room))
	for _, c := range members {
		if err := c.peer.Send(data); err != nil {
			h.metrics.SendFailed()
			h.logger.Warn("failed to deliver event to client",
				zap.String("client_id", c.id),
				zap.String("room", room.String()),
				zap.String("event_name", evt.Name),
				zap.Error(err))
		}
	}
}

// Per-dispatch rooms share one label to keep metric cardinality bounded.
func roomLabel(room models.Room) string {
	if room.Kind() == models.RoomDispatch {
		return "dispatch"
	}
	return room.String()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of clients in room.
func (h *Hub) RoomSize(room models.Room) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) sendJSON(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("failed to encode message", zap.String("client_id", c.id), zap.Error(err))
		return
	}
	if err := c.peer.Send(data); err != nil {
		h.metrics.SendFailed()
		h.logger.Warn("failed to send to client", zap.String("client_id", c.id), zap.Error(err))
	}
}

func (h *Hub) sendError(c *Client, message string) {
	h.sendJSON(c, models.WSErrorMessage{Type: models.ServerMsgError, Message: message})
}
