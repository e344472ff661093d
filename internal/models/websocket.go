package models

import "time"

// Dashboard client -> server message types
const (
	ClientMsgSubscribe    = "subscribe"
	ClientMsgUnsubscribe  = "unsubscribe"
	ClientMsgAuthenticate = "authenticate"
	ClientMsgPing         = "ping"
)

// Dashboard server -> client message types
const (
	ServerMsgConnection    = "connection"
	ServerMsgSubscribed    = "subscribed"
	ServerMsgUnsubscribed  = "unsubscribed"
	ServerMsgAuthenticated = "authenticated"
	ServerMsgPong          = "pong"
	ServerMsgEvent         = "event"
	ServerMsgError         = "error"
)

type WSClientMessage struct {
	Type     string `json:"type"`
	Room     string `json:"room,omitempty"`
	UserID   string `json:"userId,omitempty"`
	UserRole string `json:"userRole,omitempty"`
}

type WSConnectionMessage struct {
	Type      string    `json:"type"`
	ClientID  string    `json:"clientId"`
	Timestamp time.Time `json:"timestamp"`
}

type WSRoomAck struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

type WSAuthenticatedMessage struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	UserRole string `json:"userRole"`
}

type WSPongMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// WSEventEnvelope wraps a domain event for a room broadcast.
type WSEventEnvelope struct {
	Type      string      `json:"type"`
	Room      string      `json:"room"`
	Event     DomainEvent `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
}

type WSErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
