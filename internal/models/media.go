package models

import "time"

// Bridge stream events
const (
	BridgeEventStart = "start"
	BridgeEventMedia = "media"
	BridgeEventStop  = "stop"
)

// Audio tracks
const (
	TrackInbound  = "inbound"
	TrackOutbound = "outbound"
)

// Operator listen-in message types
const (
	OperatorMsgConnected = "connected"
	OperatorMsgAudio     = "audio"
	OperatorMsgCallEnded = "call_ended"
)

// BridgeMessage is one frame of the telephony media stream.
type BridgeMessage struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid,omitempty"`
	CallSID   string       `json:"callSid,omitempty"`
	Track     string       `json:"track,omitempty"`
	Start     *BridgeStart `json:"start,omitempty"`
	Media     *BridgeMedia `json:"media,omitempty"`
}

type BridgeStart struct {
	CallSID          string                 `json:"callSid"`
	StreamSID        string                 `json:"streamSid"`
	Tracks           []string               `json:"tracks,omitempty"`
	CustomParameters map[string]interface{} `json:"customParameters,omitempty"`
}

type BridgeMedia struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

// ResolveCallSID returns the call id the frame refers to, wherever it was carried.
func (m BridgeMessage) ResolveCallSID() string {
	if m.CallSID != "" {
		return m.CallSID
	}
	if m.Start != nil {
		return m.Start.CallSID
	}
	return ""
}

// ResolveStreamSID returns the stream id the frame refers to.
func (m BridgeMessage) ResolveStreamSID() string {
	if m.StreamSID != "" {
		return m.StreamSID
	}
	if m.Start != nil {
		return m.Start.StreamSID
	}
	return ""
}

// ResolveTrack prefers the track carried inside the media block.
func (m BridgeMessage) ResolveTrack() string {
	if m.Media != nil && m.Media.Track != "" {
		return m.Media.Track
	}
	return m.Track
}

// TrackFilters selects which tracks an operator hears.
type TrackFilters struct {
	IncludeInbound  bool `json:"includeInbound"`
	IncludeOutbound bool `json:"includeOutbound"`
}

// DefaultTrackFilters lets both sides of the call through.
func DefaultTrackFilters() TrackFilters {
	return TrackFilters{IncludeInbound: true, IncludeOutbound: true}
}

// Allows reports whether a frame on track passes the filter. Tracks other
// than inbound and outbound are never filtered.
func (f TrackFilters) Allows(track string) bool {
	switch track {
	case TrackInbound:
		return f.IncludeInbound
	case TrackOutbound:
		return f.IncludeOutbound
	default:
		return true
	}
}

type OperatorConnectedMessage struct {
	Type        string                 `json:"type"`
	CallSID     string                 `json:"callSid"`
	StreamSID   string                 `json:"streamSid"`
	Metadata    map[string]interface{} `json:"metadata"`
	ConnectedAt time.Time              `json:"connectedAt"`
}

type OperatorAudioMessage struct {
	Type      string `json:"type"`
	CallSID   string `json:"callSid"`
	Track     string `json:"track"`
	Payload   string `json:"payload"`
	Timestamp string `json:"timestamp"`
}

type OperatorCallEndedMessage struct {
	Type    string `json:"type"`
	CallSID string `json:"callSid"`
}

// ActiveStreamSummary is a read-only view of a live call stream.
type ActiveStreamSummary struct {
	CallSID       string    `json:"callSid"`
	StreamSID     string    `json:"streamSid"`
	OperatorCount int       `json:"operatorCount"`
	StartedAt     time.Time `json:"startedAt"`
}
