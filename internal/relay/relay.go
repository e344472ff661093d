package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rescuelink/backend/internal/metrics"
	"github.com/rescuelink/backend/internal/models"
)

var ErrStreamNotFound = errors.New("call stream not found")

const closeNormal = 1000

// Socket is an outbound connection the relay can write to.
type Socket interface {
	Send(data []byte) error
	Close(code int, text string)
	Done() <-chan struct{}
	IsOpen() bool
}

// Publisher announces call lifecycle events.
type Publisher interface {
	PublishPayload(ctx context.Context, name string, payload interface{}) error
}

type operatorConn struct {
	operatorID  string
	socket      Socket
	connectedAt time.Time
	filters     models.TrackFilters
}

// ActiveCallStream is one live call's audio path and its listeners.
type ActiveCallStream struct {
	CallSID   string
	StreamSID string
	Metadata  map[string]interface{}
	StartedAt time.Time

	bridge    Socket
	operators map[string]*operatorConn
}

// Relay forwards bridge audio frames to operators listening in on a call.
type Relay struct {
	publisher Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu      sync.RWMutex
	streams map[string]*ActiveCallStream
}

func New(publisher Publisher, logger *zap.Logger, m *metrics.Metrics) *Relay {
	return &Relay{
		publisher: publisher,
		logger:    logger.With(zap.String("component", "relay")),
		metrics:   m,
		streams:   make(map[string]*ActiveCallStream),
	}
}

// RegisterStream records a new live stream for callSID. A stale stream for
// the same call is replaced and its listeners carried over.
func (r *Relay) RegisterStream(ctx context.Context, callSID, streamSID string, metadata map[string]interface{}, bridge Socket) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	stream := &ActiveCallStream{
		CallSID:   callSID,
		StreamSID: streamSID,
		Metadata:  metadata,
		StartedAt: time.Now().UTC(),
		bridge:    bridge,
		operators: make(map[string]*operatorConn),
	}

	r.mu.Lock()
	old, replaced := r.streams[callSID]
	if replaced {
		for id, op := range old.operators {
			stream.operators[id] = op
		}
	}
	r.streams[callSID] = stream
	count := len(r.streams)
	r.mu.Unlock()

	if replaced {
		r.logger.Warn("replacing stale call stream",
			zap.String("call_sid", callSID),
			zap.String("old_stream_sid", old.StreamSID),
			zap.String("stream_sid", streamSID))
		if old.bridge != nil && old.bridge != bridge {
			old.bridge.Close(closeNormal, "stream replaced")
		}
	}

	r.metrics.SetRelayStreams(count)
	r.logger.Info("call stream registered",
		zap.String("call_sid", callSID),
		zap.String("stream_sid", streamSID))

	r.publish(ctx, models.EventCallStarted, models.CallLifecyclePayload{
		CallSID:   callSID,
		StreamSID: streamSID,
		Metadata:  metadata,
		At:        stream.StartedAt,
	})
}

// HandleBridgeMessage applies one frame received from the bridge.
func (r *Relay) HandleBridgeMessage(ctx context.Context, callSID string, msg models.BridgeMessage) {
	switch msg.Event {
	case models.BridgeEventStart:
		r.logger.Info("bridge stream started",
			zap.String("call_sid", callSID),
			zap.String("stream_sid", msg.ResolveStreamSID()))
	case models.BridgeEventMedia:
		r.relay(callSID, msg)
	case models.BridgeEventStop:
		r.cleanup(ctx, callSID, nil, msg.ResolveStreamSID())
	default:
		r.logger.Debug("ignoring bridge event", zap.String("call_sid", callSID), zap.String("event", msg.Event))
	}
}

func (r *Relay) relay(callSID string, msg models.BridgeMessage) {
	if msg.Media == nil {
		return
	}
	track := msg.ResolveTrack()

	r.mu.RLock()
	stream, ok := r.streams[callSID]
	if !ok {
		r.mu.RUnlock()
		return
	}
	if sid := msg.ResolveStreamSID(); sid != "" && sid != stream.StreamSID {
		r.mu.RUnlock()
		r.logger.Debug("ignoring frame for unknown stream", zap.String("call_sid", callSID), zap.String("stream_sid", sid))
		return
	}
	targets := make([]*operatorConn, 0, len(stream.operators))
	for _, op := range stream.operators {
		if op.filters.Allows(track) {
			targets = append(targets, op)
		}
	}
	r.mu.RUnlock()

	r.metrics.RelayFrame(track)
	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(models.OperatorAudioMessage{
		Type:      models.OperatorMsgAudio,
		CallSID:   callSID,
		Track:     track,
		Payload:   msg.Media.Payload,
		Timestamp: msg.Media.Timestamp,
	})
	if err != nil {
		r.logger.Error("failed to encode audio frame", zap.String("call_sid", callSID), zap.Error(err))
		return
	}

	for _, op := range targets {
		if !op.socket.IsOpen() {
			continue
		}
		if err := op.socket.Send(data); err != nil {
			r.logger.Warn("dropping operator after failed send",
				zap.String("call_sid", callSID),
				zap.String("operator_id", op.operatorID),
				zap.Error(err))
			r.removeOperatorSocket(callSID, op.operatorID, op.socket)
			op.socket.Close(closeNormal, "send failed")
		}
	}
}

// AddOperator attaches an operator socket to a live call. It returns false
// when the call has no stream. A previous socket for the same operator is
// replaced and closed.
func (r *Relay) AddOperator(callSID, operatorID string, socket Socket, filters *models.TrackFilters) bool {
	f := models.DefaultTrackFilters()
	if filters != nil {
		f = *filters
	}
	op := &operatorConn{
		operatorID:  operatorID,
		socket:      socket,
		connectedAt: time.Now().UTC(),
		filters:     f,
	}

	r.mu.Lock()
	stream, ok := r.streams[callSID]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("operator joined unknown call", zap.String("call_sid", callSID), zap.String("operator_id", operatorID))
		return false
	}
	previous := stream.operators[operatorID]
	stream.operators[operatorID] = op
	// Greet before releasing the lock so no audio frame is queued ahead of it.
	greeting, err := json.Marshal(models.OperatorConnectedMessage{
		Type:        models.OperatorMsgConnected,
		CallSID:     stream.CallSID,
		StreamSID:   stream.StreamSID,
		Metadata:    stream.Metadata,
		ConnectedAt: op.connectedAt,
	})
	if err == nil {
		err = socket.Send(greeting)
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("failed to greet operator", zap.String("operator_id", operatorID), zap.Error(err))
	}

	if previous != nil {
		if previous.socket != socket {
			previous.socket.Close(closeNormal, "replaced by new connection")
		}
	} else {
		r.metrics.AddRelayOperators(1)
	}

	r.logger.Info("operator attached",
		zap.String("call_sid", callSID),
		zap.String("operator_id", operatorID),
		zap.Bool("include_inbound", f.IncludeInbound),
		zap.Bool("include_outbound", f.IncludeOutbound))

	go func() {
		<-socket.Done()
		r.removeOperatorSocket(callSID, operatorID, socket)
	}()
	return true
}

// RemoveOperator detaches an operator. Absent operators are ignored.
func (r *Relay) RemoveOperator(callSID, operatorID string) {
	r.removeOperatorSocket(callSID, operatorID, nil)
}

// removeOperatorSocket removes the operator only while it is still bound to
// socket, so a late close of a replaced socket leaves the new one alone.
func (r *Relay) removeOperatorSocket(callSID, operatorID string, socket Socket) {
	r.mu.Lock()
	stream, ok := r.streams[callSID]
	if !ok {
		r.mu.Unlock()
		return
	}
	op, ok := stream.operators[operatorID]
	if !ok || (socket != nil && op.socket != socket) {
		r.mu.Unlock()
		return
	}
	delete(stream.operators, operatorID)
	r.mu.Unlock()

	r.metrics.AddRelayOperators(-1)
	r.logger.Info("operator detached", zap.String("call_sid", callSID), zap.String("operator_id", operatorID))
}

// Cleanup ends a call stream: operators get call_ended and are closed, the
// bridge is closed, and the record is dropped. Safe to call repeatedly and
// concurrently.
func (r *Relay) Cleanup(ctx context.Context, callSID string) {
	r.cleanup(ctx, callSID, nil, "")
}

// CleanupBridge ends the stream only if bridge still feeds it. Used when a
// bridge socket drops after its call may already have been re-registered.
func (r *Relay) CleanupBridge(ctx context.Context, callSID string, bridge Socket) {
	r.cleanup(ctx, callSID, bridge, "")
}

// cleanup ends the call's stream. A non-nil bridge or non-empty streamSID
// must match the registered stream, otherwise the call is left alone.
func (r *Relay) cleanup(ctx context.Context, callSID string, bridge Socket, streamSID string) {
	r.mu.Lock()
	stream, ok := r.streams[callSID]
	if !ok || (bridge != nil && stream.bridge != bridge) {
		r.mu.Unlock()
		return
	}
	if streamSID != "" && stream.StreamSID != streamSID {
		r.mu.Unlock()
		r.logger.Warn("ignoring stop for stale stream",
			zap.String("call_sid", callSID),
			zap.String("stream_sid", streamSID),
			zap.String("current_stream_sid", stream.StreamSID))
		return
	}
	delete(r.streams, callSID)
	operators := make([]*operatorConn, 0, len(stream.operators))
	for _, op := range stream.operators {
		operators = append(operators, op)
	}
	stream.operators = map[string]*operatorConn{}
	count := len(r.streams)
	r.mu.Unlock()

	ended, _ := json.Marshal(models.OperatorCallEndedMessage{Type: models.OperatorMsgCallEnded, CallSID: callSID})
	for _, op := range operators {
		if op.socket.IsOpen() {
			if err := op.socket.Send(ended); err != nil {
				r.logger.Debug("could not notify operator of call end", zap.String("operator_id", op.operatorID), zap.Error(err))
			}
		}
		op.socket.Close(closeNormal, "call ended")
	}
	if stream.bridge != nil && stream.bridge.IsOpen() {
		stream.bridge.Close(closeNormal, "call ended")
	}

	r.metrics.AddRelayOperators(-len(operators))
	r.metrics.SetRelayStreams(count)
	r.logger.Info("call stream cleaned up",
		zap.String("call_sid", callSID),
		zap.Int("operators", len(operators)))

	r.publish(ctx, models.EventCallEnded, models.CallLifecyclePayload{
		CallSID:   callSID,
		StreamSID: stream.StreamSID,
		At:        time.Now().UTC(),
	})
}

// ActiveStreams returns a snapshot of live streams ordered by start time.
func (r *Relay) ActiveStreams() []models.ActiveStreamSummary {
	r.mu.RLock()
	out := make([]models.ActiveStreamSummary, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, models.ActiveStreamSummary{
			CallSID:       s.CallSID,
			StreamSID:     s.StreamSID,
			OperatorCount: len(s.operators),
			StartedAt:     s.StartedAt,
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// HasStream reports whether callSID has a live stream.
func (r *Relay) HasStream(callSID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.streams[callSID]
	return ok
}

// OperatorIDs lists the operators attached to callSID.
func (r *Relay) OperatorIDs(callSID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stream, ok := r.streams[callSID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(stream.operators))
	for id := range stream.operators {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Relay) publish(ctx context.Context, name string, payload interface{}) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishPayload(ctx, name, payload); err != nil {
		r.logger.Warn("failed to publish call event", zap.String("event_name", name), zap.Error(err))
	}
}
