package relay

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rescuelink/backend/internal/models"
)

type fakeSocket struct {
	mu        sync.Mutex
	messages  [][]byte
	failSend  bool
	done      chan struct{}
	closeOnce sync.Once
	closeCode int
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{done: make(chan struct{})}
}

func (f *fakeSocket) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errors.New("broken pipe")
	}
	f.messages = append(f.messages, data)
	return nil
}

func (f *fakeSocket) Close(code int, _ string) {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closeCode = code
		f.mu.Unlock()
		close(f.done)
	})
}

func (f *fakeSocket) Done() <-chan struct{} { return f.done }

func (f *fakeSocket) IsOpen() bool {
	select {
	case <-f.done:
		return false
	default:
		return true
	}
}

func (f *fakeSocket) decoded(t *testing.T) []map[string]interface{} {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(f.messages))
	for _, m := range f.messages {
		var v map[string]interface{}
		require.NoError(t, json.Unmarshal(m, &v))
		out = append(out, v)
	}
	return out
}

func (f *fakeSocket) ofType(t *testing.T, typ string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, m := range f.decoded(t) {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishPayload(_ context.Context, name string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, name)
	return nil
}

func (p *recordingPublisher) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == name {
			n++
		}
	}
	return n
}

func mediaFrame(track, payload string) models.BridgeMessage {
	return models.BridgeMessage{
		Event: models.BridgeEventMedia,
		Media: &models.BridgeMedia{Track: track, Payload: payload, Timestamp: "120"},
	}
}

func newTestRelay() (*Relay, *recordingPublisher) {
	pub := &recordingPublisher{}
	return New(pub, zap.NewNop(), nil), pub
}

func TestRelay_EndToEnd(t *testing.T) {
	r, pub := newTestRelay()
	ctx := context.Background()
	bridge := newFakeSocket()
	o1 := newFakeSocket()

	r.RegisterStream(ctx, "C1", "MZ1", map[string]interface{}{"caller": "+33100000000"}, bridge)
	require.True(t, r.AddOperator("C1", "O1", o1, nil))

	connected := o1.ofType(t, models.OperatorMsgConnected)
	require.Len(t, connected, 1)
	assert.Equal(t, "MZ1", connected[0]["streamSid"])

	r.HandleBridgeMessage(ctx, "C1", mediaFrame(models.TrackInbound, "AAEC"))

	audio := o1.ofType(t, models.OperatorMsgAudio)
	require.Len(t, audio, 1)
	assert.Equal(t, "AAEC", audio[0]["payload"])
	assert.Equal(t, models.TrackInbound, audio[0]["track"])
	assert.Equal(t, "C1", audio[0]["callSid"])

	r.HandleBridgeMessage(ctx, "C1", models.BridgeMessage{Event: models.BridgeEventStop})

	ended := o1.ofType(t, models.OperatorMsgCallEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, "C1", ended[0]["callSid"])
	assert.False(t, o1.IsOpen())
	assert.Equal(t, closeNormal, o1.closeCode)
	assert.False(t, bridge.IsOpen())

	r.HandleBridgeMessage(ctx, "C1", mediaFrame(models.TrackInbound, "AAED"))
	assert.Len(t, o1.ofType(t, models.OperatorMsgAudio), 1)
	assert.Empty(t, r.OperatorIDs("C1"))
	assert.False(t, r.HasStream("C1"))

	assert.Equal(t, 1, pub.count(models.EventCallStarted))
	assert.Equal(t, 1, pub.count(models.EventCallEnded))
}

func TestRelay_InboundFilter(t *testing.T) {
	r, _ := newTestRelay()
	ctx := context.Background()
	r.RegisterStream(ctx, "C2", "MZ2", nil, nil)

	outboundOnly := newFakeSocket()
	everything := newFakeSocket()
	require.True(t, r.AddOperator("C2", "outbound-only", outboundOnly, &models.TrackFilters{IncludeInbound: false, IncludeOutbound: true}))
	require.True(t, r.AddOperator("C2", "everything", everything, nil))

	rng := rand.New(rand.NewSource(7))
	outbound := 0
	for i := 0; i < 200; i++ {
		track := models.TrackInbound
		if rng.Intn(2) == 0 {
			track = models.TrackOutbound
			outbound++
		}
		r.HandleBridgeMessage(ctx, "C2", mediaFrame(track, "x"))
	}

	got := outboundOnly.ofType(t, models.OperatorMsgAudio)
	assert.Len(t, got, outbound)
	for _, m := range got {
		assert.NotEqual(t, models.TrackInbound, m["track"])
	}
	assert.Len(t, everything.ofType(t, models.OperatorMsgAudio), 200)
}

func TestRelay_CleanupIsIdempotent(t *testing.T) {
	r, pub := newTestRelay()
	ctx := context.Background()
	r.RegisterStream(ctx, "C3", "MZ3", nil, newFakeSocket())
	op := newFakeSocket()
	require.True(t, r.AddOperator("C3", "O1", op, nil))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Cleanup(ctx, "C3")
		}()
	}
	wg.Wait()
	r.Cleanup(ctx, "C3")

	assert.False(t, r.HasStream("C3"))
	assert.Empty(t, r.ActiveStreams())
	assert.Len(t, op.ofType(t, models.OperatorMsgCallEnded), 1)
	assert.Equal(t, 1, pub.count(models.EventCallEnded))
}

func TestRelay_AddOperatorUnknownCall(t *testing.T) {
	r, _ := newTestRelay()
	op := newFakeSocket()

	assert.False(t, r.AddOperator("missing", "O1", op, nil))
	assert.Empty(t, op.decoded(t))
}

func TestRelay_OperatorReconnectReplaces(t *testing.T) {
	r, _ := newTestRelay()
	ctx := context.Background()
	r.RegisterStream(ctx, "C4", "MZ4", nil, nil)

	first := newFakeSocket()
	second := newFakeSocket()
	require.True(t, r.AddOperator("C4", "O1", first, nil))
	require.True(t, r.AddOperator("C4", "O1", second, nil))

	assert.False(t, first.IsOpen())
	assert.Equal(t, []string{"O1"}, r.OperatorIDs("C4"))

	// the replaced socket's close must not detach the new connection
	time.Sleep(20 * time.Millisecond)
	r.HandleBridgeMessage(ctx, "C4", mediaFrame(models.TrackOutbound, "p"))
	assert.Len(t, second.ofType(t, models.OperatorMsgAudio), 1)
	assert.Empty(t, first.ofType(t, models.OperatorMsgAudio))
}

func TestRelay_FailedSendRemovesOperator(t *testing.T) {
	r, _ := newTestRelay()
	ctx := context.Background()
	r.RegisterStream(ctx, "C5", "MZ5", nil, nil)

	broken := newFakeSocket()
	healthy := newFakeSocket()
	require.True(t, r.AddOperator("C5", "broken", broken, nil))
	require.True(t, r.AddOperator("C5", "healthy", healthy, nil))
	broken.mu.Lock()
	broken.failSend = true
	broken.mu.Unlock()

	r.HandleBridgeMessage(ctx, "C5", mediaFrame(models.TrackInbound, "a"))
	r.HandleBridgeMessage(ctx, "C5", mediaFrame(models.TrackInbound, "b"))

	assert.Equal(t, []string{"healthy"}, r.OperatorIDs("C5"))
	assert.Len(t, healthy.ofType(t, models.OperatorMsgAudio), 2)
}

func TestRelay_SocketCloseRemovesOperator(t *testing.T) {
	r, _ := newTestRelay()
	r.RegisterStream(context.Background(), "C6", "MZ6", nil, nil)
	op := newFakeSocket()
	require.True(t, r.AddOperator("C6", "O1", op, nil))

	op.Close(1001, "going away")

	assert.Eventually(t, func() bool { return len(r.OperatorIDs("C6")) == 0 }, time.Second, 5*time.Millisecond)
	r.RemoveOperator("C6", "O1")
}

func TestRelay_ReplaceStaleStream(t *testing.T) {
	r, pub := newTestRelay()
	ctx := context.Background()
	oldBridge := newFakeSocket()
	newBridge := newFakeSocket()
	op := newFakeSocket()

	r.RegisterStream(ctx, "C7", "MZ-old", nil, oldBridge)
	require.True(t, r.AddOperator("C7", "O1", op, nil))
	r.RegisterStream(ctx, "C7", "MZ-new", nil, newBridge)

	assert.False(t, oldBridge.IsOpen())
	assert.Equal(t, []string{"O1"}, r.OperatorIDs("C7"))
	require.Len(t, r.ActiveStreams(), 1)
	assert.Equal(t, "MZ-new", r.ActiveStreams()[0].StreamSID)
	assert.Equal(t, 2, pub.count(models.EventCallStarted))

	// a late close from the stale bridge leaves the new stream alone
	r.CleanupBridge(ctx, "C7", oldBridge)
	assert.True(t, r.HasStream("C7"))
}

func TestRelay_IgnoresUnknownStream(t *testing.T) {
	r, _ := newTestRelay()
	ctx := context.Background()
	r.RegisterStream(ctx, "C8", "MZ8", nil, nil)
	op := newFakeSocket()
	require.True(t, r.AddOperator("C8", "O1", op, nil))

	frame := mediaFrame(models.TrackInbound, "a")
	frame.StreamSID = "MZ-other"
	r.HandleBridgeMessage(ctx, "C8", frame)
	r.HandleBridgeMessage(ctx, "nope", mediaFrame(models.TrackInbound, "a"))

	assert.Empty(t, op.ofType(t, models.OperatorMsgAudio))
}

func TestRelay_StopForStaleStreamIgnored(t *testing.T) {
	r, pub := newTestRelay()
	ctx := context.Background()
	r.RegisterStream(ctx, "C10", "MZ-new", nil, newFakeSocket())
	op := newFakeSocket()
	require.True(t, r.AddOperator("C10", "O1", op, nil))

	r.HandleBridgeMessage(ctx, "C10", models.BridgeMessage{Event: models.BridgeEventStop, StreamSID: "MZ-old"})

	assert.True(t, r.HasStream("C10"))
	assert.True(t, op.IsOpen())
	assert.Empty(t, op.ofType(t, models.OperatorMsgCallEnded))
	assert.Equal(t, 0, pub.count(models.EventCallEnded))

	frame := mediaFrame(models.TrackInbound, "AAEC")
	frame.StreamSID = "MZ-new"
	r.HandleBridgeMessage(ctx, "C10", frame)
	assert.Len(t, op.ofType(t, models.OperatorMsgAudio), 1)

	r.HandleBridgeMessage(ctx, "C10", models.BridgeMessage{Event: models.BridgeEventStop, StreamSID: "MZ-new"})
	assert.False(t, r.HasStream("C10"))
	assert.Len(t, op.ofType(t, models.OperatorMsgCallEnded), 1)
	assert.Equal(t, 1, pub.count(models.EventCallEnded))
}

func TestRelay_ConnectedPrecedesAudio(t *testing.T) {
	r, _ := newTestRelay()
	ctx := context.Background()
	r.RegisterStream(ctx, "C11", "MZ11", nil, nil)

	ops := make([]*fakeSocket, 20)
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				r.HandleBridgeMessage(ctx, "C11", mediaFrame(models.TrackInbound, "AAEC"))
			}
		}
	}()
	for i := range ops {
		ops[i] = newFakeSocket()
		require.True(t, r.AddOperator("C11", "O"+string(rune('A'+i)), ops[i], nil))
	}
	close(stop)
	wg.Wait()

	for _, op := range ops {
		msgs := op.decoded(t)
		require.NotEmpty(t, msgs)
		assert.Equal(t, models.OperatorMsgConnected, msgs[0]["type"])
	}
}
