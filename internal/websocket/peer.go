package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	defaultSendBuffer = 256
)

var (
	ErrPeerClosed     = errors.New("websocket peer closed")
	ErrSendBufferFull = errors.New("websocket send buffer full")
)

// Peer owns one websocket connection. Writes go through a bounded queue
// drained by WritePump, so Send never blocks the caller.
type Peer struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	closeCode int
	closeText string
}

// NewPeer wraps conn. conn may be nil for peers that are never pumped.
func NewPeer(conn *websocket.Conn, bufferSize int) *Peer {
	if bufferSize <= 0 {
		bufferSize = defaultSendBuffer
	}
	return &Peer{
		conn:      conn,
		send:      make(chan []byte, bufferSize),
		done:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
}

// Send queues data for delivery.
func (p *Peer) Send(data []byte) error {
	select {
	case <-p.done:
		return ErrPeerClosed
	default:
	}

	select {
	case p.send <- data:
		return nil
	case <-p.done:
		return ErrPeerClosed
	default:
		return ErrSendBufferFull
	}
}

// Close flushes queued messages and closes the connection with the given
// close frame. Only the first call has an effect.
func (p *Peer) Close(code int, text string) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closeCode = code
		p.closeText = text
		p.mu.Unlock()
		close(p.done)
	})
}

// Done is closed once the peer is closing.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

func (p *Peer) IsOpen() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ReadLoop delivers each inbound message to onMessage until the connection
// fails or the peer is closed.
func (p *Peer) ReadLoop(onMessage func([]byte)) error {
	defer p.Close(websocket.CloseNormalClosure, "")

	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				return err
			}
			return nil
		}
		onMessage(message)
	}
}

// WritePump writes queued messages and keepalive pings. It returns after the
// peer is closed and the close frame has been sent.
func (p *Peer) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case message := <-p.send:
			if err := p.write(websocket.TextMessage, message); err != nil {
				p.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-ticker.C:
			if err := p.write(websocket.PingMessage, nil); err != nil {
				p.Close(websocket.CloseAbnormalClosure, "")
				return
			}

		case <-p.done:
			p.flush()
			p.mu.Lock()
			frame := websocket.FormatCloseMessage(p.closeCode, p.closeText)
			p.mu.Unlock()
			_ = p.write(websocket.CloseMessage, frame)
			return
		}
	}
}

func (p *Peer) flush() {
	for {
		select {
		case message := <-p.send:
			if err := p.write(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (p *Peer) write(messageType int, data []byte) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(messageType, data)
}
