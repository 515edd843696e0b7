package runner

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kandev/agentcore/internal/common/constants"
	"github.com/kandev/agentcore/internal/common/logger"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4 * 1024 * 1024
	sendBuffer     = 256
)

// Handler receives frames and disconnect notifications off a Conn's read
// pump. Implemented by the session actor that owns this Runner link.
type Handler interface {
	HandleFrame(sessionID string, f *Frame)
	HandleDisconnect(sessionID string)
}

// Conn wraps one persistent per-session WebSocket to a Runner with a
// read-pump/write-pump goroutine pair, mirroring the teacher's
// orchestrator/streaming client shape generalized from a one-way broadcast
// feed to this protocol's symmetric framing.
type Conn struct {
	sessionID string
	ws        *websocket.Conn
	send      chan *Frame
	log       *logger.Logger

	lastRecvUnixNano atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConn wraps ws for sessionID. The caller must start ReadPump and
// WritePump in their own goroutines.
func NewConn(sessionID string, ws *websocket.Conn, log *logger.Logger) *Conn {
	c := &Conn{
		sessionID: sessionID,
		ws:        ws,
		send:      make(chan *Frame, sendBuffer),
		log:       log.WithFields(zap.String("session_id", sessionID), zap.String("component", "runner-conn")),
		closed:    make(chan struct{}),
	}
	c.lastRecvUnixNano.Store(time.Now().UnixNano())
	return c
}

// ReadPump decodes inbound frames and hands them to h until the socket
// errors or closes. Unknown frame types and unknown fields are tolerated
// per §4.B: the JSON decode into Frame only inspects Type/CorrelationID and
// leaves Payload as raw bytes, so a newer Runner's extra fields never fail
// decoding here.
func (c *Conn) ReadPump(h Handler) {
	defer func() {
		c.Close()
		h.HandleDisconnect(c.sessionID)
	}()

	c.ws.SetReadLimit(maxMessageSize)

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("runner socket read error", zap.Error(err))
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		c.lastRecvUnixNano.Store(time.Now().UnixNano())
		h.HandleFrame(c.sessionID, &f)
	}
}

// WritePump serializes writes to the socket (the only writer, per
// gorilla/websocket's single-writer requirement) and sends a keepalive
// frame every HeartbeatInterval.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(constants.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(f); err != nil {
				c.log.Warn("runner socket write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			keepalive, _ := NewFrame(FrameKeepalive, "", struct{}{})
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(keepalive); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// Send enqueues f for delivery. It never blocks: a full outbound buffer
// (the Runner isn't reading fast enough, or is gone) returns false
// immediately rather than stalling the session actor's single-writer loop.
func (c *Conn) Send(f *Frame) bool {
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// LastActivity reports when a frame (of any kind) was last received from
// the Runner, the signal the session actor's heartbeat-miss check watches.
func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, c.lastRecvUnixNano.Load())
}

// Close idempotently tears down the connection.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}
