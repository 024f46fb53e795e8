package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/RameeshKp/Holostream/internal/app"
	"github.com/RameeshKp/Holostream/internal/core"
)

var errBackpressure = errors.New("event feed backpressure")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsFrame is the envelope on the event feed. The first frame is a
// snapshot of the session; every later one carries a single event.
type wsFrame struct {
	Type  string          `json:"type"`
	State *app.Snapshot   `json:"state,omitempty"`
	Event *core.CallEvent `json:"event,omitempty"`
}

type eventConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *eventConn) trySend(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- b:
	default:
		return errBackpressure
	}
	return nil
}

func (c *eventConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleEvents upgrades the request and streams the live session's
// events until the call ends or the client goes away. Without a live
// session there is nothing to stream and the request is refused.
func (ctl *CallController) HandleEvents(ctx context.Context, c *gin.Context) {
	s := ctl.active()
	if s == nil {
		c.JSON(http.StatusConflict, gin.H{"error": app.ErrNotInCall.Error()})
		return
	}
	events, unsubscribe := s.Subscribe()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		unsubscribe()
		log.Error().Err(err).Str("module", "adapters.httpapi").Msg("ws upgrade")
		return
	}
	conn := &eventConn{conn: ws, send: make(chan []byte, 32)}

	snap := s.Snapshot()
	if b, err := json.Marshal(wsFrame{Type: "snapshot", State: &snap}); err == nil {
		_ = conn.trySend(b)
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
	go ctl.forward(ctx, cancel, conn, events, unsubscribe)
}

func (ctl *CallController) writePump(ctx context.Context, c *eventConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "adapters.httpapi").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.httpapi").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump watches for the client going away; the only inbound message
// it understands is a ping.
func (ctl *CallController) readPump(ctx context.Context, cancel context.CancelFunc, c *eventConn) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				return
			}
			var env struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			if env.Type == "ping" {
				if b, err := json.Marshal(wsFrame{Type: "pong"}); err == nil {
					_ = c.trySend(b)
				}
			}
		}
	}
}

// forward copies session events onto the socket. It owns the teardown:
// whichever way the feed ends, the subscription is cancelled and the
// socket closed.
func (ctl *CallController) forward(ctx context.Context, cancel context.CancelFunc, c *eventConn, events <-chan core.CallEvent, unsubscribe func()) {
	defer func() {
		unsubscribe()
		cancel()
		c.close()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b, err := json.Marshal(wsFrame{Type: "event", Event: &ev})
			if err != nil {
				continue
			}
			if err := c.trySend(b); err != nil {
				log.Warn().
					Str("module", "adapters.httpapi").
					Str("kind", string(ev.Kind)).
					Msg("event frame dropped")
			}
		}
	}
}
