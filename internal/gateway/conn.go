package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/pellab/broadside/internal/obslog"
	"github.com/pellab/broadside/pkg/wire"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	sendBuffer   = 64
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
)

// conn wraps one websocket with a buffered outbound queue and a
// single writer goroutine; wsjson.Write is not safe across
// goroutines.
type conn struct {
	playerID string
	ws       *websocket.Conn
	send     chan wire.Event

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(playerID string, ws *websocket.Conn) *conn {
	return &conn{
		playerID: playerID,
		ws:       ws,
		send:     make(chan wire.Event, sendBuffer),
		closed:   make(chan struct{}),
	}
}

// Send queues an event without blocking. A full queue means the peer
// stopped reading; the event is dropped and the reconnect snapshot
// will resynchronise them.
func (c *conn) Send(ev wire.Event) {
	select {
	case c.send <- ev:
	case <-c.closed:
	default:
		obslog.L().Warn("conn_send_overflow",
			zap.String("player_id", c.playerID),
			zap.String("event", string(ev.Type)),
		)
	}
}

func (c *conn) Close(reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close(websocket.StatusNormalClosure, reason)
	})
}

// writeLoop drains the outbound queue and keeps the ping clock.
func (c *conn) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-c.closed:
			return
		case ev := <-c.send:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, c.ws, ev)
			cancel()
			if err != nil {
				c.Close("write failure")
				return
			}
		case <-ping.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := c.ws.Ping(ctx)
			cancel()
			if err != nil {
				c.Close("ping failure")
				return
			}
		}
	}
}
