package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/curaline/telecall/internal/app"
	"github.com/curaline/telecall/internal/core"
	"github.com/curaline/telecall/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// CallWSController terminates the WebSocket transport for call signaling.
// It owns the live connections; the coordinator only ever sees opaque conn
// ids and authorization questions.
type CallWSController struct {
	Coord      *app.Coordinator
	ReadLimit  int64
	PingPeriod time.Duration

	limiter *SignalRateLimiter

	mu    sync.RWMutex
	conns map[domain.ConnID]*wsCallConn
}

func NewCallWSController(coord *app.Coordinator, readLimit int64, pingPeriod time.Duration) *CallWSController {
	return &CallWSController{
		Coord:      coord,
		ReadLimit:  readLimit,
		PingPeriod: pingPeriod,
		limiter:    NewSignalRateLimiter(120, time.Second),
		conns:      make(map[domain.ConnID]*wsCallConn),
	}
}

var _ core.SignalConnection = (*wsCallConn)(nil)

type wsCallConn struct {
	id   domain.ConnID
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsCallConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsCallConn) Close() {
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

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleCall upgrades the request and starts the connection's pumps. Each
// WebSocket gets a fresh conn id: the same user opening two tabs is two
// distinct participants as far as coordination is concerned.
func (ctl *CallWSController) HandleCall(ctx context.Context, c *gin.Context) {
	connID := domain.ConnID(uuid.NewString())
	log.Info().Str("module", "signal").Str("conn", string(connID)).Str("client_token", c.GetString("client_token")).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &wsCallConn{
		id:   connID,
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	ctl.register(conn)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		ctl.writePump(ctx, conn)
	}()
	go func() {
		defer cancel()
		ctl.readPump(ctx, conn)
	}()

	ctl.sendJSON(conn, map[string]any{
		"type": "welcome",
		"conn": connID,
	})
}

func (ctl *CallWSController) register(c *wsCallConn) {
	ctl.mu.Lock()
	ctl.conns[c.id] = c
	ctl.mu.Unlock()
}

func (ctl *CallWSController) unregister(id domain.ConnID) {
	ctl.mu.Lock()
	delete(ctl.conns, id)
	ctl.mu.Unlock()
}

func (ctl *CallWSController) lookup(id domain.ConnID) (*wsCallConn, bool) {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	c, ok := ctl.conns[id]
	return c, ok
}

// broadcastToSession fans a frame out to every other participant of the
// sender's session.
func (ctl *CallWSController) broadcastToSession(sid domain.SessionID, except domain.ConnID, v any) {
	view, ok := ctl.Coord.Session(sid)
	if !ok {
		return
	}
	for _, p := range view.Participants {
		if p.Conn == except {
			continue
		}
		if peer, ok := ctl.lookup(p.Conn); ok {
			ctl.sendJSON(peer, v)
		}
	}
}
