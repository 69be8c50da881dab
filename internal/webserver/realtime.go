package webserver

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ShehabShan/TaskGuru-server/internal/events"
	"github.com/ShehabShan/TaskGuru-server/internal/registry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	// outboxSize is how many undelivered events a client may lag before
	// it is cut off.
	outboxSize = 32
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var errConnClosed = errors.New("connection closed")

// wsConn adapts a websocket connection to registry.Conn. Events are
// staged in a bounded outbox and written by a single pump goroutine, so
// Push never blocks and never writes to the socket directly.
type wsConn struct {
	conn   *websocket.Conn
	outbox chan events.ChangeEvent
	done   chan struct{}
	once   sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn:   conn,
		outbox: make(chan events.ChangeEvent, outboxSize),
		done:   make(chan struct{}),
	}
}

// Push implements registry.Conn.
func (c *wsConn) Push(e events.ChangeEvent) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.outbox <- e:
		return nil
	default:
		return registry.ErrSlowConsumer
	}
}

// Close implements registry.Conn. Safe to call more than once.
func (c *wsConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return c.conn.Close()
}

// writePump owns all writes to the socket: queued events and keepalive
// pings. It exits when the connection is closed from either side.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case e := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleRealtime upgrades the connection and registers it for the change
// feed. Clients that present no identity claim are refused with 401
// before the upgrade happens. The feed is push-only: frames from the
// client are read solely for their control effects (pongs, close).
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	email, err := s.resolveClaim(r)
	if err != nil || email == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wc := newWSConn(conn)
	sess, err := s.reg.Handshake(wc, email)
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"),
			time.Now().Add(writeWait))
		wc.Close()
		return
	}
	s.logger.Info("webserver: realtime client connected", "session", sess.ID, "email", sess.Email)
	go wc.writePump()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		sess.Touch()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.reg.Remove(sess)
	wc.Close()
	s.logger.Info("webserver: realtime client disconnected", "session", sess.ID)
}
