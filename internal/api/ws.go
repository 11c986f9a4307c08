package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"aiventure/internal/game"
)

// closeUnauthorized is sent when the handshake token is missing or
// invalid. The connection is accepted first so the client sees the
// close code instead of a bare HTTP rejection.
const closeUnauthorized = 4001

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers cannot set headers on websocket dials; auth rides in
	// the query string, so origin alone proves nothing here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConn adapts a gorilla connection to the session core. Gorilla
// permits only one concurrent writer, and the read loop, the income
// scheduler, and registry broadcasts all write, so every write goes
// through the mutex.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (s *Server) handleGameSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	token := r.URL.Query().Get("token")
	user, err := s.auth.ResolveIdentity(r.Context(), token)
	if err != nil {
		msg := websocket.FormatCloseMessage(closeUnauthorized, "Unauthorized")
		_ = raw.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
		_ = raw.Close()
		return
	}

	conn := &wsConn{conn: raw}
	s.registry.Connect(user.ID, conn)
	s.metrics.ConnOpened()
	log := s.log.With("user_id", user.ID)
	log.Info("game connection opened")

	defer func() {
		s.registry.Release(user.ID, conn)
		s.metrics.ConnClosed()
		_ = conn.Close()
		log.Info("game connection closed")
	}()

	session := game.NewSession(user, conn, s.registry, s.store, s.log, s.metrics)

	// Frames beyond the per-connection budget are dropped rather than
	// queued, so a misbehaving client cannot build a backlog.
	limiter := rate.NewLimiter(rate.Limit(20), 40)
	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("game connection read error", "error", err)
			}
			return
		}
		if !limiter.Allow() {
			log.Warn("rate limit exceeded, dropping frame")
			continue
		}
		session.HandleRaw(r.Context(), data)
	}
}
