package web

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/skyview-app/skyview/pkg/authn"
)

var upgrader = websocket.Upgrader{}

const eventWriteTimeout = 5 * time.Second

// EventHub broadcasts auth events to connected debug clients. It
// implements authn.Recorder; a slow or dead client is dropped rather
// than allowed to block the auth flow.
type EventHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewEventHub() *EventHub {
	return &EventHub{
		conns: make(map[*websocket.Conn]struct{}),
	}
}

func (h *EventHub) Record(event authn.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns {
		conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
		if err := conn.WriteJSON(event); err != nil {
			slog.Debug("Dropping debug event subscriber", "error", err)
			conn.Close()
			delete(h.conns, conn)
		}
	}
}

func (h *EventHub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *EventHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; ok {
		conn.Close()
		delete(h.conns, conn)
	}
}

// DebugEventsEndpoint upgrades to a websocket and streams auth events
// until the client goes away. Mounted in dev mode only.
func (s *Server) DebugEventsEndpoint(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	s.hub.add(conn)
	defer s.hub.remove(conn)

	// drain control frames; clients only listen
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

var _ authn.Recorder = (*EventHub)(nil)
