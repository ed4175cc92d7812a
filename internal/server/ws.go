package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/autoforge/autoforge/internal/event"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWSTasks streams TaskEvents filtered by `taskId` (§6 "GET
// /ws/tasks?taskId=..."). An empty taskId subscribes to every task.
func (s *Server) handleWSTasks(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err.Error())
		return
	}

	taskID := r.URL.Query().Get("taskId")
	client := s.broker.subscribe(uuid.New().String(), taskID)
	defer s.broker.unsubscribe(client.id)

	go wsDiscardReads(conn)
	wsWritePump(conn, client.events)
}

// wsDiscardReads drains (and ignores) client frames so pong control
// frames are processed; this endpoint is send-only from the server.
func wsDiscardReads(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}

// wsWritePump streams events to the client as JSON, pinging on idle
// periods, until the channel closes or a write fails.
func wsWritePump(conn *websocket.Conn, events <-chan event.TaskEvent) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
