package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/sweeney/heater-dashboard/internal/status"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12
)

// Message types sent on /ws.
const (
	msgStatus = "status"
	msgSample = "sample"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS pushes the status after every tracker publish, plus the newest
// history sample whenever one is appended.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warnw("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := s.tracker.Subscribe()
	defer cancel()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go s.readLoop(conn, done)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	var lastSample time.Time
	push := func() error {
		snap := s.tracker.Snapshot()
		if err := s.send(conn, msgStatus, json.RawMessage(status.FormatCompactJSON(snap))); err != nil {
			return err
		}
		series := s.tracker.Series()
		if len(series) == 0 {
			return nil
		}
		last := series[len(series)-1]
		if last.Timestamp.Equal(lastSample) {
			return nil
		}
		lastSample = last.Timestamp
		return s.send(conn, msgSample, json.RawMessage(status.FormatSeriesJSON(series[len(series)-1:])))
	}

	if err := push(); err != nil {
		s.log.Debugw("WebSocket initial write failed", "error", err)
		return
	}

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.log.Debugw("WebSocket ping failed", "error", err)
				return
			}
		case <-updates:
			if err := push(); err != nil {
				s.log.Debugw("WebSocket write failed", "error", err)
				return
			}
		}
	}
}

// readLoop drains client frames so pongs and closes are processed.
func (s *Server) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) send(conn *websocket.Conn, typ string, data any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(wsEnvelope{Type: typ, Data: data})
}
