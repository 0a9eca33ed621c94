package handlers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sirenlink/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Send/receive timing configuration and message size limits.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12 // 4 KB
)

// wsInbound is the only client frame the server understands: {"event":"ping"}.
type wsInbound struct {
	Event string `json:"event"`
}

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{CheckOrigin: h.checkOrigin}
}

// checkOrigin allows any origin when none are configured, and requests
// without an Origin header (non-browser clients).
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.origins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// @Summary      Realtime device events
// @Description  Streams {"event","data","ts"} envelopes: device.state, device.lwt, device.heartbeat, device.ack. Send {"event":"ping"} to get a pong.
// @Tags         realtime
// @Router       /ws [get]
func (h *Handler) wsConnect(c *gin.Context) {
	conn, err := h.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_upgrade_failed", "err", err)
		}
		return
	}
	defer func() { _ = conn.Close() }()

	// Configure read limits and pong handler to extend read deadline.
	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var events <-chan []byte
	if h.hub != nil {
		client, ok := h.hub.Attach()
		if !ok {
			return
		}
		defer h.hub.Detach(client)
		events = client.Messages()
	}

	// Reader goroutine to answer pings and detect disconnects.
	done := make(chan struct{})
	replies := make(chan []byte, 8)
	go h.startReader(conn, done, replies)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	if err := h.writeDirect(conn, realtime.EventConnected, nil); err != nil {
		if h.log != nil {
			h.log.Infow("ws_write_failed_initial", "err", err)
		}
		return
	}

	// Writer/select loop.
	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case msg, ok := <-events:
			if !ok {
				// evicted or hub stopped
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			if err := h.write(conn, msg); err != nil {
				return
			}
		case msg := <-replies:
			if err := h.write(conn, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if h.log != nil {
					h.log.Infow("ws_ping_failed", "err", err)
				}
				return
			}
		}
	}
}

// Helper: startReader handles control frames and client pings until the connection closes.
func (h *Handler) startReader(conn *websocket.Conn, done chan<- struct{}, replies chan<- []byte) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if h.log != nil {
				h.log.Infow("ws_read_closed", "err", err)
			}
			return
		}
		if !isPing(data) {
			continue
		}
		msg, err := realtime.Direct(realtime.EventPong, nil)
		if err != nil {
			continue
		}
		select {
		case replies <- msg:
		default:
		}
	}
}

// isPing accepts a bare "ping" text frame or {"event":"ping"}.
func isPing(data []byte) bool {
	s := strings.TrimSpace(string(data))
	if strings.EqualFold(s, "ping") {
		return true
	}
	var in wsInbound
	if err := json.Unmarshal(data, &in); err != nil {
		return false
	}
	return strings.EqualFold(in.Event, "ping")
}

func (h *Handler) writeDirect(conn *websocket.Conn, event string, data interface{}) error {
	msg, err := realtime.Direct(event, data)
	if err != nil {
		return err
	}
	return h.write(conn, msg)
}

func (h *Handler) write(conn *websocket.Conn, msg []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		if h.log != nil {
			h.log.Infow("ws_write_failed", "err", err)
		}
		return err
	}
	return nil
}
