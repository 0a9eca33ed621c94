package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"sirenlink/internal/realtime"
	"sirenlink/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// --- checkOrigin unit tests ---

func TestCheckOrigin(t *testing.T) {
	cases := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no_allow_list", nil, "http://evil.example", true},
		{"no_origin_header", []string{"localhost:3000"}, "", true},
		{"host_match", []string{"localhost:3000"}, "http://localhost:3000", true},
		{"full_origin_match", []string{"https://ops.example.com"}, "https://ops.example.com", true},
		{"wildcard", []string{"*"}, "http://anything", true},
		{"rejected", []string{"localhost:3000"}, "http://evil.example", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&service.Service{}, nil, tc.allowed, nil)
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if got := h.checkOrigin(req); got != tc.want {
				t.Fatalf("checkOrigin(%q) = %v, want %v", tc.origin, got, tc.want)
			}
		})
	}
}

func TestIsPing(t *testing.T) {
	for in, want := range map[string]bool{
		"ping":              true,
		" PING ":            true,
		`{"event":"ping"}`:  true,
		`{"event":"hello"}`: false,
		"garbage":           false,
	} {
		if got := isPing([]byte(in)); got != want {
			t.Fatalf("isPing(%q) = %v, want %v", in, got, want)
		}
	}
}

// --- websocket integration tests ---

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	TS    time.Time       `json:"ts"`
}

func dialWS(t *testing.T, h *Handler) (*websocket.Conn, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", h.wsConnect)
	srv := httptest.NewServer(r)

	u, _ := url.Parse(srv.URL)
	u.Scheme = "ws"
	u.Path = "/ws"

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial error: %v", err)
	}
	return conn, func() {
		_ = conn.Close()
		srv.Close()
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func TestWebSocket_GreetingAndBroadcast(t *testing.T) {
	hub := realtime.NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	conn, done := dialWS(t, NewHandler(&service.Service{}, hub, nil, nil))
	defer done()

	if env := readEnvelope(t, conn); env.Event != realtime.EventConnected {
		t.Fatalf("expected greeting, got %+v", env)
	}

	// wait until the client is attached before publishing
	deadline := time.Now().Add(time.Second)
	for hub.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish(realtime.EventState, map[string]string{"deviceId": "SRN-001", "relay": "ON"})

	env := readEnvelope(t, conn)
	if env.Event != realtime.EventState {
		t.Fatalf("expected device.state, got %+v", env)
	}
	var data map[string]string
	if err := json.Unmarshal(env.Data, &data); err != nil || data["deviceId"] != "SRN-001" {
		t.Fatalf("unexpected data: %s (%v)", env.Data, err)
	}
}

func TestWebSocket_PingPong(t *testing.T) {
	conn, done := dialWS(t, NewHandler(&service.Service{}, nil, nil, nil))
	defer done()

	_ = readEnvelope(t, conn) // greeting

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if env := readEnvelope(t, conn); env.Event != realtime.EventPong {
		t.Fatalf("expected pong, got %+v", env)
	}
}

func TestWebSocket_HubStopClosesConnection(t *testing.T) {
	hub := realtime.NewHub(nil)
	go hub.Run()

	conn, done := dialWS(t, NewHandler(&service.Service{}, hub, nil, nil))
	defer done()
	_ = readEnvelope(t, conn)

	deadline := time.Now().Add(time.Second)
	for hub.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hub.Stop()

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var raw json.RawMessage
	if err := conn.ReadJSON(&raw); err == nil {
		t.Fatalf("expected close after hub stop, got message: %s", string(raw))
	}
}

func TestWebSocket_RejectsDisallowedOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(&service.Service{}, nil, []string{"localhost:3000"}, nil)
	r.GET("/ws", h.wsConnect)
	srv := httptest.NewServer(r)
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	u.Scheme = "ws"
	u.Path = "/ws"
	hdr := http.Header{}
	hdr.Set("Origin", "http://evil.example")

	_, resp, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err == nil {
		t.Fatalf("expected handshake failure for disallowed origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
}
