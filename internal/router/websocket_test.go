package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relayfront/relayfront/internal/backend"
	"github.com/relayfront/relayfront/internal/config"
)

func TestDispatcherTunnelsWebSocketFrames(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("backend upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(msgType, append([]byte("echo:"), msg...)); err != nil {
				return
			}
		}
	}))
	defer backendSrv.Close()

	d, backends := newTestDispatcher(t)
	raw := config.Raw{
		ListenAddr: "127.0.0.1:0",
		Routes: map[string]config.RawRoute{
			"/chat": {Type: config.RouteWebSocket, Target: backendSrv.URL},
		},
	}
	snap := snapshotWithRoutes(t, raw)
	d.SetSnapshot(snap)
	backends.Ensure(backend.CanonicalURL(backendSrv.URL))

	frontSrv := httptest.NewServer(d)
	defer frontSrv.Close()
	wsURL := "ws" + strings.TrimPrefix(frontSrv.URL, "http") + "/chat/room1"

	clientConn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101 switching protocols, got %d", resp.StatusCode)
	}
	defer clientConn.Close()

	if err := clientConn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := clientConn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(msg) != "echo:hello" {
		t.Errorf("expected tunneled echo, got %q", msg)
	}
}

func TestDispatcherWebSocketRouteWithoutTargetYields503(t *testing.T) {
	d, _ := newTestDispatcher(t)
	route := config.Route{ID: "chat", Type: config.RouteWebSocket}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/chat", nil)
	status := d.doWebSocket(rec, req, route, "")

	if status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for a websocket route with no target, got %d", status)
	}
}
