package router

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/relayfront/relayfront/internal/config"
)

// websocket tunnel timing, grounded on the same ping/pong discipline the
// pack's caddy middleware/websocket package uses.
const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10

	defaultMaxFrameSize   = 1 << 20  // 1 MiB
	defaultMaxMessageSize = 10 << 20 // 10 MiB
)

// Upgrader isolates the gorilla/websocket dependency behind a narrow
// interface so Dispatcher can be constructed without it in tests that
// never exercise a websocket route.
type Upgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request, maxFrameSize int) (*websocket.Conn, error)
}

type gorillaUpgrader struct{}

func (gorillaUpgrader) Upgrade(w http.ResponseWriter, r *http.Request, maxFrameSize int) (*websocket.Conn, error) {
	if maxFrameSize <= 0 {
		maxFrameSize = defaultMaxFrameSize
	}
	up := websocket.Upgrader{
		ReadBufferSize:  maxFrameSize,
		WriteBufferSize: maxFrameSize,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return up.Upgrade(w, r, nil)
}

// doWebSocket upgrades the inbound connection, dials the configured
// backend as a websocket client, and tunnels frames bidirectionally
// until either side closes or a cap is exceeded (spec §4.I websocket
// route variant).
func (d *Dispatcher) doWebSocket(w http.ResponseWriter, r *http.Request, route config.Route, suffix string) int {
	if route.ProxyTarget == "" {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return http.StatusServiceUnavailable
	}

	backendURL, err := backendWebSocketURL(route.ProxyTarget, suffix, r.URL.RawQuery)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return http.StatusInternalServerError
	}

	maxFrame := route.MaxFrameSize
	if maxFrame <= 0 {
		maxFrame = defaultMaxFrameSize
	}
	maxMessage := route.MaxMessageSize
	if maxMessage <= 0 {
		maxMessage = defaultMaxMessageSize
	}

	upgrader := d.wsUpgrader
	if upgrader == nil {
		upgrader = gorillaUpgrader{}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	upstreamConn, resp, err := dialer.Dial(backendURL, forwardedHeader(r.Header))
	if err != nil {
		status := http.StatusBadGateway
		if resp != nil {
			status = resp.StatusCode
		}
		http.Error(w, "Bad Gateway", status)
		return status
	}
	defer upstreamConn.Close()

	clientConn, err := upgrader.Upgrade(w, r, maxFrame)
	if err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
		return http.StatusBadRequest
	}
	defer clientConn.Close()

	clientConn.SetReadLimit(int64(maxMessage))
	upstreamConn.SetReadLimit(int64(maxMessage))

	done := make(chan struct{}, 2)
	go pumpWebSocket(clientConn, upstreamConn, done)
	go pumpWebSocket(upstreamConn, clientConn, done)
	<-done

	return http.StatusSwitchingProtocols
}

// pumpWebSocket copies messages from src to dst until src errors or
// closes, then signals done. On an upstream failure mid-tunnel the peer
// connection is closed with 1011 (internal error) per spec.
func pumpWebSocket(src, dst *websocket.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		msgType, r, err := src.NextReader()
		if err != nil {
			_ = dst.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""),
				time.Now().Add(wsWriteWait))
			return
		}

		wr, err := dst.NextWriter(msgType)
		if err != nil {
			return
		}
		if _, err := io.Copy(wr, r); err != nil {
			_ = wr.Close()
			return
		}
		if err := wr.Close(); err != nil {
			return
		}
	}
}

func forwardedHeader(in http.Header) http.Header {
	out := make(http.Header)
	for _, name := range []string{"Cookie", "Authorization", "User-Agent", "Origin"} {
		if v := in.Get(name); v != "" {
			out.Set(name, v)
		}
	}
	return out
}

// backendWebSocketURL rewrites a ws route's http(s) target into the
// equivalent ws(s) URL with the matched suffix and query string appended.
func backendWebSocketURL(target, suffix, rawQuery string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	base := strings.TrimSuffix(u.Path, "/")
	if suffix != "" && !strings.HasPrefix(suffix, "/") {
		suffix = "/" + suffix
	}
	u.Path = base + suffix
	u.RawQuery = rawQuery
	return u.String(), nil
}
