package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ccdesk/ccdesk/internal/logging"
)

// WebSocketConfig holds websocket limits and keepalive timing.
type WebSocketConfig struct {
	// MaxMessageSize is the largest client message accepted. Default 64KB.
	MaxMessageSize int64
	// PongWait is how long to wait for a pong. Default 60s.
	PongWait time.Duration
	// PingPeriod must be less than PongWait. Default 54s.
	PingPeriod time.Duration
	// WriteWait bounds a single write. Default 10s.
	WriteWait time.Duration
	// SendBuffer is the per-client outbound queue. Default 256.
	SendBuffer int
}

func (c WebSocketConfig) withDefaults() WebSocketConfig {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	return c
}

func newUpgrader(allowed []string, logger *slog.Logger) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowed, logger),
	}
}

// originChecker allows requests without an Origin header (non-browser
// clients), origins on the allowlist, and same-origin requests.
func originChecker(allowed []string, logger *slog.Logger) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(o)] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] || set[strings.ToLower(origin)] {
			return true
		}
		u, err := url.Parse(origin)
		ok := err == nil && sameOrigin(r.Host, u)
		if !ok {
			logger.Warn("websocket origin rejected", "origin", origin, "host", r.Host)
		}
		return ok
	}
}

func sameOrigin(requestHost string, origin *url.URL) bool {
	reqName, reqPort, err := net.SplitHostPort(requestHost)
	if err != nil {
		reqName, reqPort = requestHost, ""
	}
	name, port, err := net.SplitHostPort(origin.Host)
	if err != nil {
		name, port = origin.Host, ""
	}
	if !strings.EqualFold(reqName, name) {
		return false
	}
	if port == "" {
		switch origin.Scheme {
		case "https", "wss":
			port = "443"
		case "http", "ws":
			port = "80"
		}
	}
	return reqPort == "" || reqPort == port
}

var (
	errUnknownCommand = errors.New("unknown command")
	errMissingData    = errors.New("command data is required")
)

// wsClient is one websocket connection.
type wsClient struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	cfg    WebSocketConfig
	logger *slog.Logger
}

// GET /ws
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	// The request context is done once the handler is hijacked.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	c := &wsClient{
		server: s,
		conn:   conn,
		send:   make(chan []byte, s.ws.SendBuffer),
		cfg:    s.ws,
		logger: logging.WithClient(s.logger, middleware.GetReqID(r.Context())).With("remote", r.RemoteAddr),
	}
	conn.SetReadLimit(c.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	// Subscribe before the snapshot so no event between the two is lost.
	events, err := s.hub.Subscribe(ctx)
	if err != nil {
		c.logger.Warn("websocket subscribe failed", "error", err)
		conn.Close()
		return
	}
	c.sendMessage(MsgSnapshot, s.snapshot())
	c.logger.Debug("websocket connected")

	done := make(chan struct{})
	go c.forward(events, cancel)
	go c.writePump(ctx, done)
	c.readLoop(ctx)

	cancel()
	<-done
	c.logger.Debug("websocket disconnected")
}

// forward copies hub messages into the send queue. Publishing waits on the
// ack, so it must never block on the socket. The connection is closed once
// the subscription ends.
func (c *wsClient) forward(events <-chan *message.Message, closeConn context.CancelFunc) {
	defer closeConn()
	for msg := range events {
		c.enqueue(msg.Payload)
		msg.Ack()
	}
}

func (c *wsClient) enqueue(b []byte) {
	select {
	case c.send <- b:
	default:
		c.logger.Warn("websocket send buffer full, dropping message")
	}
}

func (c *wsClient) sendMessage(msgType string, data any) {
	b, err := encode(msgType, data)
	if err != nil {
		c.logger.Error("failed to encode message", "type", msgType, "error", err)
		return
	}
	c.enqueue(b)
}

func (c *wsClient) sendError(command string, err error) {
	c.sendMessage(MsgError, errorPayload{Message: err.Error(), Command: command})
}

func (c *wsClient) writePump(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(done)
	}()
	for {
		select {
		case b := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *wsClient) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendMessage(MsgError, errorPayload{Message: "invalid message: " + err.Error()})
			continue
		}
		if err := c.handle(ctx, msg); err != nil {
			c.sendError(msg.Type, err)
		}
	}
}

func (c *wsClient) handle(ctx context.Context, msg WSMessage) error {
	ctrl := c.server.ctrl
	switch msg.Type {
	case CmdPrompt:
		var req promptRequest
		if err := decodeData(msg.Data, &req); err != nil {
			return err
		}
		return ctrl.Submit(ctx, req.Prompt)
	case CmdStop:
		return ctrl.Stop()
	case CmdRetry:
		var req retryRequest
		if err := decodeData(msg.Data, &req); err != nil {
			return err
		}
		return ctrl.Retry(ctx, req.TurnID)
	case CmdClear:
		return ctrl.ClearHistory()
	case CmdPermission:
		var req permissionAnswer
		if err := decodeData(msg.Data, &req); err != nil {
			return err
		}
		return c.server.answer(req.ID, req.Approve)
	default:
		return fmt.Errorf("%w: %q", errUnknownCommand, msg.Type)
	}
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errMissingData
	}
	return json.Unmarshal(data, v)
}
