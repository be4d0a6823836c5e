// ABOUTME: WebSocket transport: upgrades sockets, runs read/write pumps, and delivers fanout frames
// ABOUTME: Inbound {id,method,params} requests go to the hub; replies carry {id,result} or {id,error}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/2389/chathub/internal/auth"
	"github.com/2389/chathub/internal/chaterr"
	"github.com/2389/chathub/internal/config"
)

// Transport errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSlowConsumer     = errors.New("send buffer full")
	ErrUnknownConn      = errors.New("unknown connection")
)

// ConnectionEvents receives the lifecycle of every socket.
type ConnectionEvents interface {
	OnConnect(ctx context.Context, userID, connID string) error
	OnDisconnect(userID, connID string)
	OnInvoke(ctx context.Context, userID, connID, method string, params json.RawMessage) (any, error)
}

// Request is an inbound client frame.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Reply answers one Request.
type Reply struct {
	ID     string      `json:"id,omitempty"`
	Result any         `json:"result,omitempty"`
	Error  *ReplyError `json:"error,omitempty"`
}

// ReplyError is the wire form of a failed request.
type ReplyError struct {
	Kind    chaterr.Kind `json:"kind"`
	Message string       `json:"message"`
}

func replyError(err error) *ReplyError {
	kind := chaterr.KindOf(err)
	msg := err.Error()
	if kind == chaterr.KindInternal {
		msg = "internal error"
	}
	return &ReplyError{Kind: kind, Message: msg}
}

// socketServer owns every live socket of this process and implements
// fanout.Transport over them.
type socketServer struct {
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
	events   ConnectionEvents
	logger   *slog.Logger

	mu    sync.RWMutex
	conns map[string]*socketConn
}

func newSocketServer(cfg config.WebSocketConfig, logger *slog.Logger) *socketServer {
	s := &socketServer{
		cfg:    cfg,
		logger: logger.With("component", "websocket"),
		conns:  make(map[string]*socketConn),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin allows same-origin requests and anything in allowed_origins.
// A "*" entry allows every origin.
func (s *socketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin) {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// SendToConnection queues a frame on a live socket.
func (s *socketServer) SendToConnection(connID string, frame []byte) error {
	s.mu.RLock()
	c, ok := s.conns[connID]
	s.mu.RUnlock()
	if !ok {
		return ErrUnknownConn
	}
	return c.enqueue(frame)
}

func (s *socketServer) add(c *socketConn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
}

func (s *socketServer) remove(connID string) {
	s.mu.Lock()
	delete(s.conns, connID)
	s.mu.Unlock()
}

func (s *socketServer) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// closeAll closes every socket. Their read pumps then run the disconnect path.
func (s *socketServer) closeAll() {
	s.mu.RLock()
	conns := make([]*socketConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}

// serve takes over an authenticated (or anonymous) socket until it closes.
func (s *socketServer) serve(ws *websocket.Conn, userID string) {
	c := &socketConn{
		id:     uuid.New().String(),
		userID: userID,
		ws:     ws,
		cfg:    s.cfg,
		send:   make(chan []byte, s.cfg.SendBuffer),
		done:   make(chan struct{}),
	}
	c.logger = s.logger.With("conn_id", c.id, "user_id", userID)

	// Registered before OnConnect so frames fanned out meanwhile are buffered
	s.add(c)

	ctx := context.Background()
	if err := s.events.OnConnect(ctx, userID, c.id); err != nil {
		c.logger.Info("connection rejected", "error", err)
		s.remove(c.id)
		// The write pump is not running yet, so this goroutine is the only writer
		if data, mErr := json.Marshal(Reply{Error: replyError(err)}); mErr == nil {
			_ = c.write(websocket.TextMessage, data)
		}
		c.close(websocket.ClosePolicyViolation, string(chaterr.KindOf(err)))
		return
	}

	go c.writePump()
	c.readPump(ctx, s.events)

	s.events.OnDisconnect(userID, c.id)
	s.remove(c.id)
	c.close(websocket.CloseNormalClosure, "")
}

// socketConn is one upgraded socket. All writes except the final close go
// through send so the write pump is the only writer.
type socketConn struct {
	id     string
	userID string
	ws     *websocket.Conn
	cfg    config.WebSocketConfig
	logger *slog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// enqueue hands a frame to the write pump. A full buffer closes the socket.
func (c *socketConn) enqueue(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		c.logger.Warn("send buffer full, closing connection")
		c.close(websocket.CloseTryAgainLater, "send buffer full")
		return ErrSlowConsumer
	}
}

func (c *socketConn) reply(r Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		c.logger.Error("failed to encode reply", "error", err)
		data, _ = json.Marshal(Reply{ID: r.ID, Error: replyError(err)})
	}
	_ = c.enqueue(data)
}

func (c *socketConn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.cfg.WriteTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.ws.Close()
	})
}

func (c *socketConn) readPump(ctx context.Context, events ConnectionEvents) {
	pongWait := c.cfg.PingInterval * 2
	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("read error", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(Reply{Error: replyError(chaterr.Validation("malformed request: %v", err))})
			continue
		}
		if req.Method == "" {
			c.reply(Reply{ID: req.ID, Error: replyError(chaterr.Validation("method is required"))})
			continue
		}

		result, err := events.OnInvoke(ctx, c.userID, c.id, req.Method, req.Params)
		if err != nil {
			if chaterr.KindOf(err) == chaterr.KindInternal {
				c.logger.Error("invoke failed", "method", req.Method, "error", err)
			}
			c.reply(Reply{ID: req.ID, Error: replyError(err)})
			continue
		}
		c.reply(Reply{ID: req.ID, Result: result})
	}
}

func (c *socketConn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.close(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}

func (c *socketConn) write(messageType int, payload []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}

// handleSocket upgrades /ws. A request without a valid token still upgrades,
// and the hub then refuses it with an authentication error frame.
func (g *Gateway) handleSocket(w http.ResponseWriter, r *http.Request) {
	userID, status, errMsg := auth.Authenticate(r, g.store, g.verifier)
	if status == http.StatusInternalServerError {
		writeJSONError(w, status, errMsg)
		return
	}

	ws, err := g.sockets.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	go g.sockets.serve(ws, userID)
}
