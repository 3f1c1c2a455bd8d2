// Package bridge turns a client's WebSocket into the HTTP-push channel the
// directory talks to. Client frames are POSTed to the directory with the
// client's callback URL in a header; POSTs to the callback URL are written
// back to the socket.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

type Bridge struct {
	cfg     config.BridgeConfig
	header  string
	client  *http.Client
	limiter *FrameRateLimiter

	mu    sync.RWMutex
	conns map[string]*wsConn
}

func New(cfg config.BridgeConfig, sendHeader string) *Bridge {
	return &Bridge{
		cfg:     cfg,
		header:  sendHeader,
		client:  &http.Client{Timeout: cfg.ForwardTimeout},
		limiter: NewFrameRateLimiter(cfg.FrameRateLimit, cfg.FrameRateInterval),
		conns:   make(map[string]*wsConn),
	}
}

type wsConn struct {
	id         string
	url        domain.PeerURL
	frameURL   string
	disconnURL string
	conn       *websocket.Conn
	send       chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleConnect upgrades GET /connect?f=<frame url>&d=<disconnect url>.
func (b *Bridge) HandleConnect(ctx context.Context, c *gin.Context) {
	frameURL, err := domain.ParsePeerURL(c.Query("f"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "f: " + err.Error()})
		return
	}
	disconnURL, err := domain.ParsePeerURL(c.Query("d"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "d: " + err.Error()})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "bridge").Msg("ws upgrade")
		return
	}

	id := uuid.NewString()
	conn := &wsConn{
		id:         id,
		url:        domain.PeerURL(strings.TrimRight(b.cfg.ExternalURL, "/") + "/push/" + id),
		frameURL:   string(frameURL),
		disconnURL: string(disconnURL),
		conn:       ws,
		send:       make(chan core.Frame, b.sendBuffer()),
	}
	b.register(conn)
	log.Info().Str("module", "bridge").Str("id", id).Str("url", string(conn.url)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go b.writePump(ctx, conn)
	go b.readPump(ctx, cancel, conn)
}

// HandlePush writes a directory message to the socket behind :id.
func (b *Bridge) HandlePush(c *gin.Context) {
	id := c.Param("id")
	conn, ok := b.lookup(id)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, b.cfg.ReadLimit+1))
	if err != nil || int64(len(body)) > b.cfg.ReadLimit {
		c.Status(http.StatusBadRequest)
		return
	}
	switch err := conn.TrySend(body); {
	case errors.Is(err, ErrClosed):
		c.Status(http.StatusNotFound)
	case errors.Is(err, ErrBackpressure):
		log.Warn().Str("module", "bridge").Str("id", id).Msg("send buffer full")
		c.Status(http.StatusServiceUnavailable)
	default:
		c.Status(http.StatusOK)
	}
}

func (b *Bridge) register(conn *wsConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conns[conn.id] = conn
}

func (b *Bridge) unregister(id string) {
	b.mu.Lock()
	delete(b.conns, id)
	b.mu.Unlock()
	b.limiter.Forget(id)
}

func (b *Bridge) lookup(id string) (*wsConn, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	conn, ok := b.conns[id]
	return conn, ok
}

// Count reports the number of open connections.
func (b *Bridge) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

func (b *Bridge) sendBuffer() int {
	if b.cfg.SendBuffer > 0 {
		return b.cfg.SendBuffer
	}
	return 32
}

// forward POSTs body to target on behalf of conn.
func (b *Bridge) forward(ctx context.Context, conn *wsConn, target string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")
	req.Header.Set(b.header, string(conn.url))

	resp, err := b.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("forward to %s: status %d", target, resp.StatusCode)
	}
	return nil
}

func SetupRouter(ctx context.Context, cfg *config.Config, b *Bridge) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": b.Count()})
	})
	r.GET("/connect", func(c *gin.Context) {
		b.HandleConnect(ctx, c)
	})
	r.POST("/push/:id", b.HandlePush)

	log.Info().Str("module", "bridge").Str("external_url", cfg.Bridge.ExternalURL).Msg("router setup")
	return r
}
