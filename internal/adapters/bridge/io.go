package bridge

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (b *Bridge) pingPeriod() time.Duration {
	if b.cfg.PingPeriod > 0 {
		return b.cfg.PingPeriod
	}
	return 54 * time.Second
}

func (b *Bridge) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(b.pingPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "bridge").Str("id", c.id).Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "bridge").Str("id", c.id).Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Info().Str("module", "bridge").Str("id", c.id).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "bridge").Str("id", c.id).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "bridge").Str("id", c.id).Msg("writePump write error")
				return
			}
		}
	}
}

// readPump forwards client frames to the directory one at a time, so the
// directory sees them in the order the client sent them. When the socket
// closes the directory is told through the disconnect URL.
func (b *Bridge) readPump(ctx context.Context, cancel context.CancelFunc, c *wsConn) {
	defer func() {
		log.Info().Str("module", "bridge").Str("id", c.id).Msg("readPump closing")
		b.unregister(c.id)
		c.Close()
		cancel()
		dctx, dcancel := context.WithTimeout(context.Background(), b.client.Timeout)
		defer dcancel()
		if err := b.forward(dctx, c, c.disconnURL, nil); err != nil {
			log.Error().Err(err).Str("module", "bridge").Str("id", c.id).Msg("disconnect notify")
		}
	}()

	pongWait := b.pingPeriod() * 10 / 9
	if b.cfg.ReadLimit > 0 {
		c.conn.SetReadLimit(b.cfg.ReadLimit)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "bridge").Str("id", c.id).Msg("readPump ctx done")
			return
		default:
		}
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "bridge").Str("id", c.id).Msg("readPump read error")
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.TextMessage {
			log.Warn().Str("module", "bridge").Str("id", c.id).Msg("non-text frame dropped")
			continue
		}
		if !b.limiter.Allow(c.id) {
			log.Warn().Str("module", "bridge").Str("id", c.id).Msg("frame rate exceeded, dropped")
			continue
		}
		if err := b.forward(ctx, c, c.frameURL, data); err != nil {
			log.Warn().Err(err).Str("module", "bridge").Str("id", c.id).Msg("frame forward")
		}
	}
}
