// Package channel is the client end of the push channel: a WebSocket to the
// bridge carrying control messages out and directory messages in.
package channel

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

type Client struct {
	conn    *websocket.Conn
	inbound chan protocol.DirectoryMessage
	done    chan struct{}
	logger  zerolog.Logger

	wmu       sync.Mutex
	closeOnce sync.Once
}

// Dial connects to the bridge's connect endpoint and asks it to forward
// frames to directoryURL/frame and the disconnect to directoryURL/disconnect.
func Dial(ctx context.Context, bridgeURL, directoryURL string) (*Client, error) {
	u, err := url.Parse(bridgeURL)
	if err != nil {
		return nil, fmt.Errorf("bridge url: %w", err)
	}
	base := strings.TrimRight(directoryURL, "/")
	q := u.Query()
	q.Set("f", base+"/frame")
	q.Set("d", base+"/disconnect")
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial bridge: %w", err)
	}
	c := &Client{
		conn:    conn,
		inbound: make(chan protocol.DirectoryMessage, 64),
		done:    make(chan struct{}),
		logger:  log.With().Str("module", "channel").Str("bridge", u.Host).Logger(),
	}
	go c.readPump()
	c.logger.Info().Msg("connected")
	return c, nil
}

// Inbound yields directory messages in arrival order. It is closed when the
// socket closes or Close is called.
func (c *Client) Inbound() <-chan protocol.DirectoryMessage { return c.inbound }

func (c *Client) Send(ctx context.Context, m protocol.ControlMessage) error {
	data, err := protocol.MarshalControl(m)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.wmu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.wmu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readPump() {
	defer close(c.inbound)
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Info().Err(err).Msg("readPump closing")
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		msg, err := protocol.ParseDirectory(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("undecodable frame skipped")
			continue
		}
		select {
		case c.inbound <- msg:
		case <-c.done:
			return
		}
	}
}
