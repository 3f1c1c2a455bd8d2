package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/dkeye/Huddle/internal/app/directory"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const senderKey = "sender"

var errBodyTooLarge = errors.New("body too large")

// SenderMiddleware resolves the caller's callback URL from header and
// rejects the request when it is missing or invalid.
func SenderMiddleware(header string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sender, err := domain.ParsePeerURL(c.GetHeader(header))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": header + ": " + err.Error()})
			return
		}
		c.Set(senderKey, sender)
		c.Next()
	}
}

func senderOf(c *gin.Context) domain.PeerURL {
	v, _ := c.Get(senderKey)
	sender, _ := v.(domain.PeerURL)
	return sender
}

func readBody(c *gin.Context, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

func SetupRouter(cfg *config.Config, dir *directory.Directory) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.HandleMethodNotAllowed = true
	r.NoRoute(func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.NoMethod(func(c *gin.Context) { c.Status(http.StatusBadRequest) })

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	push := r.Group("/", SenderMiddleware(cfg.Directory.SendHeader))

	// POST /frame: a client frame forwarded by the push bridge.
	push.POST("/frame", func(c *gin.Context) {
		sender := senderOf(c)
		body, err := readBody(c, cfg.Directory.ReadLimit)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		msg, err := protocol.ParseControl(body)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Str("sender", string(sender)).Msg("bad frame")
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		switch m := msg.(type) {
		case protocol.Room:
			if err := dir.Join(ctx, sender, m.Name); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Str("sender", string(sender)).Msg("join")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "join failed"})
				return
			}
		case protocol.Ping:
		case protocol.Forward:
			to, err := domain.ParsePeerURL(string(m.URL))
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "url: " + err.Error()})
				return
			}
			res := dir.Relay(ctx, sender, to, m.Message)
			log.Debug().Str("module", "adapters.http").Str("from", string(sender)).Str("to", string(to)).Str("result", res.String()).Msg("relay")
		}
		c.Status(http.StatusOK)
	})

	// POST /disconnect: the caller's push channel closed.
	push.POST("/disconnect", func(c *gin.Context) {
		sender := senderOf(c)
		if err := dir.Leave(c.Request.Context(), sender); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Str("sender", string(sender)).Msg("leave")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "leave failed"})
			return
		}
		c.Status(http.StatusOK)
	})

	api := r.Group("/api")

	// GET /api/rooms: list rooms
	api.GET("/rooms", func(c *gin.Context) {
		rooms, err := dir.Rooms(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rooms": rooms})
	})

	// GET /api/rooms/:name/members: list members in a room
	api.GET("/rooms/:name/members", func(c *gin.Context) {
		room := domain.RoomName(c.Param("name"))
		urls, err := dir.Members(c.Request.Context(), room)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		members := make([]domain.Member, 0, len(urls))
		for _, u := range urls {
			members = append(members, domain.Member{URL: u, Room: room})
		}
		c.JSON(http.StatusOK, gin.H{"members": members})
	})

	log.Info().Str("module", "adapters.http").Str("send_header", cfg.Directory.SendHeader).Msg("router setup")
	return r
}
