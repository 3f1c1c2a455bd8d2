package rtc

import (
	"fmt"
	"sync"

	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/peer"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return cfg
}

// Factory builds one engine per remote peer. Local tracks are shared by
// every connection it creates.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
	tracks []webrtc.TrackLocal
}

func NewFactory(cfg config.PeerConfig, tracks ...webrtc.TrackLocal) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{LoggerFactory: LoggerFactory{}}

	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(ir),
			webrtc.WithSettingEngine(se),
		),
		config: DefaultWebRTCConfig(cfg.ICEServers),
		tracks: tracks,
	}, nil
}

// New satisfies peer.EngineFactory.
func (f *Factory) New(remote domain.PeerURL, hooks peer.Hooks) (peer.Engine, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := &Connection{
		pc:     pc,
		remote: remote,
		logger: log.With().Str("module", "webrtc").Str("remote", string(remote)).Logger(),
	}
	if err := c.attachMedia(f.tracks); err != nil {
		_ = pc.Close()
		return nil, err
	}
	c.start(hooks)
	return c, nil
}

// Connection adapts a pion PeerConnection to peer.Engine.
type Connection struct {
	pc        *webrtc.PeerConnection
	remote    domain.PeerURL
	logger    zerolog.Logger
	closeOnce sync.Once
}

func (c *Connection) attachMedia(tracks []webrtc.TrackLocal) error {
	if len(tracks) == 0 {
		recvonly := webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := c.pc.AddTransceiverFromKind(kind, recvonly); err != nil {
				return fmt.Errorf("add %s transceiver: %w", kind, err)
			}
		}
		return nil
	}
	for _, track := range tracks {
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add track %s: %w", track.ID(), err)
		}
		// RTCP has to be read for the interceptors to run.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	return nil
}

func (c *Connection) start(hooks peer.Hooks) {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if hooks.OnConnected != nil {
				hooks.OnConnected()
			}
		case webrtc.PeerConnectionStateFailed:
			if hooks.OnFailed != nil {
				hooks.OnFailed()
			}
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && hooks.OnCandidate != nil {
			hooks.OnCandidate(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		s := newSink(track, receiver, c.logger)
		go s.run()
		if hooks.OnTrack != nil {
			hooks.OnTrack(s)
		} else {
			_ = s.Close()
		}
	})
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *Connection) SetLocalDescription(d webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(d)
}

func (c *Connection) SetRemoteDescription(d webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(d)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if err = c.pc.Close(); err != nil {
			c.logger.Error().Err(err).Msg("close error")
			return
		}
		c.logger.Info().Msg("closed")
	})
	return err
}
