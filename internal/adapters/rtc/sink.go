package rtc

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// rtpReader is the part of *webrtc.TrackRemote the sink reads from.
type rtpReader interface {
	Read(b []byte) (int, interceptor.Attributes, error)
}

type stopper interface {
	Stop() error
}

// Sink drains one inbound track. Media is counted and discarded; rendering
// is left to whoever embeds the client.
type Sink struct {
	track    rtpReader
	receiver stopper
	logger   zerolog.Logger

	packets  atomic.Uint64
	bytes    atomic.Uint64
	lastSeq  atomic.Uint32
	done     chan struct{}
	stopOnce sync.Once
}

func newSink(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver, logger zerolog.Logger) *Sink {
	return newSinkFrom(track, receiver, track.Kind().String(), logger)
}

func newSinkFrom(track rtpReader, receiver stopper, kind string, logger zerolog.Logger) *Sink {
	return &Sink{
		track:    track,
		receiver: receiver,
		logger:   logger.With().Str("kind", kind).Logger(),
		done:     make(chan struct{}),
	}
}

func (s *Sink) run() {
	defer close(s.done)
	buf := make([]byte, 1500)
	var pkt rtp.Packet
	for {
		n, _, err := s.track.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug().Err(err).Msg("track read stopped")
			}
			s.logger.Info().
				Uint64("packets", s.packets.Load()).
				Uint64("bytes", s.bytes.Load()).
				Uint32("last_seq", s.lastSeq.Load()).
				Msg("track ended")
			return
		}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			s.logger.Debug().Err(err).Msg("malformed rtp")
			continue
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(len(pkt.Payload)))
		s.lastSeq.Store(uint32(pkt.SequenceNumber))
	}
}

// Stats reports packets and payload bytes received so far.
func (s *Sink) Stats() (packets, bytes uint64) {
	return s.packets.Load(), s.bytes.Load()
}

// Close stops the receiver, which unblocks the reader.
func (s *Sink) Close() error {
	var err error
	s.stopOnce.Do(func() {
		if s.receiver != nil {
			err = s.receiver.Stop()
		}
	})
	return err
}
