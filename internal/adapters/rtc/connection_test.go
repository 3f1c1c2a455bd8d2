package rtc

import (
	"strings"
	"testing"

	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/peer"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultWebRTCConfig(t *testing.T) {
	cfg := DefaultWebRTCConfig([]string{"stun:a", "stun:b"})
	require.Len(t, cfg.ICEServers, 1)
	assert.Equal(t, []string{"stun:a", "stun:b"}, cfg.ICEServers[0].URLs)

	assert.Empty(t, DefaultWebRTCConfig(nil).ICEServers)
}

func TestFactory_RecvOnlyOfferCarriesMedia(t *testing.T) {
	f, err := NewFactory(config.PeerConfig{})
	require.NoError(t, err)

	eng, err := f.New("http://bridge/push/y", peer.Hooks{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	offer, err := eng.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=video")
	assert.Contains(t, offer.SDP, "a=recvonly")
}

func TestFactory_LocalTrackIsSent(t *testing.T) {
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "huddle")
	require.NoError(t, err)
	f, err := NewFactory(config.PeerConfig{}, track)
	require.NoError(t, err)

	eng, err := f.New("http://bridge/push/y", peer.Hooks{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	offer, err := eng.CreateOffer()
	require.NoError(t, err)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.False(t, strings.Contains(offer.SDP, "m=video"))
	assert.Contains(t, offer.SDP, "a=sendrecv")
}

func TestConnection_CloseTwice(t *testing.T) {
	f, err := NewFactory(config.PeerConfig{})
	require.NoError(t, err)
	eng, err := f.New("http://bridge/push/y", peer.Hooks{})
	require.NoError(t, err)

	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close())
}

func TestLoggerFactory(t *testing.T) {
	l := LoggerFactory{}.NewLogger("ice")
	l.Infof("gathering %d", 1)
	l.Warn("slow")
}
