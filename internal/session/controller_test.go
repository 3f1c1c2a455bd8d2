package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/peer"
	"github.com/dkeye/Huddle/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	me    = domain.PeerURL("https://x/cb")
	other = domain.PeerURL("https://y/cb")
	third = domain.PeerURL("https://z/cb")
)

func newTestController() (*Controller, *recordingChannel, *engineBank) {
	ch := &recordingChannel{}
	bank := &engineBank{}
	c := New(Config{Room: "room1", Channel: ch, Engines: bank.factory})
	return c, ch, bank
}

func peerMsg(t *testing.T, from domain.PeerURL, m protocol.NegotiationMessage) protocol.Peer {
	t.Helper()
	raw, err := protocol.MarshalNegotiation(m)
	require.NoError(t, err)
	return protocol.Peer{URL: from, Message: raw}
}

// drain runs queued engine events the way the loop would.
func drain(c *Controller) {
	for {
		select {
		case ev := <-c.events:
			c.handleEvent(ev)
		default:
			return
		}
	}
}

func TestController_IdentityOnce(t *testing.T) {
	c, _, _ := newTestController()

	require.NoError(t, c.handleDirectory(protocol.You{URL: me}))
	err := c.handleDirectory(protocol.You{URL: other})
	require.ErrorIs(t, err, ErrRedundantIdentity)
	assert.Equal(t, me, c.me)
}

func TestController_RelayBeforeIdentity(t *testing.T) {
	c, ch, _ := newTestController()

	require.ErrorIs(t, c.sendChat("hello"), ErrMissingIdentity)

	raw, err := protocol.MarshalNegotiation(protocol.Offer{SDP: "early"})
	require.NoError(t, err)
	err = c.handleDirectory(protocol.Peer{URL: other, Message: raw})
	require.ErrorIs(t, err, ErrMissingIdentity)
	assert.Empty(t, ch.messages())
}

func TestController_AddBeforeIdentityIsDeferred(t *testing.T) {
	c, ch, _ := newTestController()

	require.NoError(t, c.handleDirectory(protocol.Add{URL: other}))
	assert.Empty(t, ch.messages())
	assert.Equal(t, peer.New, c.snapshot()[0].State)

	require.NoError(t, c.handleDirectory(protocol.You{URL: me}))
	assert.Equal(t, []protocol.NegotiationMessage{protocol.Offer{SDP: "offer:" + string(other)}}, ch.forwarded(other))
	assert.Equal(t, peer.OfferSent, c.snapshot()[0].State)
}

func TestController_AddStartsOffer(t *testing.T) {
	c, ch, _ := newTestController()
	require.NoError(t, c.handleDirectory(protocol.You{URL: me}))

	require.NoError(t, c.handleDirectory(protocol.Add{URL: other}))

	require.Equal(t, []protocol.NegotiationMessage{protocol.Offer{SDP: "offer:" + string(other)}}, ch.forwarded(other))
	snap := c.snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, peer.OfferSent, snap[0].State)
	assert.Equal(t, uint64(1), snap[0].ID)
}

func TestController_OfferFromUnknownPeerCreatesMachine(t *testing.T) {
	c, ch, bank := newTestController()
	require.NoError(t, c.handleDirectory(protocol.You{URL: me}))

	require.NoError(t, c.handleDirectory(peerMsg(t, other, protocol.Offer{SDP: "remote-offer"})))

	snap := c.snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, peer.AnswerSent, snap[0].State)
	assert.Equal(t, []protocol.NegotiationMessage{protocol.Answer{SDP: "answer:" + string(other)}}, ch.forwarded(other))

	bank.last(other).hooks.OnConnected()
	drain(c)
	assert.Equal(t, peer.Connected, c.snapshot()[0].State)
}

func TestController_UnexpectedAnswerIsContained(t *testing.T) {
	c, _, _ := newTestController()
	require.NoError(t, c.handleDirectory(protocol.You{URL: me}))
	require.NoError(t, c.handleDirectory(protocol.Add{URL: third}))

	err := c.handleDirectory(peerMsg(t, other, protocol.Answer{SDP: "stray"}))
	require.ErrorIs(t, err, peer.ErrUnexpectedMessage)

	states := map[domain.PeerURL]peer.State{}
	for _, p := range c.snapshot() {
		states[p.URL] = p.State
	}
	assert.Equal(t, peer.OfferSent, states[third])
	assert.Equal(t, peer.New, states[other])
}

func TestController_MalformedPayload(t *testing.T) {
	c, _, _ := newTestController()
	require.NoError(t, c.handleDirectory(protocol.You{URL: me}))

	err := c.handleDirectory(protocol.Peer{URL: other, Message: json.RawMessage(`{"type":"bogus"}`)})
	require.ErrorIs(t, err, protocol.ErrUnknownType)
	assert.Empty(t, c.snapshot())
}

func TestController_RemoveClosesMachine(t *testing.T) {
	c, _, bank := newTestController()
	require.NoError(t, c.handleDirectory(protocol.You{URL: me}))
	require.NoError(t, c.handleDirectory(protocol.Add{URL: other}))

	require.NoError(t, c.handleDirectory(protocol.Remove{URL: other}))
	require.NoError(t, c.handleDirectory(protocol.Remove{URL: other}))

	assert.Empty(t, c.snapshot())
	assert.Equal(t, 1, bank.last(other).closeCount())
}

func TestController_ReAddRestartsNegotiation(t *testing.T) {
	c, ch, bank := newTestController()
	require.NoError(t, c.handleDirectory(protocol.You{URL: me}))
	require.NoError(t, c.handleDirectory(protocol.Add{URL: other}))
	first := bank.last(other)

	require.NoError(t, c.handleDirectory(protocol.Add{URL: other}))

	assert.Equal(t, 1, first.closeCount())
	assert.NotSame(t, first, bank.last(other))
	assert.Len(t, ch.forwarded(other), 2)
	assert.Equal(t, uint64(2), c.snapshot()[0].ID)
}

func TestController_CandidatesAreRelayed(t *testing.T) {
	c, ch, bank := newTestController()
	require.NoError(t, c.handleDirectory(protocol.You{URL: me}))
	require.NoError(t, c.handleDirectory(protocol.Add{URL: other}))

	local := webrtc.ICECandidateInit{Candidate: "candidate:local"}
	bank.last(other).hooks.OnCandidate(local)
	drain(c)

	got := ch.forwarded(other)
	require.Len(t, got, 2)
	assert.Equal(t, protocol.CandidateFromPion(local), got[1])

	remote := webrtc.ICECandidateInit{Candidate: "candidate:remote"}
	require.NoError(t, c.handleDirectory(peerMsg(t, other, protocol.CandidateFromPion(remote))))
	assert.Equal(t, []webrtc.ICECandidateInit{remote}, bank.last(other).candidates)
}

func TestController_StaleEngineEventsIgnored(t *testing.T) {
	c, ch, bank := newTestController()
	require.NoError(t, c.handleDirectory(protocol.You{URL: me}))
	require.NoError(t, c.handleDirectory(protocol.Add{URL: other}))
	stale := bank.last(other)
	require.NoError(t, c.handleDirectory(protocol.Add{URL: other}))

	stale.hooks.OnCandidate(webrtc.ICECandidateInit{Candidate: "old"})
	media := &mediaHandle{}
	stale.hooks.OnTrack(media)
	stale.hooks.OnFailed()
	drain(c)

	assert.Len(t, ch.forwarded(other), 2, "only the two offers")
	assert.Equal(t, 1, media.closeCount())
	require.Len(t, c.snapshot(), 1)
}

func TestController_TrackAndFailure(t *testing.T) {
	c, _, bank := newTestController()
	require.NoError(t, c.handleDirectory(protocol.You{URL: me}))
	require.NoError(t, c.handleDirectory(protocol.Add{URL: other}))
	eng := bank.last(other)

	media := &mediaHandle{}
	eng.hooks.OnTrack(media)
	drain(c)
	info := c.snapshot()[0]
	require.True(t, info.HasMedia)
	assert.Equal(t, uint64(3), info.Packets)
	assert.Equal(t, uint64(120), info.Bytes)

	eng.hooks.OnFailed()
	drain(c)
	assert.Empty(t, c.snapshot())
	assert.Equal(t, 1, media.closeCount())
	assert.Equal(t, 1, eng.closeCount())
}

func TestController_Chat(t *testing.T) {
	var seen []ChatEntry
	ch := &recordingChannel{}
	bank := &engineBank{}
	c := New(Config{Room: "room1", Channel: ch, Engines: bank.factory, OnChat: func(e ChatEntry) { seen = append(seen, e) }})
	require.NoError(t, c.handleDirectory(protocol.You{URL: me}))
	require.NoError(t, c.handleDirectory(protocol.Add{URL: other}))
	require.NoError(t, c.handleDirectory(protocol.Add{URL: third}))

	require.NoError(t, c.sendChat("   "))
	require.NoError(t, c.sendChat("hello"))
	require.NoError(t, c.handleDirectory(peerMsg(t, other, protocol.Chat{Message: "hi back"})))

	assert.Contains(t, ch.forwarded(other), protocol.NegotiationMessage(protocol.Chat{Message: "hello"}))
	assert.Contains(t, ch.forwarded(third), protocol.NegotiationMessage(protocol.Chat{Message: "hello"}))

	entries := c.Chat().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(0), entries[0].ID)
	assert.Equal(t, Me, entries[0].Author)
	assert.Equal(t, "hello", entries[0].Text)
	assert.Equal(t, uint64(1), entries[1].ID)
	assert.Equal(t, SomeoneElse, entries[1].Author)
	assert.Equal(t, other, entries[1].From)
	assert.Equal(t, entries, seen)
}

func TestController_RunJoinsAndKeepsAlive(t *testing.T) {
	ch := &recordingChannel{}
	bank := &engineBank{}
	c := New(Config{Room: "room1", KeepAlive: 10 * time.Millisecond, Channel: ch, Engines: bank.factory})

	inbound := make(chan protocol.DirectoryMessage, 4)
	inbound <- protocol.You{URL: me}
	inbound <- protocol.Add{URL: other}

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), inbound) }()

	require.Eventually(t, func() bool {
		pings := 0
		for _, m := range ch.messages() {
			if _, ok := m.(protocol.Ping); ok {
				pings++
			}
		}
		return pings >= 2
	}, time.Second, 5*time.Millisecond)

	peers, err := c.Peers(context.Background())
	require.NoError(t, err)
	require.Len(t, peers, 1)

	require.NoError(t, c.SendChat(context.Background(), "hi"))

	close(inbound)
	require.NoError(t, <-done)
	assert.Equal(t, protocol.Room{Name: "room1"}, ch.messages()[0])
	assert.Equal(t, 1, bank.last(other).closeCount())

	_, err = c.Peers(context.Background())
	require.ErrorIs(t, err, ErrStopped)
}
