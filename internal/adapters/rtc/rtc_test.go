package rtc

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/peerhub/internal/core"
	"github.com/dkeye/peerhub/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestICEServers(t *testing.T) {
	got := ICEServers([]domain.ServerDescriptor{
		{Kind: domain.ServerStun, Host: "stun.kinesisvideo.us-west-2.amazonaws.com", Port: 443},
		{Kind: domain.ServerTurn, Host: "1.2.3.4", Port: 3478, Transport: domain.TransportUDP, Username: "u", Credential: "p"},
		{Kind: domain.ServerTurns, Host: "relay.example.com", Port: 443, Transport: domain.TransportTCP, Username: "u", Credential: "p"},
	})
	require.Len(t, got, 3)
	assert.Equal(t, []string{"stun:stun.kinesisvideo.us-west-2.amazonaws.com:443"}, got[0].URLs)
	assert.Empty(t, got[0].Username)
	assert.Equal(t, []string{"turn:1.2.3.4:3478?transport=udp"}, got[1].URLs)
	assert.Equal(t, "u", got[1].Username)
	assert.Equal(t, "p", got[1].Credential)
	assert.Equal(t, []string{"turns:relay.example.com:443?transport=tcp"}, got[2].URLs)
}

func TestLocalCandidate(t *testing.T) {
	c, ok := localCandidate(7, &webrtc.ICECandidate{
		Address:  "192.168.0.10",
		Port:     50000,
		Priority: 2130706431,
		Protocol: webrtc.ICEProtocolUDP,
		Typ:      webrtc.ICECandidateTypeHost,
	})
	require.True(t, ok)
	assert.Equal(t, uint32(7), c.Index)
	assert.Equal(t, "192.168.0.10", c.Addr.String())
	assert.Equal(t, uint16(50000), c.Port)
	assert.Equal(t, domain.CandidateHost, c.Type)

	_, ok = localCandidate(0, &webrtc.ICECandidate{Address: "10.0.0.1", Protocol: webrtc.ICEProtocolTCP})
	assert.False(t, ok)
	_, ok = localCandidate(0, &webrtc.ICECandidate{Address: "abcd.local", Protocol: webrtc.ICEProtocolUDP})
	assert.False(t, ok)
	_, ok = localCandidate(0, nil)
	assert.False(t, ok)
}

func TestCandidateAndStateMapping(t *testing.T) {
	assert.Equal(t, domain.CandidateServerReflexive, candidateType(webrtc.ICECandidateTypeSrflx))
	assert.Equal(t, domain.CandidatePeerReflexive, candidateType(webrtc.ICECandidateTypePrflx))
	assert.Equal(t, domain.CandidateRelay, candidateType(webrtc.ICECandidateTypeRelay))

	assert.Equal(t, core.EngineConnected, engineState(webrtc.PeerConnectionStateConnected))
	assert.Equal(t, core.EngineFailed, engineState(webrtc.PeerConnectionStateFailed))
	assert.True(t, engineState(webrtc.PeerConnectionStateDisconnected).Terminal())
	assert.False(t, engineState(webrtc.PeerConnectionStateConnecting).Terminal())
}

func TestFeedbackDelta(t *testing.T) {
	fb := feedbackDelta(counters{sent: 100, sentBytes: 1000, lost: 5}, counters{sent: 300, sentBytes: 5000, lost: 25}, time.Second)
	assert.Equal(t, uint64(200), fb.SentPackets)
	assert.Equal(t, uint64(180), fb.ReceivedPackets)
	assert.Equal(t, uint64(4000), fb.SentBytes)

	// restart
	fb = feedbackDelta(counters{sent: 300, lost: 25}, counters{sent: 10, lost: 1}, time.Second)
	assert.Zero(t, fb.SentPackets)
	assert.Zero(t, fb.ReceivedPackets)

	fb = feedbackDelta(counters{}, counters{sent: 10, lost: 50}, time.Second)
	assert.Equal(t, uint64(10), fb.SentPackets)
	assert.Zero(t, fb.ReceivedPackets)
}

func TestLoggerFactory(t *testing.T) {
	l := LoggerFactory{Level: zerolog.Disabled}.NewLogger("ice")
	assert.NotPanics(t, func() {
		l.Debugf("x=%d", 1)
		l.Warn("w")
		l.Errorf("e %s", "x")
	})
}

func TestEngineBeforeStart(t *testing.T) {
	api, err := NewAPI(Config{LogLevel: zerolog.Disabled})
	require.NoError(t, err)
	e := NewEngine(api, Config{})

	require.ErrorIs(t, e.AddServerConfig(nil), domain.ErrInvalidArgument)
	require.ErrorIs(t, e.AddRemoteCandidate([]byte(`{}`)), ErrNotStarted)
	require.ErrorIs(t, e.SetRemoteDescription("offer", nil), ErrNotStarted)
	require.ErrorIs(t, e.WriteFrame(domain.Frame{Kind: domain.TrackVideo}), domain.ErrStateConflict)
	require.NoError(t, e.Close())
	require.ErrorIs(t, e.Start(context.Background()), domain.ErrStateConflict)
}

func TestEngineAnswersOffer(t *testing.T) {
	api, err := NewAPI(Config{LogLevel: zerolog.Disabled})
	require.NoError(t, err)

	e := NewEngine(api, Config{})
	require.NoError(t, e.AddServerConfig([]domain.ServerDescriptor{{Kind: domain.ServerStun, Host: "127.0.0.1", Port: 3478}}))
	require.NoError(t, e.AddTransceiver(domain.Transceiver{Kind: domain.TrackVideo, MimeType: webrtc.MimeTypeH264, ClockRate: 90000, TrackID: "video", StreamID: "peerhub"}))
	require.NoError(t, e.AddTransceiver(domain.Transceiver{Kind: domain.TrackAudio, MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, TrackID: "audio", StreamID: "peerhub"}))
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Close() })

	remote, err := api.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = remote.Close() })
	_, err = remote.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
	require.NoError(t, err)
	_, err = remote.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
	require.NoError(t, err)
	offer, err := remote.CreateOffer(nil)
	require.NoError(t, err)

	_, err = e.CreateAnswer()
	require.ErrorIs(t, err, domain.ErrStateConflict)

	require.NoError(t, e.SetRemoteDescription("offer", []byte(offer.SDP)))
	require.NoError(t, e.SetLocalDescription())
	answer, err := e.CreateAnswer()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(answer), "v=0"))
	assert.Contains(t, string(answer), "m=video")
	assert.Contains(t, string(answer), "m=audio")

	require.ErrorIs(t, e.AddRemoteCandidate([]byte("nope")), domain.ErrParseFailure)
	require.ErrorIs(t, e.SetRemoteDescription("bogus", []byte(offer.SDP)), domain.ErrInvalidArgument)
}
