package orch

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/dkeye/peerhub/internal/app"
	"github.com/dkeye/peerhub/internal/app/sfu"
	"github.com/dkeye/peerhub/internal/app/twcc"
	"github.com/dkeye/peerhub/internal/core"
	"github.com/dkeye/peerhub/internal/core/coretest"
	"github.com/dkeye/peerhub/internal/domain"
	"github.com/dkeye/peerhub/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	orch    *Orchestrator
	pool    *app.Pool
	factory *coretest.Factory
	signal  *coretest.Signal
}

func newFixture(t *testing.T, size int) *fixture {
	t.Helper()
	f := &fixture{factory: &coretest.Factory{}, signal: &coretest.Signal{}}
	f.orch = &Orchestrator{Signal: f.signal}
	f.orch.FanOut = sfu.NewFanOut(app.SimplePolicy{}, nil, nil, nil)
	p, err := app.NewPool(context.Background(), app.PoolConfig{MaxSessions: size, MaxServers: 4, TWCC: twcc.DefaultConfig()},
		f.factory.New, &coretest.Resolver{}, &coretest.Media{}, f.orch.Hooks())
	require.NoError(t, err)
	t.Cleanup(p.Close)
	f.orch.Pool = p
	f.pool = p
	return f
}

func offer(remoteID string) domain.SignalingMessage {
	return domain.SignalingMessage{
		Type:     domain.MessageOffer,
		RemoteID: remoteID,
		Payload:  DescriptionPayload("offer", EncodeLineEndings([]byte(testOffer))),
	}
}

func occupied(p *app.Pool) int {
	n := 0
	for _, s := range p.Sessions() {
		if s.State() != app.StateIdle {
			n++
		}
	}
	return n
}

func TestOfferProducesOneAnswer(t *testing.T) {
	f := newFixture(t, 2)

	f.orch.HandleMessage(context.Background(), offer("viewer-1"))

	msgs := f.signal.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MessageAnswer, msgs[0].Type)
	assert.Equal(t, "viewer-1", msgs[0].RemoteID)

	kind, raw, err := ExtractSDP(msgs[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "answer", kind)
	answer := DecodeLineEndings(raw)
	assert.Contains(t, string(answer), "v=0\r\n")

	s, ok := f.pool.Lookup("viewer-1")
	require.True(t, ok)
	assert.Equal(t, app.StateNegotiating, s.State())
	eng := s.Engine().(*coretest.Engine)
	assert.Equal(t, "offer", eng.RemoteType)
	assert.Equal(t, testOffer, string(eng.RemoteSDP))
	assert.True(t, eng.LocalSet)
}

func TestSecondOfferReusesSession(t *testing.T) {
	f := newFixture(t, 2)

	require.NoError(t, f.orch.HandleOffer(context.Background(), offer("viewer-1")))
	first, ok := f.pool.Lookup("viewer-1")
	require.True(t, ok)

	require.NoError(t, f.orch.HandleOffer(context.Background(), offer("viewer-1")))
	second, ok := f.pool.Lookup("viewer-1")
	require.True(t, ok)

	assert.Same(t, first, second)
	assert.Equal(t, 1, occupied(f.pool))
	assert.Len(t, f.signal.Messages(), 2)
}

func TestOfferFailureSendsNothing(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(e *coretest.Engine)
		msg     domain.SignalingMessage
		is      error
	}{
		{"bad payload", nil, domain.SignalingMessage{Type: domain.MessageOffer, RemoteID: "x", Payload: []byte(`{"type":"offer"}`)}, domain.ErrParseFailure},
		{"bad sdp", nil, domain.SignalingMessage{Type: domain.MessageOffer, RemoteID: "x", Payload: DescriptionPayload("offer", []byte("garbage"))}, domain.ErrParseFailure},
		{"remote description", func(e *coretest.Engine) { e.FailRemote = true }, offer("x"), coretest.ErrInjected},
		{"local description", func(e *coretest.Engine) { e.FailLocal = true }, offer("x"), coretest.ErrInjected},
		{"create answer", func(e *coretest.Engine) { e.FailAnswer = true }, offer("x"), coretest.ErrInjected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1)
			if tt.prepare != nil {
				tt.prepare(f.factory.Engines[0])
			}
			err := f.orch.HandleOffer(context.Background(), tt.msg)
			require.ErrorIs(t, err, tt.is)
			assert.Empty(t, f.signal.Messages())
		})
	}
}

func TestOfferSendRefused(t *testing.T) {
	f := newFixture(t, 1)
	f.signal.Err = errors.New("queue full")

	err := f.orch.HandleOffer(context.Background(), offer("x"))
	require.ErrorIs(t, err, domain.ErrUpstreamFailure)
}

func TestOfferPoolFull(t *testing.T) {
	f := newFixture(t, 1)
	require.NoError(t, f.orch.HandleOffer(context.Background(), offer("a")))

	err := f.orch.HandleOffer(context.Background(), offer("b"))
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)
	assert.Len(t, f.signal.Messages(), 1)
}

func TestAnswerAppliesRemoteOnly(t *testing.T) {
	f := newFixture(t, 1)
	msg := domain.SignalingMessage{
		Type:     domain.MessageAnswer,
		RemoteID: "master",
		Payload:  DescriptionPayload("answer", EncodeLineEndings([]byte(testOffer))),
	}

	f.orch.HandleMessage(context.Background(), msg)

	assert.Empty(t, f.signal.Messages())
	s, ok := f.pool.Lookup("master")
	require.True(t, ok)
	eng := s.Engine().(*coretest.Engine)
	assert.Equal(t, "answer", eng.RemoteType)
	assert.False(t, eng.LocalSet)
}

func TestRemoteCandidate(t *testing.T) {
	f := newFixture(t, 2)
	cand := []byte(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}`)

	t.Run("unknown remote is dropped", func(t *testing.T) {
		err := f.orch.HandleRemoteCandidate(domain.SignalingMessage{Type: domain.MessageCandidate, RemoteID: "ghost", Payload: cand})
		require.ErrorIs(t, err, domain.ErrStateConflict)
		f.orch.HandleMessage(context.Background(), domain.SignalingMessage{Type: domain.MessageCandidate, RemoteID: "ghost", Payload: cand})
		assert.Empty(t, f.signal.Messages())
		assert.Zero(t, occupied(f.pool))
	})

	t.Run("known remote gets raw payload", func(t *testing.T) {
		require.NoError(t, f.orch.HandleOffer(context.Background(), offer("peer")))
		require.NoError(t, f.orch.HandleRemoteCandidate(domain.SignalingMessage{Type: domain.MessageCandidate, RemoteID: "peer", Payload: cand}))
		s, _ := f.pool.Lookup("peer")
		eng := s.Engine().(*coretest.Engine)
		require.Len(t, eng.Candidates, 1)
		assert.Equal(t, cand, eng.Candidates[0])
	})

	t.Run("apply failure is reported", func(t *testing.T) {
		s, _ := f.pool.Lookup("peer")
		s.Engine().(*coretest.Engine).FailCandidate = true
		err := f.orch.HandleRemoteCandidate(domain.SignalingMessage{Type: domain.MessageCandidate, RemoteID: "peer", Payload: cand})
		require.ErrorIs(t, err, coretest.ErrInjected)
		assert.Equal(t, app.StateNegotiating, s.State())
	})
}

func TestLocalCandidateIsSent(t *testing.T) {
	f := newFixture(t, 1)
	f.signal.Hold = true
	require.NoError(t, f.orch.HandleOffer(context.Background(), offer("peer")))
	s, _ := f.pool.Lookup("peer")

	s.Engine().(*coretest.Engine).EmitCandidate(domain.LocalCandidate{
		Index: 4, Priority: 100, Addr: netip.MustParseAddr("10.1.2.3"), Port: 4000, Type: domain.CandidateHost,
	})

	msgs := f.signal.Messages()
	require.Len(t, msgs, 2)
	c := msgs[1]
	assert.Equal(t, domain.MessageCandidate, c.Type)
	assert.Equal(t, "peer", c.RemoteID)
	assert.Contains(t, string(c.Payload), "candidate:4 1 udp 100 10.1.2.3 4000 typ host")
	f.signal.Flush()
}

func TestLocalCandidateSendRefused(t *testing.T) {
	f := newFixture(t, 1)
	require.NoError(t, f.orch.HandleOffer(context.Background(), offer("peer")))
	s, _ := f.pool.Lookup("peer")
	f.signal.Err = errors.New("closed")

	assert.NotPanics(t, func() {
		s.Engine().(*coretest.Engine).EmitCandidate(domain.LocalCandidate{Addr: netip.MustParseAddr("10.1.2.3"), Type: domain.CandidateHost})
	})
	assert.Len(t, f.signal.Messages(), 1)
}

func TestLocalCandidateAfterTeardownIsDropped(t *testing.T) {
	f := newFixture(t, 1)
	require.NoError(t, f.orch.HandleOffer(context.Background(), offer("peer")))
	s, _ := f.pool.Lookup("peer")
	old := s.Engine().(*coretest.Engine)
	old.EmitState(core.EngineFailed)
	require.Equal(t, app.StateIdle, s.State())

	c := domain.LocalCandidate{Index: 1, Addr: netip.MustParseAddr("10.1.2.3"), Port: 4000, Type: domain.CandidateHost}
	old.EmitCandidate(c)
	f.orch.OnLocalCandidate(s, c)

	msgs := f.signal.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MessageAnswer, msgs[0].Type)
}

func TestInitMetricsPublishesEveryState(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := &Orchestrator{Metrics: metrics.New(reg)}
	o.InitMetrics()

	n, err := testutil.GatherAndCount(reg, "peerhub_sessions")
	require.NoError(t, err)
	assert.Equal(t, len(app.AllStates), n)
}

func TestReadySessionJoinsFanOut(t *testing.T) {
	f := newFixture(t, 1)
	require.NoError(t, f.orch.HandleOffer(context.Background(), offer("peer")))
	s, _ := f.pool.Lookup("peer")
	eng := s.Engine().(*coretest.Engine)

	eng.EmitState(core.EngineConnected)
	assert.Equal(t, 1, f.orch.FanOut.Len())

	eng.EmitState(core.EngineDisconnected)
	assert.Zero(t, f.orch.FanOut.Len())
	_, ok := f.pool.Lookup("peer")
	assert.False(t, ok)
}
