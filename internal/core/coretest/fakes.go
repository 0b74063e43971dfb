// Package coretest provides in-memory collaborators for tests.
package coretest

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/peerhub/internal/core"
	"github.com/dkeye/peerhub/internal/domain"
)

var ErrInjected = errors.New("injected failure")

var (
	_ core.PeerEngine   = (*Engine)(nil)
	_ core.MediaSource  = (*Media)(nil)
	_ core.SignalClient = (*Signal)(nil)
)

// Engine is a scriptable core.PeerEngine. Fail* fields name the call that
// should return ErrInjected.
type Engine struct {
	mu sync.Mutex

	FailAddServers  bool
	FailTransceiver bool
	FailStart       bool
	FailRemote      bool
	FailLocal       bool
	FailAnswer      bool
	FailCandidate   bool
	FailWrite       bool
	Answer          []byte

	Servers      []domain.ServerDescriptor
	Transceivers []domain.Transceiver
	Started      bool
	Closed       bool
	RemoteType   string
	RemoteSDP    []byte
	LocalSet     bool
	Candidates   [][]byte
	Written      []domain.Frame

	onCandidate func(domain.LocalCandidate)
	onVideo     func(domain.Frame)
	onAudio     func(domain.Frame)
	onFeedback  func(domain.FeedbackReport)
	onState     func(core.EngineState)
}

func (e *Engine) fail(flag bool) error {
	if flag {
		return ErrInjected
	}
	return nil
}

func (e *Engine) AddServerConfig(servers []domain.ServerDescriptor) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail(e.FailAddServers); err != nil {
		return err
	}
	e.Servers = append([]domain.ServerDescriptor(nil), servers...)
	return nil
}

func (e *Engine) SetLocalCandidateCallback(fn func(domain.LocalCandidate)) {
	e.mu.Lock()
	e.onCandidate = fn
	e.mu.Unlock()
}

func (e *Engine) AddTransceiver(t domain.Transceiver) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail(e.FailTransceiver); err != nil {
		return err
	}
	e.Transceivers = append(e.Transceivers, t)
	return nil
}

func (e *Engine) Start(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail(e.FailStart); err != nil {
		return err
	}
	e.Started = true
	return nil
}

func (e *Engine) SetRemoteDescription(kind string, sdp []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail(e.FailRemote); err != nil {
		return err
	}
	e.RemoteType = kind
	e.RemoteSDP = append([]byte(nil), sdp...)
	return nil
}

func (e *Engine) SetLocalDescription() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail(e.FailLocal); err != nil {
		return err
	}
	e.LocalSet = true
	return nil
}

func (e *Engine) CreateAnswer() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail(e.FailAnswer); err != nil {
		return nil, err
	}
	if e.Answer != nil {
		return append([]byte(nil), e.Answer...), nil
	}
	return []byte("v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\n"), nil
}

func (e *Engine) AddRemoteCandidate(payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail(e.FailCandidate); err != nil {
		return err
	}
	e.Candidates = append(e.Candidates, append([]byte(nil), payload...))
	return nil
}

func (e *Engine) SetVideoFrameCallback(fn func(domain.Frame)) {
	e.mu.Lock()
	e.onVideo = fn
	e.mu.Unlock()
}

func (e *Engine) SetAudioFrameCallback(fn func(domain.Frame)) {
	e.mu.Lock()
	e.onAudio = fn
	e.mu.Unlock()
}

func (e *Engine) SetBandwidthFeedbackCallback(fn func(domain.FeedbackReport)) {
	e.mu.Lock()
	e.onFeedback = fn
	e.mu.Unlock()
}

func (e *Engine) SetStateCallback(fn func(core.EngineState)) {
	e.mu.Lock()
	e.onState = fn
	e.mu.Unlock()
}

func (e *Engine) WriteFrame(f domain.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.fail(e.FailWrite); err != nil {
		return err
	}
	e.Written = append(e.Written, f)
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	e.Closed = true
	e.mu.Unlock()
	return nil
}

// EmitState invokes the registered state callback synchronously.
func (e *Engine) EmitState(st core.EngineState) {
	e.mu.Lock()
	fn := e.onState
	e.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (e *Engine) EmitCandidate(c domain.LocalCandidate) {
	e.mu.Lock()
	fn := e.onCandidate
	e.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (e *Engine) EmitFeedback(r domain.FeedbackReport) {
	e.mu.Lock()
	fn := e.onFeedback
	e.mu.Unlock()
	if fn != nil {
		fn(r)
	}
}

func (e *Engine) EmitFrame(f domain.Frame) {
	e.mu.Lock()
	fn := e.onVideo
	if f.Kind == domain.TrackAudio {
		fn = e.onAudio
	}
	e.mu.Unlock()
	if fn != nil {
		fn(f)
	}
}

func (e *Engine) WrittenFrames() []domain.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Frame(nil), e.Written...)
}

// Factory hands out engines and remembers each one. Prepare, when set, runs
// on every engine before it is returned.
type Factory struct {
	mu      sync.Mutex
	Engines []*Engine
	Prepare func(*Engine)
	Fail    bool
}

func (f *Factory) New() (core.PeerEngine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail {
		return nil, ErrInjected
	}
	e := &Engine{}
	if f.Prepare != nil {
		f.Prepare(e)
	}
	f.Engines = append(f.Engines, e)
	return e, nil
}

func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Engines)
}

// Media is a core.MediaSource that records inbound frames.
type Media struct {
	mu       sync.Mutex
	FailInit bool
	Received []domain.Frame
}

func (m *Media) InitVideoTransceiver(context.Context) (domain.Transceiver, error) {
	if m.FailInit {
		return domain.Transceiver{}, ErrInjected
	}
	return domain.Transceiver{Kind: domain.TrackVideo, MimeType: "video/H264", ClockRate: 90000, TrackID: "video", StreamID: "peerhub"}, nil
}

func (m *Media) InitAudioTransceiver(context.Context) (domain.Transceiver, error) {
	if m.FailInit {
		return domain.Transceiver{}, ErrInjected
	}
	return domain.Transceiver{Kind: domain.TrackAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2, TrackID: "audio", StreamID: "peerhub"}, nil
}

func (m *Media) RecvFrame(_ context.Context, f domain.Frame) {
	m.mu.Lock()
	m.Received = append(m.Received, f)
	m.mu.Unlock()
}

// Resolver returns a fixed server list.
type Resolver struct {
	mu      sync.Mutex
	Servers []domain.ServerDescriptor
	Err     error
	Calls   int
}

func (r *Resolver) Resolve(_ context.Context, capacity int) ([]domain.ServerDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls++
	if r.Err != nil {
		return nil, r.Err
	}
	out := r.Servers
	if out == nil {
		out = []domain.ServerDescriptor{{Kind: domain.ServerStun, Host: "stun.example.com", Port: 443}}
	}
	if len(out) > capacity {
		out = out[:capacity]
	}
	return out, nil
}

// Signal records outbound messages. Completion hooks run synchronously
// unless Hold is set.
type Signal struct {
	mu     sync.Mutex
	Sent   []domain.Outbound
	Err    error
	Hold   bool
	Groups []domain.ServerGroup
	held   []domain.Outbound
	Closed bool
}

func (s *Signal) Send(msg domain.Outbound) error {
	s.mu.Lock()
	if s.Err != nil {
		s.mu.Unlock()
		return s.Err
	}
	cp := msg
	cp.Payload = append([]byte(nil), msg.Payload...)
	s.Sent = append(s.Sent, cp)
	if s.Hold {
		s.held = append(s.held, msg)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	if msg.OnComplete != nil {
		msg.OnComplete(nil)
	}
	return nil
}

// Flush completes every held message.
func (s *Signal) Flush() {
	s.mu.Lock()
	held := s.held
	s.held = nil
	s.mu.Unlock()
	for _, m := range held {
		if m.OnComplete != nil {
			m.OnComplete(nil)
		}
	}
}

func (s *Signal) Messages() []domain.Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Outbound(nil), s.Sent...)
}

func (s *Signal) QueryServerConfigs(context.Context) ([]domain.ServerGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Groups, nil
}

func (s *Signal) Close() {
	s.mu.Lock()
	s.Closed = true
	s.mu.Unlock()
}
