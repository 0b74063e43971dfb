// Package rtc implements the peer engine on top of pion/webrtc.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/peerhub/internal/core"
	"github.com/dkeye/peerhub/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNotStarted = errors.New("engine not started")

type Config struct {
	FeedbackPeriod  time.Duration
	DataChannelEcho bool
	LogLevel        zerolog.Level
}

// NewAPI builds the shared pion API: default codecs, default interceptors
// and zerolog-backed pion logging.
func NewAPI(cfg Config) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{LoggerFactory: LoggerFactory{Level: cfg.LogLevel}}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir), webrtc.WithSettingEngine(se)), nil
}

// NewFactory returns an EngineFactory sharing one pion API.
func NewFactory(cfg Config) (core.EngineFactory, error) {
	api, err := NewAPI(cfg)
	if err != nil {
		return nil, err
	}
	return func() (core.PeerEngine, error) {
		return NewEngine(api, cfg), nil
	}, nil
}

// Engine wraps one PeerConnection. The connection is created in Start with
// the servers and transceivers configured before it.
type Engine struct {
	api *webrtc.API
	cfg Config

	mu           sync.RWMutex
	pc           *webrtc.PeerConnection
	servers      []webrtc.ICEServer
	transceivers []domain.Transceiver
	tracks       map[domain.TrackKind]*webrtc.TrackLocalStaticSample
	cancel       context.CancelFunc
	closed       bool

	onCandidate func(domain.LocalCandidate)
	onVideo     func(domain.Frame)
	onAudio     func(domain.Frame)
	onFeedback  func(domain.FeedbackReport)
	onState     func(core.EngineState)

	candidates atomic.Uint32
}

func NewEngine(api *webrtc.API, cfg Config) *Engine {
	if cfg.FeedbackPeriod <= 0 {
		cfg.FeedbackPeriod = time.Second
	}
	return &Engine{api: api, cfg: cfg, tracks: make(map[domain.TrackKind]*webrtc.TrackLocalStaticSample)}
}

func (e *Engine) AddServerConfig(servers []domain.ServerDescriptor) error {
	if len(servers) == 0 {
		return fmt.Errorf("%w: empty server list", domain.ErrInvalidArgument)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.servers = ICEServers(servers)
	return nil
}

func (e *Engine) AddTransceiver(t domain.Transceiver) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pc != nil {
		return fmt.Errorf("%w: transceiver added after start", domain.ErrStateConflict)
	}
	e.transceivers = append(e.transceivers, t)
	return nil
}

func (e *Engine) SetLocalCandidateCallback(fn func(domain.LocalCandidate)) {
	e.mu.Lock()
	e.onCandidate = fn
	e.mu.Unlock()
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

func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("%w: engine closed", domain.ErrStateConflict)
	}
	if e.pc != nil {
		return fmt.Errorf("%w: engine already started", domain.ErrStateConflict)
	}

	pc, err := e.api.NewPeerConnection(webrtc.Configuration{ICEServers: e.servers})
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	for _, t := range e.transceivers {
		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
			MimeType:  t.MimeType,
			ClockRate: t.ClockRate,
			Channels:  t.Channels,
		}, t.TrackID, t.StreamID)
		if err != nil {
			_ = pc.Close()
			return fmt.Errorf("new %s track: %w", t.Kind, err)
		}
		tr, err := pc.AddTransceiverFromTrack(track, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionSendrecv})
		if err != nil {
			_ = pc.Close()
			return fmt.Errorf("add %s transceiver: %w", t.Kind, err)
		}
		e.tracks[t.Kind] = track
		go drainRTCP(tr.Sender())
	}

	ctx, cancel := context.WithCancel(ctx)
	e.pc, e.cancel = pc, cancel

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		lc, ok := localCandidate(e.candidates.Add(1)-1, c)
		if !ok {
			log.Debug().Str("module", "rtc").Str("candidate", c.String()).Msg("skipping local candidate")
			return
		}
		e.mu.RLock()
		fn := e.onCandidate
		e.mu.RUnlock()
		if fn != nil {
			fn(lc)
		}
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("Peer state")
		e.mu.RLock()
		fn, closed := e.onState, e.closed
		e.mu.RUnlock()
		if fn == nil || closed {
			return
		}
		// never from the caller's stack
		go fn(engineState(s))
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		go e.pumpFrames(ctx, track)
	})

	if e.cfg.DataChannelEcho {
		pc.OnDataChannel(echoDataChannel)
	}

	go pollFeedback(ctx, pc, e.cfg.FeedbackPeriod, func(r domain.FeedbackReport) {
		e.mu.RLock()
		fn := e.onFeedback
		e.mu.RUnlock()
		if fn != nil {
			fn(r)
		}
	})
	return nil
}

func (e *Engine) peer() (*webrtc.PeerConnection, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pc == nil {
		return nil, ErrNotStarted
	}
	return e.pc, nil
}

func (e *Engine) SetRemoteDescription(kind string, sdp []byte) error {
	pc, err := e.peer()
	if err != nil {
		return err
	}
	t := webrtc.NewSDPType(kind)
	if t == webrtc.SDPTypeUnknown {
		return fmt.Errorf("%w: description type %q", domain.ErrInvalidArgument, kind)
	}
	return pc.SetRemoteDescription(webrtc.SessionDescription{Type: t, SDP: string(sdp)})
}

// SetLocalDescription generates the answer and applies it. Candidates trickle
// through the local candidate callback.
func (e *Engine) SetLocalDescription() error {
	pc, err := e.peer()
	if err != nil {
		return err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	return pc.SetLocalDescription(answer)
}

func (e *Engine) CreateAnswer() ([]byte, error) {
	pc, err := e.peer()
	if err != nil {
		return nil, err
	}
	ld := pc.LocalDescription()
	if ld == nil || ld.Type != webrtc.SDPTypeAnswer {
		return nil, fmt.Errorf("%w: no local answer", domain.ErrStateConflict)
	}
	return []byte(ld.SDP), nil
}

func (e *Engine) AddRemoteCandidate(payload []byte) error {
	pc, err := e.peer()
	if err != nil {
		return err
	}
	var ci webrtc.ICECandidateInit
	if err := json.Unmarshal(payload, &ci); err != nil {
		return fmt.Errorf("%w: candidate payload: %v", domain.ErrParseFailure, err)
	}
	return pc.AddICECandidate(ci)
}

func (e *Engine) WriteFrame(f domain.Frame) error {
	e.mu.RLock()
	track, ok := e.tracks[f.Kind]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no %s track", domain.ErrStateConflict, f.Kind)
	}
	return track.WriteSample(media.Sample{Data: f.Data, Duration: f.Duration})
}

func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	pc, cancel := e.pc, e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pc == nil {
		return nil
	}
	if err := pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("close error")
		return err
	}
	log.Info().Str("module", "rtc").Msg("closed")
	return nil
}

func (e *Engine) pumpFrames(ctx context.Context, track *webrtc.TrackRemote) {
	kind := domain.TrackVideo
	var depacketizer rtp.Depacketizer = &codecs.H264Packet{}
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		kind = domain.TrackAudio
		depacketizer = &codecs.OpusPacket{}
	}
	clockRate := track.Codec().ClockRate
	if clockRate == 0 {
		clockRate = 90000
	}
	sb := samplebuilder.New(64, depacketizer, clockRate)

	for {
		if ctx.Err() != nil {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "rtc").Str("kind", kind.String()).Msg("inbound track ended")
			return
		}
		sb.Push(pkt)
		for s := sb.Pop(); s != nil; s = sb.Pop() {
			e.mu.RLock()
			fn := e.onVideo
			if kind == domain.TrackAudio {
				fn = e.onAudio
			}
			e.mu.RUnlock()
			if fn == nil {
				continue
			}
			fn(domain.Frame{
				Kind:      kind,
				Data:      s.Data,
				Timestamp: time.Duration(s.PacketTimestamp) * time.Second / time.Duration(clockRate),
				Duration:  s.Duration,
			})
		}
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func echoDataChannel(dc *webrtc.DataChannel) {
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			return
		}
		reply := fmt.Sprintf("Received %d bytes, ECHO: %s", len(msg.Data), msg.Data)
		if err := dc.SendText(reply); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("label", dc.Label()).Msg("data channel echo")
		}
	})
}
