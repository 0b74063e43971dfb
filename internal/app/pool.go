package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/peerhub/internal/app/twcc"
	"github.com/dkeye/peerhub/internal/core"
	"github.com/dkeye/peerhub/internal/domain"
	"github.com/rs/zerolog/log"
)

// ServerResolver produces the server list a session starts with.
type ServerResolver interface {
	Resolve(ctx context.Context, capacity int) ([]domain.ServerDescriptor, error)
}

type PoolConfig struct {
	MaxSessions int
	MaxServers  int
	TWCC        twcc.Config
}

// Hooks are invoked from engine goroutines.
type Hooks struct {
	OnLocalCandidate func(s *Session, c domain.LocalCandidate)
	OnFrame          func(s *Session, f domain.Frame)
	OnStateChange    func(s *Session, from, to SessionState)
	OnBitrate        func(s *Session, st twcc.State)
}

// Pool is a fixed table of session slots keyed by remote id.
type Pool struct {
	ctx      context.Context
	cfg      PoolConfig
	factory  core.EngineFactory
	resolver ServerResolver
	media    core.MediaSource
	hooks    Hooks

	mu    sync.Mutex
	slots []*Session
}

func NewPool(ctx context.Context, cfg PoolConfig, factory core.EngineFactory, resolver ServerResolver, media core.MediaSource, hooks Hooks) (*Pool, error) {
	if cfg.MaxSessions < 1 || cfg.MaxServers < 1 {
		return nil, fmt.Errorf("%w: pool sessions %d servers %d", domain.ErrInvalidArgument, cfg.MaxSessions, cfg.MaxServers)
	}
	if factory == nil || resolver == nil || media == nil {
		return nil, fmt.Errorf("%w: pool collaborators", domain.ErrInvalidArgument)
	}
	p := &Pool{ctx: ctx, cfg: cfg, factory: factory, resolver: resolver, media: media, hooks: hooks}
	for i := 0; i < cfg.MaxSessions; i++ {
		eng, err := factory()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("new engine for slot %d: %w", i, err)
		}
		ctl := twcc.New(cfg.TWCC)
		s := newSession(i, eng, ctl, hooks.OnStateChange)
		if hooks.OnBitrate != nil {
			ctl.SetObserver(func(st twcc.State) { hooks.OnBitrate(s, st) })
		}
		p.slots = append(p.slots, s)
		if hooks.OnStateChange != nil {
			hooks.OnStateChange(s, "", StateIdle)
		}
	}
	log.Info().Str("module", "app.pool").Int("slots", cfg.MaxSessions).Msg("session pool ready")
	return p, nil
}

// Resolve returns the non idle session bound to remoteID, starting a free slot
// when none matches. A matching slot is returned as is, whatever its state.
func (p *Pool) Resolve(ctx context.Context, remoteID string) (*Session, error) {
	if len(remoteID) > domain.IDMax {
		return nil, fmt.Errorf("%w: remote id is %d bytes, limit %d", domain.ErrInvalidArgument, len(remoteID), domain.IDMax)
	}

	p.mu.Lock()
	var match, free *Session
	for _, s := range p.slots {
		s.mu.RLock()
		id, starting, pending := s.remoteID, s.starting, s.pendingID
		s.mu.RUnlock()
		if starting {
			if pending == remoteID {
				p.mu.Unlock()
				return nil, fmt.Errorf("%w: session for %q is starting", domain.ErrStateConflict, remoteID)
			}
			continue
		}
		// idle slots all carry an empty id; they are only free candidates
		if s.State() == StateIdle {
			if free == nil {
				free = s
			}
			continue
		}
		if id == remoteID {
			match = s
			break
		}
	}

	if match != nil {
		p.mu.Unlock()
		return match, nil
	}
	target := free
	if target == nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: no free session slot for %q", domain.ErrCapacityExceeded, remoteID)
	}

	target.mu.Lock()
	target.starting, target.pendingID = true, remoteID
	target.mu.Unlock()
	p.mu.Unlock()

	err := p.start(ctx, target, remoteID)

	p.mu.Lock()
	defer p.mu.Unlock()
	target.mu.Lock()
	target.starting, target.pendingID = false, ""
	target.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("module", "app.pool").Int("slot", target.slot).Str("remote_id", remoteID).Msg("session start failed")
		p.resetLocked(target)
		return nil, err
	}
	target.fire(evStart)
	return target, nil
}

// Lookup finds a non idle session without creating one.
func (p *Pool) Lookup(remoteID string) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		if s.State() != StateIdle && s.RemoteID() == remoteID {
			return s, true
		}
	}
	return nil, false
}

// MarkNegotiating records that a remote description was applied.
func (p *Pool) MarkNegotiating(s *Session) {
	s.fire(evNegotiate)
}

// Sessions returns every slot in index order.
func (p *Pool) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.slots...)
}

// Ready returns the sessions with established media.
func (p *Pool) Ready() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, 0, len(p.slots))
	for _, s := range p.slots {
		if s.State() == StateReady {
			out = append(out, s)
		}
	}
	return out
}

// Release closes the session and returns its slot to idle.
func (p *Pool) Release(s *Session) {
	p.release(s, nil)
}

// ReleaseEngine is Release for a session that must still be running eng.
func (p *Pool) ReleaseEngine(s *Session, eng core.PeerEngine) {
	p.release(s, eng)
}

// release is a no-op when eng is set and no longer bound to s.
func (p *Pool) release(s *Session, eng core.PeerEngine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.State() == StateIdle || (eng != nil && s.Engine() != eng) {
		return
	}
	s.fire(evClose)
	p.resetLocked(s)
	s.fire(evRelease)
}

func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		if eng := s.Engine(); eng != nil {
			if err := eng.Close(); err != nil {
				log.Warn().Err(err).Str("module", "app.pool").Int("slot", s.slot).Msg("close engine")
			}
		}
	}
}

func (p *Pool) start(ctx context.Context, s *Session, remoteID string) error {
	eng := s.Engine()
	if eng == nil {
		var err error
		if eng, err = p.factory(); err != nil {
			return fmt.Errorf("new engine: %w", err)
		}
		s.mu.Lock()
		s.engine = eng
		s.mu.Unlock()
	}

	servers, err := p.resolver.Resolve(ctx, p.cfg.MaxServers)
	if err != nil {
		return fmt.Errorf("resolve servers: %w", err)
	}
	if err := eng.AddServerConfig(servers); err != nil {
		return fmt.Errorf("add server config: %w", err)
	}

	eng.SetLocalCandidateCallback(func(c domain.LocalCandidate) {
		if s.Engine() != eng {
			return
		}
		if p.hooks.OnLocalCandidate != nil {
			p.hooks.OnLocalCandidate(s, c)
		}
	})
	p.bindFrames(s, eng)
	eng.SetBandwidthFeedbackCallback(func(r domain.FeedbackReport) {
		if err := s.twcc.OnFeedback(r); err != nil {
			log.Debug().Err(err).Str("module", "app.pool").Int("slot", s.slot).Msg("feedback skipped")
		}
	})
	eng.SetStateCallback(func(st core.EngineState) { p.onEngineState(s, eng, st) })

	video, err := p.media.InitVideoTransceiver(ctx)
	if err != nil {
		return fmt.Errorf("video transceiver: %w", err)
	}
	if err := eng.AddTransceiver(video); err != nil {
		return fmt.Errorf("add video transceiver: %w", err)
	}
	audio, err := p.media.InitAudioTransceiver(ctx)
	if err != nil {
		return fmt.Errorf("audio transceiver: %w", err)
	}
	if err := eng.AddTransceiver(audio); err != nil {
		return fmt.Errorf("add audio transceiver: %w", err)
	}

	s.mu.Lock()
	s.remoteID = remoteID
	s.mu.Unlock()

	if err := eng.Start(p.ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	log.Info().Str("module", "app.pool").Int("slot", s.slot).Str("remote_id", remoteID).Int("servers", len(servers)).Msg("session started")
	return nil
}

// BindFrames (re)registers the inbound frame handlers of the session engine.
func (p *Pool) BindFrames(s *Session) {
	if eng := s.Engine(); eng != nil {
		p.bindFrames(s, eng)
	}
}

func (p *Pool) bindFrames(s *Session, eng core.PeerEngine) {
	onFrame := func(f domain.Frame) {
		p.media.RecvFrame(p.ctx, f)
		if p.hooks.OnFrame != nil {
			p.hooks.OnFrame(s, f)
		}
	}
	eng.SetVideoFrameCallback(onFrame)
	eng.SetAudioFrameCallback(onFrame)
}

func (p *Pool) onEngineState(s *Session, eng core.PeerEngine, st core.EngineState) {
	if s.Engine() != eng {
		// late event from an engine that was already replaced
		return
	}
	switch {
	case st == core.EngineConnected:
		s.fire(evConnect)
	case st.Terminal():
		log.Info().Str("module", "app.pool").Int("slot", s.slot).Str("remote_id", s.RemoteID()).Str("engine_state", st.String()).Msg("session teardown")
		p.release(s, eng)
	}
}

// resetLocked swaps in a fresh engine and clears the remote id. Caller holds p.mu.
func (p *Pool) resetLocked(s *Session) {
	s.mu.Lock()
	old := s.engine
	s.engine = nil
	s.remoteID = ""
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			log.Warn().Err(err).Str("module", "app.pool").Int("slot", s.slot).Msg("close engine")
		}
	}
	eng, err := p.factory()
	if err != nil {
		// start will retry the factory
		log.Error().Err(err).Str("module", "app.pool").Int("slot", s.slot).Msg("rebuild engine")
	} else {
		s.mu.Lock()
		s.engine = eng
		s.mu.Unlock()
	}
	s.twcc.Reset()
}
