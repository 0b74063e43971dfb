package app

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/peerhub/internal/app/twcc"
	"github.com/dkeye/peerhub/internal/core"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog/log"
)

type SessionState string

const (
	StateIdle        SessionState = "idle"
	StateStarted     SessionState = "started"
	StateNegotiating SessionState = "negotiating"
	StateReady       SessionState = "ready"
	StateClosed      SessionState = "closed"
)

var AllStates = []SessionState{StateIdle, StateStarted, StateNegotiating, StateReady, StateClosed}

const (
	evStart     = "start"
	evNegotiate = "negotiate"
	evConnect   = "connect"
	evClose     = "close"
	evRelease   = "release"
)

// Session is one slot of the pool. The slot index is stable for the process
// lifetime; the remote id, engine and state are reset on release.
type Session struct {
	slot int

	mu       sync.RWMutex
	remoteID string
	engine   core.PeerEngine
	// set while the pool runs the start sequence outside its lock
	starting  bool
	pendingID string

	machine *fsm.FSM
	twcc    *twcc.Controller
}

func newSession(slot int, engine core.PeerEngine, ctl *twcc.Controller, onChange func(s *Session, from, to SessionState)) *Session {
	s := &Session{slot: slot, engine: engine, twcc: ctl}
	s.machine = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: evStart, Src: []string{string(StateIdle)}, Dst: string(StateStarted)},
			{Name: evNegotiate, Src: []string{string(StateStarted)}, Dst: string(StateNegotiating)},
			{Name: evConnect, Src: []string{string(StateStarted), string(StateNegotiating)}, Dst: string(StateReady)},
			{Name: evClose, Src: []string{string(StateStarted), string(StateNegotiating), string(StateReady)}, Dst: string(StateClosed)},
			{Name: evRelease, Src: []string{string(StateClosed)}, Dst: string(StateIdle)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				log.Info().Str("module", "app.pool").Int("slot", slot).Str("remote_id", s.RemoteID()).
					Str("from", e.Src).Str("to", e.Dst).Msg("session state")
				if onChange != nil {
					onChange(s, SessionState(e.Src), SessionState(e.Dst))
				}
			},
		},
	)
	return s
}

func (s *Session) Slot() int { return s.slot }

func (s *Session) RemoteID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remoteID
}

func (s *Session) Engine() core.PeerEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

func (s *Session) State() SessionState { return SessionState(s.machine.Current()) }

func (s *Session) TWCC() *twcc.Controller { return s.twcc }

// fire runs an event if the current state allows it.
func (s *Session) fire(event string) bool {
	if !s.machine.Can(event) {
		return false
	}
	if err := s.machine.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			log.Error().Err(err).Str("module", "app.pool").Int("slot", s.slot).Str("event", event).Msg("session transition")
			return false
		}
	}
	return true
}
