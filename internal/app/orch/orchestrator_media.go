package orch

import (
	"github.com/dkeye/peerhub/internal/app"
	"github.com/dkeye/peerhub/internal/app/twcc"
	"github.com/dkeye/peerhub/internal/domain"
	"github.com/rs/zerolog/log"
)

// Hooks binds the pool's engine callbacks to the orchestrator.
func (o *Orchestrator) Hooks() app.Hooks {
	return app.Hooks{
		OnLocalCandidate: o.OnLocalCandidate,
		OnFrame:          o.OnFrame,
		OnStateChange:    o.OnSessionState,
		OnBitrate:        o.OnBitrate,
	}
}

// InitMetrics zeroes the per-state session gauges. Call it before the pool is
// built so the initial idle transitions land on existing series.
func (o *Orchestrator) InitMetrics() {
	states := make([]string, 0, len(app.AllStates))
	for _, st := range app.AllStates {
		states = append(states, string(st))
	}
	o.Metrics.InitSessionStates(states...)
}

// OnSessionState keeps the fan-out in step with sessions entering and
// leaving the ready state.
func (o *Orchestrator) OnSessionState(s *app.Session, from, to app.SessionState) {
	o.Metrics.SessionState(string(from), string(to))
	if o.FanOut == nil {
		return
	}
	switch {
	case to == app.StateReady:
		o.FanOut.Add(s)
	case from == app.StateReady:
		o.FanOut.Remove(s.Slot())
	}
}

func (o *Orchestrator) OnFrame(s *app.Session, f domain.Frame) {
	log.Debug().Str("module", "orch").Int("slot", s.Slot()).Str("kind", f.Kind.String()).Int("size", len(f.Data)).Msg("inbound frame")
}

func (o *Orchestrator) OnBitrate(s *app.Session, st twcc.State) {
	o.Metrics.Bitrate(s.Slot(), st.VideoBitrate, st.AudioBitrate, st.AverageLoss)
}
