package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/peerhub/internal/app"
	"github.com/dkeye/peerhub/internal/core"
	"github.com/dkeye/peerhub/internal/domain"
	"github.com/dkeye/peerhub/internal/metrics"
	"github.com/rs/zerolog/log"
)

// HandleOffer applies a remote offer and sends back exactly one answer, or
// nothing when any step fails.
func (o *Orchestrator) HandleOffer(ctx context.Context, msg domain.SignalingMessage) error {
	s, eng, err := o.applyRemote(ctx, msg, "offer")
	if err != nil {
		return err
	}

	if err := eng.SetLocalDescription(); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	answer, err := eng.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}

	out := domain.Outbound{
		Type:     domain.MessageAnswer,
		RemoteID: msg.RemoteID,
		Payload:  DescriptionPayload("answer", EncodeLineEndings(answer)),
	}
	if err := o.Signal.Send(out); err != nil {
		return fmt.Errorf("%w: send answer: %v", domain.ErrUpstreamFailure, err)
	}
	o.Metrics.AnswerSent()
	log.Info().Str("module", "orch").Int("slot", s.Slot()).Str("remote_id", msg.RemoteID).Msg("answer sent")
	return nil
}

// HandleAnswer applies a remote answer; no local description is generated.
func (o *Orchestrator) HandleAnswer(ctx context.Context, msg domain.SignalingMessage) error {
	s, _, err := o.applyRemote(ctx, msg, "answer")
	if err != nil {
		return err
	}
	log.Info().Str("module", "orch").Int("slot", s.Slot()).Str("remote_id", msg.RemoteID).Msg("answer applied")
	return nil
}

func (o *Orchestrator) applyRemote(ctx context.Context, msg domain.SignalingMessage, kind string) (*app.Session, core.PeerEngine, error) {
	_, raw, err := ExtractSDP(msg.Payload)
	if err != nil {
		return nil, nil, err
	}
	text := DecodeLineEndings(raw)
	summary, err := InspectSDP(text)
	if err != nil {
		return nil, nil, err
	}

	s, err := o.Pool.Resolve(ctx, msg.RemoteID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve session: %w", err)
	}
	eng := s.Engine()
	if eng == nil {
		return nil, nil, fmt.Errorf("%w: slot %d has no engine", domain.ErrStateConflict, s.Slot())
	}
	log.Debug().Str("module", "orch").Int("slot", s.Slot()).Str("remote_id", msg.RemoteID).
		Str("kind", kind).Uint64("sdp_session", summary.SessionID).Strs("media", summary.Media).Msg("remote description")

	if err := eng.SetRemoteDescription(kind, text); err != nil {
		return nil, nil, fmt.Errorf("set remote %s: %w", kind, err)
	}
	o.Pool.MarkNegotiating(s)
	o.Pool.BindFrames(s)
	return s, eng, nil
}

// HandleRemoteCandidate applies a trickled candidate to an existing session.
func (o *Orchestrator) HandleRemoteCandidate(msg domain.SignalingMessage) error {
	s, ok := o.Pool.Lookup(msg.RemoteID)
	if !ok {
		return fmt.Errorf("%w: no session for candidate", domain.ErrStateConflict)
	}
	eng := s.Engine()
	if eng == nil {
		return fmt.Errorf("%w: slot %d has no engine", domain.ErrStateConflict, s.Slot())
	}
	if err := eng.AddRemoteCandidate(msg.Payload); err != nil {
		return fmt.Errorf("add remote candidate: %w", err)
	}
	return nil
}

// OnLocalCandidate sends a gathered local candidate to the session's remote
// peer. The pooled payload is released by the send completion, or here when
// the send is refused.
func (o *Orchestrator) OnLocalCandidate(s *app.Session, c domain.LocalCandidate) {
	remoteID := s.RemoteID()
	if st := s.State(); st == app.StateIdle || st == app.StateClosed {
		log.Warn().Str("module", "orch").Int("slot", s.Slot()).Str("state", string(st)).Msg("local candidate for released session dropped")
		o.Metrics.Dropped(metrics.DropNoSession)
		return
	}
	buf, err := newCandidateBuffer(c)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Int("slot", s.Slot()).Msg("local candidate dropped")
		o.Metrics.Dropped(metrics.DropCandidate)
		return
	}
	out := domain.Outbound{
		Type:     domain.MessageCandidate,
		RemoteID: remoteID,
		Payload:  buf.Bytes(),
		OnComplete: func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("module", "orch").Str("remote_id", remoteID).Msg("candidate send failed")
			}
			buf.Release()
		},
	}
	if err := o.Signal.Send(out); err != nil {
		buf.Release()
		o.Metrics.Dropped(metrics.DropBackpressure)
		log.Warn().Err(err).Str("module", "orch").Str("remote_id", remoteID).Msg("candidate not queued")
		return
	}
	log.Debug().Str("module", "orch").Str("remote_id", remoteID).Uint32("index", c.Index).Str("typ", c.Type.Tag()).Msg("local candidate sent")
}
