// Package orch drives the offer/answer/candidate exchange against the session pool.
package orch

import (
	"context"
	"errors"

	"github.com/dkeye/peerhub/internal/app"
	"github.com/dkeye/peerhub/internal/app/sfu"
	"github.com/dkeye/peerhub/internal/domain"
	"github.com/dkeye/peerhub/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Sender is the outbound half of the signaling client.
type Sender interface {
	Send(msg domain.Outbound) error
}

type Orchestrator struct {
	Pool    *app.Pool
	Signal  Sender
	Metrics *metrics.Metrics
	FanOut  *sfu.FanOut
}

// HandleMessage dispatches one inbound signaling message. Failures are logged
// and the message is dropped; nothing is retried.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg domain.SignalingMessage) {
	o.Metrics.Message(msg.Type.String())

	var err error
	switch msg.Type {
	case domain.MessageOffer:
		err = o.HandleOffer(ctx, msg)
	case domain.MessageAnswer:
		err = o.HandleAnswer(ctx, msg)
	case domain.MessageCandidate:
		err = o.HandleRemoteCandidate(msg)
	case domain.MessageStatusResponse:
		log.Debug().Str("module", "orch").Str("remote_id", msg.RemoteID).
			Str("correlation_id", msg.CorrelationID).Bytes("payload", msg.Payload).Msg("status response")
	default:
		o.Metrics.Dropped(metrics.DropUnknownType)
		log.Warn().Str("module", "orch").Str("remote_id", msg.RemoteID).Msg("unknown message type")
	}
	if err == nil {
		return
	}

	o.Metrics.Dropped(dropReason(msg.Type, err))
	ev := log.Error()
	if errors.Is(err, domain.ErrStateConflict) || errors.Is(err, domain.ErrParseFailure) {
		ev = log.Warn()
	}
	ev.Err(err).Str("module", "orch").Str("type", msg.Type.String()).Str("remote_id", msg.RemoteID).Msg("message dropped")
}

func dropReason(t domain.MessageType, err error) string {
	switch {
	case errors.Is(err, domain.ErrStateConflict):
		return metrics.DropNoSession
	case errors.Is(err, domain.ErrParseFailure):
		return metrics.DropBadPayload
	case t == domain.MessageCandidate:
		return metrics.DropCandidate
	default:
		return metrics.DropNegotiation
	}
}
