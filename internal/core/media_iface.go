package core

import (
	"context"

	"github.com/dkeye/peerhub/internal/domain"
)

// EngineState is the coarse connection state reported by a PeerEngine.
type EngineState int

const (
	EngineNew EngineState = iota
	EngineConnecting
	EngineConnected
	EngineDisconnected
	EngineFailed
	EngineClosed
)

func (s EngineState) String() string {
	switch s {
	case EngineNew:
		return "new"
	case EngineConnecting:
		return "connecting"
	case EngineConnected:
		return "connected"
	case EngineDisconnected:
		return "disconnected"
	case EngineFailed:
		return "failed"
	case EngineClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the media session.
func (s EngineState) Terminal() bool {
	return s == EngineDisconnected || s == EngineFailed || s == EngineClosed
}

// PeerEngine is the media/ICE engine bound to one session slot.
// Callbacks fire on engine goroutines and never from inside Close.
type PeerEngine interface {
	// AddServerConfig registers reflection/relay servers used when Start runs.
	AddServerConfig(servers []domain.ServerDescriptor) error
	// SetLocalCandidateCallback sets the sink for newly gathered local candidates.
	SetLocalCandidateCallback(func(domain.LocalCandidate))
	AddTransceiver(t domain.Transceiver) error
	// Start binds the engine lifetime to ctx and begins gathering.
	Start(ctx context.Context) error

	SetRemoteDescription(kind string, sdp []byte) error
	SetLocalDescription() error
	// CreateAnswer returns the local answer SDP as raw text with real line breaks.
	CreateAnswer() ([]byte, error)
	// AddRemoteCandidate applies a trickled candidate payload.
	AddRemoteCandidate(payload []byte) error

	SetVideoFrameCallback(func(domain.Frame))
	SetAudioFrameCallback(func(domain.Frame))
	SetBandwidthFeedbackCallback(func(domain.FeedbackReport))
	SetStateCallback(func(EngineState))

	// WriteFrame sends one local media frame on the matching transceiver.
	WriteFrame(f domain.Frame) error
	Close() error
}

// EngineFactory builds a fresh engine for a slot.
type EngineFactory func() (PeerEngine, error)

// MediaSource is the local capture collaborator. It hands out one transceiver
// descriptor per media kind and receives inbound frames from the engine.
type MediaSource interface {
	InitVideoTransceiver(ctx context.Context) (domain.Transceiver, error)
	InitAudioTransceiver(ctx context.Context) (domain.Transceiver, error)
	RecvFrame(ctx context.Context, f domain.Frame)
}

// FrameProducer emits local frames until ctx is done.
type FrameProducer interface {
	Run(ctx context.Context, sink func(domain.Frame)) error
}

// BitrateSink receives encoder targets, video in kbps and audio in bps.
type BitrateSink interface {
	ApplyBitrate(videoKbps, audioBps uint64)
}
