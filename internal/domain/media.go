package domain

import (
	"net/netip"
	"time"
)

type TrackKind int

const (
	TrackVideo TrackKind = iota
	TrackAudio
)

func (k TrackKind) String() string {
	if k == TrackAudio {
		return "audio"
	}
	return "video"
}

// Transceiver describes one local media track binding handed out by the media source.
type Transceiver struct {
	Kind      TrackKind
	MimeType  string
	ClockRate uint32
	Channels  uint16
	TrackID   string
	StreamID  string
}

// Frame is one encoded media frame.
type Frame struct {
	Kind      TrackKind
	Data      []byte
	Timestamp time.Duration
	Duration  time.Duration
}

type CandidateType int

const (
	CandidateUnknown CandidateType = iota
	CandidateHost
	CandidateServerReflexive
	CandidatePeerReflexive
	CandidateRelay
)

// Tag is the SDP "typ" token for the candidate type.
func (t CandidateType) Tag() string {
	switch t {
	case CandidateHost:
		return "host"
	case CandidateServerReflexive:
		return "srflx"
	case CandidatePeerReflexive:
		return "prflx"
	case CandidateRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// LocalCandidate is a gathered local ICE candidate reported by the engine.
type LocalCandidate struct {
	Index    uint32
	Priority uint32
	Addr     netip.Addr
	Port     uint16
	Type     CandidateType
}

// FeedbackReport carries transport-wide counters for one feedback interval.
type FeedbackReport struct {
	SentPackets     uint64
	ReceivedPackets uint64
	SentBytes       uint64
	Duration        time.Duration
}
