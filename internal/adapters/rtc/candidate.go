package rtc

import (
	"net/netip"

	"github.com/dkeye/peerhub/internal/core"
	"github.com/dkeye/peerhub/internal/domain"
	"github.com/pion/webrtc/v4"
)

// localCandidate converts a gathered pion candidate. Only UDP candidates with
// a literal address are reported.
func localCandidate(index uint32, c *webrtc.ICECandidate) (domain.LocalCandidate, bool) {
	if c == nil || c.Protocol != webrtc.ICEProtocolUDP {
		return domain.LocalCandidate{}, false
	}
	addr, err := netip.ParseAddr(c.Address)
	if err != nil {
		return domain.LocalCandidate{}, false
	}
	return domain.LocalCandidate{
		Index:    index,
		Priority: c.Priority,
		Addr:     addr.Unmap(),
		Port:     c.Port,
		Type:     candidateType(c.Typ),
	}, true
}

func candidateType(t webrtc.ICECandidateType) domain.CandidateType {
	switch t {
	case webrtc.ICECandidateTypeHost:
		return domain.CandidateHost
	case webrtc.ICECandidateTypeSrflx:
		return domain.CandidateServerReflexive
	case webrtc.ICECandidateTypePrflx:
		return domain.CandidatePeerReflexive
	case webrtc.ICECandidateTypeRelay:
		return domain.CandidateRelay
	default:
		return domain.CandidateUnknown
	}
}

func engineState(s webrtc.PeerConnectionState) core.EngineState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return core.EngineConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.EngineConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.EngineDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.EngineFailed
	case webrtc.PeerConnectionStateClosed:
		return core.EngineClosed
	default:
		return core.EngineNew
	}
}
