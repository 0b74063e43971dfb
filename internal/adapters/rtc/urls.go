package rtc

import (
	"github.com/dkeye/peerhub/internal/domain"
	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

// ICEServers renders resolved descriptors as engine server entries.
func ICEServers(servers []domain.ServerDescriptor) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, d := range servers {
		u := stun.URI{Host: d.Host, Port: int(d.Port)}
		switch d.Kind {
		case domain.ServerStun:
			u.Scheme = stun.SchemeTypeSTUN
		case domain.ServerTurn:
			u.Scheme = stun.SchemeTypeTURN
		case domain.ServerTurns:
			u.Scheme = stun.SchemeTypeTURNS
		default:
			continue
		}
		if u.Scheme != stun.SchemeTypeSTUN {
			u.Proto = stun.ProtoTypeUDP
			if d.Transport == domain.TransportTCP {
				u.Proto = stun.ProtoTypeTCP
			}
		}
		out = append(out, webrtc.ICEServer{
			URLs:       []string{u.String()},
			Username:   d.Username,
			Credential: d.Credential,
		})
	}
	return out
}
