// Package domain contains entities without transport logic, just meta-data
package domain

const (
	// URLMax is the host buffer size, terminating marker included.
	URLMax = 256
	// UserMax and CredMax bound server credentials.
	UserMax = 256
	CredMax = 256
	// IDMax bounds remote peer identifiers.
	IDMax = 256
)

type ServerKind int

const (
	ServerStun ServerKind = iota
	ServerTurn
	ServerTurns
)

func (k ServerKind) String() string {
	switch k {
	case ServerStun:
		return "stun"
	case ServerTurn:
		return "turn"
	case ServerTurns:
		return "turns"
	default:
		return "unknown"
	}
}

type Transport int

const (
	TransportNone Transport = iota
	TransportUDP
	TransportTCP
)

func (t Transport) String() string {
	switch t {
	case TransportUDP:
		return "udp"
	case TransportTCP:
		return "tcp"
	default:
		return "none"
	}
}

// ServerDescriptor is one reflection/relay server ready for the engine.
// Stun entries carry no transport and no credentials.
type ServerDescriptor struct {
	Kind       ServerKind
	Host       string
	Port       uint16
	Transport  Transport
	Username   string
	Credential string
}

// ServerURI is a single descriptor string as delivered by signaling.
type ServerURI string

// ServerGroup is what the signaling service returns for one server entry:
// shared credentials plus one or more URIs.
type ServerGroup struct {
	Username   string
	Credential string
	URIs       []ServerURI
	TTLSeconds int
}
