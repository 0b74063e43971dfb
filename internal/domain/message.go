package domain

type MessageType int

const (
	MessageUnknown MessageType = iota
	MessageOffer
	MessageAnswer
	MessageCandidate
	MessageStatusResponse
)

func (t MessageType) String() string {
	switch t {
	case MessageOffer:
		return "offer"
	case MessageAnswer:
		return "answer"
	case MessageCandidate:
		return "candidate"
	case MessageStatusResponse:
		return "status"
	default:
		return "unknown"
	}
}

// ParseMessageType maps the wire tag to a MessageType.
func ParseMessageType(s string) MessageType {
	switch s {
	case "offer":
		return MessageOffer
	case "answer":
		return MessageAnswer
	case "candidate":
		return MessageCandidate
	case "status":
		return MessageStatusResponse
	default:
		return MessageUnknown
	}
}

// SignalingMessage is an inbound message as delivered by the signaling client.
type SignalingMessage struct {
	Type          MessageType
	RemoteID      string
	CorrelationID string
	Payload       []byte
}

// Outbound is a message handed to the signaling client for delivery.
// OnComplete, when set, is invoked exactly once after the client is done
// with Payload; the producer must not touch Payload afterwards.
type Outbound struct {
	Type          MessageType
	RemoteID      string
	CorrelationID string
	Payload       []byte
	OnComplete    func(err error)
}
