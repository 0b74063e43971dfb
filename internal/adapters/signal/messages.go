package signal

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/peerhub/internal/domain"
)

// envelope is the wire form of every signaling message.
type envelope struct {
	Type          string `json:"type"`
	RemoteID      string `json:"remoteId"`
	CorrelationID string `json:"correlationId,omitempty"`
	Payload       string `json:"payload"`
}

func decodeEnvelope(data []byte) (domain.SignalingMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.SignalingMessage{}, fmt.Errorf("%w: envelope: %v", domain.ErrParseFailure, err)
	}
	return domain.SignalingMessage{
		Type:          domain.ParseMessageType(env.Type),
		RemoteID:      env.RemoteID,
		CorrelationID: env.CorrelationID,
		Payload:       []byte(env.Payload),
	}, nil
}

func encodeEnvelope(msg domain.Outbound) ([]byte, error) {
	return json.Marshal(envelope{
		Type:          msg.Type.String(),
		RemoteID:      msg.RemoteID,
		CorrelationID: msg.CorrelationID,
		Payload:       string(msg.Payload),
	})
}

type iceConfigResponse struct {
	IceServers []struct {
		URIs     []string `json:"uris"`
		Username string   `json:"username"`
		Password string   `json:"password"`
		TTL      int      `json:"ttl"`
	} `json:"iceServers"`
}

func (r iceConfigResponse) groups() []domain.ServerGroup {
	out := make([]domain.ServerGroup, 0, len(r.IceServers))
	for _, s := range r.IceServers {
		g := domain.ServerGroup{Username: s.Username, Credential: s.Password, TTLSeconds: s.TTL}
		for _, u := range s.URIs {
			g.URIs = append(g.URIs, domain.ServerURI(u))
		}
		out = append(out, g)
	}
	return out
}
