package orch

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dkeye/peerhub/internal/domain"
	"github.com/pion/sdp/v3"
)

type descriptionPayload struct {
	Type string          `json:"type"`
	SDP  json.RawMessage `json:"sdp"`
}

// ExtractSDP returns the "sdp" member of an offer/answer payload exactly as it
// appears on the wire, still escaped and without the surrounding quotes.
func ExtractSDP(payload []byte) (kind string, raw []byte, err error) {
	var p descriptionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", nil, fmt.Errorf("%w: description payload: %v", domain.ErrParseFailure, err)
	}
	if len(p.SDP) < 2 || p.SDP[0] != '"' || p.SDP[len(p.SDP)-1] != '"' {
		return "", nil, fmt.Errorf("%w: description payload has no sdp string", domain.ErrParseFailure)
	}
	return p.Type, p.SDP[1 : len(p.SDP)-1], nil
}

// DecodeLineEndings turns the escaped signaling form into SDP text. The result
// never shares storage with src.
func DecodeLineEndings(src []byte) []byte {
	dst := make([]byte, 0, len(src))
	for i := 0; i < len(src); i++ {
		c := src[i]
		if c != '\\' || i+1 == len(src) {
			dst = append(dst, c)
			continue
		}
		switch src[i+1] {
		case 'r':
			dst = append(dst, '\r')
		case 'n':
			dst = append(dst, '\n')
		case '"', '\\', '/':
			dst = append(dst, src[i+1])
		default:
			dst = append(dst, c, src[i+1])
		}
		i++
	}
	return dst
}

// EncodeLineEndings is the inverse of DecodeLineEndings. The result is safe
// to embed in a JSON string.
func EncodeLineEndings(src []byte) []byte {
	dst := make([]byte, 0, len(src)+len(src)/16)
	for _, c := range src {
		switch c {
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '"', '\\':
			dst = append(dst, '\\', c)
		default:
			dst = append(dst, c)
		}
	}
	return dst
}

// DescriptionPayload wraps an already escaped SDP into the signaling payload.
func DescriptionPayload(kind string, escaped []byte) []byte {
	var b bytes.Buffer
	b.Grow(len(escaped) + len(kind) + 24)
	b.WriteString(`{"type":"`)
	b.WriteString(kind)
	b.WriteString(`","sdp":"`)
	b.Write(escaped)
	b.WriteString(`"}`)
	return b.Bytes()
}

// Summary is what the handler logs about a remote description.
type Summary struct {
	SessionID uint64
	Media     []string
}

// InspectSDP validates text as a session description.
func InspectSDP(text []byte) (Summary, error) {
	var desc sdp.SessionDescription
	if err := desc.Unmarshal(text); err != nil {
		return Summary{}, fmt.Errorf("%w: session description: %v", domain.ErrParseFailure, err)
	}
	s := Summary{SessionID: desc.Origin.SessionID}
	for _, m := range desc.MediaDescriptions {
		s.Media = append(s.Media, m.MediaName.Media)
	}
	return s, nil
}
