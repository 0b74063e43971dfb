package orch

import (
	"fmt"
	"sync"

	"github.com/dkeye/peerhub/internal/domain"
)

const candidateBufSize = 256

var candidateBufs = sync.Pool{
	New: func() any {
		b := make([]byte, 0, candidateBufSize)
		return &b
	},
}

// AppendCandidate appends the signaling envelope for c to dst:
//
//	{"candidate":"candidate:<index> 1 udp <priority> <addr> <port> typ <type> raddr <default> rport 0 generation 0 network-cost 999","sdpMid":"0","sdpMLineIndex":0}
func AppendCandidate(dst []byte, c domain.LocalCandidate) ([]byte, error) {
	dst = append(dst, `{"candidate":"`...)
	switch {
	case c.Addr.Is4():
		a := c.Addr.As4()
		dst = fmt.Appendf(dst, "candidate:%d 1 udp %d %d.%d.%d.%d %d typ %s raddr 0.0.0.0 rport 0 generation 0 network-cost 999",
			c.Index, c.Priority, a[0], a[1], a[2], a[3], c.Port, c.Type.Tag())
	case c.Addr.Is6():
		a := c.Addr.As16()
		dst = fmt.Appendf(dst, "candidate:%d 1 udp %d ", c.Index, c.Priority)
		for i := 0; i < 16; i += 2 {
			if i > 0 {
				dst = append(dst, ':')
			}
			dst = fmt.Appendf(dst, "%02X%02X", a[i], a[i+1])
		}
		dst = fmt.Appendf(dst, " %d typ %s raddr ::/0 rport 0 generation 0 network-cost 999", c.Port, c.Type.Tag())
	default:
		return dst, fmt.Errorf("%w: candidate address %v", domain.ErrInvalidArgument, c.Addr)
	}
	dst = append(dst, `","sdpMid":"0","sdpMLineIndex":0}`...)
	return dst, nil
}

// candidateBuffer is a pooled buffer whose release runs exactly once.
type candidateBuffer struct {
	buf  *[]byte
	once sync.Once
}

func newCandidateBuffer(c domain.LocalCandidate) (*candidateBuffer, error) {
	buf := candidateBufs.Get().(*[]byte)
	out, err := AppendCandidate((*buf)[:0], c)
	if err != nil {
		candidateBufs.Put(buf)
		return nil, err
	}
	*buf = out
	return &candidateBuffer{buf: buf}, nil
}

func (b *candidateBuffer) Bytes() []byte { return *b.buf }

func (b *candidateBuffer) Release() {
	b.once.Do(func() {
		*b.buf = (*b.buf)[:0]
		candidateBufs.Put(b.buf)
	})
}
