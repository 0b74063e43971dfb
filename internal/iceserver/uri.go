// Package iceserver turns signaling-provided reflection/relay server descriptors
// into engine-ready server records.
package iceserver

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/dkeye/peerhub/internal/domain"
)

var (
	prefixTurns = []byte("turns:")
	prefixTurn  = []byte("turn:")
	prefixStun  = []byte("stun:")

	suffixUDP = []byte("transport=udp")
	suffixTCP = []byte("transport=tcp")
)

// ParseURI parses one server URI of the form
//
//	stun:host:port
//	turn:host:port?transport=udp|tcp
//	turns:host:port?transport=udp|tcp
//
// On error the returned descriptor is the zero value.
func ParseURI(raw []byte) (domain.ServerDescriptor, error) {
	var (
		d    domain.ServerDescriptor
		rest []byte
	)
	switch {
	case bytes.HasPrefix(raw, prefixTurns):
		d.Kind, rest = domain.ServerTurns, raw[len(prefixTurns):]
	case bytes.HasPrefix(raw, prefixTurn):
		d.Kind, rest = domain.ServerTurn, raw[len(prefixTurn):]
	case bytes.HasPrefix(raw, prefixStun):
		d.Kind, rest = domain.ServerStun, raw[len(prefixStun):]
	default:
		return domain.ServerDescriptor{}, fmt.Errorf("%w: unknown scheme in %q", domain.ErrParseFailure, raw)
	}

	colon := bytes.IndexByte(rest, ':')
	if colon < 0 {
		return domain.ServerDescriptor{}, fmt.Errorf("%w: missing port delimiter", domain.ErrParseFailure)
	}
	host := rest[:colon]
	if len(host) == 0 || bytes.IndexByte(host, 0) >= 0 {
		return domain.ServerDescriptor{}, fmt.Errorf("%w: empty or invalid host", domain.ErrParseFailure)
	}
	// room for the terminating marker
	if len(host) >= domain.URLMax {
		return domain.ServerDescriptor{}, fmt.Errorf("%w: host is %d bytes, limit %d", domain.ErrCapacityExceeded, len(host), domain.URLMax-1)
	}

	rest = rest[colon+1:]
	portEnd := bytes.IndexByte(rest, '?')
	var query []byte
	hasQuery := portEnd >= 0
	if hasQuery {
		query = rest[portEnd+1:]
	} else {
		portEnd = len(rest)
	}
	digits := rest[:portEnd]
	if len(digits) == 0 {
		return domain.ServerDescriptor{}, fmt.Errorf("%w: empty port", domain.ErrParseFailure)
	}
	port, err := strconv.ParseUint(string(digits), 10, 16)
	if err != nil {
		return domain.ServerDescriptor{}, fmt.Errorf("%w: port %q", domain.ErrParseFailure, digits)
	}

	if d.Kind != domain.ServerStun {
		switch {
		case !hasQuery:
			return domain.ServerDescriptor{}, fmt.Errorf("%w: %s requires a transport", domain.ErrParseFailure, d.Kind)
		case bytes.Equal(query, suffixUDP):
			d.Transport = domain.TransportUDP
		case bytes.Equal(query, suffixTCP):
			d.Transport = domain.TransportTCP
		default:
			return domain.ServerDescriptor{}, fmt.Errorf("%w: transport %q", domain.ErrParseFailure, query)
		}
	}

	d.Host = string(host)
	d.Port = uint16(port)
	return d, nil
}
