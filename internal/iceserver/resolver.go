package iceserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/dkeye/peerhub/internal/core"
	"github.com/dkeye/peerhub/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTemplate = "stun.kinesisvideo.%s.%s"
	DefaultSuffix   = "amazonaws.com"
	DefaultSuffixCN = "amazonaws.com.cn"
	DefaultPort     = 443
)

// DefaultServer describes how the synthesized reflection server is built.
type DefaultServer struct {
	Template string
	Region   string
	Suffix   string
	SuffixCN string
	Port     uint16
}

func (d DefaultServer) host() (string, error) {
	suffix := d.Suffix
	if strings.Contains(d.Region, "cn-") {
		suffix = d.SuffixCN
	}
	host := fmt.Sprintf(d.Template, d.Region, suffix)
	if len(host) >= domain.URLMax {
		return "", fmt.Errorf("%w: default server host is %d bytes", domain.ErrFormatOverflow, len(host))
	}
	return host, nil
}

// Resolver assembles the server list a session starts with.
type Resolver struct {
	query core.ServerConfigQuery
	def   DefaultServer
}

func NewResolver(query core.ServerConfigQuery, def DefaultServer) *Resolver {
	if def.Template == "" {
		def.Template = DefaultTemplate
	}
	if def.Suffix == "" {
		def.Suffix = DefaultSuffix
	}
	if def.SuffixCN == "" {
		def.SuffixCN = DefaultSuffixCN
	}
	if def.Port == 0 {
		def.Port = DefaultPort
	}
	return &Resolver{query: query, def: def}
}

// Resolve returns at most capacity servers. Index 0 is always the synthesized
// default. Bad or oversized entries are skipped, never fatal.
func (r *Resolver) Resolve(ctx context.Context, capacity int) ([]domain.ServerDescriptor, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: capacity %d", domain.ErrInvalidArgument, capacity)
	}
	if r.query == nil {
		return nil, fmt.Errorf("%w: no signaling query", domain.ErrInvalidArgument)
	}
	host, err := r.def.host()
	if err != nil {
		return nil, err
	}

	groups, err := r.query.QueryServerConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: query server configs: %v", domain.ErrUpstreamFailure, err)
	}

	out := make([]domain.ServerDescriptor, 0, capacity)
	out = append(out, domain.ServerDescriptor{Kind: domain.ServerStun, Host: host, Port: r.def.Port})

	for gi, g := range groups {
		if len(g.Username) > domain.UserMax || len(g.Credential) > domain.CredMax {
			log.Warn().Str("module", "iceserver").Int("group", gi).
				Int("username_len", len(g.Username)).Int("credential_len", len(g.Credential)).
				Msg("credentials too long, skipping group")
			continue
		}
		for ui, uri := range g.URIs {
			if len(out) >= capacity {
				log.Warn().Str("module", "iceserver").Int("group", gi).Int("dropped", len(g.URIs)-ui).
					Int("capacity", capacity).Msg("server list full, dropping uris")
				break
			}
			d, err := ParseURI([]byte(uri))
			if err != nil {
				log.Warn().Err(err).Str("module", "iceserver").Str("uri", string(uri)).Msg("skipping server uri")
				continue
			}
			if d.Kind != domain.ServerStun {
				d.Username = g.Username
				d.Credential = g.Credential
			}
			if contains(out, d) {
				log.Debug().Str("module", "iceserver").Str("uri", string(uri)).Msg("duplicate server uri")
				continue
			}
			out = append(out, d)
		}
	}

	log.Debug().Str("module", "iceserver").Int("count", len(out)).Int("groups", len(groups)).Msg("server list resolved")
	return out, nil
}

func contains(list []domain.ServerDescriptor, d domain.ServerDescriptor) bool {
	for _, e := range list {
		if e == d {
			return true
		}
	}
	return false
}
