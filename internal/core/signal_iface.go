package core

import (
	"context"

	"github.com/dkeye/peerhub/internal/domain"
)

// SignalClient abstracts the signaling service transport.
// Owned by the adapter; the adapter must Close() it.
type SignalClient interface {
	// Send queues msg without blocking. On a nil return the client owns the
	// payload until it calls msg.OnComplete.
	Send(msg domain.Outbound) error
	// QueryServerConfigs fetches the reflection/relay server groups for the channel.
	QueryServerConfigs(ctx context.Context) ([]domain.ServerGroup, error)
	Close()
}

// ServerConfigQuery is the part of SignalClient used by the server list resolver.
type ServerConfigQuery interface {
	QueryServerConfigs(ctx context.Context) ([]domain.ServerGroup, error)
}
