package iceserver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dkeye/peerhub/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuery struct {
	groups []domain.ServerGroup
	err    error
	calls  int
}

func (f *fakeQuery) QueryServerConfigs(context.Context) ([]domain.ServerGroup, error) {
	f.calls++
	return f.groups, f.err
}

func TestResolveDefaultFirst(t *testing.T) {
	q := &fakeQuery{groups: []domain.ServerGroup{{
		Username:   "u",
		Credential: "p",
		URIs: []domain.ServerURI{
			"turn:1.1.1.1:3478?transport=udp",
			"turns:relay.example.com:443?transport=tcp",
		},
	}}}
	r := NewResolver(q, DefaultServer{Region: "us-west-2"})

	got, err := r.Resolve(context.Background(), 16)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, domain.ServerDescriptor{Kind: domain.ServerStun, Host: "stun.kinesisvideo.us-west-2.amazonaws.com", Port: 443}, got[0])
	assert.Equal(t, domain.ServerDescriptor{Kind: domain.ServerTurn, Host: "1.1.1.1", Port: 3478, Transport: domain.TransportUDP, Username: "u", Credential: "p"}, got[1])
	assert.Equal(t, domain.ServerTurns, got[2].Kind)
	assert.Equal(t, "u", got[2].Username)
}

func TestResolveChinaSuffix(t *testing.T) {
	r := NewResolver(&fakeQuery{}, DefaultServer{Region: "cn-north-1"})
	got, err := r.Resolve(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "stun.kinesisvideo.cn-north-1.amazonaws.com.cn", got[0].Host)
}

func TestResolveCapacity(t *testing.T) {
	q := &fakeQuery{groups: []domain.ServerGroup{
		{Username: "a", Credential: "b", URIs: []domain.ServerURI{"turn:h1:1?transport=udp", "turn:h2:2?transport=udp"}},
		{Username: "c", Credential: "d", URIs: []domain.ServerURI{"turn:h3:3?transport=udp"}},
	}}
	r := NewResolver(q, DefaultServer{Region: "eu-west-1"})

	for capacity := 1; capacity <= 5; capacity++ {
		got, err := r.Resolve(context.Background(), capacity)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(got), capacity)
		assert.Equal(t, domain.ServerStun, got[0].Kind)
		assert.Contains(t, got[0].Host, "eu-west-1")
	}

	got, err := r.Resolve(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "h1", got[1].Host)
}

func TestResolveSkipsBadEntries(t *testing.T) {
	long := strings.Repeat("x", domain.UserMax+1)
	edge := strings.Repeat("e", domain.UserMax)
	q := &fakeQuery{groups: []domain.ServerGroup{
		{Username: long, Credential: "p", URIs: []domain.ServerURI{"turn:skipped:1?transport=udp"}},
		{Username: "u", Credential: long, URIs: []domain.ServerURI{"turn:skipped:2?transport=udp"}},
		{Username: "u", Credential: "p", URIs: []domain.ServerURI{
			"bogus",
			"turn:kept:3?transport=udp",
			"turn:nope:4",
			"turn:kept:3?transport=udp",
			"stun:s:5",
		}},
		{Username: edge, Credential: edge, URIs: []domain.ServerURI{"turn:edge:6?transport=tcp"}},
	}}
	r := NewResolver(q, DefaultServer{Region: "us-east-1"})

	got, err := r.Resolve(context.Background(), 16)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "kept", got[1].Host)
	assert.Equal(t, domain.ServerDescriptor{Kind: domain.ServerStun, Host: "s", Port: 5}, got[2])
	assert.Equal(t, "edge", got[3].Host)
	assert.Equal(t, edge, got[3].Username)
	assert.Equal(t, edge, got[3].Credential)
}

func TestResolveFailures(t *testing.T) {
	t.Run("zero capacity", func(t *testing.T) {
		q := &fakeQuery{}
		_, err := NewResolver(q, DefaultServer{Region: "us-east-1"}).Resolve(context.Background(), 0)
		require.ErrorIs(t, err, domain.ErrInvalidArgument)
		assert.Zero(t, q.calls)
	})
	t.Run("nil query", func(t *testing.T) {
		_, err := NewResolver(nil, DefaultServer{Region: "us-east-1"}).Resolve(context.Background(), 4)
		require.ErrorIs(t, err, domain.ErrInvalidArgument)
	})
	t.Run("upstream", func(t *testing.T) {
		q := &fakeQuery{err: errors.New("boom")}
		_, err := NewResolver(q, DefaultServer{Region: "us-east-1"}).Resolve(context.Background(), 4)
		require.ErrorIs(t, err, domain.ErrUpstreamFailure)
	})
	t.Run("default overflow", func(t *testing.T) {
		q := &fakeQuery{}
		_, err := NewResolver(q, DefaultServer{Region: strings.Repeat("r", domain.URLMax)}).Resolve(context.Background(), 4)
		require.ErrorIs(t, err, domain.ErrFormatOverflow)
		assert.Zero(t, q.calls)
	})
}
