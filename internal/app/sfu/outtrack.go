package sfu

import (
	"sync/atomic"

	"github.com/dkeye/peerhub/internal/app"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// OutTrack is the fan-out entry of one ready session.
type OutTrack struct {
	Session *app.Session

	state    atomic.Int32 // Zero by default (TrackStateOk)
	failures atomic.Int32
	skipped  atomic.Int32
}

func NewOutTrack(s *app.Session) *OutTrack {
	return &OutTrack{Session: s}
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkOk() {
	ot.state.Store(int32(TrackStateOk))
	ot.failures.Store(0)
	ot.skipped.Store(0)
}

func (ot *OutTrack) MarkMuted() {
	ot.state.Store(int32(TrackStateMuted))
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}
