// Package sfu fans local media frames out to every ready session.
package sfu

import (
	"maps"
	"sync"

	"github.com/dkeye/peerhub/internal/app"
	"github.com/dkeye/peerhub/internal/core"
	"github.com/dkeye/peerhub/internal/domain"
	"github.com/dkeye/peerhub/internal/metrics"
	"github.com/rs/zerolog/log"
)

// probeEvery is how many frames a muted entry skips between write attempts.
const probeEvery = 30

type FanOut struct {
	Policy  app.Policy
	Bitrate core.BitrateSink
	Metrics *metrics.Metrics
	// Close is called for entries the policy gives up on, with the engine
	// that failed.
	Close func(*app.Session, core.PeerEngine)

	mu   sync.RWMutex
	outs map[int]*OutTrack
}

func NewFanOut(policy app.Policy, bitrate core.BitrateSink, m *metrics.Metrics, closeFn func(*app.Session, core.PeerEngine)) *FanOut {
	return &FanOut{
		Policy:  policy,
		Bitrate: bitrate,
		Metrics: m,
		Close:   closeFn,
		outs:    make(map[int]*OutTrack),
	}
}

func (f *FanOut) Add(s *app.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outs[s.Slot()] = NewOutTrack(s)
	log.Info().Str("module", "sfu").Int("slot", s.Slot()).Str("remote_id", s.RemoteID()).Msg("session joined fan-out")
}

func (f *FanOut) Remove(slot int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ot, ok := f.outs[slot]; ok {
		ot.MarkDelete()
		delete(f.outs, slot)
		log.Info().Str("module", "sfu").Int("slot", slot).Msg("session left fan-out")
	}
}

func (f *FanOut) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.outs)
}

// WriteFrame sends one local frame to every ready session. Video frames first
// hand any pending bitrate target to the encoder side.
func (f *FanOut) WriteFrame(frame domain.Frame) {
	snapshot := make(map[int]*OutTrack)
	f.mu.RLock()
	maps.Copy(snapshot, f.outs)
	f.mu.RUnlock()

	var (
		dirty   []*OutTrack
		closing []closeReq
	)
	for slot, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, ot)
			continue
		case TrackStateMuted:
			if ot.skipped.Add(1) < probeEvery {
				f.Metrics.Dropped(metrics.DropBackpressure)
				continue
			}
			ot.skipped.Store(0)
		case TrackStateOk:
		}

		if frame.Kind == domain.TrackVideo && f.Bitrate != nil {
			if video, audio, changed := ot.Session.TWCC().Take(); changed {
				f.Bitrate.ApplyBitrate(video, audio)
			}
		}

		eng := ot.Session.Engine()
		if eng == nil {
			continue
		}
		if err := eng.WriteFrame(frame); err != nil {
			n := int(ot.failures.Add(1))
			log.Warn().Err(err).Str("module", "sfu").Int("slot", slot).Int("failures", n).Msg("frame write failed")
			if f.Policy == nil {
				continue
			}
			switch f.Policy.OnWriteFailure(ot.Session, n) {
			case app.CloseSession:
				ot.MarkDelete()
				dirty = append(dirty, ot)
				closing = append(closing, closeReq{s: ot.Session, eng: eng})
			case app.MarkSlow:
				ot.MarkMuted()
			case app.NoAction:
			}
			continue
		}
		if ot.GetState() == TrackStateMuted {
			log.Info().Str("module", "sfu").Int("slot", slot).Msg("session recovered")
		}
		ot.MarkOk()
	}

	// Cleanup is done outside the lock.
	if len(dirty) > 0 {
		f.cleanup(dirty)
	}
	if f.Close != nil {
		for _, c := range closing {
			log.Warn().Str("module", "sfu").Int("slot", c.s.Slot()).Msg("closing session after write failures")
			f.Close(c.s, c.eng)
		}
	}
}

type closeReq struct {
	s   *app.Session
	eng core.PeerEngine
}

func (f *FanOut) cleanup(dirty []*OutTrack) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ot := range dirty {
		slot := ot.Session.Slot()
		if cur, ok := f.outs[slot]; ok && cur == ot {
			delete(f.outs, slot)
		}
	}
}
