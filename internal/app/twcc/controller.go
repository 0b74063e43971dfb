// Package twcc adapts per-session target bitrates from transport-wide loss feedback.
package twcc

import (
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/peerhub/internal/domain"
	"github.com/rs/zerolog/log"
)

// Bounds is a bitrate range and its starting point.
type Bounds struct {
	Min   uint64 `mapstructure:"min"`
	Max   uint64 `mapstructure:"max"`
	Start uint64 `mapstructure:"start"`
}

type Config struct {
	Alpha         float64       `mapstructure:"alpha"`
	Interval      time.Duration `mapstructure:"interval"`
	LossThreshold float64       `mapstructure:"loss_threshold"`
	IncreaseRatio float64       `mapstructure:"increase_ratio"`
	// Video is in kbps, Audio in bps.
	Video Bounds `mapstructure:"video"`
	Audio Bounds `mapstructure:"audio"`
}

func DefaultConfig() Config {
	return Config{
		Alpha:         0.05,
		Interval:      time.Second,
		LossThreshold: 5,
		IncreaseRatio: 1.05,
		Video:         Bounds{Min: 512, Max: 4096, Start: 1024},
		Audio:         Bounds{Min: 4000, Max: 650000, Start: 64000},
	}
}

func (c Config) Validate() error {
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("%w: twcc alpha %v", domain.ErrInvalidArgument, c.Alpha)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: twcc interval %v", domain.ErrInvalidArgument, c.Interval)
	}
	for _, b := range []Bounds{c.Video, c.Audio} {
		if b.Min == 0 || b.Min > b.Max || b.Start < b.Min || b.Start > b.Max {
			return fmt.Errorf("%w: twcc bounds %+v", domain.ErrInvalidArgument, b)
		}
	}
	return nil
}

// State is a point-in-time copy of the controller.
type State struct {
	AverageLoss  float64
	LastAdjust   time.Time
	CurrentVideo uint64
	CurrentAudio uint64
	VideoBitrate uint64
	AudioBitrate uint64
}

// Controller keeps the loss average and the target bitrates for one session.
// The loss average is owned by the feedback side; the bitrate fields sit behind
// a lock shared with the encoder side.
type Controller struct {
	cfg Config
	now func() time.Time

	mu         sync.Mutex
	avgLoss    float64
	lastAdjust time.Time
	onAdjust   func(State)

	bitrateMu    sync.Mutex
	currentVideo uint64
	currentAudio uint64
	updatedVideo uint64
	updatedAudio uint64
	pending      bool
}

func New(cfg Config) *Controller {
	c := &Controller{cfg: cfg, now: time.Now}
	c.resetBitrates()
	return c
}

// SetObserver registers fn to be called after each applied adjustment.
func (c *Controller) SetObserver(fn func(State)) {
	c.mu.Lock()
	c.onAdjust = fn
	c.mu.Unlock()
}

// OnFeedback folds one report into the loss average and, at most once per
// interval, steps the target bitrates. It returns ErrLockContention when the
// bitrate lock is held by the consumer; that cycle is skipped.
func (c *Controller) OnFeedback(r domain.FeedbackReport) error {
	percent := lossPercent(r.SentPackets, r.ReceivedPackets)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.avgLoss = c.cfg.Alpha*percent + (1-c.cfg.Alpha)*c.avgLoss
	now := c.now()
	if !c.lastAdjust.IsZero() && now.Sub(c.lastAdjust) < c.cfg.Interval {
		return nil
	}

	if !c.bitrateMu.TryLock() {
		log.Warn().Str("module", "twcc").Float64("avg_loss", c.avgLoss).Msg("bitrate lock busy, skipping adjustment")
		return domain.ErrLockContention
	}
	video := step(c.currentVideo, c.avgLoss, c.cfg, c.cfg.Video)
	audio := step(c.currentAudio, c.avgLoss, c.cfg, c.cfg.Audio)
	c.updatedVideo, c.updatedAudio = video, audio
	c.currentVideo, c.currentAudio = video, audio
	c.pending = true
	st := c.stateLocked()
	c.bitrateMu.Unlock()

	c.lastAdjust = now
	st.LastAdjust = now
	log.Debug().Str("module", "twcc").Float64("avg_loss", c.avgLoss).
		Uint64("video_kbps", video).Uint64("audio_bps", audio).Msg("bitrate adjusted")
	if c.onAdjust != nil {
		c.onAdjust(st)
	}
	return nil
}

// Take hands pending targets to the encoder side. changed is false when no
// adjustment happened since the previous Take.
func (c *Controller) Take() (videoKbps, audioBps uint64, changed bool) {
	c.bitrateMu.Lock()
	defer c.bitrateMu.Unlock()
	changed = c.pending
	c.pending = false
	return c.updatedVideo, c.updatedAudio, changed
}

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bitrateMu.Lock()
	defer c.bitrateMu.Unlock()
	st := c.stateLocked()
	st.LastAdjust = c.lastAdjust
	return st
}

// Reset returns the controller to its starting bitrates and a zero average.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bitrateMu.Lock()
	defer c.bitrateMu.Unlock()
	c.avgLoss = 0
	c.lastAdjust = time.Time{}
	c.resetBitrates()
}

func (c *Controller) resetBitrates() {
	c.currentVideo, c.updatedVideo = c.cfg.Video.Start, c.cfg.Video.Start
	c.currentAudio, c.updatedAudio = c.cfg.Audio.Start, c.cfg.Audio.Start
	c.pending = false
}

// caller holds bitrateMu
func (c *Controller) stateLocked() State {
	return State{
		AverageLoss:  c.avgLoss,
		CurrentVideo: c.currentVideo,
		CurrentAudio: c.currentAudio,
		VideoBitrate: c.updatedVideo,
		AudioBitrate: c.updatedAudio,
	}
}

func lossPercent(sent, received uint64) float64 {
	if sent == 0 || received >= sent {
		return 0
	}
	p := 100 * float64(sent-received) / float64(sent)
	if p > 100 {
		p = 100
	}
	return p
}

func step(cur uint64, avgLoss float64, cfg Config, b Bounds) uint64 {
	var next float64
	if avgLoss <= cfg.LossThreshold {
		next = float64(cur) * cfg.IncreaseRatio
		if next > float64(b.Max) {
			return b.Max
		}
	} else {
		next = float64(cur) * (1 - avgLoss/100)
		if next < float64(b.Min) {
			return b.Min
		}
	}
	return uint64(next)
}
