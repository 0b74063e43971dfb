// Package media is a file backed local media source: it loops an Annex-B
// H.264 file and an Ogg/Opus file and counts what the peers send back.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/peerhub/internal/core"
	"github.com/dkeye/peerhub/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	streamID        = "peerhub"
	opusClockRate   = 48000
	defaultPageTime = 20 * time.Millisecond
)

var (
	_ core.MediaSource   = (*FileSource)(nil)
	_ core.FrameProducer = (*FileSource)(nil)
	_ core.BitrateSink   = (*FileSource)(nil)
)

type Config struct {
	VideoFile string `mapstructure:"video_file"`
	AudioFile string `mapstructure:"audio_file"`
	FPS       int    `mapstructure:"fps"`
}

type FileSource struct {
	cfg Config

	videoIn atomic.Uint64
	audioIn atomic.Uint64

	mu        sync.Mutex
	videoKbps uint64
	audioBps  uint64
}

func NewFileSource(cfg Config) *FileSource {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	return &FileSource{cfg: cfg}
}

func (s *FileSource) InitVideoTransceiver(context.Context) (domain.Transceiver, error) {
	return domain.Transceiver{
		Kind:      domain.TrackVideo,
		MimeType:  webrtc.MimeTypeH264,
		ClockRate: 90000,
		TrackID:   "video",
		StreamID:  streamID,
	}, nil
}

func (s *FileSource) InitAudioTransceiver(context.Context) (domain.Transceiver, error) {
	return domain.Transceiver{
		Kind:      domain.TrackAudio,
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusClockRate,
		Channels:  2,
		TrackID:   "audio",
		StreamID:  streamID,
	}, nil
}

// RecvFrame counts an inbound frame from a peer.
func (s *FileSource) RecvFrame(_ context.Context, f domain.Frame) {
	var n uint64
	if f.Kind == domain.TrackAudio {
		n = s.audioIn.Add(1)
	} else {
		n = s.videoIn.Add(1)
	}
	log.Debug().Str("module", "media").Str("kind", f.Kind.String()).Int("bytes", len(f.Data)).Uint64("count", n).Msg("inbound frame")
}

// Received returns the inbound frame counters.
func (s *FileSource) Received() (video, audio uint64) {
	return s.videoIn.Load(), s.audioIn.Load()
}

// ApplyBitrate records the encoder targets. Files are pre-encoded, so the
// targets are only reported.
func (s *FileSource) ApplyBitrate(videoKbps, audioBps uint64) {
	s.mu.Lock()
	s.videoKbps, s.audioBps = videoKbps, audioBps
	s.mu.Unlock()
	log.Debug().Str("module", "media").Uint64("video_kbps", videoKbps).Uint64("audio_bps", audioBps).Msg("bitrate target")
}

func (s *FileSource) Bitrate() (videoKbps, audioBps uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoKbps, s.audioBps
}

// Run emits frames from both files until ctx is done. An empty path disables
// that kind.
func (s *FileSource) Run(ctx context.Context, sink func(domain.Frame)) error {
	g, ctx := errgroup.WithContext(ctx)
	if s.cfg.VideoFile != "" {
		g.Go(func() error { return loop(ctx, s.cfg.VideoFile, sink, s.playVideo) })
	}
	if s.cfg.AudioFile != "" {
		g.Go(func() error { return loop(ctx, s.cfg.AudioFile, sink, s.playAudio) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type playFunc func(ctx context.Context, r io.Reader, sink func(domain.Frame)) error

// loop replays path from the start every time it is exhausted.
func loop(ctx context.Context, path string, sink func(domain.Frame), play playFunc) error {
	for {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		err = play(ctx, f, sink)
		_ = f.Close()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Debug().Str("module", "media").Str("file", path).Msg("rewinding")
	}
}

func (s *FileSource) playVideo(ctx context.Context, r io.Reader, sink func(domain.Frame)) error {
	reader, err := h264reader.NewReader(r)
	if err != nil {
		return fmt.Errorf("%w: h264: %v", domain.ErrParseFailure, err)
	}
	interval := time.Second / time.Duration(s.cfg.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var ts time.Duration
	for {
		nal, err := reader.NextNAL()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: h264: %v", domain.ErrParseFailure, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		sink(domain.Frame{Kind: domain.TrackVideo, Data: nal.Data, Timestamp: ts, Duration: interval})
		ts += interval
	}
}

func (s *FileSource) playAudio(ctx context.Context, r io.Reader, sink func(domain.Frame)) error {
	reader, _, err := oggreader.NewWith(r)
	if err != nil {
		return fmt.Errorf("%w: ogg: %v", domain.ErrParseFailure, err)
	}
	timer := time.NewTimer(0)
	defer timer.Stop()

	var ts time.Duration
	var lastGranule uint64
	for {
		page, header, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: ogg: %v", domain.ErrParseFailure, err)
		}
		if isOpusTags(page) {
			continue
		}
		d := pageDuration(lastGranule, header.GranulePosition)
		lastGranule = header.GranulePosition

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		sink(domain.Frame{Kind: domain.TrackAudio, Data: page, Timestamp: ts, Duration: d})
		ts += d
		timer.Reset(d)
	}
}

func pageDuration(last, granule uint64) time.Duration {
	if granule <= last {
		return defaultPageTime
	}
	return time.Duration(granule-last) * time.Second / opusClockRate
}

func isOpusTags(page []byte) bool {
	return len(page) >= 8 && string(page[:8]) == "OpusTags"
}
