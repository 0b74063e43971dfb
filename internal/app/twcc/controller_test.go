package twcc

import (
	"testing"
	"time"

	"github.com/dkeye/peerhub/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestController(t *testing.T) (*Controller, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New(DefaultConfig())
	c.now = clock.now
	return c, clock
}

func report(sent, received uint64) domain.FeedbackReport {
	return domain.FeedbackReport{SentPackets: sent, ReceivedPackets: received, Duration: time.Second}
}

func TestNoLossIncreasesUntilMax(t *testing.T) {
	c, clock := newTestController(t)
	cfg := DefaultConfig()

	wantVideo, wantAudio := cfg.Video.Start, cfg.Audio.Start
	for i := 0; i < 200; i++ {
		require.NoError(t, c.OnFeedback(report(100, 100)))
		wantVideo = min(uint64(float64(wantVideo)*1.05), cfg.Video.Max)
		wantAudio = min(uint64(float64(wantAudio)*1.05), cfg.Audio.Max)

		video, audio, changed := c.Take()
		require.True(t, changed)
		require.Equal(t, wantVideo, video, "iteration %d", i)
		require.Equal(t, wantAudio, audio, "iteration %d", i)
		clock.advance(time.Second)
	}
	st := c.Snapshot()
	assert.Equal(t, cfg.Video.Max, st.VideoBitrate)
	assert.Equal(t, cfg.Audio.Max, st.AudioBitrate)
	assert.Zero(t, st.AverageLoss)
}

func TestHalfLossDecreasesToMin(t *testing.T) {
	c, clock := newTestController(t)
	cfg := DefaultConfig()

	// first report adjusts immediately, the rest only feed the average
	for i := 0; i < 300; i++ {
		require.NoError(t, c.OnFeedback(report(100, 50)))
	}
	assert.InDelta(t, 50, c.Snapshot().AverageLoss, 0.01)

	for i := 0; i < 20; i++ {
		clock.advance(time.Second)
		prev := c.Snapshot()
		require.NoError(t, c.OnFeedback(report(100, 50)))
		st := c.Snapshot()
		assert.InDelta(t, 0.5, 1-st.AverageLoss/100, 0.001)

		want := uint64(float64(prev.VideoBitrate) * (1 - st.AverageLoss/100))
		if want < cfg.Video.Min {
			want = cfg.Video.Min
		}
		require.Equal(t, want, st.VideoBitrate)
		require.GreaterOrEqual(t, st.VideoBitrate, cfg.Video.Min)
		require.GreaterOrEqual(t, st.AudioBitrate, cfg.Audio.Min)
	}
	st := c.Snapshot()
	assert.Equal(t, cfg.Video.Min, st.VideoBitrate)
	assert.Equal(t, cfg.Audio.Min, st.AudioBitrate)
}

func TestAdjustmentIsRateLimited(t *testing.T) {
	c, clock := newTestController(t)

	require.NoError(t, c.OnFeedback(report(100, 100)))
	_, _, changed := c.Take()
	require.True(t, changed)

	clock.advance(500 * time.Millisecond)
	before := c.Snapshot()
	require.NoError(t, c.OnFeedback(report(100, 0)))
	_, _, changed = c.Take()
	assert.False(t, changed)

	after := c.Snapshot()
	assert.Equal(t, before.VideoBitrate, after.VideoBitrate)
	assert.Equal(t, before.LastAdjust, after.LastAdjust)
	// the average still moves
	assert.InDelta(t, 5, after.AverageLoss, 1e-9)

	clock.advance(500 * time.Millisecond)
	require.NoError(t, c.OnFeedback(report(100, 100)))
	_, _, changed = c.Take()
	assert.True(t, changed)
}

func TestLockContentionSkipsCycle(t *testing.T) {
	c, _ := newTestController(t)

	c.bitrateMu.Lock()
	err := c.OnFeedback(report(100, 100))
	c.bitrateMu.Unlock()
	require.ErrorIs(t, err, domain.ErrLockContention)

	st := c.Snapshot()
	assert.True(t, st.LastAdjust.IsZero())
	assert.Equal(t, DefaultConfig().Video.Start, st.VideoBitrate)

	require.NoError(t, c.OnFeedback(report(100, 100)))
	assert.False(t, c.Snapshot().LastAdjust.IsZero())
}

func TestLossPercent(t *testing.T) {
	tests := []struct {
		name           string
		sent, received uint64
		want           float64
	}{
		{"nothing sent", 0, 0, 0},
		{"no loss", 10, 10, 0},
		{"half", 10, 5, 50},
		{"all", 10, 0, 100},
		{"more received than sent", 10, 12, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, lossPercent(tt.sent, tt.received), 1e-9)
		})
	}
}

func TestObserverAndReset(t *testing.T) {
	c, _ := newTestController(t)
	var seen []State
	c.SetObserver(func(s State) { seen = append(seen, s) })

	require.NoError(t, c.OnFeedback(report(100, 100)))
	require.Len(t, seen, 1)
	assert.Equal(t, uint64(1075), seen[0].VideoBitrate)
	assert.False(t, seen[0].LastAdjust.IsZero())

	c.Reset()
	st := c.Snapshot()
	assert.Equal(t, DefaultConfig().Video.Start, st.VideoBitrate)
	assert.Zero(t, st.AverageLoss)
	assert.True(t, st.LastAdjust.IsZero())
	_, _, changed := c.Take()
	assert.False(t, changed)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Video.Min = 5000
	require.ErrorIs(t, cfg.Validate(), domain.ErrInvalidArgument)

	cfg = DefaultConfig()
	cfg.Alpha = 0
	require.ErrorIs(t, cfg.Validate(), domain.ErrInvalidArgument)
}
