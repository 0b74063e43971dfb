package rtc

import (
	"context"
	"time"

	"github.com/dkeye/peerhub/internal/domain"
	"github.com/pion/webrtc/v4"
)

// counters are cumulative outbound totals as seen by the remote receiver reports.
type counters struct {
	sent      uint64
	sentBytes uint64
	lost      uint64
}

func collectCounters(report webrtc.StatsReport) counters {
	var c counters
	for _, s := range report {
		switch st := s.(type) {
		case webrtc.OutboundRTPStreamStats:
			c.sent += uint64(st.PacketsSent)
			c.sentBytes += st.BytesSent
		case webrtc.RemoteInboundRTPStreamStats:
			if st.PacketsLost > 0 {
				c.lost += uint64(st.PacketsLost)
			}
		}
	}
	return c
}

// feedbackDelta turns two cumulative samples into the report for the interval
// between them. Counters that went backwards (stream restart) count as zero.
func feedbackDelta(prev, cur counters, d time.Duration) domain.FeedbackReport {
	sent := sub(cur.sent, prev.sent)
	lost := sub(cur.lost, prev.lost)
	if lost > sent {
		lost = sent
	}
	return domain.FeedbackReport{
		SentPackets:     sent,
		ReceivedPackets: sent - lost,
		SentBytes:       sub(cur.sentBytes, prev.sentBytes),
		Duration:        d,
	}
}

func sub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

// pollFeedback samples pc stats every period and reports the deltas.
func pollFeedback(ctx context.Context, pc *webrtc.PeerConnection, period time.Duration, report func(domain.FeedbackReport)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	prev := collectCounters(pc.GetStats())
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cur := collectCounters(pc.GetStats())
			if fb := feedbackDelta(prev, cur, now.Sub(last)); fb.SentPackets > 0 {
				report(fb)
			}
			prev, last = cur, now
		}
	}
}
