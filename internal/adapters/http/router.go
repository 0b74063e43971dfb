package http

import (
	"net/http"

	"github.com/dkeye/peerhub/internal/app"
	"github.com/dkeye/peerhub/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-ID"

// SessionSource lists the pool slots.
type SessionSource interface {
	Sessions() []*app.Session
}

type sessionView struct {
	Slot         int     `json:"slot"`
	State        string  `json:"state"`
	RemoteID     string  `json:"remoteId"`
	VideoBitrate uint64  `json:"videoBitrate"`
	AudioBitrate uint64  `json:"audioBitrate"`
	AverageLoss  float64 `json:"averageLoss"`
}

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Set("request_id", id)
		c.Next()
	}
}

func SetupRouter(mode string, sessions SessionSource, m *metrics.Metrics) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	api := r.Group("/api")
	api.GET("/sessions", func(c *gin.Context) {
		list := sessions.Sessions()
		out := make([]sessionView, 0, len(list))
		for _, s := range list {
			st := s.TWCC().Snapshot()
			out = append(out, sessionView{
				Slot:         s.Slot(),
				State:        string(s.State()),
				RemoteID:     s.RemoteID(),
				VideoBitrate: st.VideoBitrate,
				AudioBitrate: st.AudioBitrate,
				AverageLoss:  st.AverageLoss,
			})
		}
		log.Debug().Str("module", "http").Str("request_id", c.GetString("request_id")).Int("sessions", len(out)).Msg("sessions listed")
		c.JSON(http.StatusOK, out)
	})

	log.Info().Str("module", "http").Str("mode", mode).Msg("router setup")
	return r
}
