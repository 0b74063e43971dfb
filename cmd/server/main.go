package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/peerhub/internal/adapters/http"
	"github.com/dkeye/peerhub/internal/adapters/media"
	"github.com/dkeye/peerhub/internal/adapters/rtc"
	sig "github.com/dkeye/peerhub/internal/adapters/signal"
	"github.com/dkeye/peerhub/internal/app"
	"github.com/dkeye/peerhub/internal/app/orch"
	"github.com/dkeye/peerhub/internal/app/sfu"
	"github.com/dkeye/peerhub/internal/config"
	"github.com/dkeye/peerhub/internal/core"
	"github.com/dkeye/peerhub/internal/iceserver"
	"github.com/dkeye/peerhub/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if err := run(ctx, cfg, level); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config, level zerolog.Level) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	factory, err := rtc.NewFactory(rtc.Config{
		FeedbackPeriod:  cfg.FeedbackPeriod,
		DataChannelEcho: cfg.DataChannelEcho,
		LogLevel:        level,
	})
	if err != nil {
		return fmt.Errorf("rtc factory: %w", err)
	}

	client := sig.NewClient(sig.Config{
		URL:            cfg.Signaling.URL,
		ICEURL:         cfg.Signaling.ICEURL,
		Channel:        cfg.Channel,
		ClientID:       cfg.ClientID,
		Role:           cfg.Role,
		ReconnectDelay: cfg.Signaling.ReconnectDelay,
		OfferLimit:     cfg.Signaling.OfferLimit,
		OfferInterval:  cfg.Signaling.OfferInterval,
	}, m)
	defer client.Close()

	resolver := iceserver.NewResolver(client, iceserver.DefaultServer{
		Template: cfg.Stun.Template,
		Region:   cfg.Region,
		Suffix:   cfg.Stun.Suffix,
		SuffixCN: cfg.Stun.SuffixCN,
		Port:     cfg.Stun.Port,
	})
	source := media.NewFileSource(cfg.Media)

	// The fan-out closes sessions through the pool, which is built after the
	// orchestrator because the pool takes the orchestrator's hooks.
	var pool *app.Pool
	fanOut := sfu.NewFanOut(app.SimplePolicy{SlowAfter: 3, CloseAfter: 30}, source, m,
		func(s *app.Session, eng core.PeerEngine) { pool.ReleaseEngine(s, eng) })
	o := &orch.Orchestrator{Signal: client, Metrics: m, FanOut: fanOut}
	o.InitMetrics()

	pool, err = app.NewPool(ctx, app.PoolConfig{
		MaxSessions: cfg.Pool.MaxSessions,
		MaxServers:  cfg.Pool.MaxServers,
		TWCC:        cfg.TWCC,
	}, factory, resolver, source, o.Hooks())
	if err != nil {
		return fmt.Errorf("session pool: %w", err)
	}
	defer pool.Close()
	o.Pool = pool
	client.SetHandler(o)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(cfg.Mode, pool, m),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("peerhub status server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return client.Run(gctx)
	})
	g.Go(func() error {
		return source.Run(gctx, fanOut.WriteFrame)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		client.Close()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})
	return g.Wait()
}
