// Command server runs one voicebridge process instance, serving either
// the PSTN carrier media transport or the WebRTC HD transport per its
// TRANSPORT_MODE configuration (spec.md §6).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/wavebridge/voicebridge/internal/capacity"
	"github.com/wavebridge/voicebridge/internal/config"
	"github.com/wavebridge/voicebridge/internal/logging"
	"github.com/wavebridge/voicebridge/internal/metrics"
	"github.com/wavebridge/voicebridge/internal/orchestrator"
	"github.com/wavebridge/voicebridge/internal/sessionmgr"
	"github.com/wavebridge/voicebridge/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Production: cfg.Production,
		FilePath:   cfg.LogFilePath,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	// The Session Manager releases capacity through its own Admitter
	// handle; the Orchestrator holds a second handle over the same
	// prefix/TTL for tryAcquire. Both operate on identical Redis keys.
	releaseAdmitter := capacity.New(rdb, cfg.CapPrefix, cfg.CapacityTTLSeconds)

	manager := sessionmgr.New(releaseAdmitter.Release, log,
		time.Duration(cfg.IdleTTLMinutes)*time.Minute,
		time.Duration(cfg.IdleSweepSeconds)*time.Second)
	manager.StartIdleSweeper(ctx)
	defer manager.StopIdleSweeper()

	orch := orchestrator.New(cfg, log, rdb, manager)

	router := webhook.NewRouter(webhook.Deps{Config: cfg, Log: log, Calls: orch})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: router,
	}

	go func() {
		log.Infow("server starting", "addr", srv.Addr, "transport_mode", cfg.TransportMode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Infow("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
