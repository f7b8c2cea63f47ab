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

	"github.com/geocoder89/taskintegrator/internal/app"
	"github.com/geocoder89/taskintegrator/internal/auth"
	"github.com/geocoder89/taskintegrator/internal/config"
	httpx "github.com/geocoder89/taskintegrator/internal/http"
	"github.com/geocoder89/taskintegrator/internal/http/handlers"
	"github.com/geocoder89/taskintegrator/internal/observability"
)

const serviceName = "taskintegrator-api"

func main() {
	cfg := config.Load()
	log := observability.NewLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
		ServiceName: serviceName,
		Stack:       cfg.Stack(),
		Env:         cfg.Env,
		Endpoint:    cfg.OTelEndpoint,
	})
	if err != nil {
		log.Error("tracer init failed", "err", err)
		os.Exit(1)
	}
	defer func() {
		tctx, cancel := config.WithTimeout(5 * time.Second)
		defer cancel()
		_ = shutdownTracer(tctx)
	}()

	a, err := app.New(ctx, cfg, serviceName, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	router := httpx.NewRouter(httpx.RouterDeps{
		Env:           cfg.Env,
		ServiceName:   serviceName,
		Log:           log,
		Prom:          a.Prom,
		Gatherer:      a.Registry,
		Pipeline:      a.Service,
		Notifications: a.Inbound,
		Tokens:        auth.NewManager(cfg.JWTSecret, cfg.TokenTTL),
		Checks: map[string]handlers.Check{
			"postgres": a.PingDB,
			"redis":    a.Redis.Ping,
		},
		MaxBodyBytes: cfg.MaxBatchBytes,
		RateLimit:    cfg.RateLimit,
		RateWindow:   cfg.RateWindow,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		// a collect call runs every poll round before it answers
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env, "stack", cfg.Stack())

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("server shutting down")

	sctx, cancel := config.WithTimeout(10 * time.Second)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
		return
	}
	log.Info("shutdown complete")
}
