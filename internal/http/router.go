package http

import (
	"log/slog"
	"time"

	"github.com/geocoder89/taskintegrator/internal/auth"
	"github.com/geocoder89/taskintegrator/internal/http/handlers"
	"github.com/geocoder89/taskintegrator/internal/http/middlewares"
	"github.com/geocoder89/taskintegrator/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Pipeline is the set of entry points the API exposes.
type Pipeline interface {
	handlers.BatchSubmitter
	handlers.ResultsCollector
	handlers.BalanceChecker
}

type RouterDeps struct {
	Env         string
	ServiceName string
	Log         *slog.Logger

	Prom     *observability.Prom
	Gatherer prometheus.Gatherer

	Pipeline      Pipeline
	Notifications handlers.NotificationEnqueuer
	Tokens        middlewares.TokenVerifier
	Checks        map[string]handlers.Check

	MaxBodyBytes int64
	RateLimit    int
	RateWindow   time.Duration
}

// envelopeBytes is the JSON overhead allowed on top of the batch size.
const envelopeBytes = 64 << 10

func NewRouter(d RouterDeps) *gin.Engine {
	if d.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(gin.Recovery())
	if d.ServiceName != "" {
		r.Use(otelgin.Middleware(d.ServiceName))
	}
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(d.Log))
	r.Use(middlewares.SecurityHeaders())
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}

	h := handlers.NewHealthHandler(d.Checks)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	authMw := middlewares.NewAuthMiddleware(d.Tokens)
	limiter := middlewares.NewRateLimiter(d.RateLimit, d.RateWindow)

	v1 := r.Group("/v1")
	v1.Use(
		authMw.RequireAuth(),
		authMw.RequireRole(auth.RoleDispatcher),
		limiter.RateLimiterMiddleware(middlewares.KeyByCallerOrIP),
		middlewares.MaxBodyBytes(d.MaxBodyBytes+envelopeBytes),
		middlewares.RequireJSON(),
	)

	batches := handlers.NewBatchesHandler(d.Pipeline)
	v1.POST("/batches", batches.SubmitBatch)
	v1.POST("/batches/records", batches.SubmitRecords)
	v1.POST("/results/collect", handlers.NewResultsHandler(d.Pipeline).Collect)
	v1.GET("/balance", handlers.NewBalanceHandler(d.Pipeline).Get)
	v1.POST("/notifications", handlers.NewNotificationsHandler(d.Notifications).Receive)

	return r
}
