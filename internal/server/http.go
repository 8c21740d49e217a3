// Package server 装配对外 HTTP 服务器与遥测基础设施。
package server

import (
	"context"
	stdhttp "net/http"
	"time"

	"github.com/reelside/reel-services-ingestion/internal/controllers"
	"github.com/reelside/reel-services-ingestion/internal/infrastructure/configloader"

	obsTrace "github.com/bionicotaku/lingo-utils/observability/tracing"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/middleware/logging"
	"github.com/go-kratos/kratos/v2/middleware/metadata"
	kmetrics "github.com/go-kratos/kratos/v2/middleware/metrics"
	"github.com/go-kratos/kratos/v2/middleware/ratelimit"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readinessTimeout = 2 * time.Second

// NewHTTPServer 构建对外 HTTP 服务器：中间件栈、业务路由与基础设施路由。
// 保留内建的 x-md- 前缀透传，网关注入的用户身份依赖它进入请求元数据。
func NewHTTPServer(
	cfg configloader.ServerConfig,
	telemetry *Telemetry,
	pool *pgxpool.Pool,
	jobs *controllers.JobHandler,
	uploads *controllers.UploadHandler,
	relay *controllers.RelayHandler,
	processing *controllers.ProcessingHandler,
	logger log.Logger,
) *http.Server {
	middlewares := []middleware.Middleware{
		obsTrace.Server(),
		recovery.Recovery(),
		metadata.Server(
			metadata.WithPropagatedPrefix("x-reel-", "x-md-"),
		),
		ratelimit.Server(),
		logging.Server(logger),
	}
	if telemetry != nil {
		middlewares = append(middlewares, kmetrics.Server(
			kmetrics.WithSeconds(telemetry.SecondsHistogram),
			kmetrics.WithRequests(telemetry.RequestCounter),
		))
	}

	opts := []http.ServerOption{http.Middleware(middlewares...)}
	if cfg.Network != "" {
		opts = append(opts, http.Network(cfg.Network))
	}
	if cfg.Address != "" {
		opts = append(opts, http.Address(cfg.Address))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, http.Timeout(cfg.Timeout))
	}

	srv := http.NewServer(opts...)

	srv.Handle("/healthz", stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
		w.WriteHeader(stdhttp.StatusOK)
	}))

	srv.Handle("/readyz", stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		// readiness 绑定数据库连通性：台账不可达的实例应被摘除流量。
		if pool != nil {
			ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
			defer cancel()
			if err := pool.Ping(ctx); err != nil {
				stdhttp.Error(w, "database unreachable", stdhttp.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(stdhttp.StatusOK)
	}))

	if telemetry != nil && telemetry.PrometheusRegistry != nil {
		srv.Handle("/metrics", promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{}))
	}

	root := srv.Route("/")
	jobs.RegisterRoutes(root)
	uploads.RegisterRoutes(root)
	relay.RegisterRoutes(root)
	processing.RegisterRoutes(root)

	return srv
}
