// Package main 提供流式摄取 Runner 的独立进程入口，便于后台单独运行。
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reelside/reel-services-ingestion/internal/infrastructure/configloader"
	"github.com/reelside/reel-services-ingestion/internal/infrastructure/database"
	loginfra "github.com/reelside/reel-services-ingestion/internal/infrastructure/logger"
	ingestrunner "github.com/reelside/reel-services-ingestion/internal/tasks/streamingest"

	"github.com/bionicotaku/lingo-utils/observability"
	"github.com/go-kratos/kratos/v2/log"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name string
	// Version is the version of the compiled software.
	Version string
)

type ingestTaskApp struct {
	Runner *ingestrunner.Runner
	Logger log.Logger
}

func main() {
	ctx := context.Background()

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	confPath, err := configloader.ParseConfPath(fs, os.Args[1:])
	if err != nil {
		panic(err)
	}

	bundle, err := configloader.Build(configloader.Params{
		ConfPath: confPath,
		Name:     Name,
		Version:  Version,
	})
	if err != nil {
		panic(err)
	}

	logger, err := loginfra.NewLogger(bundle.LoggerCfg)
	if err != nil {
		panic(err)
	}
	helper := log.NewHelper(logger)

	// 未启用时不装配依赖图：解析端点等配置此时允许缺席。
	if !bundle.Runtime.StreamIngest.Enabled {
		helper.Warn("stream ingest runner disabled (stream_ingest.enabled is false)")
		return
	}

	obsShutdown, err := observability.Init(ctx, bundle.ObsConfig,
		observability.WithLogger(logger),
		observability.WithServiceName(bundle.Service.Name),
		observability.WithServiceVersion(bundle.Service.Version),
		observability.WithEnvironment(bundle.Service.Environment),
	)
	if err != nil {
		panic(err)
	}
	defer func() {
		if obsShutdown == nil {
			return
		}
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := obsShutdown(sctx); err != nil {
			helper.Warnf("shutdown observability: %v", err)
		}
	}()

	if err := database.RunMigrations(ctx, bundle.Runtime.Database.DSN, logger); err != nil {
		panic(err)
	}

	app, cleanup, err := wireIngestTask(ctx, bundle, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	if app.Runner == nil {
		helper.Warn("stream ingest runner disabled (stream_ingest.enabled is false)")
		return
	}

	helper.Info("starting stream ingest runner")

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Runner.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		helper.Errorf("stream ingest runner stopped unexpectedly: %v", err)
		os.Exit(1)
	}

	helper.Info("stream ingest runner stopped")
}
