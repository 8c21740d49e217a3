// Package main boots the ingestion HTTP service: job lifecycle, browser
// multipart uploads, relay fallback and processing callbacks.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/reelside/reel-services-ingestion/internal/infrastructure/configloader"
	"github.com/reelside/reel-services-ingestion/internal/infrastructure/database"
	loginfra "github.com/reelside/reel-services-ingestion/internal/infrastructure/logger"

	"github.com/bionicotaku/lingo-utils/observability"
	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name string
	// Version is the version of the compiled software.
	Version string
)

func newApp(meta configloader.ServiceMetadata, logger log.Logger, hs *http.Server) *kratos.App {
	return kratos.New(
		kratos.ID(meta.InstanceID),
		kratos.Name(meta.Name),
		kratos.Version(meta.Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(
			hs,
		),
	)
}

func main() {
	ctx := context.Background()

	// Parse command-line flags (currently only -conf).
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	confPath, err := configloader.ParseConfPath(fs, os.Args[1:])
	if err != nil {
		panic(err)
	}

	// Load and normalize configuration; env overrides win over file values.
	bundle, err := configloader.Build(configloader.Params{
		ConfPath: confPath,
		Name:     Name,
		Version:  Version,
	})
	if err != nil {
		panic(err)
	}

	// Build the structured logger used by the entire application.
	logger, err := loginfra.NewLogger(bundle.LoggerCfg)
	if err != nil {
		panic(err)
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
			log.NewHelper(logger).Warnf("shutdown observability: %v", err)
		}
	}()

	// Bring the ledger schema up to date before serving traffic.
	if err := database.RunMigrations(ctx, bundle.Runtime.Database.DSN, logger); err != nil {
		panic(err)
	}

	// Assemble all dependencies (pool, gateway, repositories, handlers) via Wire.
	app, cleanup, err := wireApp(ctx, bundle, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// Start the application and block until a stop signal is received.
	if err := app.Run(); err != nil {
		panic(err)
	}
}
