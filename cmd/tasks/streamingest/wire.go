//go:build wireinject
// +build wireinject

// Package main 为流式摄取任务 CLI 提供 Wire 依赖注入定义。
package main

import (
	"context"

	"github.com/reelside/reel-services-ingestion/internal/clients"
	"github.com/reelside/reel-services-ingestion/internal/infrastructure/configloader"
	"github.com/reelside/reel-services-ingestion/internal/infrastructure/database"
	"github.com/reelside/reel-services-ingestion/internal/infrastructure/objectstore"
	"github.com/reelside/reel-services-ingestion/internal/repositories"
	ingesttasks "github.com/reelside/reel-services-ingestion/internal/tasks/streamingest"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

//go:generate go run github.com/google/wire/cmd/wire

func wireIngestTask(context.Context, *configloader.Bundle, log.Logger) (*ingestTaskApp, func(), error) {
	panic(wire.Build(
		configloader.ProviderSet,
		database.ProviderSet,
		provideTxManager,
		objectstore.ProvideGateway,
		repositories.ProviderSet,
		clients.ProviderSet,
		provideResolver,
		provideUploadEngine,
		provideUploadService,
		provideStreamIngestService,
		ingesttasks.ProvideRunner,
		newIngestTaskApp,
	))
}
