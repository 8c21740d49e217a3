//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"context"

	"github.com/reelside/reel-services-ingestion/internal/clients"
	"github.com/reelside/reel-services-ingestion/internal/controllers"
	"github.com/reelside/reel-services-ingestion/internal/infrastructure/configloader"
	"github.com/reelside/reel-services-ingestion/internal/infrastructure/database"
	"github.com/reelside/reel-services-ingestion/internal/infrastructure/objectstore"
	"github.com/reelside/reel-services-ingestion/internal/repositories"
	"github.com/reelside/reel-services-ingestion/internal/server"
	"github.com/reelside/reel-services-ingestion/internal/services"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

//go:generate go run github.com/google/wire/cmd/wire

// wireApp init kratos application.
func wireApp(context.Context, *configloader.Bundle, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		configloader.ProviderSet,
		database.ProviderSet,
		provideTxManager,
		objectstore.ProvideGateway,
		repositories.ProviderSet,
		clients.ProviderSet,
		services.ProviderSet,
		provideUploadService,
		provideRelayService,
		controllers.ProviderSet,
		server.NewTelemetry,
		server.NewHTTPServer,
		wire.Bind(new(services.JobLedger), new(*repositories.JobRepository)),
		wire.Bind(new(services.SessionSummaryReader), new(*repositories.UploadSessionRepository)),
		wire.Bind(new(services.ProcessingJobLedger), new(*repositories.JobRepository)),
		newApp,
	))
}
