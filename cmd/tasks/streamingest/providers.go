package main

import (
	"fmt"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reelside/reel-services-ingestion/internal/infrastructure/configloader"
	"github.com/reelside/reel-services-ingestion/internal/infrastructure/objectstore"
	"github.com/reelside/reel-services-ingestion/internal/repositories"
	"github.com/reelside/reel-services-ingestion/internal/services"
	"github.com/reelside/reel-services-ingestion/internal/streamingest"
	streamingesttask "github.com/reelside/reel-services-ingestion/internal/tasks/streamingest"
	"github.com/reelside/reel-services-ingestion/internal/upload/pool"
	"github.com/reelside/reel-services-ingestion/internal/upload/transport"
)

// provideTxManager 基于连接池构造事务管理器。
func provideTxManager(dbPool *pgxpool.Pool, cfg txmanager.Config, logger log.Logger) (txmanager.Manager, error) {
	return txmanager.NewManager(dbPool, cfg, txmanager.Dependencies{Logger: logger})
}

// provideResolver 按配置的解析端点列表构造流地址解析客户端。
func provideResolver(cfg configloader.StreamIngestConfig, logger log.Logger) (*streamingest.Resolver, error) {
	return streamingest.NewResolver(cfg.Resolvers, cfg.ResolveTimeout, nil, logger)
}

// provideUploadEngine 构造流式摄取使用的分片调度引擎。
// 服务端直连对象存储不受跨域限制，因此不挂中继通道。
func provideUploadEngine(
	gateway *objectstore.Gateway,
	uploadCfg configloader.UploadConfig,
	logger log.Logger,
) (*pool.Pool, error) {
	direct := transport.NewDirect(nil, logger)
	return pool.New(gateway, direct, nil, engineConfig(uploadCfg), logger)
}

// engineConfig 汇总引擎配置：单任务的在途分片数取自上传配置，
// 与 Runner 的任务级并发互相独立。
func engineConfig(uploadCfg configloader.UploadConfig) pool.Config {
	return pool.Config{
		MaxConcurrency: uploadCfg.MaxConcurrency,
		SignBatchSize:  uploadCfg.SignBatchSize,
		Policy: transport.Policy{
			MaxAttempts: uploadCfg.MaxAttempts,
			BackoffStep: uploadCfg.BackoffStep,
		},
	}
}

// provideUploadService 装配上传用例；入口进程只用它做过期会话清扫。
func provideUploadService(
	jobs *repositories.JobRepository,
	sessions *repositories.UploadSessionRepository,
	gateway *objectstore.Gateway,
	notifier services.ProcessingNotifier,
	tx txmanager.Manager,
	cfg configloader.UploadConfig,
	logger log.Logger,
) (*services.UploadService, error) {
	return services.NewUploadService(jobs, sessions, gateway, notifier, tx, cfg.PartSizeBytes, logger)
}

// provideStreamIngestService 装配流式摄取用例，分片大小取自配置。
func provideStreamIngestService(
	resolver *streamingest.Resolver,
	jobs *repositories.JobRepository,
	gateway *objectstore.Gateway,
	engine *pool.Pool,
	notifier services.ProcessingNotifier,
	tx txmanager.Manager,
	cfg configloader.StreamIngestConfig,
	logger log.Logger,
) (*services.StreamIngestService, error) {
	return services.NewStreamIngestService(resolver, jobs, gateway, engine, notifier, tx, cfg.PartSizeBytes, logger)
}

// newIngestTaskApp 汇总入口进程依赖；Runner 为 nil 表示流式摄取未启用。
func newIngestTaskApp(logger log.Logger, runner *streamingesttask.Runner) (*ingestTaskApp, error) {
	if runner == nil {
		return &ingestTaskApp{Logger: logger}, nil
	}
	if logger == nil {
		return nil, fmt.Errorf("logger not initialized")
	}
	return &ingestTaskApp{
		Runner: runner,
		Logger: logger,
	}, nil
}
