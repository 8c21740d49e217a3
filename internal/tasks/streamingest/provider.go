package streamingest

import (
	"github.com/go-kratos/kratos/v2/log"

	"github.com/reelside/reel-services-ingestion/internal/infrastructure/configloader"
	"github.com/reelside/reel-services-ingestion/internal/services"
)

// ProvideRunner 装配流式摄取 Runner。未启用时返回 nil，入口进程据此跳过启动。
func ProvideRunner(
	svc *services.StreamIngestService,
	uploads *services.UploadService,
	cfg configloader.StreamIngestConfig,
	uploadCfg configloader.UploadConfig,
	logger log.Logger,
) *Runner {
	if !cfg.Enabled {
		return nil
	}
	runner, err := NewRunner(RunnerParams{
		Service:         svc,
		Sweeper:         uploads,
		SessionStaleTTL: uploadCfg.SessionStaleTTL,
		Logger:          logger,
		PollInterval:    cfg.PollInterval,
		Concurrency:     cfg.Concurrency,
	})
	if err != nil {
		log.NewHelper(logger).Errorw("msg", "init stream ingest runner failed", "error", err)
		return nil
	}
	return runner
}
