package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reelside/reel-services-ingestion/internal/infrastructure/configloader"
	"github.com/reelside/reel-services-ingestion/internal/infrastructure/objectstore"
	"github.com/reelside/reel-services-ingestion/internal/repositories"
	"github.com/reelside/reel-services-ingestion/internal/services"
	"github.com/reelside/reel-services-ingestion/internal/upload/transport"
)

// provideTxManager 基于连接池构造事务管理器，事务默认行为来自配置。
func provideTxManager(pool *pgxpool.Pool, cfg txmanager.Config, logger log.Logger) (txmanager.Manager, error) {
	return txmanager.NewManager(pool, cfg, txmanager.Dependencies{Logger: logger})
}

// provideUploadService 装配浏览器上传用例，分片大小取自配置。
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

// provideRelayService 装配中继上传用例。白名单未配置时仅放行对象存储端点自身，
// 防止端点沦为开放代理。
func provideRelayService(
	storeCfg configloader.ObjectStoreConfig,
	relayCfg configloader.RelayConfig,
	logger log.Logger,
) (*services.RelayService, error) {
	executor := transport.NewDirect(nil, logger)
	return services.NewRelayService(executor, relayAllowedHosts(relayCfg, storeCfg), logger)
}

// relayAllowedHosts 返回中继目标主机白名单：显式配置优先，
// 否则从对象存储端点推导（自建端点取其 host，AWS 默认端点按区域拼出桶主机）。
func relayAllowedHosts(relayCfg configloader.RelayConfig, storeCfg configloader.ObjectStoreConfig) []string {
	if len(relayCfg.AllowedHosts) > 0 {
		return relayCfg.AllowedHosts
	}
	if storeCfg.Endpoint != "" {
		if u, err := url.Parse(storeCfg.Endpoint); err == nil && u.Host != "" {
			return []string{strings.ToLower(u.Host)}
		}
		return nil
	}
	if storeCfg.Bucket != "" && storeCfg.Region != "" {
		return []string{strings.ToLower(fmt.Sprintf("%s.s3.%s.amazonaws.com", storeCfg.Bucket, storeCfg.Region))}
	}
	return nil
}
