// Package streamingest 提供流式摄取任务的后台运行器：轮询台账领取
// 待拉取的远端流任务，并在有限并发内逐个执行完整摄取。
package streamingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/reelside/reel-services-ingestion/internal/services"
)

const (
	defaultPollInterval = 3 * time.Second
	defaultConcurrency  = 1
	sweepBatchLimit     = 32
)

// SessionSweeper 回收遗留的上传会话：中止存储侧残留的 multipart upload
// 并落账会话与任务的终态。
type SessionSweeper interface {
	SweepStaleSessions(ctx context.Context, olderThan time.Duration, limit int32) (int, error)
}

// Runner 负责驱动流式摄取：领取即迁移的 claim 语义保证多实例轮询互不冲突。
// 顺带在每个轮询周期清扫一批过期的上传会话。
type Runner struct {
	svc         *services.StreamIngestService
	sweeper     SessionSweeper
	staleTTL    time.Duration
	interval    time.Duration
	concurrency int
	log         *log.Helper
}

// RunnerParams 注入构建 Runner 所需的依赖。Sweeper 可为空，此时不做会话清扫。
type RunnerParams struct {
	Service         *services.StreamIngestService
	Sweeper         SessionSweeper
	SessionStaleTTL time.Duration
	Logger          log.Logger
	PollInterval    time.Duration
	Concurrency     int
}

// NewRunner 构造流式摄取 Runner。
func NewRunner(params RunnerParams) (*Runner, error) {
	if params.Service == nil {
		return nil, fmt.Errorf("streamingest: ingest service is required")
	}
	if params.PollInterval <= 0 {
		params.PollInterval = defaultPollInterval
	}
	if params.Concurrency <= 0 {
		params.Concurrency = defaultConcurrency
	}
	return &Runner{
		svc:         params.Service,
		sweeper:     params.Sweeper,
		staleTTL:    params.SessionStaleTTL,
		interval:    params.PollInterval,
		concurrency: params.Concurrency,
		log:         log.NewHelper(params.Logger),
	}, nil
}

// Run 启动轮询循环，阻塞直至 ctx 取消。每轮先把可领取的任务全部派发，
// 再等待下一个轮询周期；ctx 取消后等待在途任务结束才返回。
func (r *Runner) Run(ctx context.Context) error {
	if r == nil || r.svc == nil {
		return nil
	}

	group := new(errgroup.Group)
	group.SetLimit(r.concurrency)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.drain(ctx, group)
		r.sweep(ctx)

		select {
		case <-ctx.Done():
			if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				r.log.Warnf("stream ingest worker exited with error: %v", err)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain 连续领取任务直到台账为空或并发额度耗尽。
// 单个任务的失败已由服务层落账（failed + 阶段），这里只记录日志。
func (r *Runner) drain(ctx context.Context, group *errgroup.Group) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := r.svc.ClaimNextJob(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				r.log.WithContext(ctx).Errorf("claim stream job failed: %v", err)
			}
			return
		}
		if job == nil {
			return
		}
		group.Go(func() error {
			if err := r.svc.Ingest(ctx, job); err != nil && !errors.Is(err, context.Canceled) {
				r.log.WithContext(ctx).Warnf("stream ingest job failed: job_id=%s err=%v", job.JobID, err)
			}
			return nil
		})
	}
}

// sweep 清扫一批过期的上传会话，回收存储侧残留的 multipart upload。
func (r *Runner) sweep(ctx context.Context) {
	if r.sweeper == nil || r.staleTTL <= 0 || ctx.Err() != nil {
		return
	}
	swept, err := r.sweeper.SweepStaleSessions(ctx, r.staleTTL, sweepBatchLimit)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.log.WithContext(ctx).Errorf("sweep stale upload sessions failed: %v", err)
		}
		return
	}
	if swept > 0 {
		r.log.WithContext(ctx).Infof("stale upload sessions swept: count=%d", swept)
	}
}
