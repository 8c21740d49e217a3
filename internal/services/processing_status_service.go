package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bionicotaku/lingo-utils/txmanager"
	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"github.com/reelside/reel-services-ingestion/internal/models/po"
	"github.com/reelside/reel-services-ingestion/internal/repositories"
)

// ProcessingJobLedger 抽象处理回调需要的任务台账操作。
type ProcessingJobLedger interface {
	Get(ctx context.Context, sess txmanager.Session, jobID uuid.UUID) (*po.IngestionJob, error)
	Transition(ctx context.Context, sess txmanager.Session, input repositories.TransitionInput) (*po.IngestionJob, error)
	SetProgress(ctx context.Context, sess txmanager.Session, jobID uuid.UUID, percent int32) (int32, error)
	MarkReady(ctx context.Context, sess txmanager.Session, jobID uuid.UUID) (*po.IngestionJob, error)
	MarkFailed(ctx context.Context, sess txmanager.Session, input repositories.FailInput) (*po.IngestionJob, error)
}

// ProcessingStatusService 接收外部处理协作方的回调并推进任务终段生命周期。
// 回调经内部路由到达，信任调用方身份，不做归属校验。
type ProcessingStatusService struct {
	jobs ProcessingJobLedger
	log  *log.Helper
}

// NewProcessingStatusService 创建 ProcessingStatusService。
func NewProcessingStatusService(jobs ProcessingJobLedger, logger log.Logger) (*ProcessingStatusService, error) {
	if jobs == nil {
		return nil, errors.New("processing status service: job ledger is required")
	}
	return &ProcessingStatusService{
		jobs: jobs,
		log:  log.NewHelper(logger),
	}, nil
}

// ReportProgress 持久化处理进度。首次回调将任务从 uploaded 推进到 processing
// 并重置进度基线；此后进度在 processing 内单调不减。
func (s *ProcessingStatusService) ReportProgress(ctx context.Context, jobID uuid.UUID, percent int32) (int32, error) {
	if jobID == uuid.Nil {
		return 0, kerrors.BadRequest(ReasonInvalidInput, "job_id is required")
	}
	if percent < 0 || percent > 100 {
		return 0, kerrors.BadRequest(ReasonInvalidInput, "percent must be within 0-100")
	}

	job, err := s.jobs.Get(ctx, nil, jobID)
	if err != nil {
		return 0, mapLedgerError(err)
	}
	switch job.Status {
	case po.JobStatusUploaded:
		if _, err := s.jobs.Transition(ctx, nil, repositories.TransitionInput{
			JobID:         jobID,
			From:          []po.JobStatus{po.JobStatusUploaded},
			To:            po.JobStatusProcessing,
			ResetProgress: true,
		}); err != nil && !errors.Is(err, repositories.ErrStateConflict) {
			// 并发回调可能已抢先完成迁移，此时继续写进度即可。
			return 0, mapLedgerError(err)
		}
	case po.JobStatusProcessing:
	default:
		return 0, kerrors.Conflict(ReasonStateConflict, fmt.Sprintf("job %s is %s, processing progress not accepted", jobID, job.Status))
	}

	updated, err := s.jobs.SetProgress(ctx, nil, jobID, percent)
	if err != nil {
		return 0, mapLedgerError(err)
	}
	return updated, nil
}

// MarkReady 将任务推进到 ready 终态并把进度补齐到 100。
// 协作方可跳过进度回调直接报告完成，因此 uploaded 与 processing 均可进入。
func (s *ProcessingStatusService) MarkReady(ctx context.Context, jobID uuid.UUID) (*po.IngestionJob, error) {
	if jobID == uuid.Nil {
		return nil, kerrors.BadRequest(ReasonInvalidInput, "job_id is required")
	}
	job, err := s.jobs.MarkReady(ctx, nil, jobID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	s.log.WithContext(ctx).Infof("ingestion job ready: job_id=%s", jobID)
	return job, nil
}

// MarkFailed 记录处理阶段失败并将任务置为 failed 终态。
func (s *ProcessingStatusService) MarkFailed(ctx context.Context, jobID uuid.UUID, message string) (*po.IngestionJob, error) {
	if jobID == uuid.Nil {
		return nil, kerrors.BadRequest(ReasonInvalidInput, "job_id is required")
	}
	if strings.TrimSpace(message) == "" {
		message = "processing failed"
	}
	job, err := s.jobs.MarkFailed(ctx, nil, repositories.FailInput{
		JobID:   jobID,
		Stage:   po.ErrorStageProcessing,
		Message: message,
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}
	s.log.WithContext(ctx).Warnf("ingestion job failed in processing: job_id=%s message=%q", jobID, message)
	return job, nil
}
