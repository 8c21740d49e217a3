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

// JobLedger 抽象任务台账的持久化操作，便于测试替换。
type JobLedger interface {
	Create(ctx context.Context, sess txmanager.Session, input repositories.CreateJobInput) (*po.IngestionJob, error)
	Get(ctx context.Context, sess txmanager.Session, jobID uuid.UUID) (*po.IngestionJob, error)
	ListByOwner(ctx context.Context, sess txmanager.Session, ownerID uuid.UUID, limit int32) ([]*po.IngestionJob, error)
	UpdateMetadata(ctx context.Context, sess txmanager.Session, input repositories.UpdateMetadataInput) (*po.IngestionJob, error)
	RecordConsent(ctx context.Context, sess txmanager.Session, jobID uuid.UUID) (*po.IngestionJob, error)
	Transition(ctx context.Context, sess txmanager.Session, input repositories.TransitionInput) (*po.IngestionJob, error)
}

// SessionSummaryReader 查询任务关联的上传会话，用于聚合任务详情视图。
type SessionSummaryReader interface {
	Get(ctx context.Context, sess txmanager.Session, jobID uuid.UUID) (*po.UploadSession, error)
}

// allowedMIME 列出可接受的视频内容类型；octet-stream 兼容浏览器无法嗅探类型的场景。
var allowedMIME = map[string]struct{}{
	"video/mp4":                {},
	"video/quicktime":          {},
	"video/x-m4v":              {},
	"video/webm":               {},
	"video/x-matroska":         {},
	"video/3gpp":               {},
	"video/3gpp2":              {},
	"application/octet-stream": {},
}

// CreateJobInput 为登记摄取任务的服务层输入。
type CreateJobInput struct {
	OwnerID         uuid.UUID
	SourceKind      po.SourceKind
	SourceReference string
	Title           string
	ContentType     string
	TotalBytes      *int64
}

// UpdateJobMetadataInput 为补写元数据的服务层输入；nil 字段保持原值。
type UpdateJobMetadataInput struct {
	OwnerID         uuid.UUID
	JobID           uuid.UUID
	Title           *string
	ThumbnailURL    *string
	DurationSeconds *int32
	TotalBytes      *int64
	ContentType     *string
}

// JobView 聚合任务与其上传会话（浏览器上传路径之外为 nil）。
type JobView struct {
	Job     *po.IngestionJob
	Session *po.UploadSession
}

// JobService 实现摄取任务生命周期的业务用例：登记、查询、元数据补全、
// 进入上传阶段的准备与权利确认。
type JobService struct {
	jobs     JobLedger
	sessions SessionSummaryReader
	log      *log.Helper
}

// NewJobService 创建 JobService。
func NewJobService(jobs JobLedger, sessions SessionSummaryReader, logger log.Logger) (*JobService, error) {
	switch {
	case jobs == nil:
		return nil, errors.New("job service: job ledger is required")
	case sessions == nil:
		return nil, errors.New("job service: session reader is required")
	}
	return &JobService{
		jobs:     jobs,
		sessions: sessions,
		log:      log.NewHelper(logger),
	}, nil
}

// CreateJob 登记一条新的摄取任务，初始状态为 created。
func (s *JobService) CreateJob(ctx context.Context, input CreateJobInput) (*po.IngestionJob, error) {
	if err := validateCreateJob(input); err != nil {
		return nil, err
	}

	contentType := strings.ToLower(input.ContentType)
	job, err := s.jobs.Create(ctx, nil, repositories.CreateJobInput{
		OwnerID:         input.OwnerID,
		SourceKind:      input.SourceKind,
		SourceReference: input.SourceReference,
		ContentType:     nullableString(contentType),
		TotalBytes:      input.TotalBytes,
		Title:           nullableString(input.Title),
	})
	if err != nil {
		return nil, fmt.Errorf("create ingestion job: %w", err)
	}

	s.log.WithContext(ctx).Infof("ingestion job created: job_id=%s owner_id=%s source_kind=%s", job.JobID, job.OwnerID, job.SourceKind)
	return job, nil
}

// GetJob 返回任务详情视图；浏览器上传路径同时携带会话摘要。
func (s *JobService) GetJob(ctx context.Context, ownerID, jobID uuid.UUID) (*JobView, error) {
	job, err := loadOwnedJob(ctx, s.jobs, ownerID, jobID)
	if err != nil {
		return nil, err
	}

	view := &JobView{Job: job}
	session, err := s.sessions.Get(ctx, nil, jobID)
	switch {
	case err == nil:
		view.Session = session
	case errors.Is(err, repositories.ErrUploadSessionNotFound):
		// 尚未初始化上传，视图中会话为空。
	default:
		return nil, fmt.Errorf("load upload session: %w", err)
	}
	return view, nil
}

// ListJobs 返回当前用户的任务列表，按创建时间倒序。
func (s *JobService) ListJobs(ctx context.Context, ownerID uuid.UUID, limit int32) ([]*po.IngestionJob, error) {
	if ownerID == uuid.Nil {
		return nil, kerrors.Unauthorized(ReasonInvalidInput, "user metadata is required")
	}
	if limit > 200 {
		limit = 200
	}
	jobs, err := s.jobs.ListByOwner(ctx, nil, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ingestion jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJobMetadata 补写标题、缩略图等元数据。created 状态的任务随后尝试
// 标记为 meta_ready；该迁移失败只记录日志，元数据写入本身不受影响。
func (s *JobService) UpdateJobMetadata(ctx context.Context, input UpdateJobMetadataInput) (*po.IngestionJob, error) {
	if err := validateJobMetadata(input); err != nil {
		return nil, err
	}
	if _, err := loadOwnedJob(ctx, s.jobs, input.OwnerID, input.JobID); err != nil {
		return nil, err
	}

	var contentType *string
	if input.ContentType != nil {
		contentType = nullableString(strings.ToLower(*input.ContentType))
	}
	job, err := s.jobs.UpdateMetadata(ctx, nil, repositories.UpdateMetadataInput{
		JobID:           input.JobID,
		Title:           input.Title,
		ThumbnailURL:    input.ThumbnailURL,
		DurationSeconds: input.DurationSeconds,
		TotalBytes:      input.TotalBytes,
		ContentType:     contentType,
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}

	if job.Status == po.JobStatusCreated {
		promoted, err := s.jobs.Transition(ctx, nil, repositories.TransitionInput{
			JobID: input.JobID,
			From:  []po.JobStatus{po.JobStatusCreated},
			To:    po.JobStatusMetaReady,
		})
		if err != nil {
			s.log.WithContext(ctx).Debugf("meta_ready transition skipped: job_id=%s err=%v", input.JobID, err)
		} else {
			job = promoted
		}
	}
	return job, nil
}

// PrepareUpload 将任务从 created/meta_ready 推进到 upload_ready。
// 已处于 upload_ready 的任务重复调用按无操作成功处理。
func (s *JobService) PrepareUpload(ctx context.Context, ownerID, jobID uuid.UUID) (*po.IngestionJob, error) {
	if _, err := loadOwnedJob(ctx, s.jobs, ownerID, jobID); err != nil {
		return nil, err
	}

	job, err := s.jobs.Transition(ctx, nil, repositories.TransitionInput{
		JobID: jobID,
		From:  []po.JobStatus{po.JobStatusCreated, po.JobStatusMetaReady},
		To:    po.JobStatusUploadReady,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrStateConflict) {
			current, getErr := s.jobs.Get(ctx, nil, jobID)
			if getErr == nil && current.Status == po.JobStatusUploadReady {
				return current, nil
			}
		}
		return nil, mapLedgerError(err)
	}
	return job, nil
}

// RecordConsent 记录权利确认时间；重复调用保持首次时间，不报错。
func (s *JobService) RecordConsent(ctx context.Context, ownerID, jobID uuid.UUID) (*po.IngestionJob, error) {
	if _, err := loadOwnedJob(ctx, s.jobs, ownerID, jobID); err != nil {
		return nil, err
	}
	job, err := s.jobs.RecordConsent(ctx, nil, jobID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return job, nil
}

func validateCreateJob(input CreateJobInput) error {
	if input.OwnerID == uuid.Nil {
		return kerrors.Unauthorized(ReasonInvalidInput, "user metadata is required")
	}
	switch input.SourceKind {
	case po.SourceKindBrowserUpload, po.SourceKindRemoteStream:
	default:
		return kerrors.BadRequest(ReasonInvalidInput, fmt.Sprintf("unsupported source_kind: %s", input.SourceKind))
	}
	if strings.TrimSpace(input.SourceReference) == "" {
		return kerrors.BadRequest(ReasonInvalidInput, "source_reference is required")
	}
	if input.TotalBytes != nil && *input.TotalBytes <= 0 {
		return kerrors.BadRequest(ReasonInvalidInput, "total_bytes must be positive")
	}
	if input.ContentType != "" {
		if _, ok := allowedMIME[strings.ToLower(input.ContentType)]; !ok {
			return kerrors.BadRequest(ReasonInvalidInput, fmt.Sprintf("unsupported content_type: %s", input.ContentType))
		}
	}
	return nil
}

func validateJobMetadata(input UpdateJobMetadataInput) error {
	if input.OwnerID == uuid.Nil {
		return kerrors.Unauthorized(ReasonInvalidInput, "user metadata is required")
	}
	if input.JobID == uuid.Nil {
		return kerrors.BadRequest(ReasonInvalidInput, "job_id is required")
	}
	if input.DurationSeconds != nil && *input.DurationSeconds < 0 {
		return kerrors.BadRequest(ReasonInvalidInput, "duration_seconds must be non-negative")
	}
	if input.TotalBytes != nil && *input.TotalBytes <= 0 {
		return kerrors.BadRequest(ReasonInvalidInput, "total_bytes must be positive")
	}
	if input.ContentType != nil && *input.ContentType != "" {
		if _, ok := allowedMIME[strings.ToLower(*input.ContentType)]; !ok {
			return kerrors.BadRequest(ReasonInvalidInput, fmt.Sprintf("unsupported content_type: %s", *input.ContentType))
		}
	}
	return nil
}

// jobGetter 是归属校验所需的最小台账能力。
type jobGetter interface {
	Get(ctx context.Context, sess txmanager.Session, jobID uuid.UUID) (*po.IngestionJob, error)
}

// loadOwnedJob 读取任务并校验归属；归属不符按不存在处理，避免泄露他人任务。
func loadOwnedJob(ctx context.Context, ledger jobGetter, ownerID, jobID uuid.UUID) (*po.IngestionJob, error) {
	if ownerID == uuid.Nil {
		return nil, kerrors.Unauthorized(ReasonInvalidInput, "user metadata is required")
	}
	if jobID == uuid.Nil {
		return nil, kerrors.BadRequest(ReasonInvalidInput, "job_id is required")
	}
	job, err := ledger.Get(ctx, nil, jobID)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	if job.OwnerID != ownerID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	trimmed := value
	return &trimmed
}
