package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bionicotaku/lingo-utils/txmanager"
	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"github.com/reelside/reel-services-ingestion/internal/infrastructure/objectstore"
	"github.com/reelside/reel-services-ingestion/internal/models/po"
	"github.com/reelside/reel-services-ingestion/internal/repositories"
	"github.com/reelside/reel-services-ingestion/internal/upload/partplan"
)

const (
	// maxPartsPerUpload 是 S3 multipart 协议允许的分片数上限。
	maxPartsPerUpload = 10000
	// maxSignBatch 限制单次批量签名的分片数，防止恶意请求拖垮预签名客户端。
	maxSignBatch = 64
)

// UploadJobLedger 抽象上传链路需要的任务台账操作。
type UploadJobLedger interface {
	Get(ctx context.Context, sess txmanager.Session, jobID uuid.UUID) (*po.IngestionJob, error)
	SetUploadTarget(ctx context.Context, sess txmanager.Session, jobID uuid.UUID, objectKey string, contentType *string, totalBytes int64) (*po.IngestionJob, error)
	Transition(ctx context.Context, sess txmanager.Session, input repositories.TransitionInput) (*po.IngestionJob, error)
	SetProgress(ctx context.Context, sess txmanager.Session, jobID uuid.UUID, percent int32) (int32, error)
	MarkFailed(ctx context.Context, sess txmanager.Session, input repositories.FailInput) (*po.IngestionJob, error)
}

// UploadSessionLedger 抽象上传会话与分片确认的持久化操作。
type UploadSessionLedger interface {
	Create(ctx context.Context, sess txmanager.Session, input repositories.CreateSessionInput) (*po.UploadSession, error)
	Get(ctx context.Context, sess txmanager.Session, jobID uuid.UUID) (*po.UploadSession, error)
	AckPart(ctx context.Context, sess txmanager.Session, input repositories.AckPartInput) (int64, error)
	ListParts(ctx context.Context, sess txmanager.Session, jobID uuid.UUID) ([]*po.AcknowledgedPart, error)
	MarkCompleted(ctx context.Context, sess txmanager.Session, jobID uuid.UUID) error
	MarkAborted(ctx context.Context, sess txmanager.Session, jobID uuid.UUID) error
	ListStaleActive(ctx context.Context, sess txmanager.Session, cutoff time.Time, limit int32) ([]*po.UploadSession, error)
}

// MultipartStore 抽象对象存储的 multipart 协议操作。
type MultipartStore interface {
	CreateUpload(ctx context.Context, objectKey, contentType string) (string, error)
	SignPartUploads(ctx context.Context, uploadID, objectKey string, partNumbers []int32) ([]objectstore.SignedPartURL, error)
	CompleteUpload(ctx context.Context, uploadID, objectKey string, parts []objectstore.CompletedPart) (string, error)
	AbortUpload(ctx context.Context, uploadID, objectKey string) error
}

// ProcessingNotifier 在对象落仓后通知下游处理协作方。
type ProcessingNotifier interface {
	TriggerProcessing(ctx context.Context, jobID uuid.UUID, objectKey string) error
}

// InitUploadInput 为初始化分片上传的服务层输入。
type InitUploadInput struct {
	OwnerID       uuid.UUID
	JobID         uuid.UUID
	TotalBytes    int64
	PartSizeBytes int64  // 0 时使用配置默认值
	ContentType   string // 覆盖登记时声明的内容类型，可选
}

// InitUploadResult 为初始化分片上传的服务层输出。
// Resumed 为 true 时表示复用了已存在的活跃会话，AckedParts 携带已确认分片号。
type InitUploadResult struct {
	Job        *po.IngestionJob
	Session    *po.UploadSession
	Plan       partplan.Plan
	AckedParts []int32
	Resumed    bool
}

// SignPartsInput 为批量预签名的服务层输入，签名范围为闭区间。
type SignPartsInput struct {
	OwnerID         uuid.UUID
	JobID           uuid.UUID
	FirstPartNumber int32
	LastPartNumber  int32
}

// AckUploadPartInput 为分片确认的服务层输入。
type AckUploadPartInput struct {
	OwnerID    uuid.UUID
	JobID      uuid.UUID
	PartNumber int32
	ETag       string
	ByteLength int64
	AttemptID  *uuid.UUID
}

// AckUploadPartResult 为分片确认的服务层输出。
type AckUploadPartResult struct {
	UploadedBytes   int64
	ProgressPercent int32
}

// ResumeStateResult 描述断点续传所需的完整状态。
type ResumeStateResult struct {
	Job          *po.IngestionJob
	Session      *po.UploadSession
	AckedParts   []int32
	MissingParts []int32
}

// CompleteUploadResult 为合并完成的服务层输出。
type CompleteUploadResult struct {
	Job       *po.IngestionJob
	ObjectKey string
}

// UploadService 实现浏览器分片上传的业务用例：初始化（含幂等重入）、
// 批量预签名、分片确认、断点状态查询、合并与中止。
type UploadService struct {
	jobs            UploadJobLedger
	sessions        UploadSessionLedger
	store           MultipartStore
	notifier        ProcessingNotifier
	tx              txmanager.Manager
	defaultPartSize int64
	log             *log.Helper
}

// NewUploadService 创建 UploadService。defaultPartSize 非正时回退到浏览器默认分片大小。
func NewUploadService(jobs UploadJobLedger, sessions UploadSessionLedger, store MultipartStore, notifier ProcessingNotifier, tx txmanager.Manager, defaultPartSize int64, logger log.Logger) (*UploadService, error) {
	switch {
	case jobs == nil:
		return nil, errors.New("upload service: job ledger is required")
	case sessions == nil:
		return nil, errors.New("upload service: session ledger is required")
	case store == nil:
		return nil, errors.New("upload service: multipart store is required")
	case notifier == nil:
		return nil, errors.New("upload service: processing notifier is required")
	case tx == nil:
		return nil, errors.New("upload service: transaction manager is required")
	}
	if defaultPartSize <= 0 {
		defaultPartSize = partplan.DefaultBrowserPartSizeBytes
	}
	return &UploadService{
		jobs:            jobs,
		sessions:        sessions,
		store:           store,
		notifier:        notifier,
		tx:              tx,
		defaultPartSize: defaultPartSize,
		log:             log.NewHelper(logger),
	}, nil
}

// InitUpload 初始化一次分片上传：规划分片、创建存储侧 multipart 上传、
// 持久化会话并将任务迁移到 uploading。
// 任务已处于 uploading 且存在活跃会话时幂等复用，返回已确认分片号供续传。
func (s *UploadService) InitUpload(ctx context.Context, input InitUploadInput) (*InitUploadResult, error) {
	if err := validateInitUpload(input); err != nil {
		return nil, err
	}

	job, err := loadOwnedJob(ctx, s.jobs, input.OwnerID, input.JobID)
	if err != nil {
		return nil, err
	}
	if !job.ConsentRecorded() {
		return nil, ErrConsentRequired
	}

	if job.Status == po.JobStatusUploading {
		return s.resumeActiveSession(ctx, job, input)
	}

	switch job.Status {
	case po.JobStatusMetaReady, po.JobStatusUploadReady:
	default:
		return nil, kerrors.Conflict(ReasonStateConflict, fmt.Sprintf("job %s is %s, cannot start uploading", job.JobID, job.Status))
	}

	plan, err := partplan.New(input.TotalBytes, s.partSize(input.PartSizeBytes))
	if err != nil {
		return nil, kerrors.BadRequest(ReasonInvalidInput, err.Error())
	}
	if plan.TotalParts > maxPartsPerUpload {
		return nil, kerrors.BadRequest(ReasonInvalidInput, fmt.Sprintf("plan of %d parts exceeds the multipart limit of %d", plan.TotalParts, maxPartsPerUpload))
	}

	objectKey := ObjectKeyFor(job.OwnerID, job.JobID)
	contentType := s.resolveContentType(input.ContentType, job)
	uploadID, err := s.store.CreateUpload(ctx, objectKey, contentType)
	if err != nil {
		return nil, mapStorageError(err)
	}

	var (
		updatedJob *po.IngestionJob
		session    *po.UploadSession
	)
	err = s.tx.WithinTx(ctx, txmanager.TxOptions{}, func(txCtx context.Context, sess txmanager.Session) error {
		if _, err := s.jobs.SetUploadTarget(txCtx, sess, job.JobID, objectKey, nullableString(contentType), input.TotalBytes); err != nil {
			return fmt.Errorf("set upload target: %w", err)
		}
		session, err = s.sessions.Create(txCtx, sess, repositories.CreateSessionInput{
			JobID:             job.JobID,
			MultipartUploadID: uploadID,
			ObjectKey:         objectKey,
			PartSizeBytes:     plan.PartSizeBytes,
			TotalBytes:        plan.TotalBytes,
			TotalParts:        plan.TotalParts,
		})
		if err != nil {
			return fmt.Errorf("create upload session: %w", err)
		}
		updatedJob, err = s.jobs.Transition(txCtx, sess, repositories.TransitionInput{
			JobID: job.JobID,
			From:  []po.JobStatus{po.JobStatusMetaReady, po.JobStatusUploadReady},
			To:    po.JobStatusUploading,
		})
		if err != nil {
			return fmt.Errorf("enter uploading: %w", err)
		}
		return nil
	})
	if err != nil {
		// 台账写入失败时回收存储侧上传，避免积累孤儿 multipart。
		_ = s.store.AbortUpload(ctx, uploadID, objectKey)
		return nil, mapLedgerError(err)
	}

	s.log.WithContext(ctx).Infof("upload session initialized: job_id=%s upload_id=%s parts=%d part_size=%d", job.JobID, uploadID, plan.TotalParts, plan.PartSizeBytes)
	return &InitUploadResult{
		Job:     updatedJob,
		Session: session,
		Plan:    plan,
	}, nil
}

// resumeActiveSession 处理 uploading 状态下的幂等重入：返回既有会话与已确认分片。
func (s *UploadService) resumeActiveSession(ctx context.Context, job *po.IngestionJob, input InitUploadInput) (*InitUploadResult, error) {
	session, err := s.sessions.Get(ctx, nil, job.JobID)
	if err != nil {
		if errors.Is(err, repositories.ErrUploadSessionNotFound) {
			return nil, kerrors.Conflict(ReasonStateConflict, fmt.Sprintf("job %s is uploading but has no session record", job.JobID))
		}
		return nil, fmt.Errorf("load upload session: %w", err)
	}
	if session.Status != po.SessionStatusActive {
		return nil, kerrors.Conflict(ReasonStateConflict, fmt.Sprintf("upload session for job %s is %s, cannot resume", job.JobID, session.Status))
	}
	if input.TotalBytes != session.TotalBytes {
		return nil, kerrors.Conflict(ReasonStateConflict, fmt.Sprintf("total_bytes %d does not match the active session (%d)", input.TotalBytes, session.TotalBytes))
	}

	parts, err := s.sessions.ListParts(ctx, nil, job.JobID)
	if err != nil {
		return nil, fmt.Errorf("list acknowledged parts: %w", err)
	}

	s.log.WithContext(ctx).Infof("upload session resumed: job_id=%s acked=%d/%d", job.JobID, len(parts), session.TotalParts)
	return &InitUploadResult{
		Job:        job,
		Session:    session,
		Plan:       planFromSession(session),
		AckedParts: ackedNumbers(parts),
		Resumed:    true,
	}, nil
}

// SignParts 为闭区间 [first, last] 内的分片批量生成预签名 PUT 地址。
func (s *UploadService) SignParts(ctx context.Context, input SignPartsInput) ([]objectstore.SignedPartURL, error) {
	if input.FirstPartNumber < 1 {
		return nil, kerrors.BadRequest(ReasonInvalidInput, "first_part_number must be at least 1")
	}
	if input.LastPartNumber < input.FirstPartNumber {
		return nil, kerrors.BadRequest(ReasonInvalidInput, "last_part_number must not precede first_part_number")
	}
	if input.LastPartNumber-input.FirstPartNumber+1 > maxSignBatch {
		return nil, kerrors.BadRequest(ReasonInvalidInput, fmt.Sprintf("at most %d parts may be signed per request", maxSignBatch))
	}

	job, err := loadOwnedJob(ctx, s.jobs, input.OwnerID, input.JobID)
	if err != nil {
		return nil, err
	}
	session, err := s.activeSession(ctx, job.JobID)
	if err != nil {
		return nil, err
	}
	if input.LastPartNumber > session.TotalParts {
		return nil, kerrors.BadRequest(ReasonInvalidInput, fmt.Sprintf("part %d exceeds the plan of %d parts", input.LastPartNumber, session.TotalParts))
	}

	numbers := make([]int32, 0, input.LastPartNumber-input.FirstPartNumber+1)
	for n := input.FirstPartNumber; n <= input.LastPartNumber; n++ {
		numbers = append(numbers, n)
	}
	signed, err := s.store.SignPartUploads(ctx, session.MultipartUploadID, session.ObjectKey, numbers)
	if err != nil {
		return nil, mapStorageError(err)
	}
	return signed, nil
}

// AckPart 记录一片上传成功：写入确认、重算累计字节并单调推进任务进度。
// 三者在同一事务内完成；同一分片重复确认按最后一次覆盖，字节数不重复累计。
func (s *UploadService) AckPart(ctx context.Context, input AckUploadPartInput) (*AckUploadPartResult, error) {
	if err := validateAckPart(input); err != nil {
		return nil, err
	}

	job, err := loadOwnedJob(ctx, s.jobs, input.OwnerID, input.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status != po.JobStatusUploading {
		return nil, kerrors.Conflict(ReasonStateConflict, fmt.Sprintf("job %s is %s, part acknowledgements not accepted", job.JobID, job.Status))
	}
	session, err := s.activeSession(ctx, job.JobID)
	if err != nil {
		return nil, err
	}
	if input.PartNumber > session.TotalParts {
		return nil, kerrors.BadRequest(ReasonInvalidInput, fmt.Sprintf("part %d exceeds the plan of %d parts", input.PartNumber, session.TotalParts))
	}
	if expected := planFromSession(session).Length(input.PartNumber); input.ByteLength != expected {
		return nil, kerrors.BadRequest(ReasonInvalidInput, fmt.Sprintf("part %d must carry %d bytes, got %d", input.PartNumber, expected, input.ByteLength))
	}

	result := &AckUploadPartResult{}
	err = s.tx.WithinTx(ctx, txmanager.TxOptions{}, func(txCtx context.Context, sess txmanager.Session) error {
		uploaded, err := s.sessions.AckPart(txCtx, sess, repositories.AckPartInput{
			JobID:      input.JobID,
			PartNumber: input.PartNumber,
			ETag:       input.ETag,
			ByteLength: input.ByteLength,
			AttemptID:  input.AttemptID,
		})
		if err != nil {
			return fmt.Errorf("acknowledge part: %w", err)
		}
		percent, err := s.jobs.SetProgress(txCtx, sess, input.JobID, progressPercent(uploaded, session.TotalBytes))
		if err != nil {
			return fmt.Errorf("update progress: %w", err)
		}
		result.UploadedBytes = uploaded
		result.ProgressPercent = percent
		return nil
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return result, nil
}

// ResumeState 返回断点续传所需的全部状态：会话、已确认分片与缺失分片号。
func (s *UploadService) ResumeState(ctx context.Context, ownerID, jobID uuid.UUID) (*ResumeStateResult, error) {
	job, err := loadOwnedJob(ctx, s.jobs, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	session, err := s.sessions.Get(ctx, nil, jobID)
	if err != nil {
		if errors.Is(err, repositories.ErrUploadSessionNotFound) {
			return nil, kerrors.Conflict(ReasonStateConflict, fmt.Sprintf("job %s has no upload session", jobID))
		}
		return nil, fmt.Errorf("load upload session: %w", err)
	}
	parts, err := s.sessions.ListParts(ctx, nil, jobID)
	if err != nil {
		return nil, fmt.Errorf("list acknowledged parts: %w", err)
	}

	acked := ackedNumbers(parts)
	return &ResumeStateResult{
		Job:          job,
		Session:      session,
		AckedParts:   acked,
		MissingParts: missingParts(session.TotalParts, acked),
	}, nil
}

// Complete 合并全部分片并提交任务到 uploaded。确认集必须恰好覆盖 1..totalParts，
// 存在缺口时拒绝合并。合并成功后触发下游处理；触发失败只记录日志，
// 任务停留在 uploaded 等待协作方回调。
func (s *UploadService) Complete(ctx context.Context, ownerID, jobID uuid.UUID) (*CompleteUploadResult, error) {
	job, err := loadOwnedJob(ctx, s.jobs, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	// 合并后的重复调用幂等返回，页面刷新不应报错。
	switch job.Status {
	case po.JobStatusUploaded, po.JobStatusProcessing, po.JobStatusReady:
		return &CompleteUploadResult{Job: job, ObjectKey: job.ObjectKey}, nil
	case po.JobStatusUploading:
	default:
		return nil, kerrors.Conflict(ReasonStateConflict, fmt.Sprintf("job %s is %s, cannot complete upload", job.JobID, job.Status))
	}

	session, err := s.activeSession(ctx, jobID)
	if err != nil {
		return nil, err
	}
	parts, err := s.sessions.ListParts(ctx, nil, jobID)
	if err != nil {
		return nil, fmt.Errorf("list acknowledged parts: %w", err)
	}
	if int32(len(parts)) != session.TotalParts {
		return nil, kerrors.Conflict(ReasonUploadIncomplete, fmt.Sprintf("acknowledged %d of %d parts, upload incomplete", len(parts), session.TotalParts))
	}

	completed := make([]objectstore.CompletedPart, 0, len(parts))
	for _, part := range parts {
		completed = append(completed, objectstore.CompletedPart{
			PartNumber: part.PartNumber,
			ETag:       part.ETag,
		})
	}
	objectKey, err := s.store.CompleteUpload(ctx, session.MultipartUploadID, session.ObjectKey, completed)
	if err != nil {
		if errors.Is(err, objectstore.ErrIncompleteUpload) {
			return nil, kerrors.Conflict(ReasonUploadIncomplete, err.Error()).WithCause(err)
		}
		return nil, mapStorageError(err)
	}

	var updatedJob *po.IngestionJob
	err = s.tx.WithinTx(ctx, txmanager.TxOptions{}, func(txCtx context.Context, sess txmanager.Session) error {
		if err := s.sessions.MarkCompleted(txCtx, sess, jobID); err != nil {
			return fmt.Errorf("complete upload session: %w", err)
		}
		updatedJob, err = s.jobs.Transition(txCtx, sess, repositories.TransitionInput{
			JobID: jobID,
			From:  []po.JobStatus{po.JobStatusUploading},
			To:    po.JobStatusUploaded,
		})
		if err != nil {
			return fmt.Errorf("enter uploaded: %w", err)
		}
		if _, err := s.jobs.SetProgress(txCtx, sess, jobID, 100); err != nil {
			return fmt.Errorf("finalize progress: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}

	s.log.WithContext(ctx).Infof("upload completed: job_id=%s object_key=%s parts=%d", jobID, objectKey, len(completed))
	if err := s.notifier.TriggerProcessing(ctx, jobID, objectKey); err != nil {
		s.log.WithContext(ctx).Warnf("processing trigger failed: job_id=%s err=%v", jobID, err)
	}
	return &CompleteUploadResult{Job: updatedJob, ObjectKey: objectKey}, nil
}

// Abort 中止上传：尽力回收存储侧分片、关闭会话并将任务置为 failed（阶段 upload）。
func (s *UploadService) Abort(ctx context.Context, ownerID, jobID uuid.UUID, reason string) (*po.IngestionJob, error) {
	job, err := loadOwnedJob(ctx, s.jobs, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, kerrors.Conflict(ReasonStateConflict, fmt.Sprintf("job %s is %s, cannot abort", job.JobID, job.Status))
	}

	session, err := s.sessions.Get(ctx, nil, jobID)
	switch {
	case err == nil:
		if session.Status == po.SessionStatusActive {
			_ = s.store.AbortUpload(ctx, session.MultipartUploadID, session.ObjectKey)
			if err := s.sessions.MarkAborted(ctx, nil, jobID); err != nil && !errors.Is(err, repositories.ErrUploadSessionNotFound) {
				return nil, fmt.Errorf("abort upload session: %w", err)
			}
		}
	case errors.Is(err, repositories.ErrUploadSessionNotFound):
		// 上传尚未初始化，仅标记任务失败。
	default:
		return nil, fmt.Errorf("load upload session: %w", err)
	}

	if strings.TrimSpace(reason) == "" {
		reason = "upload aborted by user"
	}
	failed, err := s.jobs.MarkFailed(ctx, nil, repositories.FailInput{
		JobID:   jobID,
		Stage:   po.ErrorStageUpload,
		Message: reason,
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}
	s.log.WithContext(ctx).Infof("upload aborted: job_id=%s reason=%q", jobID, reason)
	return failed, nil
}

// SweepStaleSessions 中止长时间无进展的活跃会话：逐个尽力中止存储侧的
// multipart upload、落账会话 aborted，并把仍未终态的任务标记为 failed。
// 返回成功清扫的会话数；单个会话的失败只记录日志，不中断整轮清扫。
func (s *UploadService) SweepStaleSessions(ctx context.Context, olderThan time.Duration, limit int32) (int, error) {
	if olderThan <= 0 || limit <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	stale, err := s.sessions.ListStaleActive(ctx, nil, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list stale upload sessions: %w", err)
	}

	swept := 0
	for _, session := range stale {
		if ctx.Err() != nil {
			return swept, ctx.Err()
		}
		if err := s.store.AbortUpload(ctx, session.MultipartUploadID, session.ObjectKey); err != nil {
			s.log.WithContext(ctx).Warnf("abort stale multipart upload failed: job_id=%s upload_id=%s err=%v", session.JobID, session.MultipartUploadID, err)
		}
		if err := s.sessions.MarkAborted(ctx, nil, session.JobID); err != nil && !errors.Is(err, repositories.ErrUploadSessionNotFound) {
			s.log.WithContext(ctx).Errorf("mark stale session aborted failed: job_id=%s err=%v", session.JobID, err)
			continue
		}
		if _, err := s.jobs.MarkFailed(ctx, nil, repositories.FailInput{
			JobID:   session.JobID,
			Stage:   po.ErrorStageUpload,
			Message: "upload session expired without completion",
		}); err != nil {
			// 任务可能早已终态，清扫的目的只是回收存储侧的残留。
			s.log.WithContext(ctx).Debugf("stale sweep job already settled: job_id=%s err=%v", session.JobID, err)
		}
		swept++
		s.log.WithContext(ctx).Infof("stale upload session swept: job_id=%s upload_id=%s", session.JobID, session.MultipartUploadID)
	}
	return swept, nil
}

// activeSession 读取会话并要求其处于 active 状态。
func (s *UploadService) activeSession(ctx context.Context, jobID uuid.UUID) (*po.UploadSession, error) {
	session, err := s.sessions.Get(ctx, nil, jobID)
	if err != nil {
		if errors.Is(err, repositories.ErrUploadSessionNotFound) {
			return nil, kerrors.Conflict(ReasonStateConflict, fmt.Sprintf("job %s has no upload session", jobID))
		}
		return nil, fmt.Errorf("load upload session: %w", err)
	}
	if session.Status != po.SessionStatusActive {
		return nil, kerrors.Conflict(ReasonStateConflict, fmt.Sprintf("upload session for job %s is %s", jobID, session.Status))
	}
	return session, nil
}

func (s *UploadService) partSize(requested int64) int64 {
	if requested > 0 {
		return requested
	}
	return s.defaultPartSize
}

func (s *UploadService) resolveContentType(override string, job *po.IngestionJob) string {
	if override != "" {
		return strings.ToLower(override)
	}
	if job.ContentType != nil {
		return *job.ContentType
	}
	return ""
}

func validateInitUpload(input InitUploadInput) error {
	if input.TotalBytes <= 0 {
		return kerrors.BadRequest(ReasonInvalidInput, "total_bytes must be positive")
	}
	if input.ContentType != "" {
		if _, ok := allowedMIME[strings.ToLower(input.ContentType)]; !ok {
			return kerrors.BadRequest(ReasonInvalidInput, fmt.Sprintf("unsupported content_type: %s", input.ContentType))
		}
	}
	return nil
}

func validateAckPart(input AckUploadPartInput) error {
	if input.PartNumber < 1 {
		return kerrors.BadRequest(ReasonInvalidInput, "part_number must be at least 1")
	}
	if input.ETag == "" {
		return kerrors.BadRequest(ReasonInvalidInput, "etag is required")
	}
	if input.ByteLength <= 0 {
		return kerrors.BadRequest(ReasonInvalidInput, "byte_length must be positive")
	}
	return nil
}

// ObjectKeyFor 由任务归属推导对象存储键；源文件在任务目录下固定命名。
func ObjectKeyFor(ownerID, jobID uuid.UUID) string {
	return fmt.Sprintf("videos/%s/%s/original", ownerID, jobID)
}

// planFromSession 从持久化的会话字段重建分片方案。
func planFromSession(session *po.UploadSession) partplan.Plan {
	return partplan.Plan{
		TotalBytes:    session.TotalBytes,
		PartSizeBytes: session.PartSizeBytes,
		TotalParts:    session.TotalParts,
	}
}

// progressPercent 以累计字节推算整体进度。字节未收齐前封顶在 99，
// 避免四舍五入让尾片很小的上传提前报出 100；收齐后才返回 100。
func progressPercent(uploadedBytes, totalBytes int64) int32 {
	if totalBytes <= 0 || uploadedBytes <= 0 {
		return 0
	}
	if uploadedBytes >= totalBytes {
		return 100
	}
	percent := int32(math.Round(float64(uploadedBytes) / float64(totalBytes) * 100))
	if percent > 99 {
		return 99
	}
	return percent
}

// ackedNumbers 提取已确认分片号，保持仓储返回的升序。
func ackedNumbers(parts []*po.AcknowledgedPart) []int32 {
	numbers := make([]int32, 0, len(parts))
	for _, part := range parts {
		numbers = append(numbers, part.PartNumber)
	}
	return numbers
}

// missingParts 计算 {1..totalParts} 与已确认分片号集合的差，升序返回。
func missingParts(totalParts int32, acked []int32) []int32 {
	seen := make(map[int32]struct{}, len(acked))
	for _, n := range acked {
		seen[n] = struct{}{}
	}
	missing := make([]int32, 0, int(totalParts)-len(seen))
	for n := int32(1); n <= totalParts; n++ {
		if _, ok := seen[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}

// mapStorageError 将对象存储错误映射为对外错误。
func mapStorageError(err error) error {
	if errors.Is(err, objectstore.ErrStorageUnavailable) {
		return kerrors.ServiceUnavailable(ReasonStorageUnavailable, err.Error()).WithCause(err)
	}
	return err
}
