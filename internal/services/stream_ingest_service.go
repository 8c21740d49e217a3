package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"github.com/reelside/reel-services-ingestion/internal/infrastructure/objectstore"
	"github.com/reelside/reel-services-ingestion/internal/models/po"
	"github.com/reelside/reel-services-ingestion/internal/repositories"
	"github.com/reelside/reel-services-ingestion/internal/streamingest"
	"github.com/reelside/reel-services-ingestion/internal/upload/partplan"
	"github.com/reelside/reel-services-ingestion/internal/upload/pool"
)

// StreamResolver 将第三方视频标识解析为可拉取的流描述并打开字节流。
type StreamResolver interface {
	Resolve(ctx context.Context, source string) (*streamingest.StreamDescriptor, error)
	OpenStream(ctx context.Context, streamURL string) (io.ReadCloser, int64, error)
}

// StreamJobLedger 抽象流式摄取需要的任务台账操作。
type StreamJobLedger interface {
	UpdateMetadata(ctx context.Context, sess txmanager.Session, input repositories.UpdateMetadataInput) (*po.IngestionJob, error)
	SetUploadTarget(ctx context.Context, sess txmanager.Session, jobID uuid.UUID, objectKey string, contentType *string, totalBytes int64) (*po.IngestionJob, error)
	Transition(ctx context.Context, sess txmanager.Session, input repositories.TransitionInput) (*po.IngestionJob, error)
	SetProgress(ctx context.Context, sess txmanager.Session, jobID uuid.UUID, percent int32) (int32, error)
	MarkFailed(ctx context.Context, sess txmanager.Session, input repositories.FailInput) (*po.IngestionJob, error)
	ClaimPendingStream(ctx context.Context, sess txmanager.Session, limit int32) ([]*po.IngestionJob, error)
}

// UploadEngine 抽象分片调度引擎。
type UploadEngine interface {
	Run(ctx context.Context, in pool.RunInput) (pool.RunReport, error)
}

// StreamIngestService 在服务端完成远端流落仓：解析流地址、回填元数据、
// 按固定分片重组字节流并经调度引擎写入对象存储，最后合并提交。
// 创建 multipart 上传之后的任何失败都会先中止存储侧上传再记录任务失败。
type StreamIngestService struct {
	resolver StreamResolver
	jobs     StreamJobLedger
	store    MultipartStore
	engine   UploadEngine
	notifier ProcessingNotifier
	tx       txmanager.Manager
	partSize int64
	log      *log.Helper
}

// NewStreamIngestService 创建 StreamIngestService。partSize 非正时使用流式默认分片大小。
func NewStreamIngestService(resolver StreamResolver, jobs StreamJobLedger, store MultipartStore, engine UploadEngine, notifier ProcessingNotifier, tx txmanager.Manager, partSize int64, logger log.Logger) (*StreamIngestService, error) {
	switch {
	case resolver == nil:
		return nil, errors.New("stream ingest service: resolver is required")
	case jobs == nil:
		return nil, errors.New("stream ingest service: job ledger is required")
	case store == nil:
		return nil, errors.New("stream ingest service: multipart store is required")
	case engine == nil:
		return nil, errors.New("stream ingest service: upload engine is required")
	case notifier == nil:
		return nil, errors.New("stream ingest service: processing notifier is required")
	case tx == nil:
		return nil, errors.New("stream ingest service: transaction manager is required")
	}
	if partSize <= 0 {
		partSize = partplan.DefaultStreamPartSizeBytes
	}
	return &StreamIngestService{
		resolver: resolver,
		jobs:     jobs,
		store:    store,
		engine:   engine,
		notifier: notifier,
		tx:       tx,
		partSize: partSize,
		log:      log.NewHelper(logger),
	}, nil
}

// ClaimNextJob 领取一个已确认权利、等待拉取的流式任务并将其迁移到 uploading。
// 领取即迁移，多实例并发轮询不会重复领取；无任务时返回 (nil, nil)。
func (s *StreamIngestService) ClaimNextJob(ctx context.Context) (*po.IngestionJob, error) {
	jobs, err := s.jobs.ClaimPendingStream(ctx, nil, 1)
	if err != nil {
		return nil, fmt.Errorf("claim pending stream job: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[0], nil
}

// Ingest 执行一个已领取任务的完整摄取。失败时任务被标记为 failed
// （阶段 import 或 upload），并返回原始错误供任务运行器记录。
func (s *StreamIngestService) Ingest(ctx context.Context, job *po.IngestionJob) error {
	if job == nil {
		return errors.New("stream ingest: job is required")
	}
	logger := s.log.WithContext(ctx)
	logger.Infof("stream ingest started: job_id=%s source=%q", job.JobID, job.SourceReference)

	descriptor, err := s.resolver.Resolve(ctx, job.SourceReference)
	if err != nil {
		return s.fail(ctx, job.JobID, po.ErrorStageImport, fmt.Errorf("resolve stream: %w", err))
	}
	s.applyMetadata(ctx, job.JobID, descriptor)

	stream, length, err := s.resolver.OpenStream(ctx, descriptor.StreamURL)
	if err != nil {
		return s.fail(ctx, job.JobID, po.ErrorStageImport, fmt.Errorf("open stream: %w", err))
	}
	defer stream.Close()

	// 响应头里的长度比解析端点声明的更权威。
	totalBytes := descriptor.ContentLength
	if length > 0 {
		totalBytes = length
	}

	objectKey := ObjectKeyFor(job.OwnerID, job.JobID)
	contentType := streamContentType(descriptor, job)
	if _, err := s.jobs.SetUploadTarget(ctx, nil, job.JobID, objectKey, nullableString(contentType), totalBytes); err != nil {
		return s.fail(ctx, job.JobID, po.ErrorStageImport, fmt.Errorf("set upload target: %w", err))
	}

	uploadID, err := s.store.CreateUpload(ctx, objectKey, contentType)
	if err != nil {
		return s.fail(ctx, job.JobID, po.ErrorStageUpload, err)
	}

	var parts []objectstore.CompletedPart
	if totalBytes > 0 {
		parts, err = s.uploadKnownLength(ctx, job.JobID, uploadID, objectKey, stream, totalBytes)
	} else {
		parts, err = s.uploadUnknownLength(ctx, uploadID, objectKey, stream)
	}
	if err != nil {
		_ = s.store.AbortUpload(ctx, uploadID, objectKey)
		return s.fail(ctx, job.JobID, stageForUploadError(err), err)
	}

	finalKey, err := s.store.CompleteUpload(ctx, uploadID, objectKey, parts)
	if err != nil {
		_ = s.store.AbortUpload(ctx, uploadID, objectKey)
		return s.fail(ctx, job.JobID, po.ErrorStageUpload, fmt.Errorf("complete multipart upload: %w", err))
	}

	err = s.tx.WithinTx(ctx, txmanager.TxOptions{}, func(txCtx context.Context, sess txmanager.Session) error {
		if _, err := s.jobs.Transition(txCtx, sess, repositories.TransitionInput{
			JobID: job.JobID,
			From:  []po.JobStatus{po.JobStatusUploading},
			To:    po.JobStatusUploaded,
		}); err != nil {
			return fmt.Errorf("enter uploaded: %w", err)
		}
		if _, err := s.jobs.SetProgress(txCtx, sess, job.JobID, 100); err != nil {
			return fmt.Errorf("finalize progress: %w", err)
		}
		return nil
	})
	if err != nil {
		return s.fail(ctx, job.JobID, po.ErrorStageUpload, err)
	}

	logger.Infof("stream ingest completed: job_id=%s object_key=%s parts=%d", job.JobID, finalKey, len(parts))
	if err := s.notifier.TriggerProcessing(ctx, job.JobID, finalKey); err != nil {
		logger.Warnf("processing trigger failed: job_id=%s err=%v", job.JobID, err)
	}
	return nil
}

// uploadKnownLength 按完整分片方案一次运行上传，进度随确认字节持续回写。
func (s *StreamIngestService) uploadKnownLength(ctx context.Context, jobID uuid.UUID, uploadID, objectKey string, stream io.Reader, totalBytes int64) ([]objectstore.CompletedPart, error) {
	plan, err := partplan.New(totalBytes, s.partSize)
	if err != nil {
		return nil, err
	}
	if plan.TotalParts > maxPartsPerUpload {
		return nil, fmt.Errorf("plan of %d parts exceeds the multipart limit of %d", plan.TotalParts, maxPartsPerUpload)
	}
	rechunker, err := streamingest.NewRechunker(stream, plan.PartSizeBytes)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		parts []objectstore.CompletedPart
	)
	_, err = s.engine.Run(ctx, pool.RunInput{
		UploadID:  uploadID,
		ObjectKey: objectKey,
		Parts:     plan.Numbers(),
		Source:    streamingest.NewStreamSource(rechunker),
		Ack: func(_ context.Context, ack pool.PartAck) error {
			mu.Lock()
			defer mu.Unlock()
			parts = append(parts, objectstore.CompletedPart{PartNumber: ack.PartNumber, ETag: ack.ETag})
			return nil
		},
		OnProgress: func(progressCtx context.Context, uploadedBytes int64) {
			if _, err := s.jobs.SetProgress(progressCtx, nil, jobID, progressPercent(uploadedBytes, totalBytes)); err != nil {
				s.log.WithContext(progressCtx).Warnf("record stream progress failed: job_id=%s err=%v", jobID, err)
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return parts, nil
}

// uploadUnknownLength 在源未声明长度时逐块顺序上传：每读满一个分片便派发一次
// 单分片运行，并把上一次运行的中继回退状态延续到下一次。
// 长度未知时不伪造进度，进度保持 0 直至合并完成跳到 100。
func (s *StreamIngestService) uploadUnknownLength(ctx context.Context, uploadID, objectKey string, stream io.Reader) ([]objectstore.CompletedPart, error) {
	rechunker, err := streamingest.NewRechunker(stream, s.partSize)
	if err != nil {
		return nil, err
	}

	var (
		parts       []objectstore.CompletedPart
		preferRelay bool
	)
	for n := int32(1); ; n++ {
		chunk, err := rechunker.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &pool.SourceError{PartNumber: n, Err: err}
		}
		if n > maxPartsPerUpload {
			return nil, fmt.Errorf("stream exceeds the multipart limit of %d parts", maxPartsPerUpload)
		}

		report, err := s.engine.Run(ctx, pool.RunInput{
			UploadID:  uploadID,
			ObjectKey: objectKey,
			Parts:     []int32{n},
			Source:    chunkSource{number: n, payload: chunk},
			Ack: func(_ context.Context, ack pool.PartAck) error {
				parts = append(parts, objectstore.CompletedPart{PartNumber: ack.PartNumber, ETag: ack.ETag})
				return nil
			},
			PreferRelay: preferRelay,
		})
		if err != nil {
			return nil, err
		}
		preferRelay = report.UsedRelay
	}
	return parts, nil
}

// applyMetadata 将解析出的标题、缩略图与时长回填任务；元数据尽力而为，失败只记日志。
func (s *StreamIngestService) applyMetadata(ctx context.Context, jobID uuid.UUID, descriptor *streamingest.StreamDescriptor) {
	input := repositories.UpdateMetadataInput{JobID: jobID}
	if descriptor.Title != "" {
		input.Title = nullableString(descriptor.Title)
	}
	if descriptor.ThumbnailURL != "" {
		input.ThumbnailURL = nullableString(descriptor.ThumbnailURL)
	}
	if descriptor.DurationSeconds > 0 {
		duration := descriptor.DurationSeconds
		input.DurationSeconds = &duration
	}
	if descriptor.ContentType != "" {
		input.ContentType = nullableString(strings.ToLower(descriptor.ContentType))
	}
	if input.Title == nil && input.ThumbnailURL == nil && input.DurationSeconds == nil && input.ContentType == nil {
		return
	}
	if _, err := s.jobs.UpdateMetadata(ctx, nil, input); err != nil {
		s.log.WithContext(ctx).Warnf("apply stream metadata failed: job_id=%s err=%v", jobID, err)
	}
}

// fail 中止任务并保留原始错误：标记失败自身出错时只追加日志，不掩盖首因。
func (s *StreamIngestService) fail(ctx context.Context, jobID uuid.UUID, stage po.ErrorStage, cause error) error {
	if _, err := s.jobs.MarkFailed(ctx, nil, repositories.FailInput{
		JobID:   jobID,
		Stage:   stage,
		Message: cause.Error(),
	}); err != nil {
		s.log.WithContext(ctx).Errorf("mark stream job failed errored: job_id=%s err=%v", jobID, err)
	}
	s.log.WithContext(ctx).Warnf("stream ingest failed: job_id=%s stage=%s err=%v", jobID, stage, cause)
	return cause
}

// stageForUploadError 区分失败阶段：源流读取失败计入 import，传输失败计入 upload。
func stageForUploadError(err error) po.ErrorStage {
	var sourceErr *pool.SourceError
	if errors.As(err, &sourceErr) {
		return po.ErrorStageImport
	}
	return po.ErrorStageUpload
}

// streamContentType 选取流的内容类型：解析端点声明优先，其次任务登记值。
func streamContentType(descriptor *streamingest.StreamDescriptor, job *po.IngestionJob) string {
	if descriptor.ContentType != "" {
		return strings.ToLower(descriptor.ContentType)
	}
	if job.ContentType != nil {
		return *job.ContentType
	}
	return ""
}

// chunkSource 将一块已读出的缓冲适配为调度引擎的分片源。
type chunkSource struct {
	number  int32
	payload []byte
}

func (c chunkSource) Part(_ context.Context, partNumber int32) ([]byte, error) {
	if partNumber != c.number {
		return nil, fmt.Errorf("chunk source holds part %d, requested %d", c.number, partNumber)
	}
	return c.payload, nil
}
