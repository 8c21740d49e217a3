// Package repositories 提供数据访问层实现，负责与持久化存储交互。
// 该层实现 Service 层定义的 Repository 接口，隔离底层存储细节。
package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reelside/reel-services-ingestion/internal/models/po"
)

var (
	// ErrJobNotFound 表示摄取任务不存在。
	ErrJobNotFound = errors.New("ingestion job not found")
	// ErrStateConflict 表示任务当前状态不允许请求的迁移。
	ErrStateConflict = errors.New("ingestion job state conflict")
)

const jobColumns = `job_id, owner_id, source_kind, status, source_reference, object_key,
		content_type, total_bytes, title, thumbnail_url, duration_seconds,
		progress_percent, error_message, error_stage, consent_recorded_at,
		created_at, updated_at`

// JobRepository 封装 ingestion.ingestion_jobs 表的访问逻辑。
type JobRepository struct {
	pool *pgxpool.Pool
	log  *log.Helper
}

// NewJobRepository 构造 JobRepository。
func NewJobRepository(pool *pgxpool.Pool, logger log.Logger) *JobRepository {
	return &JobRepository{
		pool: pool,
		log:  log.NewHelper(logger),
	}
}

// CreateJobInput 描述登记新任务所需的字段。
type CreateJobInput struct {
	OwnerID         uuid.UUID
	SourceKind      po.SourceKind
	SourceReference string
	ContentType     *string
	TotalBytes      *int64
	Title           *string
}

// Create 登记一条新的摄取任务，初始状态为 created。
func (r *JobRepository) Create(ctx context.Context, sess txmanager.Session, input CreateJobInput) (*po.IngestionJob, error) {
	query := `
		INSERT INTO ingestion.ingestion_jobs (owner_id, source_kind, source_reference, content_type, total_bytes, title)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + jobColumns

	row := r.runner(sess).QueryRow(ctx, query,
		input.OwnerID,
		string(input.SourceKind),
		input.SourceReference,
		input.ContentType,
		input.TotalBytes,
		input.Title,
	)
	job, err := scanJob(row)
	if err != nil {
		r.log.WithContext(ctx).Errorf("create ingestion job failed: owner_id=%s err=%v", input.OwnerID, err)
		return nil, fmt.Errorf("insert ingestion job: %w", err)
	}
	return job, nil
}

// Get 根据 job_id 查询任务，未找到时返回 ErrJobNotFound。
func (r *JobRepository) Get(ctx context.Context, sess txmanager.Session, jobID uuid.UUID) (*po.IngestionJob, error) {
	query := `SELECT ` + jobColumns + ` FROM ingestion.ingestion_jobs WHERE job_id = $1`

	job, err := scanJob(r.runner(sess).QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		r.log.WithContext(ctx).Errorf("get ingestion job failed: job_id=%s err=%v", jobID, err)
		return nil, fmt.Errorf("query ingestion job: %w", err)
	}
	return job, nil
}

// ListByOwner 查询指定用户的任务列表，按创建时间倒序。
func (r *JobRepository) ListByOwner(ctx context.Context, sess txmanager.Session, ownerID uuid.UUID, limit int32) ([]*po.IngestionJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + jobColumns + `
		FROM ingestion.ingestion_jobs
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.runner(sess).Query(ctx, query, ownerID, limit)
	if err != nil {
		r.log.WithContext(ctx).Errorf("list jobs by owner failed: owner_id=%s err=%v", ownerID, err)
		return nil, fmt.Errorf("query jobs by owner: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// UpdateMetadataInput 描述元数据补全字段；nil 字段保持原值。
type UpdateMetadataInput struct {
	JobID           uuid.UUID
	Title           *string
	ThumbnailURL    *string
	DurationSeconds *int32
	TotalBytes      *int64
	ContentType     *string
}

// UpdateMetadata 补写任务元数据，仅覆盖非空字段。
func (r *JobRepository) UpdateMetadata(ctx context.Context, sess txmanager.Session, input UpdateMetadataInput) (*po.IngestionJob, error) {
	query := `
		UPDATE ingestion.ingestion_jobs
		SET title            = COALESCE($2, title),
		    thumbnail_url    = COALESCE($3, thumbnail_url),
		    duration_seconds = COALESCE($4, duration_seconds),
		    total_bytes      = COALESCE($5, total_bytes),
		    content_type     = COALESCE($6, content_type),
		    updated_at       = now()
		WHERE job_id = $1
		RETURNING ` + jobColumns

	job, err := scanJob(r.runner(sess).QueryRow(ctx, query,
		input.JobID,
		input.Title,
		input.ThumbnailURL,
		input.DurationSeconds,
		input.TotalBytes,
		input.ContentType,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		r.log.WithContext(ctx).Errorf("update job metadata failed: job_id=%s err=%v", input.JobID, err)
		return nil, fmt.Errorf("update job metadata: %w", err)
	}
	return job, nil
}

// RecordConsent 记录权利确认时间，重复调用保持首次时间不变。
func (r *JobRepository) RecordConsent(ctx context.Context, sess txmanager.Session, jobID uuid.UUID) (*po.IngestionJob, error) {
	query := `
		UPDATE ingestion.ingestion_jobs
		SET consent_recorded_at = COALESCE(consent_recorded_at, now()),
		    updated_at          = now()
		WHERE job_id = $1
		RETURNING ` + jobColumns

	job, err := scanJob(r.runner(sess).QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		r.log.WithContext(ctx).Errorf("record consent failed: job_id=%s err=%v", jobID, err)
		return nil, fmt.Errorf("record consent: %w", err)
	}
	return job, nil
}

// SetUploadTarget 写入对象存储目标键与源文件尺寸信息。
// totalBytes 非正时保持原值不变（流式来源可能不声明长度）。
func (r *JobRepository) SetUploadTarget(ctx context.Context, sess txmanager.Session, jobID uuid.UUID, objectKey string, contentType *string, totalBytes int64) (*po.IngestionJob, error) {
	if totalBytes < 0 {
		totalBytes = 0
	}
	query := `
		UPDATE ingestion.ingestion_jobs
		SET object_key   = $2,
		    content_type = COALESCE($3, content_type),
		    total_bytes  = COALESCE(NULLIF($4, 0), total_bytes),
		    updated_at   = now()
		WHERE job_id = $1
		RETURNING ` + jobColumns

	job, err := scanJob(r.runner(sess).QueryRow(ctx, query, jobID, objectKey, contentType, totalBytes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		r.log.WithContext(ctx).Errorf("set upload target failed: job_id=%s err=%v", jobID, err)
		return nil, fmt.Errorf("set upload target: %w", err)
	}
	return job, nil
}

// TransitionInput 描述一次受保护的状态迁移。
type TransitionInput struct {
	JobID         uuid.UUID
	From          []po.JobStatus // 允许的当前状态集合
	To            po.JobStatus
	ResetProgress bool // 进入新阶段时将进度归零
}

// Transition 在 From 集合内的状态上执行迁移；状态不符时返回 ErrStateConflict。
// From 集合中的每条边都必须是状态机允许的迁移，拦截调用方写错的守卫集合。
func (r *JobRepository) Transition(ctx context.Context, sess txmanager.Session, input TransitionInput) (*po.IngestionJob, error) {
	for _, from := range input.From {
		if !po.CanTransition(from, input.To) {
			return nil, fmt.Errorf("transition %s -> %s is not allowed", from, input.To)
		}
	}

	query := `
		UPDATE ingestion.ingestion_jobs
		SET status     = $3,
		    updated_at = now()
		WHERE job_id = $1 AND status = ANY($2)
		RETURNING ` + jobColumns
	if input.ResetProgress {
		query = `
		UPDATE ingestion.ingestion_jobs
		SET status           = $3,
		    progress_percent = 0,
		    updated_at       = now()
		WHERE job_id = $1 AND status = ANY($2)
		RETURNING ` + jobColumns
	}

	job, err := scanJob(r.runner(sess).QueryRow(ctx, query, input.JobID, statusStrings(input.From), string(input.To)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.conflictFor(ctx, sess, input.JobID, input.To)
		}
		r.log.WithContext(ctx).Errorf("transition job failed: job_id=%s to=%s err=%v", input.JobID, input.To, err)
		return nil, fmt.Errorf("transition job: %w", err)
	}
	return job, nil
}

// FailInput 描述任务失败时写入的诊断信息。
type FailInput struct {
	JobID   uuid.UUID
	Stage   po.ErrorStage
	Message string
}

// MarkFailed 将任意非终态任务置为 failed，并记录失败阶段与原因。
func (r *JobRepository) MarkFailed(ctx context.Context, sess txmanager.Session, input FailInput) (*po.IngestionJob, error) {
	query := `
		UPDATE ingestion.ingestion_jobs
		SET status        = 'failed',
		    error_stage   = $2,
		    error_message = $3,
		    updated_at    = now()
		WHERE job_id = $1 AND status NOT IN ('ready', 'failed')
		RETURNING ` + jobColumns

	job, err := scanJob(r.runner(sess).QueryRow(ctx, query, input.JobID, string(input.Stage), input.Message))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.conflictFor(ctx, sess, input.JobID, po.JobStatusFailed)
		}
		r.log.WithContext(ctx).Errorf("mark job failed errored: job_id=%s err=%v", input.JobID, err)
		return nil, fmt.Errorf("mark job failed: %w", err)
	}
	return job, nil
}

// SetProgress 单调推进进度百分比，终态任务不再更新。
func (r *JobRepository) SetProgress(ctx context.Context, sess txmanager.Session, jobID uuid.UUID, percent int32) (int32, error) {
	query := `
		UPDATE ingestion.ingestion_jobs
		SET progress_percent = GREATEST(progress_percent, $2),
		    updated_at       = now()
		WHERE job_id = $1 AND status NOT IN ('ready', 'failed')
		RETURNING progress_percent`

	var updated int32
	if err := r.runner(sess).QueryRow(ctx, query, jobID, percent).Scan(&updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrJobNotFound
		}
		r.log.WithContext(ctx).Errorf("set job progress failed: job_id=%s err=%v", jobID, err)
		return 0, fmt.Errorf("set job progress: %w", err)
	}
	return updated, nil
}

// MarkReady 将任务置为 ready 终态并把进度补齐到 100。
func (r *JobRepository) MarkReady(ctx context.Context, sess txmanager.Session, jobID uuid.UUID) (*po.IngestionJob, error) {
	query := `
		UPDATE ingestion.ingestion_jobs
		SET status           = 'ready',
		    progress_percent = 100,
		    updated_at       = now()
		WHERE job_id = $1 AND status IN ('uploaded', 'processing')
		RETURNING ` + jobColumns

	job, err := scanJob(r.runner(sess).QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.conflictFor(ctx, sess, jobID, po.JobStatusReady)
		}
		r.log.WithContext(ctx).Errorf("mark job ready failed: job_id=%s err=%v", jobID, err)
		return nil, fmt.Errorf("mark job ready: %w", err)
	}
	return job, nil
}

// ClaimPendingStream 领取一批待拉取的流式任务并原子迁移到 uploading。
// 使用 SKIP LOCKED 保证多实例并发领取互不阻塞。
func (r *JobRepository) ClaimPendingStream(ctx context.Context, sess txmanager.Session, limit int32) ([]*po.IngestionJob, error) {
	if limit <= 0 {
		limit = 1
	}
	query := `
		UPDATE ingestion.ingestion_jobs
		SET status     = 'uploading',
		    updated_at = now()
		WHERE job_id IN (
			SELECT job_id FROM ingestion.ingestion_jobs
			WHERE status = 'upload_ready'
			  AND source_kind = 'remote_stream'
			  AND consent_recorded_at IS NOT NULL
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := r.runner(sess).Query(ctx, query, limit)
	if err != nil {
		r.log.WithContext(ctx).Errorf("claim pending stream jobs failed: err=%v", err)
		return nil, fmt.Errorf("claim pending stream jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// conflictFor 区分零行更新的两种原因：任务不存在或状态不符。
func (r *JobRepository) conflictFor(ctx context.Context, sess txmanager.Session, jobID uuid.UUID, to po.JobStatus) error {
	current, err := r.Get(ctx, sess, jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s, cannot enter %s", ErrStateConflict, jobID, current.Status, to)
}

func (r *JobRepository) runner(sess txmanager.Session) dbRunner {
	if sess != nil {
		return sess.Tx()
	}
	return r.pool
}

func statusStrings(statuses []po.JobStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}

func scanJob(row pgx.Row) (*po.IngestionJob, error) {
	var (
		job   po.IngestionJob
		stage *string
	)
	err := row.Scan(
		&job.JobID, &job.OwnerID, &job.SourceKind, &job.Status, &job.SourceReference, &job.ObjectKey,
		&job.ContentType, &job.TotalBytes, &job.Title, &job.ThumbnailURL, &job.DurationSeconds,
		&job.ProgressPercent, &job.ErrorMessage, &stage, &job.ConsentRecordedAt,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if stage != nil {
		s := po.ErrorStage(*stage)
		job.ErrorStage = &s
	}
	return &job, nil
}

func scanJobs(rows pgx.Rows) ([]*po.IngestionJob, error) {
	var jobs []*po.IngestionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return jobs, nil
}
