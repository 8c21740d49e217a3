package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reelside/reel-services-ingestion/internal/models/po"
)

// ErrUploadSessionNotFound 表示分片上传会话不存在。
var ErrUploadSessionNotFound = errors.New("upload session not found")

const sessionColumns = `job_id, multipart_upload_id, object_key, part_size_bytes,
		total_bytes, uploaded_bytes, total_parts, status, created_at, updated_at`

// UploadSessionRepository 封装 ingestion.upload_sessions 与 ingestion.upload_parts 表的访问逻辑。
// 分片确认与会话字节数更新需在同一事务中执行，由调用方通过 txmanager 保证。
type UploadSessionRepository struct {
	pool *pgxpool.Pool
	log  *log.Helper
}

// NewUploadSessionRepository 构造 UploadSessionRepository。
func NewUploadSessionRepository(pool *pgxpool.Pool, logger log.Logger) *UploadSessionRepository {
	return &UploadSessionRepository{
		pool: pool,
		log:  log.NewHelper(logger),
	}
}

// CreateSessionInput 描述初始化分片上传会话所需的字段。
type CreateSessionInput struct {
	JobID             uuid.UUID
	MultipartUploadID string
	ObjectKey         string
	PartSizeBytes     int64
	TotalBytes        int64
	TotalParts        int32
}

// Create 登记一条分片上传会话，job_id 为主键，重复初始化由上层先行查询拦截。
func (r *UploadSessionRepository) Create(ctx context.Context, sess txmanager.Session, input CreateSessionInput) (*po.UploadSession, error) {
	query := `
		INSERT INTO ingestion.upload_sessions (job_id, multipart_upload_id, object_key, part_size_bytes, total_bytes, total_parts)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + sessionColumns

	session, err := scanSession(r.runner(sess).QueryRow(ctx, query,
		input.JobID,
		input.MultipartUploadID,
		input.ObjectKey,
		input.PartSizeBytes,
		input.TotalBytes,
		input.TotalParts,
	))
	if err != nil {
		r.log.WithContext(ctx).Errorf("create upload session failed: job_id=%s err=%v", input.JobID, err)
		return nil, fmt.Errorf("insert upload session: %w", err)
	}
	return session, nil
}

// Get 查询分片上传会话，未找到时返回 ErrUploadSessionNotFound。
func (r *UploadSessionRepository) Get(ctx context.Context, sess txmanager.Session, jobID uuid.UUID) (*po.UploadSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM ingestion.upload_sessions WHERE job_id = $1`

	session, err := scanSession(r.runner(sess).QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUploadSessionNotFound
		}
		r.log.WithContext(ctx).Errorf("get upload session failed: job_id=%s err=%v", jobID, err)
		return nil, fmt.Errorf("query upload session: %w", err)
	}
	return session, nil
}

// AckPartInput 描述一次分片确认。
type AckPartInput struct {
	JobID      uuid.UUID
	PartNumber int32
	ETag       string
	ByteLength int64
	AttemptID  *uuid.UUID
}

// AckPart 记录分片确认并重算会话累计字节数，返回更新后的 uploaded_bytes。
// 同一分片重复确认按覆盖处理，字节数基于 upload_parts 求和，天然幂等。
// 两条语句依赖调用方的事务保证原子性。
func (r *UploadSessionRepository) AckPart(ctx context.Context, sess txmanager.Session, input AckPartInput) (int64, error) {
	insertQuery := `
		INSERT INTO ingestion.upload_parts (job_id, part_number, etag, byte_length, attempt_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id, part_number) DO UPDATE
		SET etag        = EXCLUDED.etag,
		    byte_length = EXCLUDED.byte_length,
		    attempt_id  = EXCLUDED.attempt_id,
		    acked_at    = now()`

	run := r.runner(sess)
	if _, err := run.Exec(ctx, insertQuery, input.JobID, input.PartNumber, input.ETag, input.ByteLength, input.AttemptID); err != nil {
		r.log.WithContext(ctx).Errorf("ack upload part failed: job_id=%s part=%d err=%v", input.JobID, input.PartNumber, err)
		return 0, fmt.Errorf("insert upload part: %w", err)
	}

	sumQuery := `
		UPDATE ingestion.upload_sessions
		SET uploaded_bytes = (SELECT COALESCE(SUM(byte_length), 0) FROM ingestion.upload_parts WHERE job_id = $1),
		    updated_at     = now()
		WHERE job_id = $1
		RETURNING uploaded_bytes`

	var uploaded int64
	if err := run.QueryRow(ctx, sumQuery, input.JobID).Scan(&uploaded); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUploadSessionNotFound
		}
		r.log.WithContext(ctx).Errorf("recalculate uploaded bytes failed: job_id=%s err=%v", input.JobID, err)
		return 0, fmt.Errorf("update uploaded bytes: %w", err)
	}
	return uploaded, nil
}

// ListParts 返回已确认分片列表，按分片序号升序。
func (r *UploadSessionRepository) ListParts(ctx context.Context, sess txmanager.Session, jobID uuid.UUID) ([]*po.AcknowledgedPart, error) {
	query := `
		SELECT job_id, part_number, etag, byte_length, attempt_id, acked_at
		FROM ingestion.upload_parts
		WHERE job_id = $1
		ORDER BY part_number`

	rows, err := r.runner(sess).Query(ctx, query, jobID)
	if err != nil {
		r.log.WithContext(ctx).Errorf("list upload parts failed: job_id=%s err=%v", jobID, err)
		return nil, fmt.Errorf("query upload parts: %w", err)
	}
	defer rows.Close()

	var parts []*po.AcknowledgedPart
	for rows.Next() {
		var part po.AcknowledgedPart
		if err := rows.Scan(&part.JobID, &part.PartNumber, &part.ETag, &part.ByteLength, &part.AttemptID, &part.AckedAt); err != nil {
			return nil, fmt.Errorf("scan upload part row: %w", err)
		}
		parts = append(parts, &part)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upload part rows: %w", err)
	}
	return parts, nil
}

// MarkCompleted 将活跃会话置为 completed。
func (r *UploadSessionRepository) MarkCompleted(ctx context.Context, sess txmanager.Session, jobID uuid.UUID) error {
	return r.finishSession(ctx, sess, jobID, po.SessionStatusCompleted)
}

// MarkAborted 将活跃会话置为 aborted。
func (r *UploadSessionRepository) MarkAborted(ctx context.Context, sess txmanager.Session, jobID uuid.UUID) error {
	return r.finishSession(ctx, sess, jobID, po.SessionStatusAborted)
}

func (r *UploadSessionRepository) finishSession(ctx context.Context, sess txmanager.Session, jobID uuid.UUID, status po.SessionStatus) error {
	query := `
		UPDATE ingestion.upload_sessions
		SET status     = $2,
		    updated_at = now()
		WHERE job_id = $1 AND status = 'active'`

	tag, err := r.runner(sess).Exec(ctx, query, jobID, string(status))
	if err != nil {
		r.log.WithContext(ctx).Errorf("finish upload session failed: job_id=%s status=%s err=%v", jobID, status, err)
		return fmt.Errorf("finish upload session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUploadSessionNotFound
	}
	return nil
}

// ListStaleActive 返回长时间未更新的活跃会话，供后台清扫任务中止残留的分片上传。
func (r *UploadSessionRepository) ListStaleActive(ctx context.Context, sess txmanager.Session, cutoff time.Time, limit int32) ([]*po.UploadSession, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + sessionColumns + `
		FROM ingestion.upload_sessions
		WHERE status = 'active' AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`

	rows, err := r.runner(sess).Query(ctx, query, cutoff.UTC(), limit)
	if err != nil {
		r.log.WithContext(ctx).Errorf("list stale upload sessions failed: err=%v", err)
		return nil, fmt.Errorf("query stale upload sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*po.UploadSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upload session rows: %w", err)
	}
	return sessions, nil
}

func (r *UploadSessionRepository) runner(sess txmanager.Session) dbRunner {
	if sess != nil {
		return sess.Tx()
	}
	return r.pool
}

func scanSession(row pgx.Row) (*po.UploadSession, error) {
	var session po.UploadSession
	err := row.Scan(
		&session.JobID, &session.MultipartUploadID, &session.ObjectKey, &session.PartSizeBytes,
		&session.TotalBytes, &session.UploadedBytes, &session.TotalParts, &session.Status,
		&session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &session, nil
}
