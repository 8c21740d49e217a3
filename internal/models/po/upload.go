package po

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus 表示上传会话的当前状态。
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusAborted   SessionStatus = "aborted"
)

// UploadSession 描述 ingestion.upload_sessions 表中的一条上传会话记录。
// 与任务 1:1 绑定，仅浏览器上传路径创建；断点续传以此为唯一事实来源。
type UploadSession struct {
	JobID             uuid.UUID
	MultipartUploadID string
	ObjectKey         string
	PartSizeBytes     int64
	TotalParts        int32
	TotalBytes        int64
	UploadedBytes     int64
	Status            SessionStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AcknowledgedPart 描述 ingestion.upload_parts 表中的一条分片确认记录。
// 以 (job_id, part_number) 唯一；重复确认按最后一次写入覆盖。
type AcknowledgedPart struct {
	JobID      uuid.UUID
	PartNumber int32
	ETag       string
	ByteLength int64
	AttemptID  *uuid.UUID
	AckedAt    time.Time
}
