// Package po 定义面向持久化的数据对象（Persistent Objects），由 Repository 层使用。
// PO 对象映射数据库表结构，不直接暴露给上层业务逻辑。
package po

import (
	"time"

	"github.com/google/uuid"
)

// SourceKind 表示摄取任务的来源类型
type SourceKind string

// 来源类型常量定义
const (
	SourceKindBrowserUpload SourceKind = "browser_upload" // 浏览器本地文件分片上传
	SourceKindRemoteStream  SourceKind = "remote_stream"  // 服务端拉取第三方流（YouTube 等）
)

// JobStatus 表示摄取任务的生命周期状态
type JobStatus string

// 任务状态常量定义
const (
	JobStatusCreated     JobStatus = "created"      // 任务已登记，尚未准备上传
	JobStatusMetaReady   JobStatus = "meta_ready"   // 元数据已补全（可跳过）
	JobStatusUploadReady JobStatus = "upload_ready" // 已确认可进入上传阶段
	JobStatusUploading   JobStatus = "uploading"    // 分片上传进行中
	JobStatusUploaded    JobStatus = "uploaded"     // completeMultipartUpload 成功，对象已落仓
	JobStatusProcessing  JobStatus = "processing"   // 外部处理协作方接手
	JobStatusReady       JobStatus = "ready"        // 处理完成，终态
	JobStatusFailed      JobStatus = "failed"       // 任一阶段失败，终态
)

// ErrorStage 表示失败发生的业务阶段
type ErrorStage string

// 失败阶段常量定义
const (
	ErrorStageImport     ErrorStage = "import"     // 流解析/拉取阶段
	ErrorStageUpload     ErrorStage = "upload"     // 分片上传阶段
	ErrorStageProcessing ErrorStage = "processing" // 外部处理阶段
)

// IsTerminal 判断状态是否为终态（终态不再接受任何迁移）。
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusReady || s == JobStatusFailed
}

// CanTransition 判断状态机是否允许 from → to 的迁移。
// FAILED 可从任意非终态进入；其余迁移按阶段顺序推进。
func CanTransition(from, to JobStatus) bool {
	if to == JobStatusFailed {
		return !from.IsTerminal()
	}
	switch from {
	case JobStatusCreated:
		return to == JobStatusMetaReady || to == JobStatusUploadReady
	case JobStatusMetaReady:
		return to == JobStatusUploadReady || to == JobStatusUploading
	case JobStatusUploadReady:
		return to == JobStatusUploading
	case JobStatusUploading:
		return to == JobStatusUploaded
	case JobStatusUploaded:
		return to == JobStatusProcessing || to == JobStatusReady
	case JobStatusProcessing:
		return to == JobStatusReady
	default:
		return false
	}
}

// IngestionJob 表示 ingestion.ingestion_jobs 表的数据库实体。
// 记录一次视频源落仓的完整生命周期：登记 → 上传/拉流 → 处理 → 就绪。
type IngestionJob struct {
	JobID             uuid.UUID   `db:"job_id"`              // 主键（UUID v4）
	OwnerID           uuid.UUID   `db:"owner_id"`            // 归属用户 ID
	SourceKind        SourceKind  `db:"source_kind"`         // 来源类型
	Status            JobStatus   `db:"status"`              // 当前状态
	SourceReference   string      `db:"source_reference"`    // 原始文件名或第三方视频标识
	ObjectKey         string      `db:"object_key"`          // 对象存储目标键（由 job_id 推导）
	ContentType       *string     `db:"content_type"`        // 源内容类型（可选）
	TotalBytes        *int64      `db:"total_bytes"`         // 声明的总字节数（流式来源可能未知）
	Title             *string     `db:"title"`               // 标题（元数据阶段补写）
	ThumbnailURL      *string     `db:"thumbnail_url"`       // 缩略图 URL（元数据阶段补写）
	DurationSeconds   *int32      `db:"duration_seconds"`    // 时长（秒，元数据阶段补写）
	ProgressPercent   int32       `db:"progress_percent"`    // 进度百分比，进行中状态下单调不减
	ErrorMessage      *string     `db:"error_message"`       // 失败原因（仅 FAILED 状态）
	ErrorStage        *ErrorStage `db:"error_stage"`         // 失败阶段（仅 FAILED 状态）
	ConsentRecordedAt *time.Time  `db:"consent_recorded_at"` // 权利确认时间，开始上传的前置条件
	CreatedAt         time.Time   `db:"created_at"`          // 记录创建时间
	UpdatedAt         time.Time   `db:"updated_at"`          // 最近更新时间
}

// ConsentRecorded 判断任务是否已记录权利确认。
func (j *IngestionJob) ConsentRecorded() bool {
	return j != nil && j.ConsentRecordedAt != nil && !j.ConsentRecordedAt.IsZero()
}
