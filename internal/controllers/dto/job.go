// Package dto 提供控制器层的请求解析与响应构造工具。
// 单独的 dto 层可以隔离协议对象与业务用例之间的转换逻辑。
package dto

import (
	"fmt"
	"strings"
	"time"

	"github.com/reelside/reel-services-ingestion/internal/models/po"
	"github.com/reelside/reel-services-ingestion/internal/services"

	"github.com/google/uuid"
)

// CreateJobRequest 为登记摄取任务的请求体。
type CreateJobRequest struct {
	SourceKind      string `json:"sourceKind"`
	SourceReference string `json:"sourceReference"`
	Title           string `json:"title,omitempty"`
	ContentType     string `json:"contentType,omitempty"`
	TotalBytes      *int64 `json:"totalBytes,omitempty"`
}

// ToCreateJobInput 将 CreateJobRequest 映射为服务层输入。
func ToCreateJobInput(req *CreateJobRequest, ownerID uuid.UUID) services.CreateJobInput {
	if req == nil {
		return services.CreateJobInput{OwnerID: ownerID}
	}
	return services.CreateJobInput{
		OwnerID:         ownerID,
		SourceKind:      po.SourceKind(strings.TrimSpace(req.SourceKind)),
		SourceReference: req.SourceReference,
		Title:           req.Title,
		ContentType:     req.ContentType,
		TotalBytes:      req.TotalBytes,
	}
}

// UpdateJobMetadataRequest 为补写元数据的请求体；缺省字段保持原值。
type UpdateJobMetadataRequest struct {
	Title           *string `json:"title,omitempty"`
	ThumbnailURL    *string `json:"thumbnailUrl,omitempty"`
	DurationSeconds *int32  `json:"durationSeconds,omitempty"`
	TotalBytes      *int64  `json:"totalBytes,omitempty"`
	ContentType     *string `json:"contentType,omitempty"`
}

// ToUpdateJobMetadataInput 将 UpdateJobMetadataRequest 映射为服务层输入。
func ToUpdateJobMetadataInput(req *UpdateJobMetadataRequest, ownerID, jobID uuid.UUID) services.UpdateJobMetadataInput {
	input := services.UpdateJobMetadataInput{
		OwnerID: ownerID,
		JobID:   jobID,
	}
	if req == nil {
		return input
	}
	input.Title = req.Title
	input.ThumbnailURL = req.ThumbnailURL
	input.DurationSeconds = req.DurationSeconds
	input.TotalBytes = req.TotalBytes
	input.ContentType = req.ContentType
	return input
}

// ParseJobID 解析路径中的任务 ID。
func ParseJobID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job id: %w", err)
	}
	return id, nil
}

// Job 是摄取任务的对外表示。
type Job struct {
	JobID             string `json:"jobId"`
	SourceKind        string `json:"sourceKind"`
	Status            string `json:"status"`
	SourceReference   string `json:"sourceReference"`
	ObjectKey         string `json:"objectKey"`
	ContentType       string `json:"contentType,omitempty"`
	TotalBytes        *int64 `json:"totalBytes,omitempty"`
	Title             string `json:"title,omitempty"`
	ThumbnailURL      string `json:"thumbnailUrl,omitempty"`
	DurationSeconds   *int32 `json:"durationSeconds,omitempty"`
	ProgressPercent   int32  `json:"progressPercent"`
	ErrorMessage      string `json:"errorMessage,omitempty"`
	ErrorStage        string `json:"errorStage,omitempty"`
	ConsentRecordedAt string `json:"consentRecordedAt,omitempty"`
	CreatedAt         string `json:"createdAt"`
	UpdatedAt         string `json:"updatedAt"`
}

// NewJob 将 IngestionJob 实体转换为对外表示。
func NewJob(job *po.IngestionJob) *Job {
	if job == nil {
		return nil
	}
	out := &Job{
		JobID:           job.JobID.String(),
		SourceKind:      string(job.SourceKind),
		Status:          string(job.Status),
		SourceReference: job.SourceReference,
		ObjectKey:       job.ObjectKey,
		TotalBytes:      job.TotalBytes,
		DurationSeconds: job.DurationSeconds,
		ProgressPercent: job.ProgressPercent,
		CreatedAt:       formatTime(job.CreatedAt),
		UpdatedAt:       formatTime(job.UpdatedAt),
	}
	if job.ContentType != nil {
		out.ContentType = *job.ContentType
	}
	if job.Title != nil {
		out.Title = *job.Title
	}
	if job.ThumbnailURL != nil {
		out.ThumbnailURL = *job.ThumbnailURL
	}
	if job.ErrorMessage != nil {
		out.ErrorMessage = *job.ErrorMessage
	}
	if job.ErrorStage != nil {
		out.ErrorStage = string(*job.ErrorStage)
	}
	if job.ConsentRecordedAt != nil {
		out.ConsentRecordedAt = formatTime(*job.ConsentRecordedAt)
	}
	return out
}

// JobResponse 包装单个任务。
type JobResponse struct {
	Job *Job `json:"job"`
}

// NewJobResponse 构造单任务响应。
func NewJobResponse(job *po.IngestionJob) *JobResponse {
	return &JobResponse{Job: NewJob(job)}
}

// JobDetailResponse 聚合任务与其上传会话概要（无会话时为 null）。
type JobDetailResponse struct {
	Job     *Job            `json:"job"`
	Session *SessionSummary `json:"session,omitempty"`
}

// NewJobDetailResponse 将 JobView 转换为详情响应。
func NewJobDetailResponse(view *services.JobView) *JobDetailResponse {
	if view == nil {
		return &JobDetailResponse{}
	}
	return &JobDetailResponse{
		Job:     NewJob(view.Job),
		Session: NewSessionSummary(view.Session),
	}
}

// JobListResponse 包装任务列表。
type JobListResponse struct {
	Jobs []*Job `json:"jobs"`
}

// NewJobListResponse 将任务列表转换为对外表示。
func NewJobListResponse(jobs []*po.IngestionJob) *JobListResponse {
	out := &JobListResponse{Jobs: make([]*Job, 0, len(jobs))}
	for _, job := range jobs {
		out.Jobs = append(out.Jobs, NewJob(job))
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
