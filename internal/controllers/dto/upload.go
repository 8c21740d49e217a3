package dto

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/reelside/reel-services-ingestion/internal/infrastructure/objectstore"
	"github.com/reelside/reel-services-ingestion/internal/models/po"
	"github.com/reelside/reel-services-ingestion/internal/services"

	"github.com/google/uuid"
)

// InitUploadRequest 为初始化分片上传的请求体。
type InitUploadRequest struct {
	TotalBytes    int64  `json:"totalBytes"`
	PartSizeBytes int64  `json:"partSizeBytes,omitempty"`
	ContentType   string `json:"contentType,omitempty"`
}

// ToInitUploadInput 将 InitUploadRequest 映射为服务层输入。
func ToInitUploadInput(req *InitUploadRequest, ownerID, jobID uuid.UUID) services.InitUploadInput {
	input := services.InitUploadInput{
		OwnerID: ownerID,
		JobID:   jobID,
	}
	if req == nil {
		return input
	}
	input.TotalBytes = req.TotalBytes
	input.PartSizeBytes = req.PartSizeBytes
	input.ContentType = strings.TrimSpace(req.ContentType)
	return input
}

// SessionSummary 是上传会话的对外表示。
type SessionSummary struct {
	MultipartUploadID string `json:"multipartUploadId"`
	ObjectKey         string `json:"objectKey"`
	PartSizeBytes     int64  `json:"partSizeBytes"`
	TotalParts        int32  `json:"totalParts"`
	TotalBytes        int64  `json:"totalBytes"`
	UploadedBytes     int64  `json:"uploadedBytes"`
	Status            string `json:"status"`
	CreatedAt         string `json:"createdAt"`
	UpdatedAt         string `json:"updatedAt"`
}

// NewSessionSummary 将 UploadSession 实体转换为对外表示。
func NewSessionSummary(session *po.UploadSession) *SessionSummary {
	if session == nil {
		return nil
	}
	return &SessionSummary{
		MultipartUploadID: session.MultipartUploadID,
		ObjectKey:         session.ObjectKey,
		PartSizeBytes:     session.PartSizeBytes,
		TotalParts:        session.TotalParts,
		TotalBytes:        session.TotalBytes,
		UploadedBytes:     session.UploadedBytes,
		Status:            string(session.Status),
		CreatedAt:         formatTime(session.CreatedAt),
		UpdatedAt:         formatTime(session.UpdatedAt),
	}
}

// InitUploadResponse 为初始化分片上传的响应体。
// Resumed 为 true 时复用了已有会话，AckedParts 携带已确认分片号。
type InitUploadResponse struct {
	Job        *Job            `json:"job"`
	Session    *SessionSummary `json:"session"`
	AckedParts []int32         `json:"ackedParts"`
	Resumed    bool            `json:"resumed"`
}

// NewInitUploadResponse 将服务层输出转换为响应体。
func NewInitUploadResponse(result *services.InitUploadResult) *InitUploadResponse {
	if result == nil {
		return &InitUploadResponse{AckedParts: []int32{}}
	}
	acked := result.AckedParts
	if acked == nil {
		acked = []int32{}
	}
	return &InitUploadResponse{
		Job:        NewJob(result.Job),
		Session:    NewSessionSummary(result.Session),
		AckedParts: acked,
		Resumed:    result.Resumed,
	}
}

// SignPartsRequest 为批量预签名的请求体，签名范围为闭区间。
type SignPartsRequest struct {
	FirstPartNumber int32 `json:"firstPartNumber"`
	LastPartNumber  int32 `json:"lastPartNumber"`
}

// ToSignPartsInput 将 SignPartsRequest 映射为服务层输入。
func ToSignPartsInput(req *SignPartsRequest, ownerID, jobID uuid.UUID) services.SignPartsInput {
	input := services.SignPartsInput{
		OwnerID: ownerID,
		JobID:   jobID,
	}
	if req == nil {
		return input
	}
	input.FirstPartNumber = req.FirstPartNumber
	input.LastPartNumber = req.LastPartNumber
	return input
}

// SignedPart 是单个分片的预签名上传地址。
type SignedPart struct {
	PartNumber int32  `json:"partNumber"`
	URL        string `json:"url"`
	ExpiresAt  string `json:"expiresAt"`
}

// SignPartsResponse 为批量预签名的响应体。
type SignPartsResponse struct {
	Parts []*SignedPart `json:"parts"`
}

// NewSignPartsResponse 将预签名结果转换为响应体。
func NewSignPartsResponse(urls []objectstore.SignedPartURL) *SignPartsResponse {
	out := &SignPartsResponse{Parts: make([]*SignedPart, 0, len(urls))}
	for _, u := range urls {
		out.Parts = append(out.Parts, &SignedPart{
			PartNumber: u.PartNumber,
			URL:        u.URL,
			ExpiresAt:  formatTime(u.ExpiresAt),
		})
	}
	return out
}

// AckPartRequest 为分片确认的请求体。
type AckPartRequest struct {
	ETag       string `json:"etag"`
	ByteLength int64  `json:"byteLength"`
	AttemptID  string `json:"attemptId,omitempty"`
}

// ToAckPartInput 将 AckPartRequest 与路径参数映射为服务层输入。
func ToAckPartInput(req *AckPartRequest, ownerID, jobID uuid.UUID, partNumber int32) (services.AckUploadPartInput, error) {
	input := services.AckUploadPartInput{
		OwnerID:    ownerID,
		JobID:      jobID,
		PartNumber: partNumber,
	}
	if req == nil {
		return input, nil
	}
	input.ETag = strings.TrimSpace(req.ETag)
	input.ByteLength = req.ByteLength
	if raw := strings.TrimSpace(req.AttemptID); raw != "" {
		attemptID, err := uuid.Parse(raw)
		if err != nil {
			return services.AckUploadPartInput{}, fmt.Errorf("invalid attempt id: %w", err)
		}
		input.AttemptID = &attemptID
	}
	return input, nil
}

// AckPartResponse 为分片确认的响应体。
type AckPartResponse struct {
	UploadedBytes   int64 `json:"uploadedBytes"`
	ProgressPercent int32 `json:"progressPercent"`
}

// NewAckPartResponse 将分片确认结果转换为响应体。
func NewAckPartResponse(result *services.AckUploadPartResult) *AckPartResponse {
	if result == nil {
		return &AckPartResponse{}
	}
	return &AckPartResponse{
		UploadedBytes:   result.UploadedBytes,
		ProgressPercent: result.ProgressPercent,
	}
}

// ResumeStateResponse 描述断点续传所需的完整状态。
type ResumeStateResponse struct {
	Job          *Job            `json:"job"`
	Session      *SessionSummary `json:"session"`
	AckedParts   []int32         `json:"ackedParts"`
	MissingParts []int32         `json:"missingParts"`
}

// NewResumeStateResponse 将断点状态转换为响应体。
func NewResumeStateResponse(result *services.ResumeStateResult) *ResumeStateResponse {
	if result == nil {
		return &ResumeStateResponse{AckedParts: []int32{}, MissingParts: []int32{}}
	}
	acked := result.AckedParts
	if acked == nil {
		acked = []int32{}
	}
	missing := result.MissingParts
	if missing == nil {
		missing = []int32{}
	}
	return &ResumeStateResponse{
		Job:          NewJob(result.Job),
		Session:      NewSessionSummary(result.Session),
		AckedParts:   acked,
		MissingParts: missing,
	}
}

// CompleteUploadResponse 为合并完成的响应体。
type CompleteUploadResponse struct {
	Job       *Job   `json:"job"`
	ObjectKey string `json:"objectKey"`
}

// NewCompleteUploadResponse 将合并结果转换为响应体。
func NewCompleteUploadResponse(result *services.CompleteUploadResult) *CompleteUploadResponse {
	if result == nil {
		return &CompleteUploadResponse{}
	}
	return &CompleteUploadResponse{
		Job:       NewJob(result.Job),
		ObjectKey: result.ObjectKey,
	}
}

// AbortUploadRequest 为中止上传的请求体。
type AbortUploadRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ParsePartNumber 解析路径中的分片号。
func ParsePartNumber(raw string) (int32, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid part number: %w", err)
	}
	return int32(value), nil
}
