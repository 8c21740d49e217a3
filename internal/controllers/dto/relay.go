package dto

import "github.com/reelside/reel-services-ingestion/internal/services"

// RelayPartResponse 为中继上传的响应体。
type RelayPartResponse struct {
	PartNumber int32  `json:"partNumber"`
	ETag       string `json:"etag"`
}

// NewRelayPartResponse 将中继结果转换为响应体。
func NewRelayPartResponse(result *services.RelayPartResult) *RelayPartResponse {
	if result == nil {
		return &RelayPartResponse{}
	}
	return &RelayPartResponse{
		PartNumber: result.PartNumber,
		ETag:       result.ETag,
	}
}
