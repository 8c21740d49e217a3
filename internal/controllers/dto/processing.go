package dto

// ProcessingProgressRequest 为处理进度回调的请求体。
type ProcessingProgressRequest struct {
	Percent int32 `json:"percent"`
}

// ProcessingProgressResponse 回显落库后的进度（单调不减，可能高于本次上报值）。
type ProcessingProgressResponse struct {
	ProgressPercent int32 `json:"progressPercent"`
}

// ProcessingFailRequest 为处理失败回调的请求体。
type ProcessingFailRequest struct {
	Message string `json:"message,omitempty"`
}
