// Package clients 包含调用外部协作方的客户端门面，封装 HTTP 调用细节，
// 实现 Service 层定义的通知接口。
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"github.com/reelside/reel-services-ingestion/internal/infrastructure/configloader"
	"github.com/reelside/reel-services-ingestion/internal/services"
)

// processingTrigger 实现 services.ProcessingNotifier：对象落仓后把任务标识与
// 对象键投递给处理协作方。
type processingTrigger struct {
	endpoint string
	client   *http.Client
	log      *log.Helper
}

// NewProcessingTrigger 构造处理触发客户端。未配置端点时返回无操作实现：
// 触发缺席不阻塞上传链路，协作方的首个进度回调同样能接管任务。
func NewProcessingTrigger(cfg configloader.ProcessingConfig, logger log.Logger) services.ProcessingNotifier {
	helper := log.NewHelper(logger)
	if cfg.Endpoint == "" {
		helper.Warn("no processing endpoint configured; trigger disabled")
		return &processingTrigger{log: helper}
	}
	return &processingTrigger{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		log:      helper,
	}
}

type processingTriggerRequest struct {
	JobID     string `json:"jobId"`
	ObjectKey string `json:"objectKey"`
}

// TriggerProcessing 向协作方端点 POST 任务标识与对象键；非 2xx 响应视为失败。
func (t *processingTrigger) TriggerProcessing(ctx context.Context, jobID uuid.UUID, objectKey string) error {
	if t.client == nil {
		t.log.WithContext(ctx).Warnf("processing trigger skipped (no endpoint): job_id=%s", jobID)
		return nil
	}

	payload, err := json.Marshal(processingTriggerRequest{JobID: jobID.String(), ObjectKey: objectKey})
	if err != nil {
		return fmt.Errorf("encode processing trigger: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build processing trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("call processing endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("processing endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	t.log.WithContext(ctx).Infof("processing triggered: job_id=%s object_key=%s", jobID, objectKey)
	return nil
}
