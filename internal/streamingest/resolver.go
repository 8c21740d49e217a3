// Package streamingest 提供远端流摄取的机械部件：解析端点客户端、
// 流重分片器与调度引擎的顺序源适配。摄取编排位于服务层。
package streamingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// ErrResolutionFailed 表示所有解析端点都未能给出可用流。
var ErrResolutionFailed = errors.New("stream resolution failed")

const (
	defaultResolveTimeout = 20 * time.Second
	maxDescriptorBytes    = 64 * 1024
	maxErrorSnippetBytes  = 512
)

// StreamDescriptor 描述解析出的可拉取流与随附元数据。
// ContentLength 为 0 表示源未声明长度。
type StreamDescriptor struct {
	StreamURL       string `json:"streamUrl"`
	ContentLength   int64  `json:"contentLength,omitempty"`
	ContentType     string `json:"contentType,omitempty"`
	Title           string `json:"title,omitempty"`
	ThumbnailURL    string `json:"thumbnailUrl,omitempty"`
	DurationSeconds int32  `json:"durationSeconds,omitempty"`
}

// Resolver 按配置顺序调用解析端点，返回第一个可用的流描述。
// 端点契约：GET {endpoint}?source=<引用> → 200 + StreamDescriptor JSON。
type Resolver struct {
	endpoints []string
	timeout   time.Duration
	client    *http.Client
	log       *log.Helper
}

// NewResolver 构造 Resolver，要求至少一个 http/https 端点。
func NewResolver(endpoints []string, timeout time.Duration, client *http.Client, logger log.Logger) (*Resolver, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("streamingest: at least one resolver endpoint is required")
	}
	for _, endpoint := range endpoints {
		u, err := url.Parse(endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("streamingest: invalid resolver endpoint %q", endpoint)
		}
	}
	if timeout <= 0 {
		timeout = defaultResolveTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Resolver{
		endpoints: append([]string(nil), endpoints...),
		timeout:   timeout,
		client:    client,
		log:       log.NewHelper(logger),
	}, nil
}

// Resolve 依次尝试各端点；全部失败时聚合每个端点的错误并包装 ErrResolutionFailed。
func (r *Resolver) Resolve(ctx context.Context, source string) (*StreamDescriptor, error) {
	if source == "" {
		return nil, fmt.Errorf("%w: empty source reference", ErrResolutionFailed)
	}
	var failures []error
	for _, endpoint := range r.endpoints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		desc, err := r.resolveOne(ctx, endpoint, source)
		if err != nil {
			r.log.WithContext(ctx).Warnf("resolver endpoint failed: endpoint=%s err=%v", endpoint, err)
			failures = append(failures, fmt.Errorf("%s: %w", endpoint, err))
			continue
		}
		r.log.WithContext(ctx).Infof("stream resolved: endpoint=%s content_length=%d", endpoint, desc.ContentLength)
		return desc, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrResolutionFailed, errors.Join(failures...))
}

func (r *Resolver) resolveOne(ctx context.Context, endpoint, source string) (*StreamDescriptor, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint+sep+"source="+url.QueryEscape(source), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippetBytes))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var desc StreamDescriptor
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDescriptorBytes)).Decode(&desc); err != nil {
		return nil, fmt.Errorf("decode descriptor: %w", err)
	}
	if desc.StreamURL == "" {
		return nil, errors.New("descriptor missing streamUrl")
	}
	if desc.ContentLength < 0 {
		desc.ContentLength = 0
	}
	return &desc, nil
}

// OpenStream 打开已解析的流。返回长度 -1 表示源响应未声明 Content-Length。
// 整个下载过程以调用方 ctx 为准，不套用解析超时。
func (r *Resolver) OpenStream(ctx context.Context, streamURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build stream request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorSnippetBytes))
		resp.Body.Close()
		return nil, 0, fmt.Errorf("open stream: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp.Body, resp.ContentLength, nil
}
