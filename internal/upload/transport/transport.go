// Package transport 定义分片上传通道：直连预签名 URL 与服务端中继。
// 上传引擎通过统一接口调度两种通道，并依据错误类别决定重试或回退。
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// NameDirect 直连通道：客户端对预签名 URL 执行 PUT。
	NameDirect = "direct"
	// NameRelay 中继通道：字节经由服务端转发写入对象存储。
	NameRelay = "relay"
)

// PartUpload 描述一次分片上传请求。
type PartUpload struct {
	PartNumber int32
	SignedURL  string
	Body       io.Reader
	ByteLength int64
}

// Transport 抽象单个分片的上传通道。
type Transport interface {
	Name() string
	UploadPart(ctx context.Context, upload PartUpload) (etag string, err error)
}

// Error 携带通道名、分片号与 HTTP 状态码。
// StatusCode 为 0 表示请求未得到任何响应（连接失败、超时、跨域拦截等网络层失败）。
type Error struct {
	Transport  string
	PartNumber int32
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s upload part %d: %v", e.Transport, e.PartNumber, e.Err)
	}
	return fmt.Sprintf("%s upload part %d: status %d: %v", e.Transport, e.PartNumber, e.StatusCode, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NetworkFailure 报告该错误是否属于未收到响应的网络层失败。
func (e *Error) NetworkFailure() bool { return e.StatusCode == 0 }

// IsNetworkFailure 判断 err 链上是否存在网络层失败的通道错误。
func IsNetworkFailure(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.NetworkFailure()
	}
	return false
}

const (
	defaultMaxAttempts = 4
	defaultBackoffStep = 500 * time.Millisecond
)

// Policy 控制单个分片的重试次数与线性退避。
type Policy struct {
	MaxAttempts int
	BackoffStep time.Duration
}

// Normalize 补齐零值字段，返回可直接使用的策略。
func (p Policy) Normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BackoffStep <= 0 {
		p.BackoffStep = defaultBackoffStep
	}
	return p
}

// Delay 返回第 attempt 次失败后的等待时长（线性递增）。
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * p.BackoffStep
}

// ShouldFallback 仅在网络层失败时建议切换到中继通道；
// 带状态码的失败说明通道本身可达，重试同一通道即可。
func (p Policy) ShouldFallback(err error) bool {
	return IsNetworkFailure(err)
}

// readErrorBody 读取响应体前若干字节用于诊断信息。
func readErrorBody(body io.Reader) string {
	snippet, err := io.ReadAll(io.LimitReader(body, 512))
	if err != nil || len(snippet) == 0 {
		return ""
	}
	return strings.TrimSpace(string(snippet))
}

func statusError(status string, body io.Reader) error {
	if snippet := readErrorBody(body); snippet != "" {
		return fmt.Errorf("unexpected status %s: %s", status, snippet)
	}
	return fmt.Errorf("unexpected status %s", status)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
