package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"

	"github.com/reelside/reel-services-ingestion/internal/upload/transport"
)

// RelayExecutor 对目标 URL 执行实际的分片 PUT。
type RelayExecutor interface {
	UploadPart(ctx context.Context, upload transport.PartUpload) (string, error)
}

// RelayPartInput 为中继上传的服务层输入。
type RelayPartInput struct {
	TargetURL  string
	PartNumber int32
	Body       io.Reader
	ByteLength int64
}

// RelayPartResult 为中继上传的服务层输出。
type RelayPartResult struct {
	PartNumber int32
	ETag       string
}

// RelayService 代替浏览器对预签名 URL 执行 PUT，规避跨域限制导致的直传失败。
// 目标主机必须命中白名单，防止端点沦为开放代理。
type RelayService struct {
	executor     RelayExecutor
	allowedHosts map[string]struct{}
	log          *log.Helper
}

// NewRelayService 创建 RelayService。allowedHosts 至少包含对象存储端点的主机。
func NewRelayService(executor RelayExecutor, allowedHosts []string, logger log.Logger) (*RelayService, error) {
	switch {
	case executor == nil:
		return nil, errors.New("relay service: executor is required")
	case len(allowedHosts) == 0:
		return nil, errors.New("relay service: at least one allowed host is required")
	}

	hosts := make(map[string]struct{}, len(allowedHosts))
	for _, host := range allowedHosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host == "" {
			continue
		}
		hosts[host] = struct{}{}
	}
	if len(hosts) == 0 {
		return nil, errors.New("relay service: allowed hosts are all empty")
	}

	return &RelayService{
		executor:     executor,
		allowedHosts: hosts,
		log:          log.NewHelper(logger),
	}, nil
}

// RelayPart 转发一个分片到目标预签名 URL 并返回存储侧 ETag。
func (s *RelayService) RelayPart(ctx context.Context, input RelayPartInput) (*RelayPartResult, error) {
	if input.PartNumber < 1 {
		return nil, kerrors.BadRequest(ReasonInvalidInput, "part_number must be at least 1")
	}
	if input.Body == nil {
		return nil, kerrors.BadRequest(ReasonInvalidInput, "request body is required")
	}
	if input.ByteLength <= 0 {
		return nil, kerrors.BadRequest(ReasonInvalidInput, "content length is required")
	}
	target, err := url.Parse(input.TargetURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, kerrors.BadRequest(ReasonInvalidInput, "target url must be an absolute http(s) url")
	}
	host := strings.ToLower(target.Host)
	if _, ok := s.allowedHosts[host]; !ok {
		s.log.WithContext(ctx).Warnf("relay target rejected: host=%s", host)
		return nil, kerrors.Forbidden(ReasonInvalidInput, fmt.Sprintf("relay to host %q is not allowed", host))
	}

	etag, err := s.executor.UploadPart(ctx, transport.PartUpload{
		PartNumber: input.PartNumber,
		SignedURL:  input.TargetURL,
		Body:       input.Body,
		ByteLength: input.ByteLength,
	})
	if err != nil {
		s.log.WithContext(ctx).Warnf("relay upload failed: part=%d host=%s err=%v", input.PartNumber, host, err)
		return nil, kerrors.New(http.StatusBadGateway, ReasonTransportFailed, fmt.Sprintf("relay part %d: %v", input.PartNumber, err)).WithCause(err)
	}

	s.log.WithContext(ctx).Debugf("relay part uploaded: part=%d bytes=%d", input.PartNumber, input.ByteLength)
	return &RelayPartResult{PartNumber: input.PartNumber, ETag: etag}, nil
}
