// Package objectstore 封装 S3 兼容对象存储的 multipart 上传基础设施。
// 提供创建、预签名、服务端直传、合并与中止五类操作，供上传与摄取链路共用。
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-kratos/kratos/v2/log"

	"github.com/reelside/reel-services-ingestion/internal/infrastructure/configloader"
)

var (
	// ErrStorageUnavailable 表示对象存储不可用或未正确配置（不可重试）。
	ErrStorageUnavailable = errors.New("object storage unavailable")
	// ErrIncompleteUpload 表示分片清单存在空洞或缺失，禁止执行合并。
	ErrIncompleteUpload = errors.New("upload parts do not cover a contiguous range")
)

const defaultSignTTL = 15 * time.Minute

// SignedPartURL 是单个分片的预签名上传地址。
type SignedPartURL struct {
	PartNumber int32
	URL        string
	ExpiresAt  time.Time
}

// CompletedPart 是合并请求中的一项：分片号加存储返回的 ETag。
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// UploadPartInput 描述一次服务端直传分片。
type UploadPartInput struct {
	UploadID   string
	ObjectKey  string
	PartNumber int32
	Body       io.Reader
	ByteLength int64
}

// Gateway 持有 S3 客户端与预签名客户端，绑定单一目标 bucket。
type Gateway struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	signTTL time.Duration
	now     func() time.Time
	log     *log.Helper
}

// Option 定义可选配置。
type Option func(*Gateway)

// WithClock 覆盖时间获取函数，便于测试。
func WithClock(clock func() time.Time) Option {
	return func(g *Gateway) {
		if clock != nil {
			g.now = clock
		}
	}
}

// NewGateway 构造 Gateway。bucket 与 region 缺失视为存储未配置。
func NewGateway(ctx context.Context, cfg configloader.ObjectStoreConfig, logger log.Logger, opts ...Option) (*Gateway, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: bucket is required", ErrStorageUnavailable)
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("%w: region is required", ErrStorageUnavailable)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		// MinIO 等兼容实现不支持新版默认校验和，按需计算保持兼容。
		awsconfig.WithRequestChecksumCalculation(aws.RequestChecksumCalculationWhenRequired),
		awsconfig.WithResponseChecksumValidation(aws.ResponseChecksumValidationWhenRequired),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", ErrStorageUnavailable, err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	signTTL := cfg.SignedURLTTL
	if signTTL <= 0 {
		signTTL = defaultSignTTL
	}

	gateway := &Gateway{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		signTTL: signTTL,
		now:     time.Now,
		log:     log.NewHelper(logger),
	}
	for _, opt := range opts {
		opt(gateway)
	}
	return gateway, nil
}

// Bucket 返回网关绑定的 bucket 名称。
func (g *Gateway) Bucket() string { return g.bucket }

// SignTTL 返回预签名 URL 的有效期。
func (g *Gateway) SignTTL() time.Duration { return g.signTTL }

// CreateUpload 初始化一次 multipart 上传，返回存储侧的 uploadId。
func (g *Gateway) CreateUpload(ctx context.Context, objectKey, contentType string) (string, error) {
	if objectKey == "" {
		return "", fmt.Errorf("%w: object key is required", ErrStorageUnavailable)
	}

	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(objectKey),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	out, err := g.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		g.log.WithContext(ctx).Errorf("create multipart upload failed: bucket=%s key=%s err=%v", g.bucket, objectKey, err)
		return "", fmt.Errorf("%w: create multipart upload: %v", ErrStorageUnavailable, err)
	}
	uploadID := aws.ToString(out.UploadId)
	if uploadID == "" {
		return "", fmt.Errorf("%w: storage returned empty upload id", ErrStorageUnavailable)
	}
	return uploadID, nil
}

// SignPartUploads 为一组分片号批量生成预签名 PUT 地址。
func (g *Gateway) SignPartUploads(ctx context.Context, uploadID, objectKey string, partNumbers []int32) ([]SignedPartURL, error) {
	if uploadID == "" || objectKey == "" {
		return nil, errors.New("upload id and object key are required")
	}
	if len(partNumbers) == 0 {
		return nil, errors.New("at least one part number is required")
	}

	signed := make([]SignedPartURL, 0, len(partNumbers))
	for _, n := range partNumbers {
		if n < 1 {
			return nil, fmt.Errorf("invalid part number %d", n)
		}
		req, err := g.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(g.bucket),
			Key:        aws.String(objectKey),
			UploadId:   aws.String(uploadID),
			PartNumber: aws.Int32(n),
		}, s3.WithPresignExpires(g.signTTL))
		if err != nil {
			return nil, fmt.Errorf("presign part %d: %w", n, err)
		}
		signed = append(signed, SignedPartURL{
			PartNumber: n,
			URL:        req.URL,
			ExpiresAt:  g.now().Add(g.signTTL),
		})
	}
	return signed, nil
}

// UploadPart 在服务端直接写入单个分片，返回去除引号的 ETag。
func (g *Gateway) UploadPart(ctx context.Context, input UploadPartInput) (string, error) {
	if input.UploadID == "" || input.ObjectKey == "" {
		return "", errors.New("upload id and object key are required")
	}
	if input.PartNumber < 1 {
		return "", fmt.Errorf("invalid part number %d", input.PartNumber)
	}
	if input.Body == nil {
		return "", errors.New("part body is required")
	}

	req := &s3.UploadPartInput{
		Bucket:     aws.String(g.bucket),
		Key:        aws.String(input.ObjectKey),
		UploadId:   aws.String(input.UploadID),
		PartNumber: aws.Int32(input.PartNumber),
		Body:       input.Body,
	}
	if input.ByteLength > 0 {
		req.ContentLength = aws.Int64(input.ByteLength)
	}

	out, err := g.client.UploadPart(ctx, req)
	if err != nil {
		return "", fmt.Errorf("upload part %d: %w", input.PartNumber, err)
	}
	etag := strings.Trim(aws.ToString(out.ETag), `"`)
	if etag == "" {
		return "", fmt.Errorf("upload part %d: storage returned empty etag", input.PartNumber)
	}
	return etag, nil
}

// CompleteUpload 合并全部分片。清单必须从 1 开始连续无空洞，否则拒绝合并。
// 成功返回最终对象键。
func (g *Gateway) CompleteUpload(ctx context.Context, uploadID, objectKey string, parts []CompletedPart) (string, error) {
	if uploadID == "" || objectKey == "" {
		return "", errors.New("upload id and object key are required")
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: empty part list", ErrIncompleteUpload)
	}

	ordered := make([]CompletedPart, len(parts))
	copy(ordered, parts)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].PartNumber < ordered[j].PartNumber })

	completed := make([]types.CompletedPart, 0, len(ordered))
	for i, part := range ordered {
		if part.PartNumber != int32(i+1) {
			return "", fmt.Errorf("%w: expected part %d, found %d", ErrIncompleteUpload, i+1, part.PartNumber)
		}
		if part.ETag == "" {
			return "", fmt.Errorf("%w: part %d has no etag", ErrIncompleteUpload, part.PartNumber)
		}
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int32(part.PartNumber),
		})
	}

	_, err := g.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(g.bucket),
		Key:      aws.String(objectKey),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		g.log.WithContext(ctx).Errorf("complete multipart upload failed: key=%s parts=%d err=%v", objectKey, len(completed), err)
		return "", fmt.Errorf("complete multipart upload: %w", err)
	}
	return objectKey, nil
}

// AbortUpload 尽力而为地中止上传并清理已写入的分片。
// 自身失败只记录日志，不向上传播，避免掩盖原始错误。
func (g *Gateway) AbortUpload(ctx context.Context, uploadID, objectKey string) error {
	if uploadID == "" || objectKey == "" {
		return errors.New("upload id and object key are required")
	}
	_, err := g.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(g.bucket),
		Key:      aws.String(objectKey),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		g.log.WithContext(ctx).Warnf("abort multipart upload failed: key=%s upload_id=%s err=%v", objectKey, uploadID, err)
	}
	return nil
}

// ProvideGateway 供 Wire 注入使用。
func ProvideGateway(ctx context.Context, cfg configloader.ObjectStoreConfig, logger log.Logger) (*Gateway, error) {
	return NewGateway(ctx, cfg, logger)
}
