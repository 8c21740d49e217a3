package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-kratos/kratos/v2/log"
)

// Relay 将分片字节 POST 给中继端点，由服务端代为写入对象存储。
// 用于直连通道因网络或跨域原因不可达时的回退路径。
type Relay struct {
	endpoint string
	client   *http.Client
	log      *log.Helper
}

// NewRelay 构造中继通道。endpoint 指向中继接口本身，如 https://host/v1/relay。
func NewRelay(endpoint string, client *http.Client, logger log.Logger) (*Relay, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse relay endpoint: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("relay endpoint must be http(s), got %q", endpoint)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Relay{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
		log:      log.NewHelper(logger),
	}, nil
}

// Name 返回通道名。
func (r *Relay) Name() string { return NameRelay }

type relayReply struct {
	PartNumber int32  `json:"partNumber"`
	ETag       string `json:"etag"`
}

// UploadPart 经中继上传单个分片，解析响应 JSON 中的 etag。
func (r *Relay) UploadPart(ctx context.Context, upload PartUpload) (string, error) {
	if upload.SignedURL == "" {
		return "", &Error{Transport: NameRelay, PartNumber: upload.PartNumber, Err: errors.New("signed url is required")}
	}
	if upload.Body == nil {
		return "", &Error{Transport: NameRelay, PartNumber: upload.PartNumber, Err: errors.New("part body is required")}
	}

	target, err := url.Parse(r.endpoint)
	if err != nil {
		return "", &Error{Transport: NameRelay, PartNumber: upload.PartNumber, Err: err}
	}
	query := target.Query()
	query.Set("url", upload.SignedURL)
	query.Set("partNumber", strconv.FormatInt(int64(upload.PartNumber), 10))
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), upload.Body)
	if err != nil {
		return "", &Error{Transport: NameRelay, PartNumber: upload.PartNumber, Err: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if upload.ByteLength > 0 {
		req.ContentLength = upload.ByteLength
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", &Error{Transport: NameRelay, PartNumber: upload.PartNumber, Err: err}
	}
	defer drain(resp)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", &Error{
			Transport:  NameRelay,
			PartNumber: upload.PartNumber,
			StatusCode: resp.StatusCode,
			Err:        statusError(resp.Status, resp.Body),
		}
	}

	var reply relayReply
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&reply); err != nil {
		return "", &Error{
			Transport:  NameRelay,
			PartNumber: upload.PartNumber,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decode relay reply: %w", err),
		}
	}
	if reply.ETag == "" {
		return "", &Error{
			Transport:  NameRelay,
			PartNumber: upload.PartNumber,
			StatusCode: resp.StatusCode,
			Err:        errors.New("relay reply missing etag"),
		}
	}

	r.log.WithContext(ctx).Debugf("relay part uploaded: part=%d bytes=%d", upload.PartNumber, upload.ByteLength)
	return reply.ETag, nil
}
