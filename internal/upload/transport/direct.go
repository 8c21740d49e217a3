package transport

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-kratos/kratos/v2/log"
)

// Direct 对预签名 URL 直接执行 PUT，并从响应头读取 ETag。
type Direct struct {
	client *http.Client
	log    *log.Helper
}

// NewDirect 构造直连通道。client 为 nil 时使用默认客户端，超时交由调用方 ctx 控制。
func NewDirect(client *http.Client, logger log.Logger) *Direct {
	if client == nil {
		client = &http.Client{}
	}
	return &Direct{
		client: client,
		log:    log.NewHelper(logger),
	}
}

// Name 返回通道名。
func (d *Direct) Name() string { return NameDirect }

// UploadPart 上传单个分片。成功时返回去除引号的 ETag。
func (d *Direct) UploadPart(ctx context.Context, upload PartUpload) (string, error) {
	if upload.SignedURL == "" {
		return "", &Error{Transport: NameDirect, PartNumber: upload.PartNumber, Err: errors.New("signed url is required")}
	}
	if upload.Body == nil {
		return "", &Error{Transport: NameDirect, PartNumber: upload.PartNumber, Err: errors.New("part body is required")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, upload.SignedURL, upload.Body)
	if err != nil {
		return "", &Error{Transport: NameDirect, PartNumber: upload.PartNumber, Err: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if upload.ByteLength > 0 {
		req.ContentLength = upload.ByteLength
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", &Error{Transport: NameDirect, PartNumber: upload.PartNumber, Err: err}
	}
	defer drain(resp)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", &Error{
			Transport:  NameDirect,
			PartNumber: upload.PartNumber,
			StatusCode: resp.StatusCode,
			Err:        statusError(resp.Status, resp.Body),
		}
	}

	etag := strings.Trim(resp.Header.Get("ETag"), `"`)
	if etag == "" {
		return "", &Error{
			Transport:  NameDirect,
			PartNumber: upload.PartNumber,
			StatusCode: resp.StatusCode,
			Err:        errors.New("response missing etag header"),
		}
	}

	d.log.WithContext(ctx).Debugf("direct part uploaded: part=%d bytes=%d", upload.PartNumber, upload.ByteLength)
	return etag, nil
}
