// Package partplan 计算 multipart 上传的分片切分方案。
// 纯函数实现，不依赖任何外部状态，供上传引擎与流式摄取共用。
package partplan

import (
	"errors"
	"fmt"
)

const (
	// MinPartSizeBytes 是对象存储 multipart 协议的分片下限（最后一片除外）。
	MinPartSizeBytes = 5 * 1024 * 1024
	// DefaultStreamPartSizeBytes 是服务端流式摄取的默认分片大小。
	DefaultStreamPartSizeBytes = 8 * 1024 * 1024
	// DefaultBrowserPartSizeBytes 是浏览器直传的默认分片大小。
	DefaultBrowserPartSizeBytes = 16 * 1024 * 1024
)

// ErrInvalidTotalBytes 表示给定的文件总大小非法。
var ErrInvalidTotalBytes = errors.New("partplan: total bytes must be positive")

// Plan 描述一份固定分片大小的切分方案。
type Plan struct {
	TotalBytes    int64
	PartSizeBytes int64
	TotalParts    int32
}

// New 根据总字节数与期望分片大小生成切分方案。
// partSizeBytes <= 0 时回退到浏览器默认值；低于协议下限时取下限。
func New(totalBytes, partSizeBytes int64) (Plan, error) {
	if totalBytes <= 0 {
		return Plan{}, fmt.Errorf("%w: got %d", ErrInvalidTotalBytes, totalBytes)
	}
	if partSizeBytes <= 0 {
		partSizeBytes = DefaultBrowserPartSizeBytes
	}
	if partSizeBytes < MinPartSizeBytes {
		partSizeBytes = MinPartSizeBytes
	}
	totalParts := (totalBytes + partSizeBytes - 1) / partSizeBytes
	return Plan{
		TotalBytes:    totalBytes,
		PartSizeBytes: partSizeBytes,
		TotalParts:    int32(totalParts),
	}, nil
}

// Length 返回第 n 片的字节数；仅最后一片可能短于 PartSizeBytes。
// n 超出 [1, TotalParts] 时返回 0。
func (p Plan) Length(n int32) int64 {
	if n < 1 || n > p.TotalParts {
		return 0
	}
	if n == p.TotalParts {
		return p.TotalBytes - int64(p.TotalParts-1)*p.PartSizeBytes
	}
	return p.PartSizeBytes
}

// Range 返回第 n 片在源文件中的起始偏移与长度。
func (p Plan) Range(n int32) (offset, length int64) {
	length = p.Length(n)
	if length == 0 {
		return 0, 0
	}
	return int64(n-1) * p.PartSizeBytes, length
}

// Numbers 返回升序的全部分片序号（1..TotalParts）。
func (p Plan) Numbers() []int32 {
	numbers := make([]int32, 0, p.TotalParts)
	for n := int32(1); n <= p.TotalParts; n++ {
		numbers = append(numbers, n)
	}
	return numbers
}
