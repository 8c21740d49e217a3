package streamingest

import (
	"errors"
	"fmt"
	"io"
)

// Rechunker 将任意到达粒度的字节流重组为固定大小的分片。
// 源端的分块边界与分片边界无关：不足一片的读取会继续填充，
// 只有最后一片允许短于设定大小。非并发安全，由调用方串行使用。
type Rechunker struct {
	r    io.Reader
	size int64
	done bool
}

// NewRechunker 构造 Rechunker，partSize 必须为正。
func NewRechunker(r io.Reader, partSize int64) (*Rechunker, error) {
	if r == nil {
		return nil, errors.New("streamingest: reader is required")
	}
	if partSize <= 0 {
		return nil, fmt.Errorf("streamingest: part size must be positive, got %d", partSize)
	}
	return &Rechunker{r: r, size: partSize}, nil
}

// Next 返回下一个分片负载。流恰好在分片边界结束（或为空）时返回 io.EOF；
// 最后一片不足设定大小时按实际长度返回，此后再调用返回 io.EOF。
func (c *Rechunker) Next() ([]byte, error) {
	if c.done {
		return nil, io.EOF
	}
	buf := make([]byte, c.size)
	n, err := io.ReadFull(c.r, buf)
	switch {
	case err == nil:
		return buf, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.done = true
		return buf[:n], nil
	case errors.Is(err, io.EOF):
		c.done = true
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("read stream: %w", err)
	}
}
