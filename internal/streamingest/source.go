package streamingest

import (
	"context"
	"fmt"
	"sync"
)

// StreamSource 将顺序到达的分片流适配为调度引擎的按号取片接口。
// 每个分片只能被取走一次，取走即转移所有权（引擎在重试间自行复用负载）；
// 乱序请求由预读缓冲吸收，缓冲规模受引擎并发度约束。
type StreamSource struct {
	mu   sync.Mutex
	rc   *Rechunker
	next int32
	buf  map[int32][]byte
	err  error // 首个读取错误，之后所有请求原样返回
}

// NewStreamSource 包装 Rechunker，分片号从 1 开始。
func NewStreamSource(rc *Rechunker) *StreamSource {
	return &StreamSource{rc: rc, next: 1, buf: make(map[int32][]byte)}
}

// Part 返回第 n 片负载，必要时顺序读取源流直至该片就绪。
// 流在该片之前结束时返回读取错误（提前 EOF 属于源异常）。
func (s *StreamSource) Part(ctx context.Context, n int32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if payload, ok := s.buf[n]; ok {
			delete(s.buf, n)
			return payload, nil
		}
		if s.err != nil {
			return nil, s.err
		}
		if n < s.next {
			return nil, fmt.Errorf("part %d already consumed", n)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := s.rc.Next()
		if err != nil {
			s.err = fmt.Errorf("read chunk %d: %w", s.next, err)
			return nil, s.err
		}
		s.buf[s.next] = chunk
		s.next++
	}
}
