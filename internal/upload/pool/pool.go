// Package pool 实现分片上传的并发调度引擎：按 FIFO 顺序派发分片、
// 限制并发度、对单分片做线性退避重试，并在网络级失败后将整个会话
// 黏性切换到中继通道。签名 URL 按批预取并缓存，临近过期的缓存不复用。
package pool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/reelside/reel-services-ingestion/internal/infrastructure/objectstore"
	"github.com/reelside/reel-services-ingestion/internal/upload/transport"
)

const (
	defaultMaxConcurrency = 3
	defaultSignBatchSize  = 8
	defaultURLExpirySkew  = 30 * time.Second // 距离过期不足该窗口的签名 URL 视为不可复用
)

// Signer 按批签发分片上传 URL，由对象存储网关实现。
type Signer interface {
	SignPartUploads(ctx context.Context, uploadID, objectKey string, partNumbers []int32) ([]objectstore.SignedPartURL, error)
}

// Source 提供指定分片的完整负载。每个分片只会被读取一次，
// 重试复用已读出的字节，因此顺序流也能充当实现。
type Source interface {
	Part(ctx context.Context, partNumber int32) ([]byte, error)
}

// PartAck 描述一个上传成功分片的确认信息。
type PartAck struct {
	PartNumber int32
	ETag       string
	ByteLength int64
	AttemptID  uuid.UUID // 本次成功尝试的标识，用于审计重复写入
}

// AckFunc 持久化分片确认，失败会终止整个运行。
type AckFunc func(ctx context.Context, ack PartAck) error

// ProgressFunc 在每个分片确认后收到累计已上传字节数，单调递增。
type ProgressFunc func(ctx context.Context, uploadedBytes int64)

// PartError 表示某个分片耗尽全部尝试后仍未成功，携带最后一次传输诊断。
type PartError struct {
	PartNumber int32
	Attempts   int
	Err        error
}

func (e *PartError) Error() string {
	return fmt.Sprintf("part %d failed after %d attempts: %v", e.PartNumber, e.Attempts, e.Err)
}

func (e *PartError) Unwrap() error { return e.Err }

// SourceError 表示分片负载读取失败（源流中断、提前 EOF 等），与传输失败区分。
type SourceError struct {
	PartNumber int32
	Err        error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("read payload of part %d: %v", e.PartNumber, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Config 控制调度引擎的并发与重试行为。
type Config struct {
	MaxConcurrency int              // 同时在途分片上限，默认 3
	SignBatchSize  int              // 每次预取签名 URL 的数量，默认 8
	Policy         transport.Policy // 单分片重试与回退策略
	URLExpirySkew  time.Duration    // 签名 URL 过期提前量，默认 30s
}

func (c Config) normalize() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = defaultMaxConcurrency
	}
	if c.SignBatchSize <= 0 {
		c.SignBatchSize = defaultSignBatchSize
	}
	if c.URLExpirySkew <= 0 {
		c.URLExpirySkew = defaultURLExpirySkew
	}
	c.Policy = c.Policy.Normalize()
	return c
}

// Pool 无状态调度器，可跨多次 Run 复用；会话级状态（黏性回退、URL 缓存）随 Run 创建。
type Pool struct {
	signer Signer
	direct transport.Transport
	relay  transport.Transport // 可为 nil，表示无中继可用
	cfg    Config
	now    func() time.Time
	log    *log.Helper
}

// Option 配置 Pool 的可选参数。
type Option func(*Pool)

// WithClock 注入时钟，便于测试 URL 缓存过期窗口。
func WithClock(clock func() time.Time) Option {
	return func(p *Pool) {
		if clock != nil {
			p.now = clock
		}
	}
}

// New 构造调度引擎。relay 为 nil 时禁用回退，网络级失败也只在直连通道重试。
func New(signer Signer, direct, relay transport.Transport, cfg Config, logger log.Logger, opts ...Option) (*Pool, error) {
	if signer == nil {
		return nil, errors.New("pool: signer is required")
	}
	if direct == nil {
		return nil, errors.New("pool: direct transport is required")
	}
	p := &Pool{
		signer: signer,
		direct: direct,
		relay:  relay,
		cfg:    cfg.normalize(),
		now:    time.Now,
		log:    log.NewHelper(logger),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// RunInput 描述一次上传运行：待传分片集合（断点续传时为缺失集合）与回调。
type RunInput struct {
	UploadID    string
	ObjectKey   string
	Parts       []int32 // FIFO 派发顺序，调用方负责升序排列
	Source      Source
	Ack         AckFunc
	OnProgress  ProgressFunc // 可为 nil
	PreferRelay bool         // 起始即走中继（上一次运行已发生回退时由调用方延续）
}

// RunReport 汇总一次运行的结果，供调用方延续会话状态。
type RunReport struct {
	UploadedBytes int64 // 本次运行确认的字节数
	PartsUploaded int32
	UsedRelay     bool // 运行结束时会话是否处于中继通道
}

func (in RunInput) validate() error {
	switch {
	case in.UploadID == "":
		return errors.New("pool: upload id is required")
	case in.ObjectKey == "":
		return errors.New("pool: object key is required")
	case in.Source == nil:
		return errors.New("pool: part source is required")
	case in.Ack == nil:
		return errors.New("pool: ack callback is required")
	}
	seen := make(map[int32]bool, len(in.Parts))
	for _, n := range in.Parts {
		if n < 1 {
			return fmt.Errorf("pool: invalid part number %d", n)
		}
		if seen[n] {
			return fmt.Errorf("pool: duplicate part number %d", n)
		}
		seen[n] = true
	}
	return nil
}

// Run 执行一次上传运行，所有分片确认后返回成功报告。
// 任一分片耗尽尝试、源读取失败或确认落库失败都会取消其余在途分片并返回错误。
func (p *Pool) Run(ctx context.Context, in RunInput) (RunReport, error) {
	if err := in.validate(); err != nil {
		return RunReport{}, err
	}
	if len(in.Parts) == 0 {
		return RunReport{UsedRelay: in.PreferRelay}, nil
	}

	st := newRunState(in.Parts)
	if in.PreferRelay && p.relay != nil {
		st.useRelay.Store(true)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrency)
	for _, n := range in.Parts {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return p.uploadPart(gctx, st, in, n)
		})
	}
	err := g.Wait()
	report := RunReport{
		UploadedBytes: st.uploaded.Load(),
		PartsUploaded: st.partsDone.Load(),
		UsedRelay:     st.useRelay.Load(),
	}
	if err != nil {
		return report, err
	}
	return report, ctx.Err()
}

func (p *Pool) uploadPart(ctx context.Context, st *runState, in RunInput, n int32) error {
	// 负载只读取一次，重试间复用同一份字节，顺序源因此无需支持回读。
	payload, err := in.Source.Part(ctx, n)
	if err != nil {
		return &SourceError{PartNumber: n, Err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.Policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 1 {
			if err := sleepContext(ctx, p.cfg.Policy.Delay(attempt-1)); err != nil {
				return err
			}
		}

		url, err := p.signedURL(ctx, st, in, n)
		if err != nil {
			lastErr = err
			p.log.WithContext(ctx).Warnf("sign url for part %d attempt %d failed: %v", n, attempt, err)
			continue
		}

		tr := p.pick(st)
		attemptID := uuid.New()
		etag, err := tr.UploadPart(ctx, transport.PartUpload{
			PartNumber: n,
			SignedURL:  url,
			Body:       bytes.NewReader(payload),
			ByteLength: int64(len(payload)),
		})
		if err == nil {
			if ackErr := in.Ack(ctx, PartAck{
				PartNumber: n,
				ETag:       etag,
				ByteLength: int64(len(payload)),
				AttemptID:  attemptID,
			}); ackErr != nil {
				return fmt.Errorf("acknowledge part %d: %w", n, ackErr)
			}
			total := st.uploaded.Add(int64(len(payload)))
			st.partsDone.Add(1)
			if in.OnProgress != nil {
				in.OnProgress(ctx, total)
			}
			p.log.WithContext(ctx).Debugf("part %d uploaded via %s: bytes=%d attempt=%d", n, tr.Name(), len(payload), attempt)
			return nil
		}

		lastErr = err
		if p.relay != nil && p.cfg.Policy.ShouldFallback(err) {
			if st.useRelay.CompareAndSwap(false, true) {
				p.log.WithContext(ctx).Warnf("network failure on %s transport, session falls back to relay: part=%d err=%v", tr.Name(), n, err)
				continue
			}
		}
		p.log.WithContext(ctx).Warnf("upload part %d via %s failed: attempt=%d/%d err=%v", n, tr.Name(), attempt, p.cfg.Policy.MaxAttempts, err)
	}
	return &PartError{PartNumber: n, Attempts: p.cfg.Policy.MaxAttempts, Err: lastErr}
}

// pick 返回当前会话应使用的传输通道：一旦切换到中继便不再回退。
func (p *Pool) pick(st *runState) transport.Transport {
	if p.relay != nil && st.useRelay.Load() {
		return p.relay
	}
	return p.direct
}

// signedURL 返回分片的可用签名 URL；缓存未命中或临近过期时按批预取后续分片。
func (p *Pool) signedURL(ctx context.Context, st *runState, in RunInput, n int32) (string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if u, ok := st.urls[n]; ok && p.now().Before(u.ExpiresAt.Add(-p.cfg.URLExpirySkew)) {
		return u.URL, nil
	}

	batch := st.batchFrom(n, p.cfg.SignBatchSize)
	signed, err := p.signer.SignPartUploads(ctx, in.UploadID, in.ObjectKey, batch)
	if err != nil {
		return "", fmt.Errorf("sign upload parts %v: %w", batch, err)
	}
	for _, u := range signed {
		st.urls[u.PartNumber] = u
	}
	u, ok := st.urls[n]
	if !ok {
		return "", fmt.Errorf("signer returned no url for part %d", n)
	}
	return u.URL, nil
}

// runState 保存单次运行的会话级状态。
type runState struct {
	useRelay  atomic.Bool
	uploaded  atomic.Int64
	partsDone atomic.Int32

	mu       sync.Mutex
	urls     map[int32]objectstore.SignedPartURL
	order    []int32
	position map[int32]int
}

func newRunState(parts []int32) *runState {
	st := &runState{
		urls:     make(map[int32]objectstore.SignedPartURL, len(parts)),
		order:    parts,
		position: make(map[int32]int, len(parts)),
	}
	for i, n := range parts {
		st.position[n] = i
	}
	return st
}

// batchFrom 从派发顺序中取出以 n 开头的一段分片号，作为一次批量签名请求。
func (st *runState) batchFrom(n int32, size int) []int32 {
	idx, ok := st.position[n]
	if !ok {
		return []int32{n}
	}
	end := idx + size
	if end > len(st.order) {
		end = len(st.order)
	}
	return append([]int32(nil), st.order[idx:end]...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
