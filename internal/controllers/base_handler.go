package controllers

import (
	"context"
	"strings"
	"time"

	"github.com/reelside/reel-services-ingestion/internal/infrastructure/configloader"
	"github.com/reelside/reel-services-ingestion/internal/metadata"
	"github.com/reelside/reel-services-ingestion/internal/services"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/google/uuid"
)

// HandlerType 表示 Handler 的语义类别，用于选择超时策略。
type HandlerType int

const (
	// HandlerTypeDefault 表示未显式区分的 Handler。
	HandlerTypeDefault HandlerType = iota
	// HandlerTypeCommand 表示写模型命令 Handler。
	HandlerTypeCommand
	// HandlerTypeQuery 表示读模型查询 Handler。
	HandlerTypeQuery
)

const (
	fallbackDefaultTimeout = 5 * time.Second
	fallbackQueryTimeout   = 3 * time.Second
)

// HandlerTimeouts 聚合不同类型 Handler 的超时策略。
type HandlerTimeouts struct {
	Default time.Duration
	Command time.Duration
	Query   time.Duration
}

// ProvideHandlerTimeouts 从服务器配置段提取 Handler 超时策略。
func ProvideHandlerTimeouts(cfg configloader.ServerConfig) HandlerTimeouts {
	return HandlerTimeouts{
		Default: cfg.Handlers.Default,
		Command: cfg.Handlers.Command,
		Query:   cfg.Handlers.Query,
	}
}

// BaseHandler 提供公共的超时与调用方身份解析能力，供具体 Handler 内嵌复用。
type BaseHandler struct {
	timeouts HandlerTimeouts
}

// NewBaseHandler 构造基础 Handler，并为缺省值填充合理的回退策略。
func NewBaseHandler(timeouts HandlerTimeouts) *BaseHandler {
	if timeouts.Default <= 0 {
		if timeouts.Command > 0 {
			timeouts.Default = timeouts.Command
		} else if timeouts.Query > 0 {
			timeouts.Default = timeouts.Query
		} else {
			timeouts.Default = fallbackDefaultTimeout
		}
	}
	if timeouts.Command <= 0 {
		timeouts.Command = timeouts.Default
	}
	if timeouts.Query <= 0 {
		if timeouts.Default > 0 {
			timeouts.Query = timeouts.Default
		} else {
			timeouts.Query = fallbackQueryTimeout
		}
	}
	return &BaseHandler{timeouts: timeouts}
}

// WithTimeout 根据 Handler 类型包装上下文，返回绑定超时的新 Context 与取消函数。
func (h *BaseHandler) WithTimeout(ctx context.Context, kind HandlerType) (context.Context, context.CancelFunc) {
	if h == nil {
		return context.WithTimeout(ctx, fallbackDefaultTimeout)
	}
	var timeout time.Duration
	switch kind {
	case HandlerTypeCommand:
		timeout = h.timeouts.Command
	case HandlerTypeQuery:
		timeout = h.timeouts.Query
	default:
		timeout = h.timeouts.Default
	}
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// RequireOwner 解析网关透传的调用方身份。
// 身份缺失返回 401，存在但不是合法 UUID 返回 400。
func (h *BaseHandler) RequireOwner(ctx context.Context) (uuid.UUID, error) {
	meta := metadata.FromServerContext(ctx)
	ownerID, ok := meta.UserUUID()
	if ok {
		return ownerID, nil
	}
	if strings.TrimSpace(meta.UserID) != "" {
		return uuid.Nil, kerrors.BadRequest(services.ReasonInvalidInput, "invalid user metadata")
	}
	return uuid.Nil, kerrors.Unauthorized(services.ReasonIdentityRequired, "user metadata required")
}
