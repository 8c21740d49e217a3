// Package metadata 提供请求元数据在 Context 中的存取工具，供控制器与服务层共享。
// 用户身份由上游网关注入，经 kratos metadata 中间件跨服务透传，本服务直接信任。
package metadata

import (
	"context"
	"strings"

	kmetadata "github.com/go-kratos/kratos/v2/metadata"
	"github.com/google/uuid"
)

// HeaderUserID 是网关注入的用户身份键。
const HeaderUserID = "x-md-global-user-id"

// HandlerMetadata 描述从请求链路解析出的上下文信息。
type HandlerMetadata struct {
	UserID string
}

// IsZero 判断 Metadata 是否为空。
func (m HandlerMetadata) IsZero() bool {
	return m.UserID == ""
}

// UserUUID 尝试解析 user_id 为 UUID。
func (m HandlerMetadata) UserUUID() (uuid.UUID, bool) {
	if strings.TrimSpace(m.UserID) == "" {
		return uuid.Nil, false
	}
	value, err := uuid.Parse(m.UserID)
	if err != nil {
		return uuid.Nil, false
	}
	return value, true
}

// FromServerContext 从 kratos 服务端元数据解析 HandlerMetadata。
func FromServerContext(ctx context.Context) HandlerMetadata {
	md, ok := kmetadata.FromServerContext(ctx)
	if !ok {
		return HandlerMetadata{}
	}
	return HandlerMetadata{
		UserID: strings.TrimSpace(md.Get(HeaderUserID)),
	}
}

// OwnerID 返回调用者身份：优先取显式注入值，否则回落到服务端元数据。
// 缺失或非法时第二返回值为 false。
func OwnerID(ctx context.Context) (uuid.UUID, bool) {
	meta, ok := FromContext(ctx)
	if !ok {
		meta = FromServerContext(ctx)
	}
	return meta.UserUUID()
}

type ctxKey struct{}

// Inject 将 HandlerMetadata 注入 Context。
func Inject(ctx context.Context, meta HandlerMetadata) context.Context {
	if meta.IsZero() {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, meta)
}

// FromContext 读取上游注入的 HandlerMetadata。
func FromContext(ctx context.Context) (HandlerMetadata, bool) {
	if ctx == nil {
		return HandlerMetadata{}, false
	}
	meta, ok := ctx.Value(ctxKey{}).(HandlerMetadata)
	return meta, ok
}
