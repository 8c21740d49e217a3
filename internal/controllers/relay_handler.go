package controllers

import (
	"context"
	stdhttp "net/http"

	"github.com/reelside/reel-services-ingestion/internal/controllers/dto"
	"github.com/reelside/reel-services-ingestion/internal/services"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// OperationRelayPart 是中继上传路由的操作名。
const OperationRelayPart = "/ingestion.v1.Relay/RelayPart"

// RelayHandler 处理中继上传路由：浏览器直传预签名 URL 失败时，
// 把分片字节原样转发给对象存储。目标主机白名单由 Service 层校验。
type RelayHandler struct {
	*BaseHandler
	svc *services.RelayService
}

// NewRelayHandler 构造 RelayHandler。
func NewRelayHandler(base *BaseHandler, svc *services.RelayService) *RelayHandler {
	if base == nil {
		base = NewBaseHandler(HandlerTimeouts{})
	}
	return &RelayHandler{BaseHandler: base, svc: svc}
}

// RegisterRoutes 挂载中继上传路由。
func (h *RelayHandler) RegisterRoutes(r *khttp.Router) {
	r.POST("/v1/relay", h.handleRelayPart)
}

// handleRelayPart 不经 JSON 绑定：请求体即分片字节，目标与分片号来自查询参数。
func (h *RelayHandler) handleRelayPart(ctx khttp.Context) error {
	query := ctx.Query()
	input := services.RelayPartInput{
		TargetURL:  query.Get("url"),
		Body:       ctx.Request().Body,
		ByteLength: ctx.Request().ContentLength,
	}
	partNumber, err := dto.ParsePartNumber(query.Get("partNumber"))
	if err != nil {
		return kerrors.BadRequest(services.ReasonInvalidInput, err.Error())
	}
	input.PartNumber = partNumber

	khttp.SetOperation(ctx, OperationRelayPart)
	next := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return h.RelayPart(c, input)
	})
	out, err := next(ctx, &input)
	if err != nil {
		return err
	}
	return ctx.Result(stdhttp.StatusOK, out)
}

// RelayPart 校验调用方身份后把分片转发到预签名地址。
func (h *RelayHandler) RelayPart(ctx context.Context, input services.RelayPartInput) (*dto.RelayPartResponse, error) {
	if h.svc == nil {
		return nil, errServiceUnavailable("relay")
	}
	if _, err := h.RequireOwner(ctx); err != nil {
		return nil, err
	}

	timeoutCtx, cancel := h.WithTimeout(ctx, HandlerTypeCommand)
	defer cancel()

	result, err := h.svc.RelayPart(timeoutCtx, input)
	if err != nil {
		return nil, asKratosError(err, "relay part failed")
	}
	return dto.NewRelayPartResponse(result), nil
}
