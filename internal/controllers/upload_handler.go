package controllers

import (
	"context"
	stdhttp "net/http"

	"github.com/reelside/reel-services-ingestion/internal/controllers/dto"
	"github.com/reelside/reel-services-ingestion/internal/services"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// 浏览器分片上传路由的操作名。
const (
	OperationUploadInit   = "/ingestion.v1.Uploads/InitUpload"
	OperationUploadSign   = "/ingestion.v1.Uploads/SignParts"
	OperationUploadAck    = "/ingestion.v1.Uploads/AckPart"
	OperationUploadResume = "/ingestion.v1.Uploads/ResumeState"
	OperationUploadDone   = "/ingestion.v1.Uploads/Complete"
	OperationUploadAbort  = "/ingestion.v1.Uploads/Abort"
)

// UploadHandler 处理浏览器分片上传路由：初始化（含幂等重入）、批量预签名、
// 分片确认、断点状态查询、合并与中止。
type UploadHandler struct {
	*BaseHandler
	svc *services.UploadService
}

// NewUploadHandler 构造 UploadHandler。
func NewUploadHandler(base *BaseHandler, svc *services.UploadService) *UploadHandler {
	if base == nil {
		base = NewBaseHandler(HandlerTimeouts{})
	}
	return &UploadHandler{BaseHandler: base, svc: svc}
}

// RegisterRoutes 挂载分片上传路由。
func (h *UploadHandler) RegisterRoutes(r *khttp.Router) {
	r.POST("/v1/jobs/{id}/upload/init", h.handleInit)
	r.POST("/v1/jobs/{id}/upload/signatures", h.handleSignParts)
	r.POST("/v1/jobs/{id}/upload/parts/{partNumber}/ack", h.handleAckPart)
	r.GET("/v1/jobs/{id}/upload/resume", h.handleResumeState)
	r.POST("/v1/jobs/{id}/upload/complete", h.handleComplete)
	r.POST("/v1/jobs/{id}/upload/abort", h.handleAbort)
}

func (h *UploadHandler) handleInit(ctx khttp.Context) error {
	var req dto.InitUploadRequest
	if err := ctx.Bind(&req); err != nil {
		return errMalformedBody(err)
	}
	jobID := ctx.Vars().Get("id")
	khttp.SetOperation(ctx, OperationUploadInit)
	next := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return h.InitUpload(c, jobID, &req)
	})
	out, err := next(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(stdhttp.StatusOK, out)
}

// InitUpload 初始化分片上传会话；任务已处于 UPLOADING 且声明大小一致时
// 返回既有会话与已确认分片，不创建第二个 multipart upload。
func (h *UploadHandler) InitUpload(ctx context.Context, rawJobID string, req *dto.InitUploadRequest) (*dto.InitUploadResponse, error) {
	if h.svc == nil {
		return nil, errServiceUnavailable("upload")
	}
	ownerID, err := h.RequireOwner(ctx)
	if err != nil {
		return nil, err
	}
	jobID, err := dto.ParseJobID(rawJobID)
	if err != nil {
		return nil, kerrors.BadRequest(services.ReasonInvalidInput, err.Error())
	}

	timeoutCtx, cancel := h.WithTimeout(ctx, HandlerTypeCommand)
	defer cancel()

	result, err := h.svc.InitUpload(timeoutCtx, dto.ToInitUploadInput(req, ownerID, jobID))
	if err != nil {
		return nil, asKratosError(err, "init upload failed")
	}
	if result == nil || result.Session == nil {
		return nil, kerrors.InternalServer(services.ReasonInternal, "empty upload session")
	}
	return dto.NewInitUploadResponse(result), nil
}

func (h *UploadHandler) handleSignParts(ctx khttp.Context) error {
	var req dto.SignPartsRequest
	if err := ctx.Bind(&req); err != nil {
		return errMalformedBody(err)
	}
	jobID := ctx.Vars().Get("id")
	khttp.SetOperation(ctx, OperationUploadSign)
	next := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return h.SignParts(c, jobID, &req)
	})
	out, err := next(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(stdhttp.StatusOK, out)
}

// SignParts 为闭区间内的分片批量生成预签名 PUT 地址。
func (h *UploadHandler) SignParts(ctx context.Context, rawJobID string, req *dto.SignPartsRequest) (*dto.SignPartsResponse, error) {
	if h.svc == nil {
		return nil, errServiceUnavailable("upload")
	}
	ownerID, err := h.RequireOwner(ctx)
	if err != nil {
		return nil, err
	}
	jobID, err := dto.ParseJobID(rawJobID)
	if err != nil {
		return nil, kerrors.BadRequest(services.ReasonInvalidInput, err.Error())
	}

	timeoutCtx, cancel := h.WithTimeout(ctx, HandlerTypeQuery)
	defer cancel()

	urls, err := h.svc.SignParts(timeoutCtx, dto.ToSignPartsInput(req, ownerID, jobID))
	if err != nil {
		return nil, asKratosError(err, "sign parts failed")
	}
	return dto.NewSignPartsResponse(urls), nil
}

func (h *UploadHandler) handleAckPart(ctx khttp.Context) error {
	var req dto.AckPartRequest
	if err := ctx.Bind(&req); err != nil {
		return errMalformedBody(err)
	}
	jobID := ctx.Vars().Get("id")
	partNumber := ctx.Vars().Get("partNumber")
	khttp.SetOperation(ctx, OperationUploadAck)
	next := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return h.AckPart(c, jobID, partNumber, &req)
	})
	out, err := next(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(stdhttp.StatusOK, out)
}

// AckPart 确认单个分片上传完成；同一分片重复确认按最后一次写入覆盖。
func (h *UploadHandler) AckPart(ctx context.Context, rawJobID, rawPartNumber string, req *dto.AckPartRequest) (*dto.AckPartResponse, error) {
	if h.svc == nil {
		return nil, errServiceUnavailable("upload")
	}
	ownerID, err := h.RequireOwner(ctx)
	if err != nil {
		return nil, err
	}
	jobID, err := dto.ParseJobID(rawJobID)
	if err != nil {
		return nil, kerrors.BadRequest(services.ReasonInvalidInput, err.Error())
	}
	partNumber, err := dto.ParsePartNumber(rawPartNumber)
	if err != nil {
		return nil, kerrors.BadRequest(services.ReasonInvalidInput, err.Error())
	}
	input, err := dto.ToAckPartInput(req, ownerID, jobID, partNumber)
	if err != nil {
		return nil, kerrors.BadRequest(services.ReasonInvalidInput, err.Error())
	}

	timeoutCtx, cancel := h.WithTimeout(ctx, HandlerTypeCommand)
	defer cancel()

	result, err := h.svc.AckPart(timeoutCtx, input)
	if err != nil {
		return nil, asKratosError(err, "ack part failed")
	}
	return dto.NewAckPartResponse(result), nil
}

func (h *UploadHandler) handleResumeState(ctx khttp.Context) error {
	jobID := ctx.Vars().Get("id")
	khttp.SetOperation(ctx, OperationUploadResume)
	next := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return h.ResumeState(c, jobID)
	})
	out, err := next(ctx, jobID)
	if err != nil {
		return err
	}
	return ctx.Result(stdhttp.StatusOK, out)
}

// ResumeState 返回断点续传所需的完整状态：会话、已确认分片与缺失分片号。
func (h *UploadHandler) ResumeState(ctx context.Context, rawJobID string) (*dto.ResumeStateResponse, error) {
	if h.svc == nil {
		return nil, errServiceUnavailable("upload")
	}
	ownerID, err := h.RequireOwner(ctx)
	if err != nil {
		return nil, err
	}
	jobID, err := dto.ParseJobID(rawJobID)
	if err != nil {
		return nil, kerrors.BadRequest(services.ReasonInvalidInput, err.Error())
	}

	timeoutCtx, cancel := h.WithTimeout(ctx, HandlerTypeQuery)
	defer cancel()

	result, err := h.svc.ResumeState(timeoutCtx, ownerID, jobID)
	if err != nil {
		return nil, asKratosError(err, "load resume state failed")
	}
	return dto.NewResumeStateResponse(result), nil
}

func (h *UploadHandler) handleComplete(ctx khttp.Context) error {
	jobID := ctx.Vars().Get("id")
	khttp.SetOperation(ctx, OperationUploadDone)
	next := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return h.Complete(c, jobID)
	})
	out, err := next(ctx, jobID)
	if err != nil {
		return err
	}
	return ctx.Result(stdhttp.StatusOK, out)
}

// Complete 校验分片覆盖完整后合并对象并推进任务到 UPLOADED。
func (h *UploadHandler) Complete(ctx context.Context, rawJobID string) (*dto.CompleteUploadResponse, error) {
	if h.svc == nil {
		return nil, errServiceUnavailable("upload")
	}
	ownerID, err := h.RequireOwner(ctx)
	if err != nil {
		return nil, err
	}
	jobID, err := dto.ParseJobID(rawJobID)
	if err != nil {
		return nil, kerrors.BadRequest(services.ReasonInvalidInput, err.Error())
	}

	timeoutCtx, cancel := h.WithTimeout(ctx, HandlerTypeCommand)
	defer cancel()

	result, err := h.svc.Complete(timeoutCtx, ownerID, jobID)
	if err != nil {
		return nil, asKratosError(err, "complete upload failed")
	}
	return dto.NewCompleteUploadResponse(result), nil
}

func (h *UploadHandler) handleAbort(ctx khttp.Context) error {
	var req dto.AbortUploadRequest
	if err := ctx.Bind(&req); err != nil {
		return errMalformedBody(err)
	}
	jobID := ctx.Vars().Get("id")
	khttp.SetOperation(ctx, OperationUploadAbort)
	next := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return h.Abort(c, jobID, &req)
	})
	out, err := next(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(stdhttp.StatusOK, out)
}

// Abort 中止上传：回收存储侧分片，任务落入 FAILED（upload 阶段）。
func (h *UploadHandler) Abort(ctx context.Context, rawJobID string, req *dto.AbortUploadRequest) (*dto.JobResponse, error) {
	if h.svc == nil {
		return nil, errServiceUnavailable("upload")
	}
	ownerID, err := h.RequireOwner(ctx)
	if err != nil {
		return nil, err
	}
	jobID, err := dto.ParseJobID(rawJobID)
	if err != nil {
		return nil, kerrors.BadRequest(services.ReasonInvalidInput, err.Error())
	}
	var reason string
	if req != nil {
		reason = req.Reason
	}

	timeoutCtx, cancel := h.WithTimeout(ctx, HandlerTypeCommand)
	defer cancel()

	job, err := h.svc.Abort(timeoutCtx, ownerID, jobID, reason)
	if err != nil {
		return nil, asKratosError(err, "abort upload failed")
	}
	return dto.NewJobResponse(job), nil
}
