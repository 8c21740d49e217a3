package controllers

import (
	"context"
	stdhttp "net/http"

	"github.com/reelside/reel-services-ingestion/internal/controllers/dto"
	"github.com/reelside/reel-services-ingestion/internal/services"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// 处理协作方回调路由的操作名。
const (
	OperationProcessingProgress = "/ingestion.v1.Processing/ReportProgress"
	OperationProcessingReady    = "/ingestion.v1.Processing/MarkReady"
	OperationProcessingFail     = "/ingestion.v1.Processing/MarkFailed"
)

// ProcessingHandler 处理外部处理协作方的回调路由。挂载在 /v1/internal 前缀下，
// 由内网入口隔离，不解析用户身份。
type ProcessingHandler struct {
	*BaseHandler
	svc *services.ProcessingStatusService
}

// NewProcessingHandler 构造 ProcessingHandler。
func NewProcessingHandler(base *BaseHandler, svc *services.ProcessingStatusService) *ProcessingHandler {
	if base == nil {
		base = NewBaseHandler(HandlerTimeouts{})
	}
	return &ProcessingHandler{BaseHandler: base, svc: svc}
}

// RegisterRoutes 挂载处理回调路由。
func (h *ProcessingHandler) RegisterRoutes(r *khttp.Router) {
	r.POST("/v1/internal/jobs/{id}/processing/progress", h.handleProgress)
	r.POST("/v1/internal/jobs/{id}/processing/ready", h.handleReady)
	r.POST("/v1/internal/jobs/{id}/processing/fail", h.handleFail)
}

func (h *ProcessingHandler) handleProgress(ctx khttp.Context) error {
	var req dto.ProcessingProgressRequest
	if err := ctx.Bind(&req); err != nil {
		return errMalformedBody(err)
	}
	jobID := ctx.Vars().Get("id")
	khttp.SetOperation(ctx, OperationProcessingProgress)
	next := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return h.ReportProgress(c, jobID, &req)
	})
	out, err := next(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(stdhttp.StatusOK, out)
}

// ReportProgress 上报处理进度；首次回调把任务从 UPLOADED 推进到 PROCESSING。
func (h *ProcessingHandler) ReportProgress(ctx context.Context, rawJobID string, req *dto.ProcessingProgressRequest) (*dto.ProcessingProgressResponse, error) {
	if h.svc == nil {
		return nil, errServiceUnavailable("processing status")
	}
	jobID, err := dto.ParseJobID(rawJobID)
	if err != nil {
		return nil, kerrors.BadRequest(services.ReasonInvalidInput, err.Error())
	}
	var percent int32
	if req != nil {
		percent = req.Percent
	}

	timeoutCtx, cancel := h.WithTimeout(ctx, HandlerTypeCommand)
	defer cancel()

	applied, err := h.svc.ReportProgress(timeoutCtx, jobID, percent)
	if err != nil {
		return nil, asKratosError(err, "report progress failed")
	}
	return &dto.ProcessingProgressResponse{ProgressPercent: applied}, nil
}

func (h *ProcessingHandler) handleReady(ctx khttp.Context) error {
	jobID := ctx.Vars().Get("id")
	khttp.SetOperation(ctx, OperationProcessingReady)
	next := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return h.MarkReady(c, jobID)
	})
	out, err := next(ctx, jobID)
	if err != nil {
		return err
	}
	return ctx.Result(stdhttp.StatusOK, out)
}

// MarkReady 标记处理完成，任务进入 READY 终态。
func (h *ProcessingHandler) MarkReady(ctx context.Context, rawJobID string) (*dto.JobResponse, error) {
	if h.svc == nil {
		return nil, errServiceUnavailable("processing status")
	}
	jobID, err := dto.ParseJobID(rawJobID)
	if err != nil {
		return nil, kerrors.BadRequest(services.ReasonInvalidInput, err.Error())
	}

	timeoutCtx, cancel := h.WithTimeout(ctx, HandlerTypeCommand)
	defer cancel()

	job, err := h.svc.MarkReady(timeoutCtx, jobID)
	if err != nil {
		return nil, asKratosError(err, "mark ready failed")
	}
	return dto.NewJobResponse(job), nil
}

func (h *ProcessingHandler) handleFail(ctx khttp.Context) error {
	var req dto.ProcessingFailRequest
	if err := ctx.Bind(&req); err != nil {
		return errMalformedBody(err)
	}
	jobID := ctx.Vars().Get("id")
	khttp.SetOperation(ctx, OperationProcessingFail)
	next := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return h.MarkFailed(c, jobID, &req)
	})
	out, err := next(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(stdhttp.StatusOK, out)
}

// MarkFailed 标记处理失败，任务落入 FAILED（processing 阶段）。
func (h *ProcessingHandler) MarkFailed(ctx context.Context, rawJobID string, req *dto.ProcessingFailRequest) (*dto.JobResponse, error) {
	if h.svc == nil {
		return nil, errServiceUnavailable("processing status")
	}
	jobID, err := dto.ParseJobID(rawJobID)
	if err != nil {
		return nil, kerrors.BadRequest(services.ReasonInvalidInput, err.Error())
	}
	var message string
	if req != nil {
		message = req.Message
	}

	timeoutCtx, cancel := h.WithTimeout(ctx, HandlerTypeCommand)
	defer cancel()

	job, err := h.svc.MarkFailed(timeoutCtx, jobID, message)
	if err != nil {
		return nil, asKratosError(err, "record processing failure failed")
	}
	return dto.NewJobResponse(job), nil
}
