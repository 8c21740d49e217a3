// Package controllers 实现对外 HTTP 路由的处理器层：解析请求、注入超时与
// 调用方身份，调用 Service 层用例并将结果映射为响应对象。
package controllers

import (
	"context"
	"errors"
	stdhttp "net/http"
	"strconv"
	"strings"

	"github.com/reelside/reel-services-ingestion/internal/controllers/dto"
	"github.com/reelside/reel-services-ingestion/internal/services"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// 任务生命周期路由的操作名，供日志与指标中间件标注请求。
const (
	OperationCreateJob         = "/ingestion.v1.Jobs/CreateJob"
	OperationListJobs          = "/ingestion.v1.Jobs/ListJobs"
	OperationGetJob            = "/ingestion.v1.Jobs/GetJob"
	OperationUpdateJobMetadata = "/ingestion.v1.Jobs/UpdateJobMetadata"
	OperationPrepareUpload     = "/ingestion.v1.Jobs/PrepareUpload"
	OperationRecordConsent     = "/ingestion.v1.Jobs/RecordConsent"
)

// JobHandler 处理摄取任务生命周期路由：登记、查询、元数据补全、
// 进入上传阶段的准备与权利确认。
type JobHandler struct {
	*BaseHandler
	svc *services.JobService
}

// NewJobHandler 构造 JobHandler。
func NewJobHandler(base *BaseHandler, svc *services.JobService) *JobHandler {
	if base == nil {
		base = NewBaseHandler(HandlerTimeouts{})
	}
	return &JobHandler{BaseHandler: base, svc: svc}
}

// RegisterRoutes 挂载任务生命周期路由。
func (h *JobHandler) RegisterRoutes(r *khttp.Router) {
	r.POST("/v1/jobs", h.handleCreateJob)
	r.GET("/v1/jobs", h.handleListJobs)
	r.GET("/v1/jobs/{id}", h.handleGetJob)
	r.POST("/v1/jobs/{id}/metadata", h.handleUpdateMetadata)
	r.POST("/v1/jobs/{id}/prepare", h.handlePrepareUpload)
	r.POST("/v1/jobs/{id}/consent", h.handleRecordConsent)
}

func (h *JobHandler) handleCreateJob(ctx khttp.Context) error {
	var req dto.CreateJobRequest
	if err := ctx.Bind(&req); err != nil {
		return errMalformedBody(err)
	}
	khttp.SetOperation(ctx, OperationCreateJob)
	next := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return h.CreateJob(c, &req)
	})
	out, err := next(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(stdhttp.StatusOK, out)
}

// CreateJob 登记一个新的摄取任务。
func (h *JobHandler) CreateJob(ctx context.Context, req *dto.CreateJobRequest) (*dto.JobResponse, error) {
	if h.svc == nil {
		return nil, errServiceUnavailable("job")
	}
	ownerID, err := h.RequireOwner(ctx)
	if err != nil {
		return nil, err
	}

	timeoutCtx, cancel := h.WithTimeout(ctx, HandlerTypeCommand)
	defer cancel()

	job, err := h.svc.CreateJob(timeoutCtx, dto.ToCreateJobInput(req, ownerID))
	if err != nil {
		return nil, asKratosError(err, "create job failed")
	}
	return dto.NewJobResponse(job), nil
}

func (h *JobHandler) handleListJobs(ctx khttp.Context) error {
	rawLimit := ctx.Query().Get("limit")
	khttp.SetOperation(ctx, OperationListJobs)
	next := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return h.ListJobs(c, rawLimit)
	})
	out, err := next(ctx, rawLimit)
	if err != nil {
		return err
	}
	return ctx.Result(stdhttp.StatusOK, out)
}

// ListJobs 返回调用方名下的任务列表，limit 为空时由服务层取默认值。
func (h *JobHandler) ListJobs(ctx context.Context, rawLimit string) (*dto.JobListResponse, error) {
	if h.svc == nil {
		return nil, errServiceUnavailable("job")
	}
	ownerID, err := h.RequireOwner(ctx)
	if err != nil {
		return nil, err
	}
	var limit int32
	if raw := strings.TrimSpace(rawLimit); raw != "" {
		value, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, kerrors.BadRequest(services.ReasonInvalidInput, "invalid limit")
		}
		limit = int32(value)
	}

	timeoutCtx, cancel := h.WithTimeout(ctx, HandlerTypeQuery)
	defer cancel()

	jobs, err := h.svc.ListJobs(timeoutCtx, ownerID, limit)
	if err != nil {
		return nil, asKratosError(err, "list jobs failed")
	}
	return dto.NewJobListResponse(jobs), nil
}

func (h *JobHandler) handleGetJob(ctx khttp.Context) error {
	jobID := ctx.Vars().Get("id")
	khttp.SetOperation(ctx, OperationGetJob)
	next := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return h.GetJob(c, jobID)
	})
	out, err := next(ctx, jobID)
	if err != nil {
		return err
	}
	return ctx.Result(stdhttp.StatusOK, out)
}

// GetJob 返回任务详情与上传会话概要。
func (h *JobHandler) GetJob(ctx context.Context, rawJobID string) (*dto.JobDetailResponse, error) {
	if h.svc == nil {
		return nil, errServiceUnavailable("job")
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

	view, err := h.svc.GetJob(timeoutCtx, ownerID, jobID)
	if err != nil {
		return nil, asKratosError(err, "get job failed")
	}
	return dto.NewJobDetailResponse(view), nil
}

func (h *JobHandler) handleUpdateMetadata(ctx khttp.Context) error {
	var req dto.UpdateJobMetadataRequest
	if err := ctx.Bind(&req); err != nil {
		return errMalformedBody(err)
	}
	jobID := ctx.Vars().Get("id")
	khttp.SetOperation(ctx, OperationUpdateJobMetadata)
	next := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return h.UpdateMetadata(c, jobID, &req)
	})
	out, err := next(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(stdhttp.StatusOK, out)
}

// UpdateMetadata 补写任务元数据，并尽力推进 CREATED → META_READY。
func (h *JobHandler) UpdateMetadata(ctx context.Context, rawJobID string, req *dto.UpdateJobMetadataRequest) (*dto.JobResponse, error) {
	if h.svc == nil {
		return nil, errServiceUnavailable("job")
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

	job, err := h.svc.UpdateJobMetadata(timeoutCtx, dto.ToUpdateJobMetadataInput(req, ownerID, jobID))
	if err != nil {
		return nil, asKratosError(err, "update metadata failed")
	}
	return dto.NewJobResponse(job), nil
}

func (h *JobHandler) handlePrepareUpload(ctx khttp.Context) error {
	jobID := ctx.Vars().Get("id")
	khttp.SetOperation(ctx, OperationPrepareUpload)
	next := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return h.PrepareUpload(c, jobID)
	})
	out, err := next(ctx, jobID)
	if err != nil {
		return err
	}
	return ctx.Result(stdhttp.StatusOK, out)
}

// PrepareUpload 推进任务进入 UPLOAD_READY；已就绪时幂等返回当前状态。
func (h *JobHandler) PrepareUpload(ctx context.Context, rawJobID string) (*dto.JobResponse, error) {
	if h.svc == nil {
		return nil, errServiceUnavailable("job")
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

	job, err := h.svc.PrepareUpload(timeoutCtx, ownerID, jobID)
	if err != nil {
		return nil, asKratosError(err, "prepare upload failed")
	}
	return dto.NewJobResponse(job), nil
}

func (h *JobHandler) handleRecordConsent(ctx khttp.Context) error {
	jobID := ctx.Vars().Get("id")
	khttp.SetOperation(ctx, OperationRecordConsent)
	next := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
		return h.RecordConsent(c, jobID)
	})
	out, err := next(ctx, jobID)
	if err != nil {
		return err
	}
	return ctx.Result(stdhttp.StatusOK, out)
}

// RecordConsent 记录权利确认时间戳；重复调用保持首次时间。
func (h *JobHandler) RecordConsent(ctx context.Context, rawJobID string) (*dto.JobResponse, error) {
	if h.svc == nil {
		return nil, errServiceUnavailable("job")
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

	job, err := h.svc.RecordConsent(timeoutCtx, ownerID, jobID)
	if err != nil {
		return nil, asKratosError(err, "record consent failed")
	}
	return dto.NewJobResponse(job), nil
}

// errMalformedBody 统一请求体解析失败的出参。
func errMalformedBody(err error) error {
	return kerrors.BadRequest(services.ReasonInvalidInput, "malformed request body").WithCause(err)
}

// errServiceUnavailable 统一依赖缺失的出参。
func errServiceUnavailable(name string) error {
	return kerrors.InternalServer(services.ReasonInternal, name+" service not available")
}

// asKratosError 透传服务层的 kratos 错误；未识别的错误折叠为 500，避免内部细节外泄。
func asKratosError(err error, msg string) error {
	var ke *kerrors.Error
	if errors.As(err, &ke) {
		return ke
	}
	return kerrors.InternalServer(services.ReasonInternal, msg).WithCause(err)
}
