package services

import (
	"errors"

	kerrors "github.com/go-kratos/kratos/v2/errors"

	"github.com/reelside/reel-services-ingestion/internal/repositories"
)

// 对外错误的 Reason 常量，写入 kratos error 的 Reason 字段，供调用方按原因分支。
const (
	ReasonInvalidInput       = "INGESTION_INVALID_INPUT"
	ReasonIdentityRequired   = "INGESTION_IDENTITY_REQUIRED"
	ReasonConsentRequired    = "INGESTION_CONSENT_REQUIRED"
	ReasonJobNotFound        = "INGESTION_JOB_NOT_FOUND"
	ReasonStateConflict      = "INGESTION_STATE_CONFLICT"
	ReasonStorageUnavailable = "STORAGE_UNAVAILABLE"
	ReasonUploadIncomplete   = "UPLOAD_INCOMPLETE"
	ReasonTransportFailed    = "UPLOAD_TRANSPORT_FAILED"
	ReasonResolutionFailed   = "STREAM_RESOLUTION_FAILED"
	ReasonProcessingFailed   = "PROCESSING_FAILED"
	ReasonInternal           = "INGESTION_INTERNAL"
)

// ErrJobNotFound 是任务不存在（或不属于当前用户）时返回的哨兵错误。
var ErrJobNotFound = kerrors.NotFound(ReasonJobNotFound, "ingestion job not found")

// ErrConsentRequired 在未记录权利确认即尝试开始摄取时返回。
var ErrConsentRequired = kerrors.Forbidden(ReasonConsentRequired, "rights consent must be recorded before ingestion starts")

// mapLedgerError 将仓储层错误映射为对外错误；未识别的错误原样返回由上层包装。
func mapLedgerError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repositories.ErrJobNotFound):
		return ErrJobNotFound
	case errors.Is(err, repositories.ErrStateConflict):
		return kerrors.Conflict(ReasonStateConflict, err.Error()).WithCause(err)
	default:
		return err
	}
}
