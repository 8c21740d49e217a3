package controllers_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/reelside/reel-services-ingestion/internal/controllers"
	"github.com/reelside/reel-services-ingestion/internal/controllers/dto"
	"github.com/reelside/reel-services-ingestion/internal/models/po"
	"github.com/reelside/reel-services-ingestion/internal/repositories"
	"github.com/reelside/reel-services-ingestion/internal/services"

	"github.com/bionicotaku/lingo-utils/txmanager"
	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// ---- stubs ----

type jobLedgerStub struct {
	job     *po.IngestionJob
	created *po.IngestionJob
}

func (s *jobLedgerStub) Create(_ context.Context, _ txmanager.Session, input repositories.CreateJobInput) (*po.IngestionJob, error) {
	now := time.Now()
	job := &po.IngestionJob{
		JobID:           uuid.New(),
		OwnerID:         input.OwnerID,
		SourceKind:      input.SourceKind,
		Status:          po.JobStatusCreated,
		SourceReference: input.SourceReference,
		ContentType:     input.ContentType,
		TotalBytes:      input.TotalBytes,
		Title:           input.Title,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	job.ObjectKey = "videos/" + input.OwnerID.String() + "/" + job.JobID.String() + "/original"
	s.created = job
	return job, nil
}

func (s *jobLedgerStub) Get(_ context.Context, _ txmanager.Session, jobID uuid.UUID) (*po.IngestionJob, error) {
	if s.job == nil || s.job.JobID != jobID {
		return nil, repositories.ErrJobNotFound
	}
	return s.job, nil
}

func (s *jobLedgerStub) ListByOwner(_ context.Context, _ txmanager.Session, _ uuid.UUID, _ int32) ([]*po.IngestionJob, error) {
	if s.job == nil {
		return nil, nil
	}
	return []*po.IngestionJob{s.job}, nil
}

func (s *jobLedgerStub) UpdateMetadata(_ context.Context, _ txmanager.Session, input repositories.UpdateMetadataInput) (*po.IngestionJob, error) {
	if s.job == nil {
		return nil, repositories.ErrJobNotFound
	}
	updated := *s.job
	if input.Title != nil {
		updated.Title = input.Title
	}
	if input.ThumbnailURL != nil {
		updated.ThumbnailURL = input.ThumbnailURL
	}
	if input.DurationSeconds != nil {
		updated.DurationSeconds = input.DurationSeconds
	}
	s.job = &updated
	return s.job, nil
}

func (s *jobLedgerStub) RecordConsent(_ context.Context, _ txmanager.Session, _ uuid.UUID) (*po.IngestionJob, error) {
	if s.job == nil {
		return nil, repositories.ErrJobNotFound
	}
	now := time.Now()
	updated := *s.job
	updated.ConsentRecordedAt = &now
	s.job = &updated
	return s.job, nil
}

func (s *jobLedgerStub) Transition(_ context.Context, _ txmanager.Session, input repositories.TransitionInput) (*po.IngestionJob, error) {
	if s.job == nil {
		return nil, repositories.ErrJobNotFound
	}
	updated := *s.job
	updated.Status = input.To
	s.job = &updated
	return s.job, nil
}

type sessionReaderStub struct {
	session *po.UploadSession
}

func (s sessionReaderStub) Get(_ context.Context, _ txmanager.Session, _ uuid.UUID) (*po.UploadSession, error) {
	if s.session == nil {
		return nil, repositories.ErrUploadSessionNotFound
	}
	return s.session, nil
}

func newJobHandler(t *testing.T, jobs *jobLedgerStub) *controllers.JobHandler {
	t.Helper()
	svc, err := services.NewJobService(jobs, sessionReaderStub{}, log.NewStdLogger(io.Discard))
	if err != nil {
		t.Fatalf("NewJobService: %v", err)
	}
	return controllers.NewJobHandler(controllers.NewBaseHandler(controllers.HandlerTimeouts{}), svc)
}

// ---- tests ----

func TestJobHandlerCreateJob(t *testing.T) {
	jobs := &jobLedgerStub{}
	handler := newJobHandler(t, jobs)
	ownerID := uuid.New()

	resp, err := handler.CreateJob(serverContextWithUser(ownerID.String()), &dto.CreateJobRequest{
		SourceKind:      "browser_upload",
		SourceReference: "weekend-cut.mp4",
		Title:           "Weekend Cut",
		ContentType:     "video/mp4",
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if resp == nil || resp.Job == nil {
		t.Fatal("expected job in response")
	}
	if resp.Job.Status != "created" {
		t.Fatalf("expected status created, got %s", resp.Job.Status)
	}
	if resp.Job.Title != "Weekend Cut" {
		t.Fatalf("expected title to round-trip, got %q", resp.Job.Title)
	}
	if jobs.created == nil || jobs.created.OwnerID != ownerID {
		t.Fatalf("expected ledger write for owner %s", ownerID)
	}
}

func TestJobHandlerCreateJobRequiresIdentity(t *testing.T) {
	handler := newJobHandler(t, &jobLedgerStub{})

	_, err := handler.CreateJob(context.Background(), &dto.CreateJobRequest{
		SourceKind:      "browser_upload",
		SourceReference: "weekend-cut.mp4",
	})
	ke := kerrors.FromError(err)
	if ke == nil || ke.Code != 401 {
		t.Fatalf("expected 401 without identity metadata, got %v", err)
	}
}

func TestJobHandlerCreateJobRejectsGarbledIdentity(t *testing.T) {
	handler := newJobHandler(t, &jobLedgerStub{})

	_, err := handler.CreateJob(serverContextWithUser("definitely-not-a-uuid"), &dto.CreateJobRequest{
		SourceKind:      "browser_upload",
		SourceReference: "weekend-cut.mp4",
	})
	ke := kerrors.FromError(err)
	if ke == nil || ke.Code != 400 {
		t.Fatalf("expected 400 for malformed identity, got %v", err)
	}
}

func TestJobHandlerGetJobValidatesID(t *testing.T) {
	handler := newJobHandler(t, &jobLedgerStub{})

	_, err := handler.GetJob(serverContextWithUser(uuid.New().String()), "nope")
	ke := kerrors.FromError(err)
	if ke == nil || ke.Code != 400 || ke.Reason != services.ReasonInvalidInput {
		t.Fatalf("expected invalid-input 400, got %v", err)
	}
}

func TestJobHandlerGetJobKeepsNotFoundReason(t *testing.T) {
	foreign := uuid.New()
	jobs := &jobLedgerStub{job: &po.IngestionJob{
		JobID:   uuid.New(),
		OwnerID: foreign,
		Status:  po.JobStatusCreated,
	}}
	handler := newJobHandler(t, jobs)

	_, err := handler.GetJob(serverContextWithUser(uuid.New().String()), jobs.job.JobID.String())
	ke := kerrors.FromError(err)
	if ke == nil || ke.Code != 404 || ke.Reason != services.ReasonJobNotFound {
		t.Fatalf("expected job-not-found 404, got %v", err)
	}
}

func TestJobHandlerUpdateMetadata(t *testing.T) {
	ownerID := uuid.New()
	jobs := &jobLedgerStub{job: &po.IngestionJob{
		JobID:           uuid.New(),
		OwnerID:         ownerID,
		Status:          po.JobStatusCreated,
		SourceKind:      po.SourceKindBrowserUpload,
		SourceReference: "weekend-cut.mp4",
	}}
	handler := newJobHandler(t, jobs)

	title := "Final Cut"
	resp, err := handler.UpdateMetadata(serverContextWithUser(ownerID.String()), jobs.job.JobID.String(), &dto.UpdateJobMetadataRequest{
		Title: &title,
	})
	if err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}
	if resp.Job.Title != "Final Cut" {
		t.Fatalf("expected patched title, got %q", resp.Job.Title)
	}
	// 元数据写入成功后 created 任务顺势进入 meta_ready。
	if resp.Job.Status != "meta_ready" {
		t.Fatalf("expected meta_ready after metadata write, got %s", resp.Job.Status)
	}
}

func TestJobHandlerListJobsRejectsBadLimit(t *testing.T) {
	handler := newJobHandler(t, &jobLedgerStub{})

	_, err := handler.ListJobs(serverContextWithUser(uuid.New().String()), "many")
	ke := kerrors.FromError(err)
	if ke == nil || ke.Code != 400 {
		t.Fatalf("expected 400 for non-numeric limit, got %v", err)
	}
}
