package services_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/reelside/reel-services-ingestion/internal/infrastructure/objectstore"
	"github.com/reelside/reel-services-ingestion/internal/models/po"
	"github.com/reelside/reel-services-ingestion/internal/repositories"
	"github.com/reelside/reel-services-ingestion/internal/services"

	"github.com/bionicotaku/lingo-utils/txmanager"
	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const mib = int64(1) << 20

func TestUploadService_InitUploadPlansParts(t *testing.T) {
	job := newIngestionJob(po.JobStatusMetaReady)
	jobs := &jobLedgerStub{job: job}
	sessions := &sessionLedgerStub{}
	store := &multipartStoreStub{uploadID: "mpu-1"}
	svc := newUploadService(t, jobs, sessions, store, &notifierStub{})

	result, err := svc.InitUpload(context.Background(), services.InitUploadInput{
		OwnerID:       job.OwnerID,
		JobID:         job.JobID,
		TotalBytes:    100 * mib,
		PartSizeBytes: 8 * mib,
		ContentType:   "video/mp4",
	})
	if err != nil {
		t.Fatalf("InitUpload: %v", err)
	}
	if result.Resumed {
		t.Fatal("expected a fresh session")
	}
	if result.Plan.TotalParts != 13 {
		t.Fatalf("expected 13 parts, got %d", result.Plan.TotalParts)
	}
	if got := result.Plan.Length(13); got != 4*mib {
		t.Fatalf("expected trailing part of %d bytes, got %d", 4*mib, got)
	}
	if result.Job.Status != po.JobStatusUploading {
		t.Fatalf("expected uploading job, got %s", result.Job.Status)
	}
	wantKey := services.ObjectKeyFor(job.OwnerID, job.JobID)
	if len(store.creates) != 1 || store.creates[0].objectKey != wantKey {
		t.Fatalf("unexpected storage create calls: %+v", store.creates)
	}
	if store.creates[0].contentType != "video/mp4" {
		t.Fatalf("unexpected content type: %s", store.creates[0].contentType)
	}
	if len(sessions.creates) != 1 || sessions.creates[0].TotalParts != 13 || sessions.creates[0].MultipartUploadID != "mpu-1" {
		t.Fatalf("unexpected session create: %+v", sessions.creates)
	}
	if len(jobs.targets) != 1 || jobs.targets[0].totalBytes != 100*mib {
		t.Fatalf("unexpected upload target calls: %+v", jobs.targets)
	}
	if len(jobs.transitions) != 1 || jobs.transitions[0].To != po.JobStatusUploading {
		t.Fatalf("unexpected transitions: %+v", jobs.transitions)
	}
}

func TestUploadService_InitUploadRequiresConsent(t *testing.T) {
	job := newIngestionJob(po.JobStatusMetaReady)
	job.ConsentRecordedAt = nil
	store := &multipartStoreStub{uploadID: "mpu-1"}
	svc := newUploadService(t, &jobLedgerStub{job: job}, &sessionLedgerStub{}, store, &notifierStub{})

	_, err := svc.InitUpload(context.Background(), services.InitUploadInput{
		OwnerID:    job.OwnerID,
		JobID:      job.JobID,
		TotalBytes: 8 * mib,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if kerr := kerrors.FromError(err); kerr == nil || kerr.Reason != services.ReasonConsentRequired {
		t.Fatalf("expected consent error, got %v", err)
	}
	if len(store.creates) != 0 {
		t.Fatal("storage upload must not be created without consent")
	}
}

func TestUploadService_InitUploadResumesActiveSession(t *testing.T) {
	job := newIngestionJob(po.JobStatusUploading)
	session := newActiveSession(job, 100*mib, 8*mib, 13)
	sessions := &sessionLedgerStub{session: session, parts: ackedParts(job.JobID, 1, 2, 5)}
	store := &multipartStoreStub{uploadID: "mpu-1"}
	svc := newUploadService(t, &jobLedgerStub{job: job}, sessions, store, &notifierStub{})

	result, err := svc.InitUpload(context.Background(), services.InitUploadInput{
		OwnerID:    job.OwnerID,
		JobID:      job.JobID,
		TotalBytes: 100 * mib,
	})
	if err != nil {
		t.Fatalf("InitUpload: %v", err)
	}
	if !result.Resumed {
		t.Fatal("expected resumed session")
	}
	if got := result.AckedParts; len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 5 {
		t.Fatalf("unexpected acked parts: %v", got)
	}
	if len(store.creates) != 0 {
		t.Fatal("resume must not create a second storage upload")
	}
}

func TestUploadService_InitUploadRejectsChangedSize(t *testing.T) {
	job := newIngestionJob(po.JobStatusUploading)
	session := newActiveSession(job, 100*mib, 8*mib, 13)
	svc := newUploadService(t, &jobLedgerStub{job: job}, &sessionLedgerStub{session: session}, &multipartStoreStub{uploadID: "mpu-1"}, &notifierStub{})

	_, err := svc.InitUpload(context.Background(), services.InitUploadInput{
		OwnerID:    job.OwnerID,
		JobID:      job.JobID,
		TotalBytes: 64 * mib,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if kerr := kerrors.FromError(err); kerr == nil || kerr.Reason != services.ReasonStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestUploadService_InitUploadAbortsOnLedgerFailure(t *testing.T) {
	job := newIngestionJob(po.JobStatusUploadReady)
	sessions := &sessionLedgerStub{createErr: errors.New("db down")}
	store := &multipartStoreStub{uploadID: "mpu-9"}
	svc := newUploadService(t, &jobLedgerStub{job: job}, sessions, store, &notifierStub{})

	_, err := svc.InitUpload(context.Background(), services.InitUploadInput{
		OwnerID:    job.OwnerID,
		JobID:      job.JobID,
		TotalBytes: 8 * mib,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(store.aborts) != 1 || store.aborts[0].uploadID != "mpu-9" {
		t.Fatalf("expected storage upload to be reclaimed, got %+v", store.aborts)
	}
}

func TestUploadService_InitUploadMapsStorageOutage(t *testing.T) {
	job := newIngestionJob(po.JobStatusUploadReady)
	store := &multipartStoreStub{createErr: fmt.Errorf("create multipart upload: %w", objectstore.ErrStorageUnavailable)}
	svc := newUploadService(t, &jobLedgerStub{job: job}, &sessionLedgerStub{}, store, &notifierStub{})

	_, err := svc.InitUpload(context.Background(), services.InitUploadInput{
		OwnerID:    job.OwnerID,
		JobID:      job.JobID,
		TotalBytes: 8 * mib,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if kerr := kerrors.FromError(err); kerr == nil || kerr.Reason != services.ReasonStorageUnavailable {
		t.Fatalf("expected storage unavailable, got %v", err)
	}
}

func TestUploadService_SignPartsValidatesRange(t *testing.T) {
	job := newIngestionJob(po.JobStatusUploading)
	session := newActiveSession(job, 100*mib, 8*mib, 13)
	svc := newUploadService(t, &jobLedgerStub{job: job}, &sessionLedgerStub{session: session}, &multipartStoreStub{uploadID: "mpu-1"}, &notifierStub{})

	cases := []services.SignPartsInput{
		{OwnerID: job.OwnerID, JobID: job.JobID, FirstPartNumber: 0, LastPartNumber: 1},
		{OwnerID: job.OwnerID, JobID: job.JobID, FirstPartNumber: 5, LastPartNumber: 4},
		{OwnerID: job.OwnerID, JobID: job.JobID, FirstPartNumber: 1, LastPartNumber: 65},
		{OwnerID: job.OwnerID, JobID: job.JobID, FirstPartNumber: 12, LastPartNumber: 14},
	}
	for _, input := range cases {
		if _, err := svc.SignParts(context.Background(), input); err == nil {
			t.Fatalf("expected error for range [%d, %d]", input.FirstPartNumber, input.LastPartNumber)
		}
	}
}

func TestUploadService_SignPartsForwardsNumbers(t *testing.T) {
	job := newIngestionJob(po.JobStatusUploading)
	session := newActiveSession(job, 100*mib, 8*mib, 13)
	store := &multipartStoreStub{uploadID: "mpu-1"}
	svc := newUploadService(t, &jobLedgerStub{job: job}, &sessionLedgerStub{session: session}, store, &notifierStub{})

	signed, err := svc.SignParts(context.Background(), services.SignPartsInput{
		OwnerID:         job.OwnerID,
		JobID:           job.JobID,
		FirstPartNumber: 3,
		LastPartNumber:  6,
	})
	if err != nil {
		t.Fatalf("SignParts: %v", err)
	}
	if len(signed) != 4 {
		t.Fatalf("expected 4 urls, got %d", len(signed))
	}
	if len(store.signCalls) != 1 {
		t.Fatalf("expected one sign call, got %d", len(store.signCalls))
	}
	want := []int32{3, 4, 5, 6}
	for i, n := range store.signCalls[0] {
		if n != want[i] {
			t.Fatalf("unexpected part numbers: %v", store.signCalls[0])
		}
	}
}

func TestUploadService_AckPartChecksPlannedLength(t *testing.T) {
	job := newIngestionJob(po.JobStatusUploading)
	session := newActiveSession(job, 100*mib, 8*mib, 13)
	svc := newUploadService(t, &jobLedgerStub{job: job}, &sessionLedgerStub{session: session}, &multipartStoreStub{uploadID: "mpu-1"}, &notifierStub{})

	// 末片按方案只有 4 MiB，满片长度应被拒绝。
	_, err := svc.AckPart(context.Background(), services.AckUploadPartInput{
		OwnerID:    job.OwnerID,
		JobID:      job.JobID,
		PartNumber: 13,
		ETag:       "etag-13",
		ByteLength: 8 * mib,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if kerr := kerrors.FromError(err); kerr == nil || kerr.Reason != services.ReasonInvalidInput {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUploadService_AckPartRecordsProgress(t *testing.T) {
	job := newIngestionJob(po.JobStatusUploading)
	session := newActiveSession(job, 100*mib, 8*mib, 13)
	jobs := &jobLedgerStub{job: job}
	sessions := &sessionLedgerStub{session: session}
	svc := newUploadService(t, jobs, sessions, &multipartStoreStub{uploadID: "mpu-1"}, &notifierStub{})

	result, err := svc.AckPart(context.Background(), services.AckUploadPartInput{
		OwnerID:    job.OwnerID,
		JobID:      job.JobID,
		PartNumber: 1,
		ETag:       "etag-1",
		ByteLength: 8 * mib,
	})
	if err != nil {
		t.Fatalf("AckPart: %v", err)
	}
	if result.UploadedBytes != 8*mib {
		t.Fatalf("expected %d uploaded bytes, got %d", 8*mib, result.UploadedBytes)
	}
	if result.ProgressPercent != 8 {
		t.Fatalf("expected 8%% progress, got %d", result.ProgressPercent)
	}
	if len(sessions.acks) != 1 || sessions.acks[0].PartNumber != 1 {
		t.Fatalf("unexpected acks: %+v", sessions.acks)
	}
	if len(jobs.progress) != 1 || jobs.progress[0] != 8 {
		t.Fatalf("unexpected progress writes: %v", jobs.progress)
	}
}

func TestUploadService_AckPartHoldsBackFullProgress(t *testing.T) {
	// 尾片只占总量的 0.5% 以下时，四舍五入不得把倒数第二片的确认报成 100。
	tail := 1 * mib
	job := newIngestionJob(po.JobStatusUploading)
	session := newActiveSession(job, 9999*16*mib+tail, 16*mib, 10000)
	jobs := &jobLedgerStub{job: job}
	sessions := &sessionLedgerStub{session: session, uploadedBytes: 9998 * 16 * mib}
	svc := newUploadService(t, jobs, sessions, &multipartStoreStub{uploadID: "mpu-1"}, &notifierStub{})

	result, err := svc.AckPart(context.Background(), services.AckUploadPartInput{
		OwnerID:    job.OwnerID,
		JobID:      job.JobID,
		PartNumber: 9999,
		ETag:       "etag-9999",
		ByteLength: 16 * mib,
	})
	if err != nil {
		t.Fatalf("AckPart: %v", err)
	}
	if result.ProgressPercent != 99 {
		t.Fatalf("expected 99%% before the final part, got %d", result.ProgressPercent)
	}
	if len(jobs.progress) != 1 || jobs.progress[0] != 99 {
		t.Fatalf("unexpected progress writes: %v", jobs.progress)
	}

	final, err := svc.AckPart(context.Background(), services.AckUploadPartInput{
		OwnerID:    job.OwnerID,
		JobID:      job.JobID,
		PartNumber: 10000,
		ETag:       "etag-10000",
		ByteLength: tail,
	})
	if err != nil {
		t.Fatalf("AckPart final: %v", err)
	}
	if final.ProgressPercent != 100 {
		t.Fatalf("expected 100%% at the final part, got %d", final.ProgressPercent)
	}
}

func TestUploadService_AckPartRequiresUploadingJob(t *testing.T) {
	job := newIngestionJob(po.JobStatusMetaReady)
	svc := newUploadService(t, &jobLedgerStub{job: job}, &sessionLedgerStub{}, &multipartStoreStub{uploadID: "mpu-1"}, &notifierStub{})

	_, err := svc.AckPart(context.Background(), services.AckUploadPartInput{
		OwnerID:    job.OwnerID,
		JobID:      job.JobID,
		PartNumber: 1,
		ETag:       "etag-1",
		ByteLength: 8 * mib,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if kerr := kerrors.FromError(err); kerr == nil || kerr.Reason != services.ReasonStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestUploadService_ResumeStateListsMissingParts(t *testing.T) {
	job := newIngestionJob(po.JobStatusUploading)
	session := newActiveSession(job, 100*mib, 8*mib, 13)
	sessions := &sessionLedgerStub{session: session, parts: ackedParts(job.JobID, 1, 2, 3, 5, 8)}
	svc := newUploadService(t, &jobLedgerStub{job: job}, sessions, &multipartStoreStub{uploadID: "mpu-1"}, &notifierStub{})

	state, err := svc.ResumeState(context.Background(), job.OwnerID, job.JobID)
	if err != nil {
		t.Fatalf("ResumeState: %v", err)
	}
	want := []int32{4, 6, 7, 9, 10, 11, 12, 13}
	if len(state.MissingParts) != len(want) {
		t.Fatalf("unexpected missing parts: %v", state.MissingParts)
	}
	for i, n := range want {
		if state.MissingParts[i] != n {
			t.Fatalf("unexpected missing parts: %v", state.MissingParts)
		}
	}
}

func TestUploadService_CompleteRejectsMissingParts(t *testing.T) {
	job := newIngestionJob(po.JobStatusUploading)
	session := newActiveSession(job, 100*mib, 8*mib, 13)
	sessions := &sessionLedgerStub{session: session, parts: ackedRange(job.JobID, 1, 12)}
	store := &multipartStoreStub{uploadID: "mpu-1"}
	svc := newUploadService(t, &jobLedgerStub{job: job}, sessions, store, &notifierStub{})

	_, err := svc.Complete(context.Background(), job.OwnerID, job.JobID)
	if err == nil {
		t.Fatal("expected error")
	}
	if kerr := kerrors.FromError(err); kerr == nil || kerr.Reason != services.ReasonUploadIncomplete {
		t.Fatalf("expected incomplete error, got %v", err)
	}
	if len(store.completes) != 0 {
		t.Fatal("storage merge must not run with missing parts")
	}
}

func TestUploadService_CompleteFinalizesJob(t *testing.T) {
	job := newIngestionJob(po.JobStatusUploading)
	session := newActiveSession(job, 100*mib, 8*mib, 13)
	jobs := &jobLedgerStub{job: job}
	sessions := &sessionLedgerStub{session: session, parts: ackedRange(job.JobID, 1, 13)}
	store := &multipartStoreStub{uploadID: "mpu-1", completeKey: session.ObjectKey}
	notifier := &notifierStub{}
	svc := newUploadService(t, jobs, sessions, store, notifier)

	result, err := svc.Complete(context.Background(), job.OwnerID, job.JobID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result.Job.Status != po.JobStatusUploaded {
		t.Fatalf("expected uploaded job, got %s", result.Job.Status)
	}
	if len(store.completes) != 1 || len(store.completes[0].parts) != 13 {
		t.Fatalf("unexpected merge calls: %+v", store.completes)
	}
	if sessions.completed != 1 {
		t.Fatalf("expected session completion, got %d", sessions.completed)
	}
	if len(jobs.progress) != 1 || jobs.progress[0] != 100 {
		t.Fatalf("unexpected progress writes: %v", jobs.progress)
	}
	if len(notifier.triggers) != 1 || notifier.triggers[0].objectKey != session.ObjectKey {
		t.Fatalf("unexpected processing triggers: %+v", notifier.triggers)
	}
}

func TestUploadService_CompleteIdempotentAfterMerge(t *testing.T) {
	job := newIngestionJob(po.JobStatusUploaded)
	job.ObjectKey = services.ObjectKeyFor(job.OwnerID, job.JobID)
	store := &multipartStoreStub{uploadID: "mpu-1"}
	svc := newUploadService(t, &jobLedgerStub{job: job}, &sessionLedgerStub{}, store, &notifierStub{})

	result, err := svc.Complete(context.Background(), job.OwnerID, job.JobID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if result.ObjectKey != job.ObjectKey {
		t.Fatalf("unexpected object key: %s", result.ObjectKey)
	}
	if len(store.completes) != 0 {
		t.Fatal("repeated completion must not touch storage")
	}
}

func TestUploadService_CompleteMapsStorageIncomplete(t *testing.T) {
	job := newIngestionJob(po.JobStatusUploading)
	session := newActiveSession(job, 100*mib, 8*mib, 13)
	sessions := &sessionLedgerStub{session: session, parts: ackedRange(job.JobID, 1, 13)}
	store := &multipartStoreStub{uploadID: "mpu-1", completeErr: objectstore.ErrIncompleteUpload}
	svc := newUploadService(t, &jobLedgerStub{job: job}, sessions, store, &notifierStub{})

	_, err := svc.Complete(context.Background(), job.OwnerID, job.JobID)
	if err == nil {
		t.Fatal("expected error")
	}
	if kerr := kerrors.FromError(err); kerr == nil || kerr.Reason != services.ReasonUploadIncomplete {
		t.Fatalf("expected incomplete error, got %v", err)
	}
}

func TestUploadService_CompleteSurvivesTriggerFailure(t *testing.T) {
	job := newIngestionJob(po.JobStatusUploading)
	session := newActiveSession(job, 100*mib, 8*mib, 13)
	sessions := &sessionLedgerStub{session: session, parts: ackedRange(job.JobID, 1, 13)}
	notifier := &notifierStub{err: errors.New("processing down")}
	svc := newUploadService(t, &jobLedgerStub{job: job}, sessions, &multipartStoreStub{uploadID: "mpu-1"}, notifier)

	if _, err := svc.Complete(context.Background(), job.OwnerID, job.JobID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestUploadService_AbortReclaimsStorage(t *testing.T) {
	job := newIngestionJob(po.JobStatusUploading)
	session := newActiveSession(job, 100*mib, 8*mib, 13)
	jobs := &jobLedgerStub{job: job}
	sessions := &sessionLedgerStub{session: session}
	store := &multipartStoreStub{uploadID: "mpu-1"}
	svc := newUploadService(t, jobs, sessions, store, &notifierStub{})

	failed, err := svc.Abort(context.Background(), job.OwnerID, job.JobID, "")
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if failed.Status != po.JobStatusFailed {
		t.Fatalf("expected failed job, got %s", failed.Status)
	}
	if len(store.aborts) != 1 {
		t.Fatalf("expected storage abort, got %d", len(store.aborts))
	}
	if sessions.aborted != 1 {
		t.Fatalf("expected session abort, got %d", sessions.aborted)
	}
	if len(jobs.failures) != 1 || jobs.failures[0].Stage != po.ErrorStageUpload {
		t.Fatalf("unexpected failure records: %+v", jobs.failures)
	}
	if jobs.failures[0].Message != "upload aborted by user" {
		t.Fatalf("unexpected default reason: %q", jobs.failures[0].Message)
	}
}

func TestUploadService_AbortRejectsFinishedJob(t *testing.T) {
	job := newIngestionJob(po.JobStatusReady)
	svc := newUploadService(t, &jobLedgerStub{job: job}, &sessionLedgerStub{}, &multipartStoreStub{uploadID: "mpu-1"}, &notifierStub{})

	_, err := svc.Abort(context.Background(), job.OwnerID, job.JobID, "late regret")
	if err == nil {
		t.Fatal("expected error")
	}
	if kerr := kerrors.FromError(err); kerr == nil || kerr.Reason != services.ReasonStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestUploadService_SweepStaleSessionsReclaimsLeftovers(t *testing.T) {
	job := newIngestionJob(po.JobStatusUploading)
	session := newActiveSession(job, 100*mib, 8*mib, 13)
	jobs := &jobLedgerStub{job: job}
	sessions := &sessionLedgerStub{session: session, stale: []*po.UploadSession{session}}
	store := &multipartStoreStub{uploadID: "mpu-1"}
	svc := newUploadService(t, jobs, sessions, store, &notifierStub{})

	swept, err := svc.SweepStaleSessions(context.Background(), time.Hour, 10)
	if err != nil {
		t.Fatalf("SweepStaleSessions: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept session, got %d", swept)
	}
	if len(store.aborts) != 1 {
		t.Fatalf("expected storage abort, got %d", len(store.aborts))
	}
	if sessions.aborted != 1 {
		t.Fatalf("expected session abort, got %d", sessions.aborted)
	}
	if len(jobs.failures) != 1 || jobs.failures[0].Stage != po.ErrorStageUpload {
		t.Fatalf("unexpected failure records: %+v", jobs.failures)
	}
}

func TestUploadService_SweepStaleSessionsNoopWhenClean(t *testing.T) {
	sessions := &sessionLedgerStub{}
	store := &multipartStoreStub{uploadID: "mpu-1"}
	svc := newUploadService(t, &jobLedgerStub{}, sessions, store, &notifierStub{})

	swept, err := svc.SweepStaleSessions(context.Background(), time.Hour, 10)
	if err != nil {
		t.Fatalf("SweepStaleSessions: %v", err)
	}
	if swept != 0 || len(store.aborts) != 0 || sessions.aborted != 0 {
		t.Fatalf("expected no sweep activity, got swept=%d aborts=%d sessionAborts=%d", swept, len(store.aborts), sessions.aborted)
	}
}

func TestUploadService_HidesForeignJobs(t *testing.T) {
	job := newIngestionJob(po.JobStatusUploading)
	svc := newUploadService(t, &jobLedgerStub{job: job}, &sessionLedgerStub{}, &multipartStoreStub{uploadID: "mpu-1"}, &notifierStub{})

	_, err := svc.ResumeState(context.Background(), uuid.New(), job.JobID)
	if err == nil {
		t.Fatal("expected error")
	}
	if kerr := kerrors.FromError(err); kerr == nil || kerr.Reason != services.ReasonJobNotFound {
		t.Fatalf("expected not found for foreign owner, got %v", err)
	}
}

// ---- fixtures ----

func newIngestionJob(status po.JobStatus) *po.IngestionJob {
	now := time.Now().UTC()
	consent := now.Add(-time.Minute)
	return &po.IngestionJob{
		JobID:             uuid.New(),
		OwnerID:           uuid.New(),
		SourceKind:        po.SourceKindBrowserUpload,
		Status:            status,
		SourceReference:   "weekend-cut.mp4",
		ConsentRecordedAt: &consent,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func newActiveSession(job *po.IngestionJob, totalBytes, partSizeBytes int64, totalParts int32) *po.UploadSession {
	now := time.Now().UTC()
	return &po.UploadSession{
		JobID:             job.JobID,
		MultipartUploadID: "mpu-1",
		ObjectKey:         services.ObjectKeyFor(job.OwnerID, job.JobID),
		PartSizeBytes:     partSizeBytes,
		TotalParts:        totalParts,
		TotalBytes:        totalBytes,
		Status:            po.SessionStatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func ackedParts(jobID uuid.UUID, numbers ...int32) []*po.AcknowledgedPart {
	parts := make([]*po.AcknowledgedPart, 0, len(numbers))
	for _, n := range numbers {
		parts = append(parts, &po.AcknowledgedPart{
			JobID:      jobID,
			PartNumber: n,
			ETag:       fmt.Sprintf("etag-%d", n),
			ByteLength: 8 * mib,
			AckedAt:    time.Now().UTC(),
		})
	}
	return parts
}

func ackedRange(jobID uuid.UUID, first, last int32) []*po.AcknowledgedPart {
	numbers := make([]int32, 0, last-first+1)
	for n := first; n <= last; n++ {
		numbers = append(numbers, n)
	}
	return ackedParts(jobID, numbers...)
}

func newUploadService(t *testing.T, jobs *jobLedgerStub, sessions *sessionLedgerStub, store *multipartStoreStub, notifier *notifierStub) *services.UploadService {
	t.Helper()
	svc, err := services.NewUploadService(jobs, sessions, store, notifier, noopTxManager{}, 8*mib, log.NewStdLogger(io.Discard))
	if err != nil {
		t.Fatalf("NewUploadService: %v", err)
	}
	return svc
}

// ---- stubs ----

type jobLedgerStub struct {
	job           *po.IngestionJob
	created       []repositories.CreateJobInput
	createErr     error
	listed        []*po.IngestionJob
	listLimit     int32
	metadata      []repositories.UpdateMetadataInput
	metadataErr   error
	consents      int
	transitions   []repositories.TransitionInput
	transitionErr error
	targets       []uploadTargetCall
	progress      []int32
	failures      []repositories.FailInput
	readyCalls    int
	claimQueue    []*po.IngestionJob
}

type uploadTargetCall struct {
	jobID       uuid.UUID
	objectKey   string
	contentType *string
	totalBytes  int64
}

func (s *jobLedgerStub) Create(_ context.Context, _ txmanager.Session, input repositories.CreateJobInput) (*po.IngestionJob, error) {
	s.created = append(s.created, input)
	if s.createErr != nil {
		return nil, s.createErr
	}
	now := time.Now().UTC()
	return &po.IngestionJob{
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
	}, nil
}

func (s *jobLedgerStub) Get(_ context.Context, _ txmanager.Session, _ uuid.UUID) (*po.IngestionJob, error) {
	if s.job == nil {
		return nil, repositories.ErrJobNotFound
	}
	return s.job, nil
}

func (s *jobLedgerStub) ListByOwner(_ context.Context, _ txmanager.Session, _ uuid.UUID, limit int32) ([]*po.IngestionJob, error) {
	s.listLimit = limit
	return s.listed, nil
}

func (s *jobLedgerStub) UpdateMetadata(_ context.Context, _ txmanager.Session, input repositories.UpdateMetadataInput) (*po.IngestionJob, error) {
	s.metadata = append(s.metadata, input)
	if s.metadataErr != nil {
		return nil, s.metadataErr
	}
	if s.job == nil {
		return nil, repositories.ErrJobNotFound
	}
	return s.job, nil
}

func (s *jobLedgerStub) RecordConsent(_ context.Context, _ txmanager.Session, _ uuid.UUID) (*po.IngestionJob, error) {
	s.consents++
	if s.job == nil {
		return nil, repositories.ErrJobNotFound
	}
	if s.job.ConsentRecordedAt == nil {
		now := time.Now().UTC()
		s.job.ConsentRecordedAt = &now
	}
	return s.job, nil
}

func (s *jobLedgerStub) Transition(_ context.Context, _ txmanager.Session, input repositories.TransitionInput) (*po.IngestionJob, error) {
	s.transitions = append(s.transitions, input)
	if s.transitionErr != nil {
		return nil, s.transitionErr
	}
	if s.job == nil {
		return nil, repositories.ErrJobNotFound
	}
	moved := *s.job
	moved.Status = input.To
	if input.ResetProgress {
		moved.ProgressPercent = 0
	}
	s.job = &moved
	return &moved, nil
}

func (s *jobLedgerStub) SetUploadTarget(_ context.Context, _ txmanager.Session, jobID uuid.UUID, objectKey string, contentType *string, totalBytes int64) (*po.IngestionJob, error) {
	s.targets = append(s.targets, uploadTargetCall{jobID: jobID, objectKey: objectKey, contentType: contentType, totalBytes: totalBytes})
	if s.job == nil {
		return nil, repositories.ErrJobNotFound
	}
	return s.job, nil
}

func (s *jobLedgerStub) SetProgress(_ context.Context, _ txmanager.Session, _ uuid.UUID, percent int32) (int32, error) {
	s.progress = append(s.progress, percent)
	if s.job == nil {
		return percent, nil
	}
	if percent > s.job.ProgressPercent {
		s.job.ProgressPercent = percent
	}
	return s.job.ProgressPercent, nil
}

func (s *jobLedgerStub) MarkFailed(_ context.Context, _ txmanager.Session, input repositories.FailInput) (*po.IngestionJob, error) {
	s.failures = append(s.failures, input)
	if s.job == nil {
		return nil, repositories.ErrJobNotFound
	}
	failed := *s.job
	failed.Status = po.JobStatusFailed
	stage := input.Stage
	failed.ErrorStage = &stage
	message := input.Message
	failed.ErrorMessage = &message
	s.job = &failed
	return &failed, nil
}

func (s *jobLedgerStub) MarkReady(_ context.Context, _ txmanager.Session, _ uuid.UUID) (*po.IngestionJob, error) {
	s.readyCalls++
	if s.job == nil {
		return nil, repositories.ErrJobNotFound
	}
	ready := *s.job
	ready.Status = po.JobStatusReady
	ready.ProgressPercent = 100
	s.job = &ready
	return &ready, nil
}

func (s *jobLedgerStub) ClaimPendingStream(_ context.Context, _ txmanager.Session, limit int32) ([]*po.IngestionJob, error) {
	if len(s.claimQueue) == 0 {
		return nil, nil
	}
	n := int(limit)
	if n <= 0 || n > len(s.claimQueue) {
		n = len(s.claimQueue)
	}
	claimed := s.claimQueue[:n]
	s.claimQueue = s.claimQueue[n:]
	return claimed, nil
}

type sessionLedgerStub struct {
	session       *po.UploadSession
	creates       []repositories.CreateSessionInput
	createErr     error
	acks          []repositories.AckPartInput
	uploadedBytes int64
	parts         []*po.AcknowledgedPart
	stale         []*po.UploadSession
	completed     int
	aborted       int
}

func (s *sessionLedgerStub) Create(_ context.Context, _ txmanager.Session, input repositories.CreateSessionInput) (*po.UploadSession, error) {
	s.creates = append(s.creates, input)
	if s.createErr != nil {
		return nil, s.createErr
	}
	now := time.Now().UTC()
	created := &po.UploadSession{
		JobID:             input.JobID,
		MultipartUploadID: input.MultipartUploadID,
		ObjectKey:         input.ObjectKey,
		PartSizeBytes:     input.PartSizeBytes,
		TotalParts:        input.TotalParts,
		TotalBytes:        input.TotalBytes,
		Status:            po.SessionStatusActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.session = created
	return created, nil
}

func (s *sessionLedgerStub) Get(_ context.Context, _ txmanager.Session, _ uuid.UUID) (*po.UploadSession, error) {
	if s.session == nil {
		return nil, repositories.ErrUploadSessionNotFound
	}
	return s.session, nil
}

func (s *sessionLedgerStub) AckPart(_ context.Context, _ txmanager.Session, input repositories.AckPartInput) (int64, error) {
	s.acks = append(s.acks, input)
	s.uploadedBytes += input.ByteLength
	return s.uploadedBytes, nil
}

func (s *sessionLedgerStub) ListParts(_ context.Context, _ txmanager.Session, _ uuid.UUID) ([]*po.AcknowledgedPart, error) {
	return s.parts, nil
}

func (s *sessionLedgerStub) MarkCompleted(_ context.Context, _ txmanager.Session, _ uuid.UUID) error {
	s.completed++
	return nil
}

func (s *sessionLedgerStub) MarkAborted(_ context.Context, _ txmanager.Session, _ uuid.UUID) error {
	s.aborted++
	return nil
}

func (s *sessionLedgerStub) ListStaleActive(_ context.Context, _ txmanager.Session, _ time.Time, _ int32) ([]*po.UploadSession, error) {
	return s.stale, nil
}

type multipartStoreStub struct {
	uploadID    string
	createErr   error
	creates     []createUploadCall
	signCalls   [][]int32
	completeKey string
	completeErr error
	completes   []completeUploadCall
	aborts      []abortUploadCall
}

type createUploadCall struct {
	objectKey   string
	contentType string
}

type completeUploadCall struct {
	uploadID  string
	objectKey string
	parts     []objectstore.CompletedPart
}

type abortUploadCall struct {
	uploadID  string
	objectKey string
}

func (s *multipartStoreStub) CreateUpload(_ context.Context, objectKey, contentType string) (string, error) {
	s.creates = append(s.creates, createUploadCall{objectKey: objectKey, contentType: contentType})
	if s.createErr != nil {
		return "", s.createErr
	}
	return s.uploadID, nil
}

func (s *multipartStoreStub) SignPartUploads(_ context.Context, _ string, _ string, partNumbers []int32) ([]objectstore.SignedPartURL, error) {
	s.signCalls = append(s.signCalls, append([]int32(nil), partNumbers...))
	signed := make([]objectstore.SignedPartURL, 0, len(partNumbers))
	for _, n := range partNumbers {
		signed = append(signed, objectstore.SignedPartURL{
			PartNumber: n,
			URL:        fmt.Sprintf("https://store.example/parts/%d", n),
			ExpiresAt:  time.Now().UTC().Add(15 * time.Minute),
		})
	}
	return signed, nil
}

func (s *multipartStoreStub) CompleteUpload(_ context.Context, uploadID, objectKey string, parts []objectstore.CompletedPart) (string, error) {
	s.completes = append(s.completes, completeUploadCall{uploadID: uploadID, objectKey: objectKey, parts: append([]objectstore.CompletedPart(nil), parts...)})
	if s.completeErr != nil {
		return "", s.completeErr
	}
	if s.completeKey != "" {
		return s.completeKey, nil
	}
	return objectKey, nil
}

func (s *multipartStoreStub) AbortUpload(_ context.Context, uploadID, objectKey string) error {
	s.aborts = append(s.aborts, abortUploadCall{uploadID: uploadID, objectKey: objectKey})
	return nil
}

type notifierStub struct {
	err      error
	triggers []processingTrigger
}

type processingTrigger struct {
	jobID     uuid.UUID
	objectKey string
}

func (s *notifierStub) TriggerProcessing(_ context.Context, jobID uuid.UUID, objectKey string) error {
	s.triggers = append(s.triggers, processingTrigger{jobID: jobID, objectKey: objectKey})
	return s.err
}

type noopTxManager struct{}

type noopSession struct{}

func (noopSession) Tx() pgx.Tx               { return nil }
func (noopSession) Context() context.Context { return context.Background() }

func (noopTxManager) WithinTx(ctx context.Context, _ txmanager.TxOptions, fn func(context.Context, txmanager.Session) error) error {
	return fn(ctx, noopSession{})
}

func (noopTxManager) WithinReadOnlyTx(ctx context.Context, _ txmanager.TxOptions, fn func(context.Context, txmanager.Session) error) error {
	return fn(ctx, noopSession{})
}
