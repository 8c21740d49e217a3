package objectstore_test

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/reelside/reel-services-ingestion/internal/infrastructure/configloader"
	"github.com/reelside/reel-services-ingestion/internal/infrastructure/objectstore"
)

func testConfig() configloader.ObjectStoreConfig {
	return configloader.ObjectStoreConfig{
		Endpoint:        "http://127.0.0.1:9000",
		Region:          "us-east-1",
		Bucket:          "reel-ingest-test",
		AccessKeyID:     "test-access",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
		SignedURLTTL:    10 * time.Minute,
	}
}

func newTestGateway(t *testing.T, opts ...objectstore.Option) *objectstore.Gateway {
	t.Helper()
	gateway, err := objectstore.NewGateway(context.Background(), testConfig(), log.NewStdLogger(io.Discard), opts...)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return gateway
}

func TestNewGatewayValidatesConfig(t *testing.T) {
	logger := log.NewStdLogger(io.Discard)

	cfg := testConfig()
	cfg.Bucket = ""
	if _, err := objectstore.NewGateway(context.Background(), cfg, logger); !errors.Is(err, objectstore.ErrStorageUnavailable) {
		t.Fatalf("missing bucket: expected ErrStorageUnavailable, got %v", err)
	}

	cfg = testConfig()
	cfg.Region = ""
	if _, err := objectstore.NewGateway(context.Background(), cfg, logger); !errors.Is(err, objectstore.ErrStorageUnavailable) {
		t.Fatalf("missing region: expected ErrStorageUnavailable, got %v", err)
	}
}

func TestSignPartUploadsBatch(t *testing.T) {
	fixed := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	gateway := newTestGateway(t, objectstore.WithClock(func() time.Time { return fixed }))

	signed, err := gateway.SignPartUploads(context.Background(), "upload-1", "videos/u/j/original", []int32{1, 2, 3})
	if err != nil {
		t.Fatalf("SignPartUploads: %v", err)
	}
	if len(signed) != 3 {
		t.Fatalf("expected 3 urls, got %d", len(signed))
	}
	for i, part := range signed {
		if part.PartNumber != int32(i+1) {
			t.Fatalf("expected part %d at index %d, got %d", i+1, i, part.PartNumber)
		}
		if !strings.Contains(part.URL, "partNumber="+strconv.Itoa(i+1)) {
			t.Fatalf("url for part %d missing part number query: %s", i+1, part.URL)
		}
		if !strings.Contains(part.URL, "127.0.0.1:9000") {
			t.Fatalf("url should target configured endpoint: %s", part.URL)
		}
		if !part.ExpiresAt.Equal(fixed.Add(10 * time.Minute)) {
			t.Fatalf("unexpected expiry %v", part.ExpiresAt)
		}
	}
}

func TestSignPartUploadsRejectsInvalidInput(t *testing.T) {
	gateway := newTestGateway(t)

	if _, err := gateway.SignPartUploads(context.Background(), "upload-1", "key", nil); err == nil {
		t.Fatal("expected error for empty part list")
	}
	if _, err := gateway.SignPartUploads(context.Background(), "upload-1", "key", []int32{0}); err == nil {
		t.Fatal("expected error for part number below 1")
	}
	if _, err := gateway.SignPartUploads(context.Background(), "", "key", []int32{1}); err == nil {
		t.Fatal("expected error for missing upload id")
	}
}

func TestCompleteUploadRejectsGaps(t *testing.T) {
	gateway := newTestGateway(t)
	ctx := context.Background()

	_, err := gateway.CompleteUpload(ctx, "upload-1", "key", nil)
	if !errors.Is(err, objectstore.ErrIncompleteUpload) {
		t.Fatalf("empty list: expected ErrIncompleteUpload, got %v", err)
	}

	_, err = gateway.CompleteUpload(ctx, "upload-1", "key", []objectstore.CompletedPart{
		{PartNumber: 1, ETag: "a"},
		{PartNumber: 3, ETag: "c"},
	})
	if !errors.Is(err, objectstore.ErrIncompleteUpload) {
		t.Fatalf("gapped list: expected ErrIncompleteUpload, got %v", err)
	}

	_, err = gateway.CompleteUpload(ctx, "upload-1", "key", []objectstore.CompletedPart{
		{PartNumber: 2, ETag: "b"},
	})
	if !errors.Is(err, objectstore.ErrIncompleteUpload) {
		t.Fatalf("list not starting at 1: expected ErrIncompleteUpload, got %v", err)
	}

	_, err = gateway.CompleteUpload(ctx, "upload-1", "key", []objectstore.CompletedPart{
		{PartNumber: 1, ETag: ""},
	})
	if !errors.Is(err, objectstore.ErrIncompleteUpload) {
		t.Fatalf("missing etag: expected ErrIncompleteUpload, got %v", err)
	}
}
