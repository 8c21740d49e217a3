package streamingest_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/reelside/reel-services-ingestion/internal/streamingest"
)

func discardLogger() log.Logger { return log.NewStdLogger(io.Discard) }

func TestResolveReturnsFirstHealthyEndpoint(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "resolver exploded", http.StatusInternalServerError)
	}))
	defer broken.Close()

	var gotSource string
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSource = r.URL.Query().Get("source")
		if accept := r.Header.Get("Accept"); accept != "application/json" {
			t.Errorf("accept header = %q", accept)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"streamUrl": "https://origin.test/v/abc.mp4",
			"contentLength": 104857600,
			"contentType": "video/mp4",
			"title": "Short Film",
			"thumbnailUrl": "https://origin.test/v/abc.jpg",
			"durationSeconds": 212
		}`))
	}))
	defer healthy.Close()

	r, err := streamingest.NewResolver([]string{broken.URL, healthy.URL}, time.Second, nil, discardLogger())
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	source := "https://www.youtube.com/watch?v=abc123"
	desc, err := r.Resolve(context.Background(), source)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if gotSource != source {
		t.Fatalf("resolver received source %q, want %q", gotSource, source)
	}
	if desc.StreamURL != "https://origin.test/v/abc.mp4" {
		t.Fatalf("stream url = %q", desc.StreamURL)
	}
	if desc.ContentLength != 104857600 {
		t.Fatalf("content length = %d", desc.ContentLength)
	}
	if desc.Title != "Short Film" || desc.DurationSeconds != 212 {
		t.Fatalf("metadata not decoded: %+v", desc)
	}
}

func TestResolveAggregatesAllFailures(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no candidates", http.StatusBadGateway)
	}))
	defer failing.Close()

	garbled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json at all"))
	}))
	defer garbled.Close()

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer empty.Close()

	r, err := streamingest.NewResolver([]string{failing.URL, garbled.URL, empty.URL}, time.Second, nil, discardLogger())
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	_, err = r.Resolve(context.Background(), "https://www.youtube.com/watch?v=gone")
	if !errors.Is(err, streamingest.ErrResolutionFailed) {
		t.Fatalf("error = %v, want ErrResolutionFailed", err)
	}
	msg := err.Error()
	for _, endpoint := range []string{failing.URL, garbled.URL, empty.URL} {
		if !strings.Contains(msg, endpoint) {
			t.Fatalf("aggregate %q is missing endpoint %s", msg, endpoint)
		}
	}
	if !strings.Contains(msg, "missing streamUrl") {
		t.Fatalf("aggregate %q does not explain the empty descriptor", msg)
	}
}

func TestResolveRejectsEmptySource(t *testing.T) {
	r, err := streamingest.NewResolver([]string{"https://resolver.test"}, time.Second, nil, discardLogger())
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	if _, err := r.Resolve(context.Background(), ""); !errors.Is(err, streamingest.ErrResolutionFailed) {
		t.Fatalf("error = %v, want ErrResolutionFailed", err)
	}
}

func TestNewResolverValidation(t *testing.T) {
	if _, err := streamingest.NewResolver(nil, time.Second, nil, discardLogger()); err == nil {
		t.Fatal("expected error for empty endpoint list")
	}
	if _, err := streamingest.NewResolver([]string{"ftp://resolver.test"}, time.Second, nil, discardLogger()); err == nil {
		t.Fatal("expected error for non-http endpoint")
	}
}

func TestOpenStreamReturnsBodyAndLength(t *testing.T) {
	payload := strings.Repeat("x", 4096)
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(payload))
	}))
	defer origin.Close()

	r, err := streamingest.NewResolver([]string{origin.URL}, time.Second, nil, discardLogger())
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	body, length, err := r.OpenStream(context.Background(), origin.URL)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer body.Close()

	if length != int64(len(payload)) {
		t.Fatalf("length = %d, want %d", length, len(payload))
	}
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if string(data) != payload {
		t.Fatal("stream payload mismatch")
	}
}

func TestOpenStreamRejectsErrorStatus(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer origin.Close()

	r, err := streamingest.NewResolver([]string{origin.URL}, time.Second, nil, discardLogger())
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	if _, _, err := r.OpenStream(context.Background(), origin.URL); err == nil {
		t.Fatal("expected error for 404 origin")
	}
}
