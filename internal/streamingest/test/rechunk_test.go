package streamingest_test

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"

	"github.com/reelside/reel-services-ingestion/internal/streamingest"
)

func pattern(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i % 251)
	}
	return out
}

func collectChunks(t *testing.T, rc *streamingest.Rechunker) [][]byte {
	t.Helper()
	var chunks [][]byte
	for {
		chunk, err := rc.Next()
		if errors.Is(err, io.EOF) {
			return chunks
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		chunks = append(chunks, chunk)
	}
}

func TestRechunkerShortTail(t *testing.T) {
	data := pattern(20)
	rc, err := streamingest.NewRechunker(bytes.NewReader(data), 8)
	if err != nil {
		t.Fatalf("new rechunker: %v", err)
	}

	chunks := collectChunks(t, rc)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 8 || len(chunks[1]) != 8 || len(chunks[2]) != 4 {
		t.Fatalf("chunk sizes = %d/%d/%d, want 8/8/4", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	if !bytes.Equal(bytes.Join(chunks, nil), data) {
		t.Fatal("reassembled chunks do not match the stream")
	}
}

func TestRechunkerExactMultiple(t *testing.T) {
	data := pattern(32)
	rc, err := streamingest.NewRechunker(bytes.NewReader(data), 8)
	if err != nil {
		t.Fatalf("new rechunker: %v", err)
	}

	chunks := collectChunks(t, rc)
	if len(chunks) != 4 {
		t.Fatalf("chunks = %d, want 4", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) != 8 {
			t.Fatalf("chunk %d size = %d, want 8", i+1, len(chunk))
		}
	}

	// EOF 之后保持 EOF
	if _, err := rc.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("next after EOF = %v, want io.EOF", err)
	}
}

func TestRechunkerRealignsSourceBoundaries(t *testing.T) {
	data := pattern(20)
	// 源每次只交付一个字节，分片边界仍必须精确
	rc, err := streamingest.NewRechunker(iotest.OneByteReader(bytes.NewReader(data)), 8)
	if err != nil {
		t.Fatalf("new rechunker: %v", err)
	}

	chunks := collectChunks(t, rc)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 8 || len(chunks[2]) != 4 {
		t.Fatalf("boundaries leaked from the source: sizes %d/%d/%d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
	if !bytes.Equal(bytes.Join(chunks, nil), data) {
		t.Fatal("reassembled chunks do not match the stream")
	}
}

func TestRechunkerEmptyStream(t *testing.T) {
	rc, err := streamingest.NewRechunker(bytes.NewReader(nil), 8)
	if err != nil {
		t.Fatalf("new rechunker: %v", err)
	}
	if _, err := rc.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("next = %v, want io.EOF", err)
	}
}

func TestRechunkerValidation(t *testing.T) {
	if _, err := streamingest.NewRechunker(nil, 8); err == nil {
		t.Fatal("expected error for nil reader")
	}
	if _, err := streamingest.NewRechunker(bytes.NewReader(nil), 0); err == nil {
		t.Fatal("expected error for zero part size")
	}
}

func TestRechunkerPropagatesReadError(t *testing.T) {
	boom := errors.New("origin reset")
	rc, err := streamingest.NewRechunker(iotest.ErrReader(boom), 8)
	if err != nil {
		t.Fatalf("new rechunker: %v", err)
	}
	if _, err := rc.Next(); !errors.Is(err, boom) {
		t.Fatalf("next = %v, want wrapped origin error", err)
	}
}
