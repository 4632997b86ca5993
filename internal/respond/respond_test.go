package respond

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/videonode/internal/capture"
	"github.com/smazurov/videonode/internal/params"
	"github.com/smazurov/videonode/internal/session"
)

type nopFlusher struct{ flushed int }

func (f *nopFlusher) Flush() { f.flushed++ }

func TestFrameInterval(t *testing.T) {
	tests := []struct {
		fps  int
		want time.Duration
	}{
		{fps: 30, want: 33 * time.Millisecond},
		{fps: 15, want: 66 * time.Millisecond},
		{fps: 1000, want: time.Millisecond},
		{fps: 0, want: time.Second}, // clamped to fps=1
		{fps: -5, want: time.Second},
	}
	for _, tt := range tests {
		if got := frameInterval(tt.fps); got != tt.want {
			t.Errorf("frameInterval(%d) = %v, want %v", tt.fps, got, tt.want)
		}
	}
}

func TestWriteMJPEGPart(t *testing.T) {
	var buf bytes.Buffer
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xD9}

	if err := writeMJPEGPart(&buf, jpeg); err != nil {
		t.Fatalf("writeMJPEGPart: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "--frame\r\n") {
		t.Fatalf("missing boundary prefix: %q", out)
	}
	if !strings.Contains(out, "Content-Type: image/jpeg\r\n") {
		t.Fatalf("missing content-type header: %q", out)
	}
	if !strings.Contains(out, "Content-Length: 4\r\n") {
		t.Fatalf("missing content-length header: %q", out)
	}
	if !strings.HasSuffix(out, string(jpeg)+"\r\n") {
		t.Fatalf("missing trailing payload+CRLF: %q", out)
	}
}

func TestMJPEGPlaceholderStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	flusher := &nopFlusher{}

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	if err := MJPEGPlaceholder(ctx, &buf, flusher, 100); err != nil {
		t.Fatalf("MJPEGPlaceholder: %v", err)
	}

	if buf.Len() == 0 {
		t.Fatal("expected at least one placeholder frame written")
	}
	if flusher.flushed == 0 {
		t.Fatal("expected Flush to be called")
	}
	if !bytes.Contains(buf.Bytes(), placeholderJPEG) {
		t.Fatal("expected placeholder JPEG bytes in output")
	}
}

func TestMJPEGPlaceholderPropagatesWriteError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := MJPEGPlaceholder(ctx, errWriter{}, &nopFlusher{}, 30)
	if err == nil {
		t.Fatal("expected write error to propagate")
	}
}

func TestMJPEGFallsBackToPlaceholderUntilCaptureIsLive(t *testing.T) {
	var buf bytes.Buffer
	flusher := &nopFlusher{}

	s := &session.Session{
		DeviceID: "video0",
		Params:   params.DefaultCaptureParams(),
		Capture:  capture.New(), // never started: Running() stays false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	if err := MJPEG(ctx, &buf, flusher, s); err != nil {
		t.Fatalf("MJPEG: %v", err)
	}

	if !bytes.Contains(buf.Bytes(), placeholderJPEG) {
		t.Fatal("expected placeholder JPEG bytes while capture driver is not running")
	}
}

type errWriter struct{}

var errBoom = errors.New("boom")

func (errWriter) Write([]byte) (int, error) { return 0, errBoom }

func TestConvertToI420RejectsUnsupportedFormat(t *testing.T) {
	buf := newI420Buffers(4, 2)
	// params.PixelFormatMJPEG can't be fed to the H.264 path.
	if err := convertToI420(&buf, make([]byte, 16), 1 /* PixelFormatMJPEG */, 4, 2); err == nil {
		t.Fatal("expected error for unsupported pixel format")
	}
}

func TestConvertToI420ShortNV12Frame(t *testing.T) {
	buf := newI420Buffers(4, 2)
	// 3 (PixelFormatNV12) with a frame too short to hold Y+UV planes.
	if err := convertToI420(&buf, make([]byte, 2), 3, 4, 2); err == nil {
		t.Fatal("expected error for short NV12 frame")
	}
}
