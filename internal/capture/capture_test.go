package capture

import (
	"testing"

	"github.com/smazurov/videonode/internal/params"
)

func TestPixelFormatOf(t *testing.T) {
	cases := []struct {
		fourcc uint32
		want   params.PixelFormat
	}{
		{v4l2PixFmtMJPEG, params.PixelFormatMJPEG},
		{v4l2PixFmtYUYV, params.PixelFormatYUYV},
		{v4l2PixFmtNV12, params.PixelFormatNV12},
		{0x12345678, params.PixelFormatUnknown},
	}
	for _, c := range cases {
		if got := pixelFormatOf(c.fourcc); got != c.want {
			t.Errorf("pixelFormatOf(0x%x) = %v, want %v", c.fourcc, got, c.want)
		}
	}
}

func TestStopOnUnstartedDriverIsNoop(t *testing.T) {
	d := New()
	d.Stop() // must not block or panic

	if d.Running() {
		t.Fatal("unstarted driver reports running")
	}
	if _, ok := d.LatestFrame(); ok {
		t.Fatal("unstarted driver returned a frame")
	}
}
