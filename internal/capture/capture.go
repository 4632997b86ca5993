// Package capture implements the capture driver: it opens a V4L2 device,
// negotiates pixel format, resolution and framerate, and runs a capture
// loop that publishes the most recent complete frame under a mutex for
// any number of concurrent readers.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/smazurov/videonode/internal/logging"
	"github.com/smazurov/videonode/internal/params"
	"github.com/smazurov/videonode/pkg/linuxav/v4l2"
)

const (
	v4l2PixFmtMJPEG = 0x47504A4D // 'MJPG'
	v4l2PixFmtYUYV  = 0x56595559 // 'YUYV'
	v4l2PixFmtNV12  = 0x3231564E // 'NV12'
)

// ErrDeviceBusy is returned by Start when the driver is already running.
var ErrDeviceBusy = errors.New("capture: device already running")

// ErrDeviceUnavailable wraps an underlying open/negotiate failure.
var ErrDeviceUnavailable = errors.New("capture: device unavailable")

// Driver owns one V4L2 device handle and the capture goroutine reading it.
// The capture goroutine is the sole writer of the latest frame; any number
// of readers may call LatestFrame concurrently.
type Driver struct {
	mu     sync.Mutex
	stream *v4l2.CaptureStream

	frameMu sync.Mutex
	frame   []byte

	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}

	pixelFormat params.PixelFormat
	width       int
	height      int
	fps         int

	log *slog.Logger
}

// New constructs an idle Driver.
func New() *Driver {
	return &Driver{log: logging.GetLogger("capture")}
}

// Start opens the device, negotiates a pixel format chosen from the
// requested codec, width, height, framerate and (for MJPEG) JPEG quality,
// then spawns the capture loop. p is mutated in place to reflect the
// negotiated values. Start on an already-running driver returns
// ErrDeviceBusy.
func (d *Driver) Start(deviceID string, p *params.CaptureParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return ErrDeviceBusy
	}

	devicePath := deviceID
	if !strings.HasPrefix(devicePath, "/dev/") {
		devicePath = "/dev/" + devicePath
	}

	pixfmt := uint32(v4l2PixFmtMJPEG)
	if p.Codec == params.CodecH264 {
		pixfmt = v4l2PixFmtYUYV
	}

	stream, err := v4l2.OpenCaptureStream(devicePath, p.Width, p.Height, p.FPS, pixfmt, p.Quality)
	if err != nil {
		d.log.Warn("failed to open capture device", "device", deviceID, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, deviceID, err)
	}

	negotiated := pixelFormatOf(stream.PixelFormat)
	if negotiated == params.PixelFormatUnknown {
		stream.Close()
		return fmt.Errorf("%w: device negotiated unsupported pixel format 0x%x", ErrDeviceUnavailable, stream.PixelFormat)
	}
	if p.Codec == params.CodecMJPEG && negotiated != params.PixelFormatMJPEG {
		stream.Close()
		return fmt.Errorf("%w: device did not accept MJPEG", ErrDeviceUnavailable)
	}
	if p.Codec == params.CodecH264 && negotiated != params.PixelFormatYUYV && negotiated != params.PixelFormatNV12 {
		stream.Close()
		return fmt.Errorf("%w: device did not provide raw frames for H264", ErrDeviceUnavailable)
	}

	p.Width = int(stream.Width)
	p.Height = int(stream.Height)
	p.FPS = stream.FPS

	d.stream = stream
	d.pixelFormat = negotiated
	d.width = int(stream.Width)
	d.height = int(stream.Height)
	d.fps = stream.FPS
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	d.running.Store(true)

	go d.loop()

	d.log.Info("capture driver started", "device", deviceID,
		"width", d.width, "height", d.height, "fps", d.fps,
		"pixel_format", negotiated.String())
	return nil
}

func pixelFormatOf(fourcc uint32) params.PixelFormat {
	switch fourcc {
	case v4l2PixFmtMJPEG:
		return params.PixelFormatMJPEG
	case v4l2PixFmtYUYV:
		return params.PixelFormatYUYV
	case v4l2PixFmtNV12:
		return params.PixelFormatNV12
	default:
		return params.PixelFormatUnknown
	}
}

// loop drains frames from the underlying stream until Stop closes d.stop.
// ReadFrame already encapsulates the select-with-timeout / blocking-read
// distinction; a nil, nil result means "no frame yet, keep polling".
func (d *Driver) loop() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		default:
		}

		frame, err := d.stream.ReadFrame()
		if err != nil {
			d.log.Warn("capture loop exiting on read error", "error", err)
			d.running.Store(false)
			return
		}
		if frame == nil {
			continue
		}

		d.frameMu.Lock()
		d.frame = frame
		d.frameMu.Unlock()
	}
}

// Stop signals the capture goroutine, joins it, unmaps buffers and closes
// the device handle. Safe to call on a never-started or already-stopped
// driver.
func (d *Driver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return
	}
	close(d.stop)
	<-d.done
	d.running.Store(false)

	if d.stream != nil {
		_ = d.stream.Close()
		d.stream = nil
	}
	d.frameMu.Lock()
	d.frame = nil
	d.frameMu.Unlock()

	d.log.Info("capture driver stopped")
}

// LatestFrame copies the most recent complete frame. Returns false if none
// has been captured yet.
func (d *Driver) LatestFrame() ([]byte, bool) {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	if d.frame == nil {
		return nil, false
	}
	out := make([]byte, len(d.frame))
	copy(out, d.frame)
	return out, true
}

func (d *Driver) Running() bool                   { return d.running.Load() }
func (d *Driver) PixelFormat() params.PixelFormat { return d.pixelFormat }
func (d *Driver) Width() int                      { return d.width }
func (d *Driver) Height() int                     { return d.height }
func (d *Driver) FPS() int                        { return d.fps }
