//go:build linux

package v4l2

import (
	"fmt"
	"syscall"
	"unsafe"
)

const numMmapBuffers = 4

type mmapBuffer struct {
	start []byte
}

// CaptureStream drives a single V4L2 video capture device using either
// mmap buffer-streaming I/O or a blocking read() fallback, depending on
// what the device advertises.
type CaptureStream struct {
	fd          int
	useMmap     bool
	buffers     []mmapBuffer
	frameSize   uint32
	Width       uint32
	Height      uint32
	PixelFormat uint32
	FPS         int
	readScratch []byte
}

// OpenCaptureStream opens devicePath and negotiates width/height/pixelformat.
// mjpegQuality is only applied when pixelFormat is V4L2_PIX_FMT_MJPEG and
// mjpegQuality > 0.
func OpenCaptureStream(devicePath string, width, height, fps int, pixelFormat uint32, mjpegQuality int) (*CaptureStream, error) {
	fd, err := syscall.Open(devicePath, syscall.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", devicePath, err)
	}

	cs := &CaptureStream{fd: fd}
	if err := cs.configure(width, height, fps, pixelFormat, mjpegQuality); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	return cs, nil
}

func (cs *CaptureStream) configure(width, height, fps int, pixelFormat uint32, mjpegQuality int) error {
	var cap v4l2_capability
	if err := ioctl(cs.fd, VIDIOC_QUERYCAP, unsafe.Pointer(&cap)); err != nil {
		return fmt.Errorf("VIDIOC_QUERYCAP: %w", err)
	}
	caps := cap.capabilities
	if caps&V4L2_CAP_DEVICE_CAPS != 0 {
		caps = cap.device_caps
	}
	if caps&V4L2_CAP_VIDEO_CAPTURE == 0 {
		return fmt.Errorf("device has no V4L2_CAP_VIDEO_CAPTURE")
	}
	cs.useMmap = caps&V4L2_CAP_STREAMING != 0
	if !cs.useMmap && caps&V4L2_CAP_READWRITE == 0 {
		return fmt.Errorf("device supports neither streaming nor read/write")
	}

	var fmtReq v4l2_format
	fmtReq.typ = V4L2_BUF_TYPE_VIDEO_CAPTURE
	fmtReq.pix.width = uint32(width)
	fmtReq.pix.height = uint32(height)
	fmtReq.pix.pixelformat = pixelFormat
	fmtReq.pix.field = V4L2_FIELD_ANY
	if err := ioctl(cs.fd, VIDIOC_S_FMT, unsafe.Pointer(&fmtReq)); err != nil {
		return fmt.Errorf("VIDIOC_S_FMT: %w", err)
	}
	cs.Width = fmtReq.pix.width
	cs.Height = fmtReq.pix.height
	cs.PixelFormat = fmtReq.pix.pixelformat
	cs.frameSize = fmtReq.pix.sizeimage

	if pixelFormat == v4l2PixFmtMJPEG && mjpegQuality > 0 {
		cs.setMJPEGQuality(mjpegQuality)
	}

	var sp v4l2_streamparm
	sp.typ = V4L2_BUF_TYPE_VIDEO_CAPTURE
	sp.capture.timeperframe.numerator = 1
	sp.capture.timeperframe.denominator = uint32(fps)
	_ = ioctl(cs.fd, VIDIOC_S_PARM, unsafe.Pointer(&sp)) // best effort
	if err := ioctl(cs.fd, VIDIOC_G_PARM, unsafe.Pointer(&sp)); err == nil {
		num, den := sp.capture.timeperframe.numerator, sp.capture.timeperframe.denominator
		if num > 0 && den > 0 {
			if negotiated := int(den / num); negotiated > 0 {
				fps = negotiated
			}
		}
	}
	cs.FPS = fps

	if cs.useMmap {
		if err := cs.setupMmap(); err != nil {
			cs.cleanupMmapSetupFailure()
			return err
		}
	} else {
		cs.readScratch = make([]byte, 8*1024*1024)
	}

	return nil
}

// setMJPEGQuality tries VIDIOC_S_CTRL with V4L2_CID_JPEG_COMPRESSION_QUALITY
// first, falling back to the legacy V4L2_CID_JPEG_Q_FACTOR control. Failure
// to set quality is non-fatal; the device keeps its current setting.
func (cs *CaptureStream) setMJPEGQuality(quality int) int {
	if quality < 1 {
		quality = 1
	} else if quality > 100 {
		quality = 100
	}

	ctrl := v4l2_control{id: V4L2_CID_JPEG_COMPRESSION_QUALITY, value: int32(quality)}
	applied := uint32(0)
	if ioctl(cs.fd, VIDIOC_S_CTRL, unsafe.Pointer(&ctrl)) == nil {
		applied = ctrl.id
	} else {
		ctrl = v4l2_control{id: V4L2_CID_JPEG_Q_FACTOR, value: int32(quality)}
		if ioctl(cs.fd, VIDIOC_S_CTRL, unsafe.Pointer(&ctrl)) == nil {
			applied = ctrl.id
		}
	}
	if applied == 0 {
		return quality
	}
	get := v4l2_control{id: applied}
	if ioctl(cs.fd, VIDIOC_G_CTRL, unsafe.Pointer(&get)) == nil {
		return int(get.value)
	}
	return quality
}

func (cs *CaptureStream) setupMmap() error {
	var req v4l2_requestbuffers
	req.count = numMmapBuffers
	req.typ = V4L2_BUF_TYPE_VIDEO_CAPTURE
	req.memory = V4L2_MEMORY_MMAP
	if err := ioctl(cs.fd, VIDIOC_REQBUFS, unsafe.Pointer(&req)); err != nil || req.count < 2 {
		if err == nil {
			err = fmt.Errorf("driver granted only %d buffers", req.count)
		}
		return fmt.Errorf("VIDIOC_REQBUFS: %w", err)
	}

	cs.buffers = make([]mmapBuffer, 0, req.count)
	for i := uint32(0); i < req.count; i++ {
		var buf v4l2_buffer
		buf.typ = V4L2_BUF_TYPE_VIDEO_CAPTURE
		buf.memory = V4L2_MEMORY_MMAP
		buf.index = i
		if err := ioctl(cs.fd, VIDIOC_QUERYBUF, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("VIDIOC_QUERYBUF(%d): %w", i, err)
		}
		data, err := syscall.Mmap(cs.fd, int64(buf.offset()), int(buf.length), syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
		if err != nil {
			return fmt.Errorf("mmap(%d): %w", i, err)
		}
		cs.buffers = append(cs.buffers, mmapBuffer{start: data})
	}

	for i := range cs.buffers {
		var buf v4l2_buffer
		buf.typ = V4L2_BUF_TYPE_VIDEO_CAPTURE
		buf.memory = V4L2_MEMORY_MMAP
		buf.index = uint32(i)
		if err := ioctl(cs.fd, VIDIOC_QBUF, unsafe.Pointer(&buf)); err != nil {
			return fmt.Errorf("VIDIOC_QBUF(%d): %w", i, err)
		}
	}

	typ := uint32(V4L2_BUF_TYPE_VIDEO_CAPTURE)
	if err := ioctl(cs.fd, VIDIOC_STREAMON, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMON: %w", err)
	}
	return nil
}

func (cs *CaptureStream) cleanupMmapBuffers() {
	for i := range cs.buffers {
		if cs.buffers[i].start != nil {
			_ = syscall.Munmap(cs.buffers[i].start)
			cs.buffers[i].start = nil
		}
	}
	cs.buffers = nil
}

// cleanupMmapSetupFailure best-effort unwinds partial mmap setup so retries
// (e.g. reopening the device with different params) don't leak buffers.
func (cs *CaptureStream) cleanupMmapSetupFailure() {
	if !cs.useMmap {
		return
	}
	typ := uint32(V4L2_BUF_TYPE_VIDEO_CAPTURE)
	_ = ioctl(cs.fd, VIDIOC_STREAMOFF, unsafe.Pointer(&typ))
	cs.cleanupMmapBuffers()

	var req v4l2_requestbuffers
	req.typ = V4L2_BUF_TYPE_VIDEO_CAPTURE
	req.memory = V4L2_MEMORY_MMAP
	_ = ioctl(cs.fd, VIDIOC_REQBUFS, unsafe.Pointer(&req))
}

// ReadFrame blocks until a frame is available or the 100ms select timeout
// elapses with nothing ready, in which case it returns (nil, nil) so the
// caller can check a stop condition and poll again. On the read() fallback
// path it blocks directly on the device fd.
func (cs *CaptureStream) ReadFrame() ([]byte, error) {
	if cs.useMmap {
		return cs.readFrameMmap()
	}
	return cs.readFrameBlocking()
}

func (cs *CaptureStream) readFrameMmap() ([]byte, error) {
	var fds syscall.FdSet
	fds.Bits[cs.fd/64] |= 1 << (uint(cs.fd) % 64)
	tv := makeTimeval(100)

	n, err := syscall.Select(cs.fd+1, &fds, nil, nil, tv)
	if err != nil {
		if err == syscall.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("select: %w", err)
	}
	if n == 0 {
		return nil, nil // timeout, no frame
	}

	var buf v4l2_buffer
	buf.typ = V4L2_BUF_TYPE_VIDEO_CAPTURE
	buf.memory = V4L2_MEMORY_MMAP
	if err := ioctl(cs.fd, VIDIOC_DQBUF, unsafe.Pointer(&buf)); err != nil {
		if err == syscall.EAGAIN {
			return nil, nil
		}
		return nil, fmt.Errorf("VIDIOC_DQBUF: %w", err)
	}

	out := make([]byte, buf.bytesused)
	copy(out, cs.buffers[buf.index].start[:buf.bytesused])

	if err := ioctl(cs.fd, VIDIOC_QBUF, unsafe.Pointer(&buf)); err != nil {
		return nil, fmt.Errorf("VIDIOC_QBUF requeue: %w", err)
	}
	return out, nil
}

func (cs *CaptureStream) readFrameBlocking() ([]byte, error) {
	n, err := syscall.Read(cs.fd, cs.readScratch)
	if err != nil {
		if err == syscall.EAGAIN || err == syscall.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("read: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, cs.readScratch[:n])
	return out, nil
}

// Close stops streaming (if mmap), unmaps buffers, and closes the device fd.
func (cs *CaptureStream) Close() error {
	if cs.fd < 0 {
		return nil
	}
	if cs.useMmap {
		typ := uint32(V4L2_BUF_TYPE_VIDEO_CAPTURE)
		_ = ioctl(cs.fd, VIDIOC_STREAMOFF, unsafe.Pointer(&typ))
		cs.cleanupMmapBuffers()
	}
	err := syscall.Close(cs.fd)
	cs.fd = -1
	return err
}
