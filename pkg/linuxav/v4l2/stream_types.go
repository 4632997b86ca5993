//go:build linux

package v4l2

// Streaming capability flags (V4L2_CAP_DEVICE_CAPS/V4L2_CAP_VIDEO_CAPTURE already declared in types.go).
const (
	V4L2_CAP_READWRITE = 0x01000000
	V4L2_CAP_ASYNCIO   = 0x02000000
	V4L2_CAP_STREAMING = 0x04000000
)

// Memory types for VIDIOC_REQBUFS / VIDIOC_QUERYBUF / VIDIOC_(D)QBUF.
const (
	V4L2_MEMORY_MMAP    = 1
	V4L2_MEMORY_USERPTR = 2
)

// Buffer flags (subset).
const (
	V4L2_BUF_FLAG_MAPPED  = 0x00000001
	V4L2_BUF_FLAG_QUEUED  = 0x00000002
	V4L2_BUF_FLAG_DONE    = 0x00000004
	V4L2_BUF_FLAG_KEYFRAME = 0x00000008
)

// Field orders (subset).
const (
	V4L2_FIELD_ANY = 0
	V4L2_FIELD_NONE = 1
)

// JPEG control class control IDs.
const (
	V4L2_CID_JPEG_CLASS_BASE         = 0x00990900
	V4L2_CID_JPEG_COMPRESSION_QUALITY = V4L2_CID_JPEG_CLASS_BASE + 3
	V4L2_CID_JPEG_Q_FACTOR            = V4L2_CID_JPEG_CLASS_BASE + 2
)

// Pixel formats used by the capture driver (see also the legacy unexported
// aliases in types.go).
const (
	V4L2_PIX_FMT_YUYV  = v4l2PixFmtYUYV
	V4L2_PIX_FMT_MJPEG = v4l2PixFmtMJPEG
	V4L2_PIX_FMT_H264  = v4l2PixFmtH264
	V4L2_PIX_FMT_NV12  = v4l2PixFmtNV12
)

// v4l2_pix_format has size 48 bytes on all supported architectures (no
// pointer-sized members).
type v4l2_pix_format struct {
	width        uint32
	height       uint32
	pixelformat  uint32
	field        uint32
	bytesperline uint32
	sizeimage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcr_enc    uint32 // union with hsv_enc
	quantization uint32
	xfer_func    uint32
}

// v4l2_format has size 204 bytes (4 byte type tag + 200 byte union, of which
// we only ever populate the pix member).
type v4l2_format struct {
	typ uint32
	pix v4l2_pix_format
	_   [152]byte
}

// v4l2_requestbuffers has size 20 bytes.
type v4l2_requestbuffers struct {
	count    uint32
	typ      uint32
	memory   uint32
	reserved [2]uint32
}

// v4l2_captureparm has size 40 bytes.
type v4l2_captureparm struct {
	capability    uint32
	capturemode   uint32
	timeperframe  v4l2_fract
	extendedmode  uint32
	readbuffers   uint32
	reserved      [4]uint32
}

// v4l2_streamparm has size 204 bytes.
type v4l2_streamparm struct {
	typ     uint32
	capture v4l2_captureparm
	_       [160]byte
}

// v4l2_control has size 8 bytes.
type v4l2_control struct {
	id    uint32
	value int32
}

// v4l2_timecode has size 16 bytes.
type v4l2_timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}
