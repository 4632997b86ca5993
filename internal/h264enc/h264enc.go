// Package h264enc wraps a libavcodec H.264 encoder (libx264, via
// go-astiav) behind the same narrow contract the original embedded
// encoder exposed: init once from capture parameters, push I420 planes in,
// get an Annex-B access unit out, and force an IDR on demand.
package h264enc

import (
	"errors"
	"fmt"
	"sync"

	astiav "github.com/asticode/go-astiav"

	"github.com/smazurov/videonode/internal/params"
)

// ErrNotInitialized is returned by Encode/ForceIDR before Init succeeds.
var ErrNotInitialized = errors.New("h264enc: encoder not initialized")

// Encoder drives a libx264 AVCodecContext configured for low-latency
// Annex-B output. It is safe for sequential use by a single capture loop;
// it is not safe for concurrent Encode calls.
type Encoder struct {
	mu sync.Mutex

	codecCtx *astiav.CodecContext
	frame    *astiav.Frame
	packet   *astiav.Packet

	width, height int
	forceIDR      bool
}

// New constructs an unconfigured Encoder. Call Init before Encode.
func New() *Encoder {
	return &Encoder{}
}

// Init (re)configures the encoder for the given parameters. Calling Init
// again tears down the previous codec context first, matching the
// original implementation's behavior of reinitializing on a parameter
// change rather than attempting an in-place reconfigure.
func (e *Encoder) Init(p params.CaptureParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.teardown()

	codec := astiav.FindEncoderByName("libx264")
	if codec == nil {
		return fmt.Errorf("h264enc: libx264 encoder not available")
	}

	ctx := astiav.AllocCodecContext(codec)
	if ctx == nil {
		return fmt.Errorf("h264enc: AllocCodecContext failed")
	}

	ctx.SetWidth(p.Width)
	ctx.SetHeight(p.Height)
	ctx.SetPixelFormat(astiav.PixelFormatYuv420P)
	ctx.SetTimeBase(astiav.NewRational(1, p.FPS))
	ctx.SetFramerate(astiav.NewRational(p.FPS, 1))
	ctx.SetBitRate(int64(p.BitrateKbps) * 1000)
	ctx.SetGopSize(p.GOP)
	ctx.SetMaxBFrames(0)

	opts := astiav.NewDictionary()
	defer opts.Free()
	_ = opts.Set("annexb", "1", 0)
	_ = opts.Set("repeat_headers", "1", 0)
	_ = opts.Set("preset", "ultrafast", 0)
	if p.Latency == params.LatencyUltra {
		_ = opts.Set("tune", "zerolatency", 0)
	}

	if err := ctx.Open(codec, opts); err != nil {
		ctx.Free()
		return fmt.Errorf("h264enc: open libx264: %w", err)
	}

	e.codecCtx = ctx
	e.width = p.Width
	e.height = p.Height

	e.frame = astiav.AllocFrame()
	e.frame.SetWidth(p.Width)
	e.frame.SetHeight(p.Height)
	e.frame.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := e.frame.AllocBuffer(0); err != nil {
		e.teardown()
		return fmt.Errorf("h264enc: frame AllocBuffer: %w", err)
	}

	e.packet = astiav.AllocPacket()
	return nil
}

// ForceIDR marks the next frame passed to EncodeI420 as a forced keyframe,
// matching the original's force_idr behavior used when a new client
// attaches mid-GOP.
func (e *Encoder) ForceIDR() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forceIDR = true
}

// EncodeI420 pushes one I420 frame (Y plane, then U, then V, each tightly
// packed at full/half resolution respectively) through the encoder and
// returns the resulting Annex-B access unit. A nil return with a nil error
// means the encoder buffered the frame without yet producing output.
func (e *Encoder) EncodeI420(y, u, v []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.codecCtx == nil {
		return nil, ErrNotInitialized
	}

	if err := e.frame.Data().SetBytes(y, 0); err != nil {
		return nil, fmt.Errorf("h264enc: set Y plane: %w", err)
	}
	if err := e.frame.Data().SetBytes(u, 1); err != nil {
		return nil, fmt.Errorf("h264enc: set U plane: %w", err)
	}
	if err := e.frame.Data().SetBytes(v, 2); err != nil {
		return nil, fmt.Errorf("h264enc: set V plane: %w", err)
	}

	if e.forceIDR {
		e.frame.SetPictureType(astiav.PictureTypeI)
		e.forceIDR = false
	} else {
		e.frame.SetPictureType(astiav.PictureTypeNone)
	}

	if err := e.codecCtx.SendFrame(e.frame); err != nil {
		return nil, fmt.Errorf("h264enc: SendFrame: %w", err)
	}

	var out []byte
	for {
		err := e.codecCtx.ReceivePacket(e.packet)
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("h264enc: ReceivePacket: %w", err)
		}
		out = append(out, e.packet.Data()...)
		e.packet.Unref()
	}
	return out, nil
}

func (e *Encoder) teardown() {
	if e.packet != nil {
		e.packet.Free()
		e.packet = nil
	}
	if e.frame != nil {
		e.frame.Free()
		e.frame = nil
	}
	if e.codecCtx != nil {
		e.codecCtx.Free()
		e.codecCtx = nil
	}
}

// Close releases the underlying libavcodec resources.
func (e *Encoder) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardown()
}
