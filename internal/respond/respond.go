// Package respond implements the stream responders: the per-connection
// loops that pull frames out of a session's shared capture+encode pipeline
// and write them into a wire format -- multipart MJPEG, raw Annex-B H.264,
// fragmented MP4, or UDP fragments. Every responder runs until its context
// is cancelled or a write fails, touching the session and recording sent
// bytes/frames as it goes.
package respond

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/smazurov/videonode/internal/bitstream"
	"github.com/smazurov/videonode/internal/h264enc"
	"github.com/smazurov/videonode/internal/mp4frag"
	"github.com/smazurov/videonode/internal/params"
	"github.com/smazurov/videonode/internal/pixconv"
	"github.com/smazurov/videonode/internal/session"
	"github.com/smazurov/videonode/internal/udpframe"
)

// ErrUnavailable is returned when a responder can't be served given the
// session's negotiated pixel format or codec, distinct from a transport
// write failure.
var ErrUnavailable = errors.New("respond: stream unavailable")

// Flusher is satisfied by http.Flusher; kept as a local interface so this
// package doesn't import net/http.
type Flusher interface {
	Flush()
}

const boundary = "frame"

// pollInterval is how long a responder sleeps between checks when it's
// waiting on the capture driver to come up or produce its first frame.
const pollInterval = 15 * time.Millisecond

// placeholderJPEG is a literal 1x1 white JPEG, served in place of a live
// frame for the placeholder MJPEG stream (e.g. a device that is configured
// but not yet capturing).
var placeholderJPEG = []byte{
	0xFF, 0xD8, 0xFF, 0xDB, 0x00, 0x43, 0x00, 0x03, 0x02, 0x02, 0x03, 0x02, 0x02, 0x03, 0x03, 0x03,
	0x03, 0x04, 0x03, 0x03, 0x04, 0x05, 0x08, 0x05, 0x05, 0x04, 0x04, 0x05, 0x0A, 0x07, 0x07, 0x06,
	0x08, 0x0C, 0x0A, 0x0C, 0x0C, 0x0B, 0x0A, 0x0B, 0x0B, 0x0D, 0x0E, 0x12, 0x10, 0x0D, 0x0E, 0x11,
	0x0E, 0x0B, 0x0B, 0x10, 0x16, 0x10, 0x11, 0x13, 0x14, 0x15, 0x15, 0x15, 0x0C, 0x0F, 0x17, 0x18,
	0x16, 0x14, 0x18, 0x12, 0x14, 0x15, 0x14, 0xFF, 0xC0, 0x00, 0x11, 0x08, 0x00, 0x01, 0x00, 0x01,
	0x03, 0x01, 0x11, 0x00, 0x02, 0x11, 0x01, 0x03, 0x11, 0x01, 0xFF, 0xC4, 0x00, 0x14, 0x00, 0x01,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0xFF, 0xC4, 0x00, 0x14, 0x10, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xFF, 0xDA, 0x00, 0x0C, 0x03, 0x01, 0x00, 0x02, 0x11, 0x03, 0x11, 0x00,
	0x3F, 0x00, 0xFF, 0xD9,
}

func frameInterval(fps int) time.Duration {
	if fps < 1 {
		fps = 1
	}
	ms := 1000 / fps
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

func writeMJPEGPart(w io.Writer, jpeg []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", boundary, len(jpeg)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\r\n")
	return err
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}

// MJPEGPlaceholder serves a constant placeholder frame at the given
// framerate, used when a client asks for a stream this build can't
// actually capture but still wants a valid multipart response.
func MJPEGPlaceholder(ctx context.Context, w io.Writer, flush Flusher, fps int) error {
	interval := frameInterval(fps)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := writeMJPEGPart(w, placeholderJPEG); err != nil {
			return err
		}
		flush.Flush()
		if sleepOrDone(ctx, interval) {
			return nil
		}
	}
}

// MJPEGLive serves the session's live MJPEG frames as a multipart stream.
// It waits for the capture driver to be running and negotiated to MJPEG
// before it has anything to send.
func MJPEGLive(ctx context.Context, w io.Writer, flush Flusher, s *session.Session) error {
	interval := frameInterval(s.Params.FPS)
	for {
		if ctx.Err() != nil {
			return nil
		}

		if !s.Capture.Running() || s.Capture.PixelFormat() != params.PixelFormatMJPEG {
			if sleepOrDone(ctx, pollInterval) {
				return nil
			}
			continue
		}

		frame, ok := s.Capture.LatestFrame()
		if !ok {
			if sleepOrDone(ctx, pollInterval) {
				return nil
			}
			continue
		}

		if err := writeMJPEGPart(w, frame); err != nil {
			return err
		}
		flush.Flush()
		s.Touch()
		s.RecordSent(1, uint64(len(frame)))

		if sleepOrDone(ctx, interval) {
			return nil
		}
	}
}

// MJPEG serves the placeholder frame until the capture driver has a live
// MJPEG frame ready, then hands off to MJPEGLive for the rest of the
// connection, matching the original implementation's split between
// serve_mjpeg_placeholder and serve_mjpeg_live.
func MJPEG(ctx context.Context, w io.Writer, flush Flusher, s *session.Session) error {
	interval := frameInterval(s.Params.FPS)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if s.Capture.Running() && s.Capture.PixelFormat() == params.PixelFormatMJPEG {
			if _, ok := s.Capture.LatestFrame(); ok {
				return MJPEGLive(ctx, w, flush, s)
			}
		}
		if err := writeMJPEGPart(w, placeholderJPEG); err != nil {
			return err
		}
		flush.Flush()
		if sleepOrDone(ctx, interval) {
			return nil
		}
	}
}

// i420Buffers holds the scratch planes a responder reuses across frames so
// the per-frame conversion path doesn't allocate.
type i420Buffers struct {
	y, u, v []byte
}

func newI420Buffers(width, height int) i420Buffers {
	return i420Buffers{
		y: make([]byte, width*height),
		u: make([]byte, (width/2)*(height/2)),
		v: make([]byte, (width/2)*(height/2)),
	}
}

func convertToI420(buf *i420Buffers, frame []byte, pf params.PixelFormat, width, height int) error {
	switch pf {
	case params.PixelFormatYUYV:
		pixconv.YUYVToI420(frame, width, height, buf.y, buf.u, buf.v)
	case params.PixelFormatNV12:
		uvOffset := width * height
		if uvOffset >= len(frame) {
			return fmt.Errorf("respond: short NV12 frame: %d bytes for %dx%d", len(frame), width, height)
		}
		pixconv.NV12ToI420(frame[:uvOffset], width, frame[uvOffset:], width, width, height, buf.y, buf.u, buf.v)
	default:
		return fmt.Errorf("%w: unsupported pixel format %s for H.264 encode", ErrUnavailable, pf)
	}
	return nil
}

// waitForRawFrame blocks (polling, respecting ctx) until the capture driver
// is running with a raw (YUYV/NV12) pixel format and has produced at least
// one frame, returning that frame.
func waitForRawFrame(ctx context.Context, s *session.Session) ([]byte, error) {
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		pf := s.Capture.PixelFormat()
		if s.Capture.Running() && (pf == params.PixelFormatYUYV || pf == params.PixelFormatNV12) {
			if frame, ok := s.Capture.LatestFrame(); ok {
				return frame, nil
			}
		}
		if sleepOrDone(ctx, pollInterval) {
			return nil, ctx.Err()
		}
	}
}

// newLocalEncoder builds and initializes an encoder scoped to a single
// responder call. Each H.264 responder drives its own encoder instance
// rather than sharing one off the session: two concurrent responders must
// not share an encoder's IDR cadence and GOP state, since each drives an
// independent bitstream for its own client.
func newLocalEncoder(s *session.Session) (*h264enc.Encoder, error) {
	if s.Params.Codec != params.CodecH264 {
		return nil, fmt.Errorf("%w: session codec is not h264", ErrUnavailable)
	}
	enc := h264enc.New()
	if err := enc.Init(s.Params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return enc, nil
}

// observeIDRRequest forces enc's next frame to a keyframe if the session's
// IDR-request counter has advanced past last, returning the new value to
// track for the next call.
func observeIDRRequest(s *session.Session, enc *h264enc.Encoder, last uint64) uint64 {
	if req := s.IDRRequests(); req != last {
		enc.ForceIDR()
		return req
	}
	return last
}

// H264Raw serves the session's encoded H.264 as a raw Annex-B elementary
// stream: each access unit is written to w verbatim, start codes included.
// It forces an IDR on the first frame so a freshly attached client doesn't
// have to wait out the rest of the current GOP.
func H264Raw(ctx context.Context, w io.Writer, flush Flusher, s *session.Session) error {
	enc, err := newLocalEncoder(s)
	if err != nil {
		return err
	}
	defer enc.Close()

	interval := frameInterval(s.Params.FPS)
	buf := newI420Buffers(s.Capture.Width(), s.Capture.Height())
	enc.ForceIDR() // first encoded frame after init must be a keyframe
	lastIDRReq := s.IDRRequests()

	for {
		frame, err := waitForRawFrame(ctx, s)
		if err != nil {
			return nil
		}

		if err := convertToI420(&buf, frame, s.Capture.PixelFormat(), s.Capture.Width(), s.Capture.Height()); err != nil {
			return err
		}

		lastIDRReq = observeIDRRequest(s, enc, lastIDRReq)

		annexB, err := enc.EncodeI420(buf.y, buf.u, buf.v)
		if err != nil {
			return fmt.Errorf("respond: encode: %w", err)
		}
		if len(annexB) == 0 {
			if sleepOrDone(ctx, interval) {
				return nil
			}
			continue
		}

		if sps, pps := bitstream.ExtractSPSPPS(annexB); sps != nil && pps != nil {
			if _, _, ok := s.SPSPPS(); !ok {
				s.SetSPSPPS(sps, pps)
			}
		}

		if _, err := w.Write(annexB); err != nil {
			return err
		}
		flush.Flush()
		s.Touch()
		s.RecordSent(1, uint64(len(annexB)))

		if sleepOrDone(ctx, interval) {
			return nil
		}
	}
}

const fmp4Timescale = 90000
const preflightMaxTries = 200

// preflightSPSPPS blocks until the session has SPS/PPS recorded, encoding
// frames through enc as needed. enc must already have had ForceIDR called
// on it so the first frame it produces is a keyframe carrying parameter
// sets. Returns ErrUnavailable wrapping a descriptive message if SPS/PPS
// don't appear within preflightMaxTries attempts.
func preflightSPSPPS(ctx context.Context, s *session.Session, enc *h264enc.Encoder) (sps, pps []byte, err error) {
	if sps, pps, ok := s.SPSPPS(); ok {
		return sps, pps, nil
	}

	buf := newI420Buffers(s.Capture.Width(), s.Capture.Height())

	for try := 0; try < preflightMaxTries; try++ {
		frame, err := waitForRawFrame(ctx, s)
		if err != nil {
			return nil, nil, err
		}
		if err := convertToI420(&buf, frame, s.Capture.PixelFormat(), s.Capture.Width(), s.Capture.Height()); err != nil {
			return nil, nil, err
		}
		annexB, err := enc.EncodeI420(buf.y, buf.u, buf.v)
		if err != nil {
			return nil, nil, fmt.Errorf("respond: preflight encode: %w", err)
		}
		if sps, pps := bitstream.ExtractSPSPPS(annexB); sps != nil && pps != nil {
			s.SetSPSPPS(sps, pps)
			return sps, pps, nil
		}
		if sleepOrDone(ctx, 10*time.Millisecond) {
			return nil, nil, ctx.Err()
		}
	}
	return nil, nil, fmt.Errorf("%w: timed out waiting for SPS/PPS", ErrUnavailable)
}

// FMP4 serves a CMAF-compatible fragmented MP4: a single init segment
// built from the session's cached SPS/PPS, or, when none is cached yet,
// from the first parameter sets this connection's encoder produces,
// followed by one
// moof+mdat fragment per encoded frame. Each connection runs its own
// encoder plus fragment sequence/decode-time timeline.
func FMP4(ctx context.Context, w io.Writer, flush Flusher, s *session.Session) error {
	enc, err := newLocalEncoder(s)
	if err != nil {
		return err
	}
	defer enc.Close()
	enc.ForceIDR() // first encoded frame after init must be a keyframe

	sps, pps, err := preflightSPSPPS(ctx, s, enc)
	if err != nil {
		return err
	}

	frag := mp4frag.New(s.Capture.Width(), s.Capture.Height(), s.Params.FPS, sps, pps)
	if _, err := w.Write(frag.BuildInitSegment()); err != nil {
		return err
	}
	flush.Flush()

	interval := frameInterval(s.Params.FPS)
	sampleDuration := uint32(fmp4Timescale / max(1, s.Params.FPS))
	buf := newI420Buffers(s.Capture.Width(), s.Capture.Height())
	lastIDRReq := s.IDRRequests()

	var seq uint32 = 1
	var decodeTime uint64

	for {
		frame, err := waitForRawFrame(ctx, s)
		if err != nil {
			return nil
		}
		if err := convertToI420(&buf, frame, s.Capture.PixelFormat(), s.Capture.Width(), s.Capture.Height()); err != nil {
			return err
		}

		lastIDRReq = observeIDRRequest(s, enc, lastIDRReq)

		annexB, err := enc.EncodeI420(buf.y, buf.u, buf.v)
		if err != nil {
			return fmt.Errorf("respond: encode: %w", err)
		}
		if len(annexB) == 0 {
			if sleepOrDone(ctx, interval) {
				return nil
			}
			continue
		}

		avcc := bitstream.AnnexBToAVCC(annexB)
		keyframe := bitstream.ContainsIDR(annexB)

		fragment := frag.BuildFragment(avcc, seq, decodeTime, sampleDuration, keyframe)
		if _, err := w.Write(fragment); err != nil {
			return err
		}
		flush.Flush()
		s.Touch()
		s.RecordSent(1, uint64(len(fragment)))

		seq++
		decodeTime += uint64(sampleDuration)

		if sleepOrDone(ctx, interval) {
			return nil
		}
	}
}

// UDP pushes this connection's own encoder's H.264 as fragmented Annex-B
// frames to sender's destination. Each frame's frame_id comes from
// sender's own counter; the session's fragment counter is advanced once
// per frame but its value is not sent. It runs until ctx is cancelled (the
// caller is expected to derive ctx from the requested stream duration).
func UDP(ctx context.Context, sender *udpframe.Sender, s *session.Session) error {
	enc, err := newLocalEncoder(s)
	if err != nil {
		return err
	}
	defer enc.Close()
	enc.ForceIDR() // first encoded frame after init must be a keyframe
	lastIDRReq := s.IDRRequests()

	interval := frameInterval(s.Params.FPS)
	buf := newI420Buffers(s.Capture.Width(), s.Capture.Height())

	for {
		frame, err := waitForRawFrame(ctx, s)
		if err != nil {
			return nil
		}
		if err := convertToI420(&buf, frame, s.Capture.PixelFormat(), s.Capture.Width(), s.Capture.Height()); err != nil {
			return err
		}

		lastIDRReq = observeIDRRequest(s, enc, lastIDRReq)

		annexB, err := enc.EncodeI420(buf.y, buf.u, buf.v)
		if err != nil {
			return fmt.Errorf("respond: encode: %w", err)
		}
		if len(annexB) == 0 {
			if sleepOrDone(ctx, interval) {
				return nil
			}
			continue
		}

		if sps, pps := bitstream.ExtractSPSPPS(annexB); sps != nil && pps != nil {
			if _, _, ok := s.SPSPPS(); !ok {
				s.SetSPSPPS(sps, pps)
			}
		}

		s.NextSeq() // advances the session's fragment counter; frame_id comes from sender
		if err := sender.SendFrame(annexB); err != nil {
			return fmt.Errorf("respond: udp send: %w", err)
		}
		s.Touch()
		s.RecordSent(1, uint64(len(annexB)))

		if sleepOrDone(ctx, interval) {
			return nil
		}
	}
}
