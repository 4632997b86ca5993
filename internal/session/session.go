// Package session implements the per-device shared capture session: a
// Session multiplexes any number of stream responders onto one running
// capture+encode pipeline, and a SessionManager owns the idle reaper that
// tears a pipeline down once its last client disconnects.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/videonode/internal/capture"
	"github.com/smazurov/videonode/internal/params"
)

// Session owns one device's capture driver. params is write-once: the
// first caller to create the session fixes its shape, matching the
// original implementation's "first request wins" parameter lock. There is
// no session-level H.264 encoder: each H.264 responder instantiates and
// drives its own (see internal/respond), since two concurrent responders
// must not share one encoder's IDR cadence and GOP state.
type Session struct {
	DeviceID  string
	ID        string // generation id, fresh on every GetOrCreate miss
	Params    params.CaptureParams
	Capture   *capture.Driver
	Container params.Container

	requested params.CaptureParams // p as first passed in, before negotiation

	mu  sync.Mutex
	sps []byte
	pps []byte

	seqno       atomic.Uint32
	clientCount atomic.Int32
	running     atomic.Bool
	idrRequests atomic.Uint64

	lastAccessed atomic.Int64 // unix nanos
	started      time.Time

	framesSent atomic.Uint64
	bytesSent  atomic.Uint64
}

func newSession(deviceID string, p params.CaptureParams) *Session {
	s := &Session{
		DeviceID:  deviceID,
		ID:        uuid.NewString(),
		Params:    p,
		requested: p,
		Container: p.Container,
		Capture:   capture.New(),
		started:   time.Now(),
	}
	s.seqno.Store(1)
	s.lastAccessed.Store(time.Now().UnixNano())
	return s
}

// Touch records client activity, resetting the idle-reap countdown.
func (s *Session) Touch() {
	s.lastAccessed.Store(time.Now().UnixNano())
}

func (s *Session) idleFor(now time.Time) time.Duration {
	last := time.Unix(0, s.lastAccessed.Load())
	return now.Sub(last)
}

// AttachClient increments the session's client count and returns the new
// count. Call Touch alongside this from the HTTP handler.
func (s *Session) AttachClient() int32 {
	return s.clientCount.Add(1)
}

// DetachClient decrements the client count, floored at zero.
func (s *Session) DetachClient() int32 {
	n := s.clientCount.Add(-1)
	if n < 0 {
		s.clientCount.Store(0)
		return 0
	}
	return n
}

// ClientCount returns the number of attached clients.
func (s *Session) ClientCount() int32 {
	return s.clientCount.Load()
}

// SetSPSPPS records the parameter sets extracted from the encoder's first
// IDR, used to build the fMP4 init segment and to answer stats queries.
func (s *Session) SetSPSPPS(sps, pps []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sps = sps
	s.pps = pps
}

// SPSPPS returns the most recently recorded parameter sets, if any.
func (s *Session) SPSPPS() (sps, pps []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sps == nil || s.pps == nil {
		return nil, nil, false
	}
	return s.sps, s.pps, true
}

// NextSeq returns a monotonically increasing fMP4/UDP fragment sequence
// number for this session.
func (s *Session) NextSeq() uint32 {
	return s.seqno.Add(1) - 1
}

// RequestIDR bumps the session's IDR-request counter. Every responder's
// encode loop polls IDRRequests each iteration and forces its own
// encoder's next frame to a keyframe when the count has advanced, since
// there is no shared encoder to force a keyframe on directly.
func (s *Session) RequestIDR() {
	s.idrRequests.Add(1)
}

// IDRRequests returns the current IDR-request counter value.
func (s *Session) IDRRequests() uint64 {
	return s.idrRequests.Load()
}

// RecordSent accumulates delivered bytes/frames for stats reporting.
func (s *Session) RecordSent(frames uint64, bytes uint64) {
	s.framesSent.Add(frames)
	s.bytesSent.Add(bytes)
}

// Stats is the point-in-time snapshot returned by /stream/{device}/stats.
type Stats struct {
	DeviceID    string
	SessionID   string
	ClientCount int32
	FramesSent  uint64
	BytesSent   uint64
	UptimeSec   float64
	Effective   params.EffectiveParams
}

// Stats snapshots the session's counters.
func (s *Session) Stats() Stats {
	return Stats{
		DeviceID:    s.DeviceID,
		SessionID:   s.ID,
		ClientCount: s.clientCount.Load(),
		FramesSent:  s.framesSent.Load(),
		BytesSent:   s.bytesSent.Load(),
		UptimeSec:   time.Since(s.started).Seconds(),
		Effective: params.EffectiveParams{
			Requested: s.requested,
			Actual:    s.actualParams(),
		},
	}
}

func (s *Session) actualParams() params.CaptureParams {
	actual := s.Params
	actual.Width = s.Capture.Width()
	actual.Height = s.Capture.Height()
	actual.FPS = s.Capture.FPS()
	return actual
}
