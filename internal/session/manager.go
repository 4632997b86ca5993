package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/videonode/internal/devices"
	"github.com/smazurov/videonode/internal/events"
	"github.com/smazurov/videonode/internal/logging"
	"github.com/smazurov/videonode/internal/params"
)

const reapInterval = 10 * time.Second

// Manager owns every device's Session, creating one on first use and
// reaping it once its client count has been zero for longer than
// idleTimeout.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	idleTimeout time.Duration
	detector    devices.DeviceDetector
	eventBus    *events.Bus

	stop chan struct{}
	done chan struct{}

	reapSweeps atomic.Uint64

	log *slog.Logger
}

// New constructs a Manager and starts its idle reaper goroutine.
func New(idleTimeout time.Duration, eventBus *events.Bus) *Manager {
	m := &Manager{
		sessions:    make(map[string]*Session),
		idleTimeout: idleTimeout,
		detector:    devices.NewDetector(),
		eventBus:    eventBus,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		log:         logging.GetLogger("session"),
	}
	go m.reapLoop()
	return m
}

// Close stops the reaper and tears down every live session's capture
// pipeline.
func (m *Manager) Close() {
	close(m.stop)
	<-m.done

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.Capture.Stop()
		delete(m.sessions, id)
	}
}

// GetOrCreate returns the existing session for deviceID, or starts a new
// one with p as its locked-in parameters. The session's own copy
// (s.Params) is updated to the values the device actually negotiated;
// the caller's p is not modified.
func (m *Manager) GetOrCreate(deviceID string, p params.CaptureParams) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[deviceID]; ok {
		return s, nil
	}

	s := newSession(deviceID, p)
	if err := s.Capture.Start(deviceID, &s.Params); err != nil {
		return nil, fmt.Errorf("session: start capture for %s: %w", deviceID, err)
	}
	s.running.Store(true)
	m.sessions[deviceID] = s

	if m.eventBus != nil {
		m.eventBus.Publish(events.SessionOpenedEvent{
			DeviceID:  deviceID,
			SessionID: s.ID,
			Codec:     string(s.Params.Codec),
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
	m.log.Info("session opened", "device", deviceID, "session_id", s.ID, "codec", s.Params.Codec)
	return s, nil
}

// Find returns the live session for deviceID, if any.
func (m *Manager) Find(deviceID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[deviceID]
	return s, ok
}

// Snapshot returns every currently live session, used by the Prometheus
// collector to report per-device gauges without holding the manager lock
// across a scrape.
func (m *Manager) Snapshot() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// AttachClient bumps deviceID's client count and publishes
// ClientAttachedEvent. Call on every new stream responder connection.
func (m *Manager) AttachClient(s *Session, transport string) {
	count := s.AttachClient()
	s.Touch()
	if m.eventBus != nil {
		m.eventBus.Publish(events.ClientAttachedEvent{
			DeviceID:    s.DeviceID,
			SessionID:   s.ID,
			Transport:   transport,
			ClientCount: int(count),
			Timestamp:   time.Now().Format(time.RFC3339),
		})
	}
}

// DetachClient decrements deviceID's client count and publishes
// ClientDetachedEvent. Call when a stream responder's connection ends.
func (m *Manager) DetachClient(s *Session, transport string) {
	count := s.DetachClient()
	if m.eventBus != nil {
		m.eventBus.Publish(events.ClientDetachedEvent{
			DeviceID:    s.DeviceID,
			SessionID:   s.ID,
			Transport:   transport,
			ClientCount: int(count),
			Timestamp:   time.Now().Format(time.RFC3339),
		})
	}
}

// ForceIDR bumps deviceID's IDR-request counter; the feedback endpoint
// calls it. A freshly attaching responder does not go through here: it
// forces a keyframe on its own new encoder. Every responder watching this
// session observes the bump on its next encode loop iteration and forces
// a keyframe on its own local encoder.
func (m *Manager) ForceIDR(s *Session, reason string) {
	s.RequestIDR()
	if m.eventBus != nil {
		m.eventBus.Publish(events.IDRForcedEvent{
			DeviceID:  s.DeviceID,
			SessionID: s.ID,
			Reason:    reason,
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
}

// ReleaseIfIdle tears deviceID's session down immediately if it has no
// attached clients, instead of waiting for the next idle-reaper sweep.
// Call this right after a client detaches so the last viewer leaving
// releases the V4L2 device promptly rather than up to reapInterval later.
func (m *Manager) ReleaseIfIdle(deviceID string) {
	m.mu.Lock()
	s, ok := m.sessions[deviceID]
	if !ok || s.ClientCount() != 0 {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, deviceID)
	m.mu.Unlock()

	s.Capture.Stop()
	if m.eventBus != nil {
		m.eventBus.Publish(events.SessionClosedEvent{
			DeviceID:  s.DeviceID,
			SessionID: s.ID,
			Reason:    "released_idle",
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
	m.log.Info("session released", "device", s.DeviceID, "session_id", s.ID)
}

// ListDevices returns every V4L2 capture device currently present,
// sorted by device id.
func (m *Manager) ListDevices() ([]devices.DeviceInfo, error) {
	list, err := m.detector.FindDevices()
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool { return list[i].DeviceId < list[j].DeviceId })
	return list, nil
}

func (m *Manager) reapLoop() {
	defer close(m.done)
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.reapOnce()
		}
	}
}

// ReapSweeps reports how many idle-reaper passes have run, exposed as a
// Prometheus counter.
func (m *Manager) ReapSweeps() uint64 {
	return m.reapSweeps.Load()
}

func (m *Manager) reapOnce() {
	m.reapSweeps.Add(1)
	now := time.Now()
	m.mu.Lock()
	var reaped []*Session
	for id, s := range m.sessions {
		if s.ClientCount() == 0 && s.idleFor(now) > m.idleTimeout {
			reaped = append(reaped, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range reaped {
		s.Capture.Stop()
		if m.eventBus != nil {
			m.eventBus.Publish(events.SessionClosedEvent{
				DeviceID:  s.DeviceID,
				SessionID: s.ID,
				Reason:    "idle_timeout",
				Timestamp: now.Format(time.RFC3339),
			})
		}
		m.log.Info("session reaped", "device", s.DeviceID, "session_id", s.ID)
	}
}
