package session

import (
	"testing"
	"time"

	"github.com/smazurov/videonode/internal/logging"
	"github.com/smazurov/videonode/internal/params"
)

func newTestManager() *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		idleTimeout: time.Minute,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		log:         logging.GetLogger("session"),
	}
}

func TestSnapshotReturnsLiveSessions(t *testing.T) {
	m := newTestManager()
	if got := m.Snapshot(); len(got) != 0 {
		t.Fatalf("Snapshot on empty manager = %d entries, want 0", len(got))
	}

	s := newSession("video0", params.DefaultCaptureParams())
	m.sessions["video0"] = s

	got := m.Snapshot()
	if len(got) != 1 || got[0] != s {
		t.Fatalf("Snapshot = %v, want [%v]", got, s)
	}
}

func TestReapSweepsIncrementsEveryPass(t *testing.T) {
	m := newTestManager()
	if got := m.ReapSweeps(); got != 0 {
		t.Fatalf("ReapSweeps before any pass = %d, want 0", got)
	}

	m.reapOnce()
	m.reapOnce()
	m.reapOnce()

	if got := m.ReapSweeps(); got != 3 {
		t.Fatalf("ReapSweeps after 3 passes = %d, want 3", got)
	}
}

func TestReapOnceRemovesOnlyIdleUnattachedSessions(t *testing.T) {
	m := newTestManager()
	m.idleTimeout = 10 * time.Millisecond

	idle := newSession("video0", params.DefaultCaptureParams())
	idle.lastAccessed.Store(time.Now().Add(-time.Hour).UnixNano())
	m.sessions["video0"] = idle

	busy := newSession("video1", params.DefaultCaptureParams())
	busy.lastAccessed.Store(time.Now().Add(-time.Hour).UnixNano())
	busy.AttachClient()
	m.sessions["video1"] = busy

	fresh := newSession("video2", params.DefaultCaptureParams())
	m.sessions["video2"] = fresh

	m.reapOnce()

	if _, ok := m.sessions["video0"]; ok {
		t.Fatal("idle, unattached session should have been reaped")
	}
	if _, ok := m.sessions["video1"]; !ok {
		t.Fatal("session with an attached client should survive a reap pass")
	}
	if _, ok := m.sessions["video2"]; !ok {
		t.Fatal("recently touched session should survive a reap pass")
	}
}
