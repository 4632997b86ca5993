package session

import (
	"testing"
	"time"

	"github.com/smazurov/videonode/internal/params"
)

func newTestSession() *Session {
	return newSession("video0", params.DefaultCaptureParams())
}

func TestAttachDetachClientCount(t *testing.T) {
	s := newTestSession()

	if got := s.AttachClient(); got != 1 {
		t.Fatalf("AttachClient = %d, want 1", got)
	}
	if got := s.AttachClient(); got != 2 {
		t.Fatalf("AttachClient = %d, want 2", got)
	}
	if got := s.DetachClient(); got != 1 {
		t.Fatalf("DetachClient = %d, want 1", got)
	}
	if got := s.DetachClient(); got != 0 {
		t.Fatalf("DetachClient = %d, want 0", got)
	}
	// must floor at zero, never go negative
	if got := s.DetachClient(); got != 0 {
		t.Fatalf("DetachClient = %d, want 0 (floored)", got)
	}
}

func TestTouchResetsIdleFor(t *testing.T) {
	s := newTestSession()
	s.lastAccessed.Store(time.Now().Add(-time.Hour).UnixNano())

	if idle := s.idleFor(time.Now()); idle < 59*time.Minute {
		t.Fatalf("idleFor = %v, want ~1h before Touch", idle)
	}

	s.Touch()
	if idle := s.idleFor(time.Now()); idle > time.Second {
		t.Fatalf("idleFor = %v, want ~0 after Touch", idle)
	}
}

func TestSPSPPSRoundTrip(t *testing.T) {
	s := newTestSession()
	if _, _, ok := s.SPSPPS(); ok {
		t.Fatal("expected no SPS/PPS before SetSPSPPS")
	}

	sps := []byte{0x67, 0x42, 0x00}
	pps := []byte{0x68, 0xCE}
	s.SetSPSPPS(sps, pps)

	gotSPS, gotPPS, ok := s.SPSPPS()
	if !ok {
		t.Fatal("expected SPS/PPS after SetSPSPPS")
	}
	if string(gotSPS) != string(sps) || string(gotPPS) != string(pps) {
		t.Fatalf("SPSPPS = %x/%x, want %x/%x", gotSPS, gotPPS, sps, pps)
	}
}

func TestNextSeqIsMonotonic(t *testing.T) {
	s := newTestSession()
	first := s.NextSeq()
	second := s.NextSeq()
	if second != first+1 {
		t.Fatalf("NextSeq sequence = %d, %d; want consecutive", first, second)
	}
}

func TestStatsReflectsRecordedBytes(t *testing.T) {
	s := newTestSession()
	s.RecordSent(3, 1500)
	s.RecordSent(2, 1000)

	stats := s.Stats()
	if stats.FramesSent != 5 {
		t.Errorf("FramesSent = %d, want 5", stats.FramesSent)
	}
	if stats.BytesSent != 2500 {
		t.Errorf("BytesSent = %d, want 2500", stats.BytesSent)
	}
	if stats.DeviceID != "video0" {
		t.Errorf("DeviceID = %q, want video0", stats.DeviceID)
	}
}
