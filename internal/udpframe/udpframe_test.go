package udpframe

import (
	"encoding/binary"
	"net"
	"strconv"
	"testing"
	"time"
)

func TestSendFrameFragmentation(t *testing.T) {
	listener, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	_, portStr, _ := net.SplitHostPort(listener.LocalAddr().String())
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	sender, err := Dial("127.0.0.1", port)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sender.Close()
	sender.mtu = 20 // force fragmentation: payload = 8 bytes per fragment

	frame := []byte("0123456789ABCDEF") // 16 bytes -> 2 fragments of 8
	if err := sender.SendFrame(frame); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}

	buf := make([]byte, 64)
	got := make(map[uint16][]byte)
	listener.SetReadDeadline(time.Now().Add(time.Second))
	for i := 0; i < 2; i++ {
		n, _, err := listener.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		fragID := binary.BigEndian.Uint16(buf[4:6])
		numFrags := binary.BigEndian.Uint16(buf[6:8])
		if numFrags != 2 {
			t.Fatalf("num_frags = %d, want 2", numFrags)
		}
		got[fragID] = append([]byte(nil), buf[HeaderSize:n]...)
	}

	reassembled := append(append([]byte(nil), got[0]...), got[1]...)
	if string(reassembled) != string(frame) {
		t.Fatalf("reassembled = %q, want %q", reassembled, frame)
	}
}
