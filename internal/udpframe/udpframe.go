// Package udpframe implements the fragmenting UDP sender: it splits a
// frame's bytes into MTU-sized fragments prefixed with a fixed framing
// header so a receiver can reassemble the original frame.
package udpframe

import (
	"encoding/binary"
	"fmt"
	"net"
)

// HeaderSize is the fixed 12-byte framing header: frame_id (u32),
// frag_id (u16), num_frags (u16), data_size (u32), all network byte order.
const HeaderSize = 12

// DefaultMTU matches a conservative Ethernet MTU; payload per fragment is
// DefaultMTU - HeaderSize = 1388 bytes.
const DefaultMTU = 1400

// Sender pushes fragmented frames to a fixed UDP destination.
type Sender struct {
	conn    *net.UDPConn
	mtu     int
	frameID uint32
}

// Dial opens a UDP socket to host:port.
func Dial(host string, port int) (*Sender, error) {
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("resolve %s:%d: %w", host, port, err)
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s:%d: %w", host, port, err)
	}
	return &Sender{conn: conn, mtu: DefaultMTU}, nil
}

// Close closes the underlying socket.
func (s *Sender) Close() error {
	return s.conn.Close()
}

// SendFrame fragments frame into (mtu-HeaderSize)-byte chunks, each
// prefixed with the framing header, and writes them in order. frag_id is a
// dense 0-based index; all fragments of one frame share frame_id and
// num_frags.
func (s *Sender) SendFrame(frame []byte) error {
	payloadSize := s.mtu - HeaderSize
	numFrags := (len(frame) + payloadSize - 1) / payloadSize
	if numFrags == 0 {
		numFrags = 1
	}

	frameID := s.frameID
	s.frameID++

	header := make([]byte, HeaderSize)
	for frag := 0; frag < numFrags; frag++ {
		start := frag * payloadSize
		end := start + payloadSize
		if end > len(frame) {
			end = len(frame)
		}
		chunk := frame[start:end]

		binary.BigEndian.PutUint32(header[0:4], frameID)
		binary.BigEndian.PutUint16(header[4:6], uint16(frag))
		binary.BigEndian.PutUint16(header[6:8], uint16(numFrags))
		binary.BigEndian.PutUint32(header[8:12], uint32(len(chunk)))

		packet := make([]byte, 0, HeaderSize+len(chunk))
		packet = append(packet, header...)
		packet = append(packet, chunk...)

		if _, err := s.conn.Write(packet); err != nil {
			return fmt.Errorf("send fragment %d/%d of frame %d: %w", frag, numFrags, frameID, err)
		}
	}
	return nil
}
