//go:build linux && arm && !arm64

package v4l2

import (
	"syscall"
	"unsafe"
)

var (
	_ [48]byte  = [unsafe.Sizeof(v4l2_pix_format{})]byte{}
	_ [204]byte = [unsafe.Sizeof(v4l2_format{})]byte{}
	_ [20]byte  = [unsafe.Sizeof(v4l2_requestbuffers{})]byte{}
	_ [68]byte  = [unsafe.Sizeof(v4l2_buffer{})]byte{}
	_ [204]byte = [unsafe.Sizeof(v4l2_streamparm{})]byte{}
	_ [8]byte   = [unsafe.Sizeof(v4l2_control{})]byte{}
)

// v4l2_buffer has size 68 bytes on 32-bit ARM (struct timeval and the m
// union's unsigned long are both 4 bytes here).
type v4l2_buffer struct {
	index     uint32
	typ       uint32
	bytesused uint32
	flags     uint32
	field     uint32
	timestamp syscall.Timeval
	timecode  v4l2_timecode
	sequence  uint32
	memory    uint32
	m         uint32 // union; offset fits directly
	length    uint32
	reserved2 uint32
	reserved  uint32
}

func (b *v4l2_buffer) offset() uint32     { return b.m }
func (b *v4l2_buffer) setOffset(o uint32) { b.m = o }
