// Package bitstream converts Annex-B H.264 byte streams (start-code
// delimited NAL units) to the AVCC length-prefixed form used inside MP4
// mdat boxes, and extracts the SPS/PPS parameter sets needed to build an
// MP4 avcC box.
package bitstream

import "encoding/binary"

// NAL types relevant to this package.
const (
	NALTypeSPS = 7
	NALTypePPS = 8
	NALTypeIDR = 5
)

// nalRange is a half-open [start, end) byte range into the original
// buffer, avoiding a copy per NAL during scanning.
type nalRange struct {
	start, end int
}

// isStartCode reports whether buf has an Annex-B start code beginning at
// pos: three bytes 00 00 01, or four bytes 00 00 00 01.
func isStartCode(buf []byte, pos int) bool {
	n := len(buf)
	if pos+2 >= n || buf[pos] != 0 || buf[pos+1] != 0 {
		return false
	}
	if buf[pos+2] == 1 {
		return true
	}
	return buf[pos+2] == 0 && pos+3 < n && buf[pos+3] == 1
}

// scanNALs walks buf looking for Annex-B start codes (three-byte 00 00 01
// or four-byte 00 00 00 01) and returns the payload range of each NAL unit
// found, in order. A NAL's end is the byte position where the next start
// code begins, found by scanning forward rather than by backing off
// trailing zero bytes, so literal zero padding between NALs is never
// mistaken for part of a start code.
func scanNALs(buf []byte) []nalRange {
	n := len(buf)
	var ranges []nalRange
	i := 0
	for i+3 < n {
		if !isStartCode(buf, i) {
			i++
			continue
		}
		scSize := 3
		if buf[i+2] == 0 {
			scSize = 4
		}
		start := i + scSize
		next := start
		for next+3 < n && !isStartCode(buf, next) {
			next++
		}
		end := n
		if next+3 < n {
			end = next
		}
		if start < end {
			ranges = append(ranges, nalRange{start: start, end: end})
		}
		i = next
	}
	return ranges
}

// AnnexBToAVCC converts an Annex-B buffer into a single concatenated AVCC
// buffer: each NAL is preceded by a 4-byte big-endian length with no start
// code, suitable as the payload of one mdat sample.
func AnnexBToAVCC(annexB []byte) []byte {
	ranges := scanNALs(annexB)

	total := 0
	for _, r := range ranges {
		total += 4 + (r.end - r.start)
	}

	out := make([]byte, total)
	off := 0
	for _, r := range ranges {
		n := r.end - r.start
		binary.BigEndian.PutUint32(out[off:], uint32(n))
		off += 4
		copy(out[off:], annexB[r.start:r.end])
		off += n
	}
	return out
}

// ExtractSPSPPS scans an Annex-B buffer for the first SPS (NAL type 7) and
// PPS (NAL type 8) NAL units and returns their payload bytes (without
// start code). Either return value is nil if that type wasn't found.
// Scanning stops as soon as both have been captured.
func ExtractSPSPPS(annexB []byte) (sps, pps []byte) {
	for _, r := range scanNALs(annexB) {
		if r.end <= r.start {
			continue
		}
		nalType := annexB[r.start] & 0x1F
		switch nalType {
		case NALTypeSPS:
			if sps == nil {
				sps = append([]byte(nil), annexB[r.start:r.end]...)
			}
		case NALTypePPS:
			if pps == nil {
				pps = append([]byte(nil), annexB[r.start:r.end]...)
			}
		}
		if sps != nil && pps != nil {
			break
		}
	}
	return sps, pps
}

// FirstNALType returns the NAL type of the first NAL unit in annexB, or -1
// if none is found.
func FirstNALType(annexB []byte) int {
	ranges := scanNALs(annexB)
	if len(ranges) == 0 {
		return -1
	}
	r := ranges[0]
	if r.end <= r.start {
		return -1
	}
	return int(annexB[r.start] & 0x1F)
}

// ContainsIDR reports whether any NAL unit in annexB is an IDR slice (type
// 5). An encoded access unit commonly carries SPS+PPS+IDR concatenated, so
// the keyframe flag can't be read off the first NAL alone.
func ContainsIDR(annexB []byte) bool {
	for _, r := range scanNALs(annexB) {
		if r.end <= r.start {
			continue
		}
		if annexB[r.start]&0x1F == NALTypeIDR {
			return true
		}
	}
	return false
}
