// Package mp4frag builds CMAF-compatible fragmented MP4: a single init
// segment (ftyp+moov+mvex) built once from SPS/PPS, and an unbounded
// series of moof+mdat fragments, one per encoded sample.
package mp4frag

import (
	"bytes"
	"encoding/binary"
)

func appendBE32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func appendBE64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func appendBE16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func appendBox(out *bytes.Buffer, payload []byte, boxType string) {
	appendBE32(out, uint32(len(payload)+8))
	out.WriteString(boxType)
	out.Write(payload)
}

func appendVersionFlags(buf *bytes.Buffer, version uint8, flags uint32) {
	buf.WriteByte(version)
	buf.WriteByte(byte(flags >> 16))
	buf.WriteByte(byte(flags >> 8))
	buf.WriteByte(byte(flags))
}

// Fragmenter is immutable after construction: width, height, framerate,
// and the cached SPS/PPS never change across the lifetime of one stream.
type Fragmenter struct {
	width, height int
	timescale     uint32
	sps, pps      []byte
}

// New constructs a Fragmenter from the negotiated geometry and the first
// observed SPS/PPS NAL payloads (without start codes).
func New(width, height, fps int, sps, pps []byte) *Fragmenter {
	return &Fragmenter{width: width, height: height, timescale: 90000, sps: sps, pps: pps}
}

// BuildInitSegment renders the ftyp+moov(+mvex) init segment once per
// stream, before any fragment is emitted.
func (f *Fragmenter) BuildInitSegment() []byte {
	var out bytes.Buffer

	// ftyp
	{
		var p bytes.Buffer
		p.WriteString("isom")
		appendBE32(&p, 0x00000200)
		p.WriteString("isom")
		p.WriteString("iso6")
		p.WriteString("avc1")
		appendBox(&out, p.Bytes(), "ftyp")
	}

	var moov bytes.Buffer

	// mvhd
	{
		var p bytes.Buffer
		appendVersionFlags(&p, 0, 0)
		appendBE32(&p, 0) // creation time
		appendBE32(&p, 0) // modification
		appendBE32(&p, f.timescale)
		appendBE32(&p, f.timescale*60) // duration placeholder
		appendBE32(&p, 0x00010000)     // rate 1.0
		appendBE16(&p, 0x0100)         // volume 1.0
		p.Write(make([]byte, 10))      // reserved
		matrix := [9]uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
		for _, m := range matrix {
			appendBE32(&p, m)
		}
		p.Write(make([]byte, 24)) // pre_defined
		appendBE32(&p, 2)         // next_track_ID
		appendBox(&moov, p.Bytes(), "mvhd")
	}

	var trak bytes.Buffer

	// tkhd
	{
		var p bytes.Buffer
		appendVersionFlags(&p, 0, 0x000007) // enabled, in movie, in preview
		appendBE32(&p, 0)                   // creation
		appendBE32(&p, 0)                   // modification
		appendBE32(&p, 1)                   // track id
		appendBE32(&p, 0)                   // reserved
		appendBE32(&p, f.timescale*60)      // duration placeholder
		appendBE64(&p, 0)                   // reserved
		appendBE16(&p, 0)                   // layer
		appendBE16(&p, 0)                   // alternate group
		appendBE16(&p, 0x0000)               // volume (0 for video)
		appendBE16(&p, 0)
		matrix := [9]uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
		for _, m := range matrix {
			appendBE32(&p, m)
		}
		appendBE32(&p, uint32(f.width)<<16)
		appendBE32(&p, uint32(f.height)<<16)
		appendBox(&trak, p.Bytes(), "tkhd")
	}

	var mdia bytes.Buffer

	// mdhd
	{
		var p bytes.Buffer
		appendVersionFlags(&p, 0, 0)
		appendBE32(&p, 0)
		appendBE32(&p, 0)
		appendBE32(&p, f.timescale)
		appendBE32(&p, f.timescale*60)
		appendBE16(&p, 0x55c4) // lang und
		appendBE16(&p, 0)
		appendBox(&mdia, p.Bytes(), "mdhd")
	}

	// hdlr
	{
		var p bytes.Buffer
		appendVersionFlags(&p, 0, 0)
		appendBE32(&p, 0)
		p.WriteString("vide")
		p.Write(make([]byte, 12))
		p.WriteString("video")
		p.WriteByte(0)
		appendBox(&mdia, p.Bytes(), "hdlr")
	}

	var minf bytes.Buffer

	// vmhd
	{
		var p bytes.Buffer
		appendVersionFlags(&p, 0, 0x000001)
		appendBE16(&p, 0)
		appendBE16(&p, 0)
		appendBE16(&p, 0)
		appendBE16(&p, 0)
		appendBox(&minf, p.Bytes(), "vmhd")
	}

	// dinf
	{
		var url bytes.Buffer
		appendVersionFlags(&url, 0, 0x000001) // self-contained
		var urlBox bytes.Buffer
		appendBox(&urlBox, url.Bytes(), "url ")

		var drefPayload bytes.Buffer
		appendVersionFlags(&drefPayload, 0, 0)
		appendBE32(&drefPayload, 1)
		drefPayload.Write(urlBox.Bytes())

		var drefBox bytes.Buffer
		appendBox(&drefBox, drefPayload.Bytes(), "dref")

		appendBox(&minf, drefBox.Bytes(), "dinf")
	}

	var stbl bytes.Buffer

	// stsd
	{
		var avc1 bytes.Buffer
		avc1.Write(make([]byte, 6)) // reserved
		appendBE16(&avc1, 1)        // data ref index
		avc1.Write(make([]byte, 16))
		appendBE16(&avc1, uint16(f.width))
		appendBE16(&avc1, uint16(f.height))
		appendBE32(&avc1, 0x00480000) // horiz resolution 72dpi
		appendBE32(&avc1, 0x00480000) // vert resolution
		appendBE32(&avc1, 0)          // reserved
		appendBE16(&avc1, 1)          // frame count
		avc1.Write(make([]byte, 32))  // compressorname
		appendBE16(&avc1, 0x0018)     // depth
		appendBE16(&avc1, 0xffff)     // pre-defined

		var avcc bytes.Buffer
		avcc.WriteByte(1) // configurationVersion
		if len(f.sps) >= 4 {
			avcc.WriteByte(f.sps[1])
			avcc.WriteByte(f.sps[2])
			avcc.WriteByte(f.sps[3])
		} else {
			avcc.Write(make([]byte, 3))
		}
		avcc.WriteByte(0xFF) // lengthSizeMinusOne = 3 (4-byte lengths)
		avcc.WriteByte(0xE1) // numOfSequenceParameterSets = 1
		appendBE16(&avcc, uint16(len(f.sps)))
		avcc.Write(f.sps)
		avcc.WriteByte(1) // numOfPictureParameterSets
		appendBE16(&avcc, uint16(len(f.pps)))
		avcc.Write(f.pps)

		appendBox(&avc1, avcc.Bytes(), "avcC")

		var avc1Box bytes.Buffer
		appendBox(&avc1Box, avc1.Bytes(), "avc1")

		var stsdPayload bytes.Buffer
		appendVersionFlags(&stsdPayload, 0, 0)
		appendBE32(&stsdPayload, 1)
		stsdPayload.Write(avc1Box.Bytes())
		appendBox(&stbl, stsdPayload.Bytes(), "stsd")
	}

	// stts, stsc, stsz, stco -- all empty since this is fragmented-only.
	{
		var p bytes.Buffer
		appendVersionFlags(&p, 0, 0)
		appendBE32(&p, 0)
		appendBox(&stbl, p.Bytes(), "stts")
	}
	{
		var p bytes.Buffer
		appendVersionFlags(&p, 0, 0)
		appendBE32(&p, 0)
		appendBox(&stbl, p.Bytes(), "stsc")
	}
	{
		var p bytes.Buffer
		appendVersionFlags(&p, 0, 0)
		appendBE32(&p, 0) // sample_size
		appendBE32(&p, 0) // sample_count
		appendBox(&stbl, p.Bytes(), "stsz")
	}
	{
		var p bytes.Buffer
		appendVersionFlags(&p, 0, 0)
		appendBE32(&p, 0)
		appendBox(&stbl, p.Bytes(), "stco")
	}

	var stblBox bytes.Buffer
	appendBox(&stblBox, stbl.Bytes(), "stbl")
	minf.Write(stblBox.Bytes())

	var minfBox bytes.Buffer
	appendBox(&minfBox, minf.Bytes(), "minf")
	mdia.Write(minfBox.Bytes())

	var mdiaBox bytes.Buffer
	appendBox(&mdiaBox, mdia.Bytes(), "mdia")
	trak.Write(mdiaBox.Bytes())

	var trakBox bytes.Buffer
	appendBox(&trakBox, trak.Bytes(), "trak")
	moov.Write(trakBox.Bytes())

	// mvex/trex
	{
		var trex bytes.Buffer
		appendVersionFlags(&trex, 0, 0)
		appendBE32(&trex, 1)          // track id
		appendBE32(&trex, 1)          // default sample description index (1-based)
		appendBE32(&trex, 0)          // default sample duration
		appendBE32(&trex, 0)          // default sample size
		appendBE32(&trex, 0x01000000) // default sample flags (non-sync)

		var trexBox bytes.Buffer
		appendBox(&trexBox, trex.Bytes(), "trex")

		var mvex bytes.Buffer
		mvex.Write(trexBox.Bytes())
		var mvexBox bytes.Buffer
		appendBox(&mvexBox, mvex.Bytes(), "mvex")
		moov.Write(mvexBox.Bytes())
	}

	appendBox(&out, moov.Bytes(), "moov")
	return out.Bytes()
}

// BuildFragment renders one moof+mdat pair for an AVCC-encoded sample.
// seq is the moof's mfhd.sequence_number (caller-supplied, must be
// monotonically non-decreasing within one responder's fragmenter).
// baseDecodeTime is the tfdt value in timescale units; sampleDuration is
// the per-sample duration in timescale units. keyframe selects the trun
// sample_flags pattern: 0x02000000 for sync samples, 0x01010000 otherwise
// -- treated as canonical rather than derived from first principles.
func (f *Fragmenter) BuildFragment(avccSample []byte, seq uint32, baseDecodeTime uint64, sampleDuration uint32, keyframe bool) []byte {
	var mfhd bytes.Buffer
	{
		var p bytes.Buffer
		appendVersionFlags(&p, 0, 0)
		appendBE32(&p, seq)
		appendBox(&mfhd, p.Bytes(), "mfhd")
	}

	var tfhd bytes.Buffer
	{
		var p bytes.Buffer
		appendVersionFlags(&p, 0, 0x020000) // default-base-is-moof
		appendBE32(&p, 1)                   // track id
		appendBox(&tfhd, p.Bytes(), "tfhd")
	}

	var tfdt bytes.Buffer
	{
		var p bytes.Buffer
		appendVersionFlags(&p, 0, 0)
		appendBE32(&p, uint32(baseDecodeTime))
		appendBox(&tfdt, p.Bytes(), "tfdt")
	}

	const trunPayloadSize = 4 + 4 + 4 + 4 + 4 + 4 // version/flags, count, offset, duration, size, flags
	const trunSize = trunPayloadSize + 8
	trafSize := uint32(tfhd.Len() + tfdt.Len() + trunSize + 8)
	moofSize := uint32(mfhd.Len()) + trafSize + 8
	dataOffset := moofSize + 8 // mdat header

	var trun bytes.Buffer
	{
		var p bytes.Buffer
		appendVersionFlags(&p, 0, 0x000701)
		appendBE32(&p, 1) // sample_count
		appendBE32(&p, dataOffset)
		appendBE32(&p, sampleDuration)
		appendBE32(&p, uint32(len(avccSample)))
		flags := uint32(0x01010000)
		if keyframe {
			flags = 0x02000000
		}
		appendBE32(&p, flags)
		appendBox(&trun, p.Bytes(), "trun")
	}

	var trafPayload bytes.Buffer
	trafPayload.Write(tfhd.Bytes())
	trafPayload.Write(tfdt.Bytes())
	trafPayload.Write(trun.Bytes())
	var traf bytes.Buffer
	appendBox(&traf, trafPayload.Bytes(), "traf")

	var moofPayload bytes.Buffer
	moofPayload.Write(mfhd.Bytes())
	moofPayload.Write(traf.Bytes())
	var moof bytes.Buffer
	appendBox(&moof, moofPayload.Bytes(), "moof")

	var out bytes.Buffer
	out.Write(moof.Bytes())
	appendBE32(&out, uint32(8+len(avccSample)))
	out.WriteString("mdat")
	out.Write(avccSample)
	return out.Bytes()
}
