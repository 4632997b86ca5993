package mp4frag

import (
	"encoding/binary"
	"testing"
)

func readBoxes(t *testing.T, buf []byte) map[string][]byte {
	t.Helper()
	boxes := make(map[string][]byte)
	off := 0
	for off+8 <= len(buf) {
		size := binary.BigEndian.Uint32(buf[off : off+4])
		typ := string(buf[off+4 : off+8])
		if size < 8 || off+int(size) > len(buf) {
			t.Fatalf("malformed box %s at offset %d: size=%d", typ, off, size)
		}
		boxes[typ] = buf[off+8 : off+int(size)]
		off += int(size)
	}
	return boxes
}

func TestBuildInitSegmentParsesAsBMFF(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x00, 0x1f, 0xAA}
	pps := []byte{0x68, 0xCE}
	f := New(640, 480, 30, sps, pps)

	init := f.BuildInitSegment()
	top := readBoxes(t, init)

	if _, ok := top["ftyp"]; !ok {
		t.Fatal("missing ftyp box")
	}
	moov, ok := top["moov"]
	if !ok {
		t.Fatal("missing moov box")
	}
	moovBoxes := readBoxes(t, moov)
	for _, want := range []string{"mvhd", "trak", "mvex"} {
		if _, ok := moovBoxes[want]; !ok {
			t.Errorf("moov missing %s box", want)
		}
	}
}

func TestBuildFragmentDataOffsetMatchesMdat(t *testing.T) {
	f := New(640, 480, 30, []byte{0x67, 0, 0, 0}, []byte{0x68})
	sample := []byte{0x00, 0x00, 0x00, 0x05, 0x65, 1, 2, 3, 4}

	frag := f.BuildFragment(sample, 1, 0, 3000, true)

	top := readBoxes(t, frag)
	moof, ok := top["moof"]
	if !ok {
		t.Fatal("missing moof box")
	}
	mdatPayload, ok := top["mdat"]
	if !ok {
		t.Fatal("missing mdat box")
	}
	if string(mdatPayload) != string(sample) {
		t.Fatalf("mdat payload mismatch: got %x want %x", mdatPayload, sample)
	}

	traf := readBoxes(t, moof)["traf"]
	trun := readBoxes(t, traf)["trun"]
	// version/flags(4) + count(4) + data_offset(4) ...
	dataOffset := binary.BigEndian.Uint32(trun[8:12])

	// moof's own 8-byte box header + its payload + mdat's 8-byte header =
	// offset to the first byte of mdat's payload, measured from moof's start.
	wantOffset := uint32(len(moof)) + 8 + 8
	if dataOffset != wantOffset {
		t.Fatalf("trun.data_offset = %d, want %d", dataOffset, wantOffset)
	}

	flags := binary.BigEndian.Uint32(trun[20:24])
	if flags != 0x02000000 {
		t.Fatalf("keyframe trun flags = %#x, want 0x02000000", flags)
	}
}
