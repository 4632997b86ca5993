package bitstream

import "testing"

func TestAnnexBToAVCCLengthPrefixed(t *testing.T) {
	annexB := []byte{
		0x00, 0x00, 0x00, 0x01, 0x67, 0xAA, 0xBB, // SPS, 4-byte start code
		0x00, 0x00, 0x01, 0x68, 0xCC, // PPS, 3-byte start code
		0x00, 0x00, 0x01, 0x65, 0xDD, 0xEE, // IDR slice
	}

	avcc := AnnexBToAVCC(annexB)

	want := []byte{
		0x00, 0x00, 0x00, 0x03, 0x67, 0xAA, 0xBB,
		0x00, 0x00, 0x00, 0x02, 0x68, 0xCC,
		0x00, 0x00, 0x00, 0x03, 0x65, 0xDD, 0xEE,
	}
	if len(avcc) != len(want) {
		t.Fatalf("len = %d, want %d (%x)", len(avcc), len(want), avcc)
	}
	for i := range want {
		if avcc[i] != want[i] {
			t.Fatalf("byte %d = %x, want %x", i, avcc[i], want[i])
		}
	}
}

func TestExtractSPSPPS(t *testing.T) {
	annexB := []byte{
		0x00, 0x00, 0x01, 0x65, 0x01, 0x02, // IDR slice before params (out of order on purpose)
		0x00, 0x00, 0x01, 0x67, 0xAA, 0xBB, // SPS
		0x00, 0x00, 0x01, 0x68, 0xCC, // PPS
	}

	sps, pps := ExtractSPSPPS(annexB)
	if len(sps) != 3 || sps[0] != 0x67 {
		t.Fatalf("sps = %x", sps)
	}
	if len(pps) != 2 || pps[0] != 0x68 {
		t.Fatalf("pps = %x", pps)
	}
}

func TestExtractSPSPPSWithGenuineTrailingZeroByte(t *testing.T) {
	// The SPS payload genuinely ends in two 0x00 bytes, immediately
	// followed by a 4-byte start code (which itself starts with two more
	// zero bytes). A backoff that strips every trailing zero byte before
	// the next start code would eat both, losing real payload; scanNALs
	// must only give up the one zero byte that the 4-byte start code
	// actually needs.
	annexB := []byte{
		0x00, 0x00, 0x01, 0x67, 0xAA, 0x00, 0x00, // SPS, payload ends 0x00 0x00
		0x00, 0x00, 0x00, 0x01, 0x68, 0xCC, // PPS, 4-byte start code
	}

	sps, pps := ExtractSPSPPS(annexB)
	if len(sps) != 4 || sps[0] != 0x67 || sps[1] != 0xAA || sps[2] != 0x00 || sps[3] != 0x00 {
		t.Fatalf("sps = %x, want 67 AA 00 00", sps)
	}
	if len(pps) != 2 || pps[0] != 0x68 || pps[1] != 0xCC {
		t.Fatalf("pps = %x, want 68 CC", pps)
	}
}

func TestFirstNALType(t *testing.T) {
	annexB := []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0xAA}
	if got := FirstNALType(annexB); got != NALTypeIDR {
		t.Fatalf("FirstNALType = %d, want %d", got, NALTypeIDR)
	}
	if got := FirstNALType(nil); got != -1 {
		t.Fatalf("FirstNALType(nil) = %d, want -1", got)
	}
}
