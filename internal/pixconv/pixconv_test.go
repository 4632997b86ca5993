package pixconv

import "testing"

func TestYUYVToI420PreservesY(t *testing.T) {
	const w, h = 4, 2
	src := []byte{
		10, 100, 20, 110, 30, 120, 40, 130, // row 0: Y U Y V x2
		50, 140, 60, 150, 70, 160, 80, 170, // row 1
	}
	dstY := make([]byte, w*h)
	dstU := make([]byte, (w/2)*(h/2))
	dstV := make([]byte, (w/2)*(h/2))

	YUYVToI420(src, w, h, dstY, dstU, dstV)

	wantY := []byte{10, 20, 30, 40, 50, 60, 70, 80}
	for i, v := range wantY {
		if dstY[i] != v {
			t.Errorf("Y[%d] = %d, want %d", i, dstY[i], v)
		}
	}
}

func TestYUYVToI420AveragesChroma(t *testing.T) {
	const w, h = 2, 2
	src := []byte{
		0, 100, 0, 120, // row 0: U=100, V=120
		0, 110, 0, 130, // row 1: U=110, V=130
	}
	dstY := make([]byte, w*h)
	dstU := make([]byte, 1)
	dstV := make([]byte, 1)

	YUYVToI420(src, w, h, dstY, dstU, dstV)

	if dstU[0] != 105 {
		t.Errorf("U = %d, want 105", dstU[0])
	}
	if dstV[0] != 125 {
		t.Errorf("V = %d, want 125", dstV[0])
	}
}

func TestNV12ToI420Deinterleaves(t *testing.T) {
	const w, h = 4, 2
	srcY := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	srcUV := []byte{100, 200, 101, 201} // one UV row for h/2=1
	dstY := make([]byte, w*h)
	dstU := make([]byte, (w/2)*(h/2))
	dstV := make([]byte, (w/2)*(h/2))

	NV12ToI420(srcY, w, srcUV, w, w, h, dstY, dstU, dstV)

	for i, v := range srcY {
		if dstY[i] != v {
			t.Errorf("Y[%d] = %d, want %d", i, dstY[i], v)
		}
	}
	wantU := []byte{100, 101}
	wantV := []byte{200, 201}
	for i := range wantU {
		if dstU[i] != wantU[i] {
			t.Errorf("U[%d] = %d, want %d", i, dstU[i], wantU[i])
		}
		if dstV[i] != wantV[i] {
			t.Errorf("V[%d] = %d, want %d", i, dstV[i], wantV[i])
		}
	}
}
