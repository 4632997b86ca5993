// Package pixconv converts packed and semi-planar pixel formats coming out
// of a V4L2 device into planar I420 (4:2:0) for the H.264 encoder. Both
// functions are pure, allocation-free given correctly sized destination
// planes, and require even width/height.
package pixconv

// YUYVToI420 converts a packed YUYV422 frame (Y0 U0 Y1 V0 per 2-pixel
// group) into planar I420. dstY must be w*h bytes, dstU and dstV must each
// be (w/2)*(h/2) bytes. width and height must be even.
//
// Each 2x2 luma block's chroma is the average of the two U (resp. V)
// samples found in the corresponding 2-pixel YUYV group on each of the
// block's two rows.
func YUYVToI420(src []byte, width, height int, dstY, dstU, dstV []byte) {
	yStride := width * 2

	for row := 0; row < height; row++ {
		srcRow := src[row*yStride : row*yStride+yStride]
		dstRow := dstY[row*width : row*width+width]
		for col := 0; col < width; col += 2 {
			srcOff := col * 2
			dstRow[col] = srcRow[srcOff]
			dstRow[col+1] = srcRow[srcOff+2]
		}
	}

	chromaW := width / 2
	for blockRow := 0; blockRow < height/2; blockRow++ {
		topRow := src[(blockRow*2)*yStride : (blockRow*2)*yStride+yStride]
		botRow := src[(blockRow*2+1)*yStride : (blockRow*2+1)*yStride+yStride]
		uRow := dstU[blockRow*chromaW : blockRow*chromaW+chromaW]
		vRow := dstV[blockRow*chromaW : blockRow*chromaW+chromaW]
		for col := 0; col < width; col += 2 {
			srcOff := col * 2
			u := (uint16(topRow[srcOff+1]) + uint16(botRow[srcOff+1])) / 2
			v := (uint16(topRow[srcOff+3]) + uint16(botRow[srcOff+3])) / 2
			uRow[col/2] = byte(u)
			vRow[col/2] = byte(v)
		}
	}
}

// NV12ToI420 converts a semi-planar NV12 frame (one Y plane followed by an
// interleaved U/V plane, each possibly padded to yStride/uvStride) into
// planar I420. dstY must be w*h bytes, dstU and dstV must each be
// (w/2)*(h/2) bytes.
func NV12ToI420(srcY []byte, yStride int, srcUV []byte, uvStride int, width, height int, dstY, dstU, dstV []byte) {
	for row := 0; row < height; row++ {
		copy(dstY[row*width:row*width+width], srcY[row*yStride:row*yStride+width])
	}

	chromaW := width / 2
	for row := 0; row < height/2; row++ {
		srcRow := srcUV[row*uvStride : row*uvStride+width]
		uRow := dstU[row*chromaW : row*chromaW+chromaW]
		vRow := dstV[row*chromaW : row*chromaW+chromaW]
		for col := 0; col < chromaW; col++ {
			uRow[col] = srcRow[col*2]
			vRow[col] = srcRow[col*2+1]
		}
	}
}
