package kernel

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/opd-ai/framepipe/frame"
)

// planeSet is a view of the YUV planes inside one pixel buffer.
type planeSet struct {
	w, h    int
	y       []byte
	yStride int

	// Planar chroma (YUV420).
	u, v    []byte
	cStride int

	// Interleaved chroma (NV12/NV21). Dimensions are w/2 x h/2 pixel
	// pairs, two bytes each; stride equals the luma stride.
	uv          []byte
	interleaved bool
}

// splitPlanes slices a pixel buffer into its YUV plane views without
// copying.
func splitPlanes(pix *frame.PixelBuffer) (*planeSet, error) {
	info := pix.Info
	if !info.Format.IsYUV() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, info.Format)
	}

	stride := info.RowStride()
	ySize := stride * info.Height
	ps := &planeSet{
		w:       info.Width,
		h:       info.Height,
		y:       pix.Data[:ySize],
		yStride: stride,
	}

	switch info.Format {
	case frame.FormatNV12, frame.FormatNV21:
		ps.uv = pix.Data[ySize : ySize+stride*info.Height/2]
		ps.interleaved = true
	case frame.FormatYUV420:
		cSize := (stride / 2) * (info.Height / 2)
		ps.u = pix.Data[ySize : ySize+cSize]
		ps.v = pix.Data[ySize+cSize : ySize+2*cSize]
		ps.cStride = stride / 2
	}

	return ps, nil
}

// chromaRect maps a luma crop window to chroma coordinates.
func chromaRect(r frame.Rect) frame.Rect {
	return frame.Rect{
		Left:   r.Left / 2,
		Top:    r.Top / 2,
		Width:  r.Width / 2,
		Height: r.Height / 2,
	}
}

// scaleGrayPlane crops the window sr out of a single-byte plane and
// scales it into the whole destination plane using bilinear filtering.
func scaleGrayPlane(src []byte, srcW, srcH, srcStride int, sr frame.Rect,
	dst []byte, dstW, dstH, dstStride int) {

	srcImg := &image.Gray{Pix: src, Stride: srcStride, Rect: image.Rect(0, 0, srcW, srcH)}
	dstImg := &image.Gray{Pix: dst, Stride: dstStride, Rect: image.Rect(0, 0, dstW, dstH)}

	window := image.Rect(sr.Left, sr.Top, sr.Left+sr.Width, sr.Top+sr.Height)
	draw.ApproxBiLinear.Scale(dstImg, dstImg.Rect, srcImg, window, draw.Src, nil)
}

// scaleInterleavedPlane crops and scales a two-channel interleaved chroma
// plane with bilinear filtering applied to each channel independently.
// Widths, heights and the window are in chroma pixel-pair units; strides
// are in bytes.
func scaleInterleavedPlane(src []byte, srcW, srcH, srcStride int, sr frame.Rect,
	dst []byte, dstW, dstH, dstStride int) {

	if sr.Empty() {
		sr = frame.Rect{Width: srcW, Height: srcH}
	}

	xRatio := float64(sr.Width) / float64(dstW)
	yRatio := float64(sr.Height) / float64(dstH)

	for y := 0; y < dstH; y++ {
		srcY := float64(y) * yRatio
		y1 := int(srcY)
		y2 := y1 + 1
		if y2 >= sr.Height {
			y2 = sr.Height - 1
		}
		fy := srcY - float64(y1)

		row1 := (sr.Top + y1) * srcStride
		row2 := (sr.Top + y2) * srcStride
		dstRow := y * dstStride

		for x := 0; x < dstW; x++ {
			srcX := float64(x) * xRatio
			x1 := int(srcX)
			x2 := x1 + 1
			if x2 >= sr.Width {
				x2 = sr.Width - 1
			}
			fx := srcX - float64(x1)

			for c := 0; c < 2; c++ {
				p11 := float64(src[row1+(sr.Left+x1)*2+c])
				p12 := float64(src[row1+(sr.Left+x2)*2+c])
				p21 := float64(src[row2+(sr.Left+x1)*2+c])
				p22 := float64(src[row2+(sr.Left+x2)*2+c])

				top := p11*(1-fx) + p12*fx
				bottom := p21*(1-fx) + p22*fx
				dst[dstRow+x*2+c] = byte(top*(1-fy) + bottom*fy + 0.5)
			}
		}
	}
}

// rotateGrayPlane rotates a single-byte plane clockwise by 90 or 270
// degrees. The destination plane must be h x w.
func rotateGrayPlane(src []byte, w, h, srcStride int, dst []byte, dstStride int, degrees int) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			if degrees == 90 {
				dx, dy = h-1-y, x
			} else {
				dx, dy = y, w-1-x
			}
			dst[dy*dstStride+dx] = src[y*srcStride+x]
		}
	}
}

// rotateInterleavedPlane rotates a two-byte-pixel interleaved plane
// clockwise by 90 or 270 degrees. Dimensions are in pixel pairs.
func rotateInterleavedPlane(src []byte, w, h, srcStride int, dst []byte, dstStride int, degrees int) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var dx, dy int
			if degrees == 90 {
				dx, dy = h-1-y, x
			} else {
				dx, dy = y, w-1-x
			}
			dst[dy*dstStride+dx*2] = src[y*srcStride+x*2]
			dst[dy*dstStride+dx*2+1] = src[y*srcStride+x*2+1]
		}
	}
}

// compatibleYUV reports whether a software plane transform can run
// between the two formats. NV12 and NV21 are treated interchangeably,
// matching the hardware path.
func compatibleYUV(in, out frame.PixelFormat) bool {
	if !in.IsYUV() || !out.IsYUV() {
		return false
	}
	inPlanar := in == frame.FormatYUV420
	outPlanar := out == frame.FormatYUV420
	return inPlanar == outPlanar
}

// softwareCropScale crops the luma window sr out of src and scales it to
// fill dst. An empty window means the full source frame.
func softwareCropScale(src, dst *frame.PixelBuffer, sr frame.Rect) error {
	if !compatibleYUV(src.Info.Format, dst.Info.Format) {
		return fmt.Errorf("%w: %s -> %s", ErrUnsupportedFormat, src.Info.Format, dst.Info.Format)
	}

	in, err := splitPlanes(src)
	if err != nil {
		return err
	}
	out, err := splitPlanes(dst)
	if err != nil {
		return err
	}

	if sr.Empty() {
		sr = frame.Rect{Width: in.w, Height: in.h}
	}

	scaleGrayPlane(in.y, in.w, in.h, in.yStride, sr, out.y, out.w, out.h, out.yStride)

	cr := chromaRect(sr)
	if in.interleaved {
		scaleInterleavedPlane(in.uv, in.w/2, in.h/2, in.yStride, cr,
			out.uv, out.w/2, out.h/2, out.yStride)
	} else {
		scaleGrayPlane(in.u, in.w/2, in.h/2, in.cStride, cr, out.u, out.w/2, out.h/2, out.cStride)
		scaleGrayPlane(in.v, in.w/2, in.h/2, in.cStride, cr, out.v, out.w/2, out.h/2, out.cStride)
	}

	return nil
}
