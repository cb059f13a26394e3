package kernel

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/framepipe/frame"
)

// Descriptor describes one side of an accelerator transfer: the backing
// bytes plus the geometry and crop offsets the hardware needs.
type Descriptor struct {
	Data    []byte
	Format  frame.PixelFormat
	Width   int
	Height  int
	Stride  int
	OffsetX int
	OffsetY int
}

// Accelerator is the hardware crop/scale engine, exposed as a pure
// function over source and destination descriptors. Implementations wrap
// the platform's 2D blitter; tests substitute fakes. A nil Accelerator
// on a kernel selects the software path directly.
type Accelerator interface {
	CropScale(src, dst Descriptor) error
}

// descriptorFor builds the accelerator descriptor for a buffer with the
// given luma crop window.
func descriptorFor(pix *frame.PixelBuffer, window frame.Rect) Descriptor {
	if window.Empty() {
		window = frame.Rect{Width: pix.Info.Width, Height: pix.Info.Height}
	}
	return Descriptor{
		Data:    pix.Data,
		Format:  pix.Info.Format,
		Width:   window.Width,
		Height:  window.Height,
		Stride:  pix.Info.RowStride(),
		OffsetX: window.Left,
		OffsetY: window.Top,
	}
}

// CropScaleRotate adapts a frame to a stream's target size and rotation:
// it center-crops the source to the destination aspect ratio, scales,
// and rotates by 90 or 270 degrees clockwise when the settings ask for
// it, matching the hardware blitter's transform direction.
//
// The crop/scale step is offloaded to the Accelerator when one is
// configured; on accelerator failure or for rotated output the kernel
// runs the software plane path instead.
type CropScaleRotate struct {
	accel Accelerator
}

// NewCropScaleRotate creates the kernel. accel may be nil to force the
// software path.
func NewCropScaleRotate(accel Accelerator) *CropScaleRotate {
	return &CropScaleRotate{accel: accel}
}

// Name implements Kernel.
func (*CropScaleRotate) Name() string {
	return "ScaleRotation"
}

// Prepare validates that both sides are uncompressed 4:2:0 layouts the
// plane paths can handle.
func (k *CropScaleRotate) Prepare(in, out frame.Info) error {
	if !compatibleYUV(in.Format, out.Format) {
		return fmt.Errorf("%w: %s -> %s", ErrUnsupportedFormat, in.Format, out.Format)
	}
	if out.Format.IsYUV() && (out.Width%2 != 0 || out.Height%2 != 0) {
		return fmt.Errorf("odd output dimensions %dx%d", out.Width, out.Height)
	}
	return nil
}

// aspectCrop computes the centered crop of the source that matches the
// target aspect ratio, aligned down to 2 pixels.
func aspectCrop(srcW, srcH, dstW, dstH int) frame.Rect {
	inRatio := float64(srcW) / float64(srcH)
	outRatio := float64(dstW) / float64(dstH)

	var cropW, cropH int
	if inRatio < outRatio {
		cropW = srcW
		cropH = int(float64(srcW) / outRatio)
	} else {
		cropW = int(float64(srcH) * outRatio)
		cropH = srcH
	}
	cropW &^= 1
	cropH &^= 1

	return frame.Rect{
		Left:   (srcW - cropW) / 2,
		Top:    (srcH - cropH) / 2,
		Width:  cropW,
		Height: cropH,
	}
}

// Process implements Kernel.
func (k *CropScaleRotate) Process(in, out *frame.Buffer, settings *frame.Settings) error {
	src := in.Pixels()
	dst := out.Pixels()

	rotation := 0
	if settings != nil {
		rotation = settings.Rotation
	}

	// Rotation swaps the aspect the crop must match.
	dstW, dstH := dst.Info.Width, dst.Info.Height
	if rotation == 90 || rotation == 270 {
		dstW, dstH = dstH, dstW
	}
	window := aspectCrop(src.Info.Width, src.Info.Height, dstW, dstH)

	logrus.WithFields(logrus.Fields{
		"function":  "CropScaleRotate.Process",
		"crop":      fmt.Sprintf("%dx%d@%d,%d", window.Width, window.Height, window.Left, window.Top),
		"src":       fmt.Sprintf("%dx%d %s", src.Info.Width, src.Info.Height, src.Info.Format),
		"dst":       fmt.Sprintf("%dx%d %s", dst.Info.Width, dst.Info.Height, dst.Info.Format),
		"rotation":  rotation,
	}).Debug("Crop/scale/rotate frame")

	if rotation == 0 {
		if k.accel != nil {
			err := k.accel.CropScale(descriptorFor(src, window), descriptorFor(dst, frame.Rect{}))
			if err == nil {
				return nil
			}
			logrus.WithFields(logrus.Fields{
				"function": "CropScaleRotate.Process",
				"error":    err,
			}).Warn("Accelerator crop/scale failed, falling back to software")
		}
		return softwareCropScale(src, dst, window)
	}

	if rotation != 90 && rotation != 270 {
		return fmt.Errorf("unsupported rotation %d degrees", rotation)
	}

	// Software rotate: scale the crop to the transposed geometry, then
	// rotate plane by plane into the destination.
	tmpInfo := frame.Info{Width: dstW, Height: dstH, Format: dst.Info.Format}
	tmp, err := frame.HeapAllocator{}.Allocate(tmpInfo)
	if err != nil {
		return err
	}
	if err := softwareCropScale(src, tmp, window); err != nil {
		return err
	}
	return rotateFrame(tmp, dst, rotation)
}

// rotateFrame rotates every plane of src into dst. src must be the
// transposed geometry of dst.
func rotateFrame(src, dst *frame.PixelBuffer, degrees int) error {
	in, err := splitPlanes(src)
	if err != nil {
		return err
	}
	out, err := splitPlanes(dst)
	if err != nil {
		return err
	}

	rotateGrayPlane(in.y, in.w, in.h, in.yStride, out.y, out.yStride, degrees)
	if in.interleaved {
		rotateInterleavedPlane(in.uv, in.w/2, in.h/2, in.yStride, out.uv, out.yStride, degrees)
	} else {
		rotateGrayPlane(in.u, in.w/2, in.h/2, in.cStride, out.u, out.cStride, degrees)
		rotateGrayPlane(in.v, in.w/2, in.h/2, in.cStride, out.v, out.cStride, degrees)
	}
	return nil
}
