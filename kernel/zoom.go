package kernel

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/framepipe/frame"
)

// DigitalZoom crops the per-frame zoom window out of the input and
// upscales it to the full output frame.
//
// The zoom window in frame.Settings is expressed in active-pixel-array
// coordinates; the kernel maps it to input-buffer coordinates by ratio.
// A window covering the whole active array short-circuits to a plain
// copy. The crop/upscale is tried on the Accelerator first and falls
// back to the software plane path.
type DigitalZoom struct {
	apa   frame.Rect
	accel Accelerator
}

// NewDigitalZoom creates the kernel for a sensor with the given active
// pixel array. accel may be nil to force the software path.
func NewDigitalZoom(activePixelArray frame.Rect, accel Accelerator) *DigitalZoom {
	return &DigitalZoom{apa: activePixelArray, accel: accel}
}

// Name implements Kernel.
func (*DigitalZoom) Name() string {
	return "DigitalZoom"
}

// Prepare implements Kernel.
func (k *DigitalZoom) Prepare(in, out frame.Info) error {
	if k.apa.Empty() {
		return fmt.Errorf("empty active pixel array")
	}
	if !compatibleYUV(in.Format, out.Format) {
		return fmt.Errorf("%w: %s -> %s", ErrUnsupportedFormat, in.Format, out.Format)
	}
	return nil
}

// mapWindow converts an active-pixel-array crop window to input-buffer
// coordinates, aligned down to 2 pixels.
func (k *DigitalZoom) mapWindow(crop frame.Rect, in frame.Info) frame.Rect {
	wRatio := float64(crop.Width) / float64(k.apa.Width)
	hRatio := float64(crop.Height) / float64(k.apa.Height)
	hOff := float64(crop.Left-k.apa.Left) / float64(k.apa.Width)
	vOff := float64(crop.Top-k.apa.Top) / float64(k.apa.Height)

	w := frame.Rect{
		Left:   int(float64(in.Width) * hOff),
		Top:    int(float64(in.Height) * vOff),
		Width:  int(float64(in.Width) * wRatio),
		Height: int(float64(in.Height) * hRatio),
	}
	w.Left &^= 1
	w.Top &^= 1
	w.Width &^= 1
	w.Height &^= 1
	return w
}

// Process implements Kernel.
func (k *DigitalZoom) Process(in, out *frame.Buffer, settings *frame.Settings) error {
	src := in.Pixels()
	dst := out.Pixels()

	crop := frame.Rect{}
	if settings != nil {
		crop = settings.CropRegion
	}

	// No zoom requested: pass the frame through untouched.
	if crop.Empty() || crop.Equal(k.apa) {
		return NewCopy().Process(in, out, settings)
	}

	window := k.mapWindow(crop, src.Info)
	if window.Empty() {
		return fmt.Errorf("degenerate zoom window %+v", crop)
	}

	logrus.WithFields(logrus.Fields{
		"function": "DigitalZoom.Process",
		"crop":     fmt.Sprintf("%dx%d@%d,%d", window.Width, window.Height, window.Left, window.Top),
		"src":      fmt.Sprintf("%dx%d", src.Info.Width, src.Info.Height),
		"dst":      fmt.Sprintf("%dx%d", dst.Info.Width, dst.Info.Height),
	}).Debug("Digital zoom frame")

	if k.accel != nil {
		err := k.accel.CropScale(descriptorFor(src, window), descriptorFor(dst, frame.Rect{}))
		if err == nil {
			return nil
		}
		logrus.WithFields(logrus.Fields{
			"function": "DigitalZoom.Process",
			"error":    err,
		}).Warn("Accelerator zoom failed, using software crop/upscale")
	}

	return softwareCropScale(src, dst, window)
}
