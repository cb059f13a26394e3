package kernel

import (
	"fmt"
	"image"
	"image/jpeg"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/framepipe/frame"
)

// EncodeTask compresses one frame into a blob destination buffer:
// settings in, encoded buffer out. The production system backs this with
// the hardware JPEG engine; JPEGTask is the software implementation.
type EncodeTask interface {
	Encode(in, out *frame.Buffer, settings *frame.Settings) error
}

// JPEGEncode is the encode-stage kernel for blob output streams. It owns
// an EncodeTask created lazily at Prepare when none was injected.
type JPEGEncode struct {
	task EncodeTask
}

// NewJPEGEncode creates the kernel. task may be nil; Prepare then
// installs the software JPEGTask.
func NewJPEGEncode(task EncodeTask) *JPEGEncode {
	return &JPEGEncode{task: task}
}

// Name implements Kernel.
func (*JPEGEncode) Name() string {
	return "JpegEnc"
}

// Prepare implements Kernel.
func (k *JPEGEncode) Prepare(in, out frame.Info) error {
	if !in.Format.IsYUV() {
		return fmt.Errorf("%w: encode input %s", ErrUnsupportedFormat, in.Format)
	}
	if out.Format != frame.FormatJPEG {
		return fmt.Errorf("%w: encode output %s", ErrUnsupportedFormat, out.Format)
	}
	if k.task == nil {
		logrus.WithFields(logrus.Fields{
			"function": "JPEGEncode.Prepare",
		}).Info("Creating software JPEG encode task")
		k.task = &JPEGTask{}
	}
	return nil
}

// Process implements Kernel.
func (k *JPEGEncode) Process(in, out *frame.Buffer, settings *frame.Settings) error {
	if err := k.task.Encode(in, out, settings); err != nil {
		return fmt.Errorf("jpeg encode: %w", err)
	}
	return nil
}

// JPEGTask encodes YUV 4:2:0 frames to JPEG in software.
type JPEGTask struct{}

// limitWriter writes into a fixed destination slice and fails once the
// encoded stream would overflow it.
type limitWriter struct {
	buf []byte
	n   int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	if w.n+len(p) > len(w.buf) {
		return 0, ErrBufferTooSmall
	}
	copy(w.buf[w.n:], p)
	w.n += len(p)
	return len(p), nil
}

// Encode implements EncodeTask, writing the JPEG stream directly into
// the destination blob buffer and recording the payload length.
func (t *JPEGTask) Encode(in, out *frame.Buffer, settings *frame.Settings) error {
	img, err := toYCbCr(in.Pixels())
	if err != nil {
		return err
	}

	quality := frame.DefaultJPEGQuality
	if settings != nil && settings.JPEGQuality > 0 {
		quality = settings.JPEGQuality
	}

	w := &limitWriter{buf: out.Pixels().Data}
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return err
	}
	out.Pixels().SetBytesUsed(w.n)

	logrus.WithFields(logrus.Fields{
		"function": "JPEGTask.Encode",
		"width":    in.Pixels().Info.Width,
		"height":   in.Pixels().Info.Height,
		"quality":  quality,
		"bytes":    w.n,
	}).Debug("Encoded JPEG frame")

	return nil
}

// toYCbCr views or converts a YUV pixel buffer as an image.YCbCr.
// Planar input is wrapped without copying; semi-planar chroma is
// deinterleaved into a fresh image.
func toYCbCr(pix *frame.PixelBuffer) (*image.YCbCr, error) {
	ps, err := splitPlanes(pix)
	if err != nil {
		return nil, err
	}

	rect := image.Rect(0, 0, ps.w, ps.h)
	if !ps.interleaved {
		return &image.YCbCr{
			Y:              ps.y,
			Cb:             ps.u,
			Cr:             ps.v,
			YStride:        ps.yStride,
			CStride:        ps.cStride,
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           rect,
		}, nil
	}

	img := image.NewYCbCr(rect, image.YCbCrSubsampleRatio420)
	for y := 0; y < ps.h; y++ {
		copy(img.Y[y*img.YStride:], ps.y[y*ps.yStride:y*ps.yStride+ps.w])
	}
	swapped := pix.Info.Format == frame.FormatNV21
	for y := 0; y < ps.h/2; y++ {
		row := ps.uv[y*ps.yStride:]
		for x := 0; x < ps.w/2; x++ {
			cb, cr := row[x*2], row[x*2+1]
			if swapped {
				cb, cr = cr, cb
			}
			img.Cb[y*img.CStride+x] = cb
			img.Cr[y*img.CStride+x] = cr
		}
	}
	return img, nil
}
