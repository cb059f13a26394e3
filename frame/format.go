package frame

import "fmt"

// PixelFormat identifies the memory layout of a pixel buffer.
type PixelFormat int

// Supported pixel formats.
const (
	// FormatUnknown is the zero value and never valid for allocation.
	FormatUnknown PixelFormat = iota

	// FormatNV12 is semi-planar YUV 4:2:0, a full-size Y plane followed
	// by one interleaved CbCr plane at quarter resolution.
	FormatNV12

	// FormatNV21 is FormatNV12 with the chroma bytes swapped (CrCb).
	FormatNV21

	// FormatYUV420 is planar YUV 4:2:0 (I420): Y plane, then U, then V.
	FormatYUV420

	// FormatJPEG is a compressed blob destination. Its buffer is sized
	// for the worst case and the encoder records the bytes actually
	// written via PixelBuffer.SetBytesUsed.
	FormatJPEG
)

// String returns a readable format name for logging.
func (f PixelFormat) String() string {
	switch f {
	case FormatNV12:
		return "NV12"
	case FormatNV21:
		return "NV21"
	case FormatYUV420:
		return "YUV420"
	case FormatJPEG:
		return "JPEG"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// IsYUV reports whether the format is one of the uncompressed 4:2:0
// layouts the transform kernels operate on.
func (f PixelFormat) IsYUV() bool {
	return f == FormatNV12 || f == FormatNV21 || f == FormatYUV420
}

// Rect is a pixel-coordinate window, used for crop regions and the
// sensor active pixel array.
type Rect struct {
	Left   int
	Top    int
	Width  int
	Height int
}

// Empty reports whether the rectangle covers no pixels.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Equal reports whether two rectangles describe the same window.
func (r Rect) Equal(o Rect) bool {
	return r == o
}

// Info describes the geometry and format of a frame.
type Info struct {
	Width  int
	Height int
	// Stride is the luma row stride in bytes; zero means tightly packed
	// (stride == width).
	Stride int
	Format PixelFormat
}

// RowStride returns the effective luma row stride.
func (i Info) RowStride() int {
	if i.Stride > 0 {
		return i.Stride
	}
	return i.Width
}

// ByteSize returns the buffer size required to hold one frame of this
// geometry. For the 4:2:0 formats this is stride*height*3/2; for JPEG
// destinations it is a width*height worst-case blob size.
func (i Info) ByteSize() int {
	switch i.Format {
	case FormatNV12, FormatNV21, FormatYUV420:
		return i.RowStride() * i.Height * 3 / 2
	case FormatJPEG:
		return i.Width * i.Height
	default:
		return 0
	}
}

// Validate checks that the geometry can be allocated. The 4:2:0 formats
// additionally require even dimensions to keep chroma subsampling intact.
func (i Info) Validate() error {
	if i.Width <= 0 || i.Height <= 0 {
		return fmt.Errorf("invalid dimensions: %dx%d", i.Width, i.Height)
	}
	if i.Format.IsYUV() && (i.Width%2 != 0 || i.Height%2 != 0) {
		return fmt.Errorf("dimensions must be even for %s: %dx%d", i.Format, i.Width, i.Height)
	}
	if i.ByteSize() == 0 {
		return fmt.Errorf("cannot size buffer for format %s", i.Format)
	}
	return nil
}
