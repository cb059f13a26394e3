package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/framepipe/frame"
)

// newTestBuffer allocates a frame buffer and fills the luma plane with a
// horizontal gradient so transforms have structure to act on.
func newTestBuffer(t *testing.T, w, h int, f frame.PixelFormat) *frame.Buffer {
	t.Helper()

	pix, err := frame.HeapAllocator{}.Allocate(frame.Info{Width: w, Height: h, Format: f})
	require.NoError(t, err)

	if f.IsYUV() {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				pix.Data[y*w+x] = byte(x * 255 / w)
			}
		}
		// Neutral chroma.
		for i := w * h; i < len(pix.Data); i++ {
			pix.Data[i] = 128
		}
	}

	return frame.NewBuffer(pix)
}

func TestSplitPlanes(t *testing.T) {
	nv12 := newTestBuffer(t, 64, 48, frame.FormatNV12)
	ps, err := splitPlanes(nv12.Pixels())
	require.NoError(t, err)
	require.True(t, ps.interleaved)
	require.Len(t, ps.y, 64*48)
	require.Len(t, ps.uv, 64*48/2)

	i420 := newTestBuffer(t, 64, 48, frame.FormatYUV420)
	ps, err = splitPlanes(i420.Pixels())
	require.NoError(t, err)
	require.False(t, ps.interleaved)
	require.Len(t, ps.u, 32*24)
	require.Len(t, ps.v, 32*24)

	blob := newTestBuffer(t, 64, 48, frame.FormatJPEG)
	_, err = splitPlanes(blob.Pixels())
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}
