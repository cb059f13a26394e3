package kernel

import (
	"bytes"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/framepipe/frame"
)

func TestJPEGEncode_Prepare(t *testing.T) {
	k := NewJPEGEncode(nil)
	err := k.Prepare(
		frame.Info{Width: 64, Height: 48, Format: frame.FormatYUV420},
		frame.Info{Width: 64, Height: 48, Format: frame.FormatJPEG},
	)
	require.NoError(t, err)

	// A software task is installed when none was injected.
	assert.NotNil(t, k.task)
}

func TestJPEGEncode_PrepareRejectsFormats(t *testing.T) {
	k := NewJPEGEncode(nil)

	err := k.Prepare(
		frame.Info{Width: 64, Height: 48, Format: frame.FormatJPEG},
		frame.Info{Width: 64, Height: 48, Format: frame.FormatJPEG},
	)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	err = k.Prepare(
		frame.Info{Width: 64, Height: 48, Format: frame.FormatNV12},
		frame.Info{Width: 64, Height: 48, Format: frame.FormatNV12},
	)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestJPEGEncode_ProducesDecodableJPEG(t *testing.T) {
	for _, format := range []frame.PixelFormat{frame.FormatYUV420, frame.FormatNV12, frame.FormatNV21} {
		t.Run(format.String(), func(t *testing.T) {
			k := NewJPEGEncode(nil)
			in := newTestBuffer(t, 64, 48, format)
			out := newTestBuffer(t, 64, 48, frame.FormatJPEG)

			require.NoError(t, k.Prepare(in.Pixels().Info, out.Pixels().Info))
			require.NoError(t, k.Process(in, out, &frame.Settings{JPEGQuality: 80}))

			used := out.Pixels().BytesUsed()
			require.Greater(t, used, 0)
			require.Less(t, used, len(out.Pixels().Data))

			img, err := jpeg.Decode(bytes.NewReader(out.Pixels().Data[:used]))
			require.NoError(t, err)
			bounds := img.Bounds()
			assert.Equal(t, 64, bounds.Dx())
			assert.Equal(t, 48, bounds.Dy())
		})
	}
}

func TestJPEGTask_DestinationTooSmall(t *testing.T) {
	task := &JPEGTask{}
	in := newTestBuffer(t, 64, 48, frame.FormatYUV420)

	pix := &frame.PixelBuffer{
		Data: make([]byte, 16),
		Info: frame.Info{Width: 64, Height: 48, Format: frame.FormatJPEG},
	}
	out := frame.NewBuffer(pix)

	err := task.Encode(in, out, nil)
	assert.ErrorIs(t, err, ErrBufferTooSmall)
}
