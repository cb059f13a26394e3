package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/framepipe/frame"
)

var testAPA = frame.Rect{Left: 0, Top: 0, Width: 1920, Height: 1080}

func TestDigitalZoom_FullWindowCopies(t *testing.T) {
	k := NewDigitalZoom(testAPA, nil)
	in := newTestBuffer(t, 192, 108, frame.FormatNV12)
	out := newTestBuffer(t, 192, 108, frame.FormatNV12)

	require.NoError(t, k.Prepare(in.Pixels().Info, out.Pixels().Info))
	require.NoError(t, k.Process(in, out, &frame.Settings{CropRegion: testAPA}))
	assert.Equal(t, in.Pixels().Data, out.Pixels().Data)
}

func TestDigitalZoom_EmptyCropCopies(t *testing.T) {
	k := NewDigitalZoom(testAPA, nil)
	in := newTestBuffer(t, 192, 108, frame.FormatNV12)
	out := newTestBuffer(t, 192, 108, frame.FormatNV12)

	require.NoError(t, k.Process(in, out, &frame.Settings{}))
	assert.Equal(t, in.Pixels().Data, out.Pixels().Data)
}

func TestDigitalZoom_MapWindow(t *testing.T) {
	k := NewDigitalZoom(testAPA, nil)
	in := frame.Info{Width: 192, Height: 108, Format: frame.FormatNV12}

	// 2x centered zoom on the active array.
	crop := frame.Rect{Left: 480, Top: 270, Width: 960, Height: 540}
	w := k.mapWindow(crop, in)

	assert.Equal(t, frame.Rect{Left: 48, Top: 26, Width: 96, Height: 54}, w)
	assert.Zero(t, w.Left%2)
	assert.Zero(t, w.Top%2)
}

func TestDigitalZoom_UpscalesCrop(t *testing.T) {
	k := NewDigitalZoom(testAPA, nil)
	in := newTestBuffer(t, 192, 108, frame.FormatNV12)
	out := newTestBuffer(t, 192, 108, frame.FormatNV12)

	// Zoom into the right half: the output left edge lands mid-gradient.
	crop := frame.Rect{Left: 960, Top: 270, Width: 960, Height: 540}
	require.NoError(t, k.Process(in, out, &frame.Settings{CropRegion: crop}))

	ps, err := splitPlanes(out.Pixels())
	require.NoError(t, err)
	assert.Greater(t, ps.y[0], byte(100))
}

func TestDigitalZoom_AcceleratorFallback(t *testing.T) {
	accel := &recordingAccelerator{err: ErrUnsupportedFormat}
	k := NewDigitalZoom(testAPA, accel)
	in := newTestBuffer(t, 192, 108, frame.FormatNV12)
	out := newTestBuffer(t, 192, 108, frame.FormatNV12)

	crop := frame.Rect{Left: 480, Top: 270, Width: 960, Height: 540}
	require.NoError(t, k.Process(in, out, &frame.Settings{CropRegion: crop}))
	assert.Equal(t, 1, accel.calls)
}

func TestDigitalZoom_PrepareRequiresActiveArray(t *testing.T) {
	k := NewDigitalZoom(frame.Rect{}, nil)
	err := k.Prepare(
		frame.Info{Width: 64, Height: 48, Format: frame.FormatNV12},
		frame.Info{Width: 64, Height: 48, Format: frame.FormatNV12},
	)
	assert.Error(t, err)
}
