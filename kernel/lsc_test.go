package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/framepipe/frame"
)

func TestDefaultShadingGrid_Shape(t *testing.T) {
	center := DefaultShadingGrid[8][8]
	corner := DefaultShadingGrid[0][0]

	// Unity in the center, boosted toward the corners.
	assert.Equal(t, uint16(1<<lscFracBits), center)
	assert.Greater(t, corner, center)
}

func TestBuildGainPlane_Interpolates(t *testing.T) {
	gains := buildGainPlane(DefaultShadingGrid, 64, 48)
	require.Len(t, gains, 64*48)

	centerGain := gains[24*64+32]
	cornerGain := gains[0]
	assert.Greater(t, cornerGain, centerGain)
}

func TestCorrectShading_AppliesAndClamps(t *testing.T) {
	const w, h = 4, 2
	src := []byte{100, 100, 100, 100, 200, 200, 200, 200}
	dst := make([]byte, len(src))

	gains := make([]uint16, w*h)
	for i := range gains {
		gains[i] = 2 << lscFracBits // 2.0 gain everywhere
	}

	require.NoError(t, CorrectShading(src, dst, w, h, w, gains))
	assert.Equal(t, byte(200), dst[0])
	assert.Equal(t, byte(255), dst[4], "gain result must clamp at 255")
}

func TestCorrectShading_GainPlaneTooSmall(t *testing.T) {
	err := CorrectShading(make([]byte, 16), make([]byte, 16), 4, 4, 4, make([]uint16, 4))
	assert.Error(t, err)
}

func TestLensShading_Process(t *testing.T) {
	k := NewLensShading(DefaultShadingGrid)
	in := newTestBuffer(t, 64, 48, frame.FormatNV12)
	out := newTestBuffer(t, 64, 48, frame.FormatNV12)

	// Uniform mid-gray luma makes the vignetting correction visible.
	for i := 0; i < 64*48; i++ {
		in.Pixels().Data[i] = 100
	}

	require.NoError(t, k.Prepare(in.Pixels().Info, out.Pixels().Info))
	require.NoError(t, k.Process(in, out, nil))

	ps, err := splitPlanes(out.Pixels())
	require.NoError(t, err)

	center := ps.y[24*64+32]
	corner := ps.y[0]
	assert.Greater(t, corner, center, "corners must be brightened more than the center")

	// Chroma passes through untouched.
	assert.Equal(t, byte(128), ps.uv[0])
}

func TestLensShading_PrepareRejectsResize(t *testing.T) {
	k := NewLensShading(DefaultShadingGrid)
	err := k.Prepare(
		frame.Info{Width: 64, Height: 48, Format: frame.FormatNV12},
		frame.Info{Width: 32, Height: 24, Format: frame.FormatNV12},
	)
	assert.Error(t, err)
}

func TestLensShading_InPlace(t *testing.T) {
	k := NewLensShading(DefaultShadingGrid)
	in := newTestBuffer(t, 64, 48, frame.FormatNV12)
	for i := 0; i < 64*48; i++ {
		in.Pixels().Data[i] = 100
	}
	out := frame.NewBuffer(in.Pixels())

	require.NoError(t, k.Prepare(in.Pixels().Info, out.Pixels().Info))
	require.NoError(t, k.Process(in, out, nil))

	assert.Greater(t, in.Pixels().Data[0], byte(100))
}
