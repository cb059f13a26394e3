package kernel

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/framepipe/frame"
)

// shadingGridSize is the number of coefficient samples per axis in a
// sensor shading grid.
const shadingGridSize = 17

// lscFracBits is the fixed-point fraction width of shading gains:
// a gain of 1<<lscFracBits is unity.
const lscFracBits = 10

// ShadingGrid holds per-sensor lens shading gains sampled on a 17x17
// grid over the frame, row-major, in Q10 fixed point (1024 = 1.0).
// Grids come from the sensor tuning data.
type ShadingGrid [shadingGridSize][shadingGridSize]uint16

// DefaultShadingGrid is a generic vignetting profile: unity in the
// center rising toward the corners. It stands in when no tuned grid is
// configured.
var DefaultShadingGrid = func() ShadingGrid {
	var g ShadingGrid
	center := float64(shadingGridSize-1) / 2
	for y := 0; y < shadingGridSize; y++ {
		for x := 0; x < shadingGridSize; x++ {
			dx := (float64(x) - center) / center
			dy := (float64(y) - center) / center
			r2 := dx*dx + dy*dy
			g[y][x] = uint16((1.0 + 0.45*r2) * (1 << lscFracBits))
		}
	}
	return g
}()

// buildGainPlane expands a shading grid to one Q10 gain per pixel by
// bilinear interpolation.
func buildGainPlane(grid ShadingGrid, width, height int) []uint16 {
	gains := make([]uint16, width*height)
	cells := float64(shadingGridSize - 1)

	for y := 0; y < height; y++ {
		gy := float64(y) / float64(height-1) * cells
		y1 := int(gy)
		y2 := y1 + 1
		if y2 >= shadingGridSize {
			y2 = shadingGridSize - 1
		}
		fy := gy - float64(y1)

		for x := 0; x < width; x++ {
			gx := float64(x) / float64(width-1) * cells
			x1 := int(gx)
			x2 := x1 + 1
			if x2 >= shadingGridSize {
				x2 = shadingGridSize - 1
			}
			fx := gx - float64(x1)

			top := float64(grid[y1][x1])*(1-fx) + float64(grid[y1][x2])*fx
			bottom := float64(grid[y2][x1])*(1-fx) + float64(grid[y2][x2])*fx
			gains[y*width+x] = uint16(top*(1-fy) + bottom*fy + 0.5)
		}
	}

	return gains
}

// CorrectShading applies a precomputed per-pixel Q10 gain plane to a
// luma plane. It is a pure function over the raw pixel data; src and dst
// may alias.
func CorrectShading(src, dst []byte, width, height, stride int, gains []uint16) error {
	if len(gains) < width*height {
		return fmt.Errorf("gain plane too small: %d < %d", len(gains), width*height)
	}
	for y := 0; y < height; y++ {
		row := y * stride
		for x := 0; x < width; x++ {
			v := (uint32(src[row+x]) * uint32(gains[y*width+x])) >> lscFracBits
			if v > 255 {
				v = 255
			}
			dst[row+x] = byte(v)
		}
	}
	return nil
}

// LensShading corrects lens vignetting in software on frames whose
// sensor cannot apply the correction in hardware. Prepare expands the
// tuned 17x17 grid into a per-pixel gain plane for the frame geometry;
// Process applies the gains to the luma plane and copies chroma through.
type LensShading struct {
	grid   ShadingGrid
	gains  []uint16
	width  int
	height int
}

// NewLensShading creates the kernel with the given tuned grid.
func NewLensShading(grid ShadingGrid) *LensShading {
	return &LensShading{grid: grid}
}

// Name implements Kernel.
func (*LensShading) Name() string {
	return "SoftwareLsc"
}

// Prepare implements Kernel, precomputing the gain plane.
func (k *LensShading) Prepare(in, out frame.Info) error {
	if !in.Format.IsYUV() || !out.Format.IsYUV() {
		return fmt.Errorf("%w: %s -> %s", ErrUnsupportedFormat, in.Format, out.Format)
	}
	if in.Width != out.Width || in.Height != out.Height {
		return fmt.Errorf("shading correction cannot resize: %dx%d -> %dx%d",
			in.Width, in.Height, out.Width, out.Height)
	}

	k.width = in.Width
	k.height = in.Height
	k.gains = buildGainPlane(k.grid, in.Width, in.Height)

	logrus.WithFields(logrus.Fields{
		"function": "LensShading.Prepare",
		"width":    in.Width,
		"height":   in.Height,
	}).Info("Precomputed lens shading gain plane")

	return nil
}

// Process implements Kernel.
func (k *LensShading) Process(in, out *frame.Buffer, settings *frame.Settings) error {
	src := in.Pixels()
	dst := out.Pixels()

	if src.Info.Width != k.width || src.Info.Height != k.height {
		return fmt.Errorf("frame geometry %dx%d does not match prepared %dx%d",
			src.Info.Width, src.Info.Height, k.width, k.height)
	}

	inP, err := splitPlanes(src)
	if err != nil {
		return err
	}
	outP, err := splitPlanes(dst)
	if err != nil {
		return err
	}

	if err := CorrectShading(inP.y, outP.y, k.width, k.height, inP.yStride, k.gains); err != nil {
		return err
	}

	// Shading gains apply to luma only; chroma passes through.
	if src != dst {
		if inP.interleaved && outP.interleaved {
			copy(outP.uv, inP.uv)
		} else if !inP.interleaved && !outP.interleaved {
			copy(outP.u, inP.u)
			copy(outP.v, inP.v)
		} else {
			return fmt.Errorf("%w: %s -> %s", ErrUnsupportedFormat, src.Info.Format, dst.Info.Format)
		}
	}

	return nil
}
