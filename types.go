package framepipe

import (
	"strings"

	"github.com/google/uuid"

	"github.com/opd-ai/framepipe/frame"
)

// Transform is a bitmask describing which post-processing operations a
// frame or stream requires. Common transforms apply to every stream of a
// capture session; stream transforms are per-output-stream. Bit order is
// the fixed priority the graph builder instantiates nodes in.
type Transform uint32

// Common (device-wide) transform bits.
const (
	TransformNone Transform = 0

	// TransformDigitalZoom crops the per-frame zoom window and scales
	// it back to full size.
	TransformDigitalZoom Transform = 1 << 1

	// TransformUVNR is chroma noise reduction. The bit is reserved in
	// the mask layout; no dedicated kernel is registered and the stage
	// runs as a plain copy when requested.
	TransformUVNR Transform = 1 << 2

	// TransformCropRotateScale is the combined crop/rotate/scale stage
	// required when any stream requests a rotated output.
	TransformCropRotateScale Transform = 1 << 3

	// TransformLensShading is software lens-shading correction, wired
	// when the sensor cannot apply it in hardware.
	TransformLensShading Transform = 1 << 4

	// TransformFaceDetect only derives metadata from frames; it is
	// wired pass-through and needs no destination buffer.
	TransformFaceDetect Transform = 1 << 5
)

// Per-stream transform bits.
const (
	// TransformScale resizes to the stream's target dimensions.
	TransformScale Transform = 1 << 7

	// TransformEncode compresses into the stream's blob format.
	TransformEncode Transform = 1 << 8

	// TransformCopy is the bare-copy stage injected so a fan-out branch
	// owns a private destination buffer.
	TransformCopy Transform = 1 << 9
)

const (
	minCommonShift = 1
	maxCommonShift = 6
	minStreamShift = 7
	maxStreamShift = 10
)

// noBufferTransforms are stages that observe frames without consuming a
// private destination buffer. They are excluded from the
// needs-post-processing decision and from terminal-stage selection.
const noBufferTransforms = TransformFaceDetect

var transformNames = map[Transform]string{
	TransformDigitalZoom:     "digitalzoom",
	TransformUVNR:            "uvnr",
	TransformCropRotateScale: "croprotatescale",
	TransformLensShading:     "lensshading",
	TransformFaceDetect:      "facedetect",
	TransformScale:           "scale",
	TransformEncode:          "encode",
	TransformCopy:            "copy",
}

// String lists the set bits for logging.
func (t Transform) String() string {
	if t == TransformNone {
		return "none"
	}
	var names []string
	for shift := minCommonShift; shift < maxStreamShift; shift++ {
		bit := Transform(1 << shift)
		if t&bit == 0 {
			continue
		}
		if name, ok := transformNames[bit]; ok {
			names = append(names, name)
		} else {
			names = append(names, "unknown")
		}
	}
	return strings.Join(names, "|")
}

// Regime is the policy for how a node obtains its destination buffer.
type Regime int

const (
	// RegimeInternal acquires destinations from the node's own pool.
	RegimeInternal Regime = iota
	// RegimeExternal pops externally supplied destination buffers.
	RegimeExternal
	// RegimePassThrough reuses the input buffer as the destination.
	RegimePassThrough
)

// String returns a readable regime name.
func (r Regime) String() string {
	switch r {
	case RegimeInternal:
		return "internal"
	case RegimeExternal:
		return "external"
	case RegimePassThrough:
		return "passthrough"
	default:
		return "invalid"
	}
}

// Level is a node's position in topological order, used for bulk
// lifecycle operations in a safe order. Every node belongs to exactly
// one level.
type Level int

const (
	LevelFirst Level = iota
	LevelMiddle
	LevelLast
	levelCount
)

// Status rides alongside every frame notification and encodes the
// outcome of the producing stage.
type Status int

const (
	// StatusOK means the buffer holds a complete frame.
	StatusOK Status = iota
	// StatusFailed means a transform failed; the buffer contents are
	// undefined but the buffer itself must still be released downstream.
	StatusFailed
	// StatusDropped means the frame was flushed or dropped; the buffer
	// carries no image data.
	StatusDropped
)

// String returns a readable status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	case StatusDropped:
		return "dropped"
	default:
		return "invalid"
	}
}

// Listener receives frame notifications from a producing stage. Both
// processing nodes and the final completion consumer implement it.
//
// A listener that keeps the buffer beyond the call must Retain it before
// returning and Release it when done.
type Listener interface {
	NotifyNewFrame(buf *frame.Buffer, settings *frame.Settings, status Status) error
}

// Stream describes one requested output stream of a capture session.
type Stream struct {
	// ID is the stream identity; output buffers carry it so the
	// pipeline can route them to the stream's terminal node.
	ID uuid.UUID

	Width    int
	Height   int
	Format   frame.PixelFormat
	Rotation int
}

// Info returns the frame geometry of the stream's output buffers.
func (s Stream) Info() frame.Info {
	return frame.Info{Width: s.Width, Height: s.Height, Format: s.Format}
}

// Capabilities is the static per-device capability set the graph builder
// consults. It is passed explicitly at construction; there is no ambient
// capability table.
type Capabilities struct {
	// MaxDigitalZoom above 1.0 wires the digital zoom stage.
	MaxDigitalZoom float64

	// SensorLensShading reports whether the sensor applies lens shading
	// correction in hardware. When false the software stage is wired.
	SensorLensShading bool

	// FaceDetect wires the pass-through detection stage.
	FaceDetect bool

	// ActivePixelArray is the sensor's full pixel window; zoom crop
	// regions are expressed in its coordinates.
	ActivePixelArray frame.Rect
}

// commonTransforms derives the device-wide transform mask.
func (c Capabilities) commonTransforms() Transform {
	t := TransformNone
	if c.MaxDigitalZoom > 1.0 {
		t |= TransformDigitalZoom
	}
	if !c.SensorLensShading {
		t |= TransformLensShading
	}
	if c.FaceDetect {
		t |= TransformFaceDetect
	}
	return t
}
