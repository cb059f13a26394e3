package kernel

import (
	"errors"

	"github.com/opd-ai/framepipe/frame"
)

// Sentinel errors for kernel operations. These enable reliable error
// classification with errors.Is across the listener chain.
var (
	// ErrNeedNextInput signals that the kernel consumed the current
	// input but needs another frame pushed before a result is ready.
	// The hosting node keeps the destination buffer and waits for the
	// next input instead of notifying listeners. Used by multi-pass
	// kernels.
	ErrNeedNextInput = errors.New("kernel needs next input frame")

	// ErrUnsupportedFormat indicates the kernel cannot process the
	// combination of input and output pixel formats.
	ErrUnsupportedFormat = errors.New("unsupported pixel format")

	// ErrBufferTooSmall indicates a destination buffer cannot hold the
	// kernel's result.
	ErrBufferTooSmall = errors.New("destination buffer too small")
)

// Kernel is one transform strategy applied by a processing node.
//
// Process reads the input buffer and writes the transformed frame into
// the output buffer according to the per-frame settings. Implementations
// must be safe for one concurrent Process call per kernel instance (a
// node never runs its kernel concurrently with itself) and must not
// retain either buffer past the call.
type Kernel interface {
	// Name identifies the kernel in logs and node names.
	Name() string

	// Prepare is called once before traffic starts so the kernel can
	// validate formats and precompute tables for the given geometry.
	Prepare(in, out frame.Info) error

	// Process transforms in into out. A nil error means out holds a
	// complete frame; ErrNeedNextInput means the kernel wants another
	// input before producing a result; any other error fails this frame.
	Process(in, out *frame.Buffer, settings *frame.Settings) error
}
