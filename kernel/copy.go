package kernel

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/framepipe/frame"
)

// Copy is the bare buffer-copy kernel. The graph builder injects it for
// streams whose transform mask would otherwise be empty, so that every
// fan-out branch owns a private destination buffer. It is also the
// kernel behind pass-through observer stages, where input and output
// share storage and the copy short-circuits.
type Copy struct{}

// NewCopy creates a copy kernel.
func NewCopy() *Copy {
	return &Copy{}
}

// Name implements Kernel.
func (*Copy) Name() string {
	return "MemCopy"
}

// Prepare implements Kernel. A copy has nothing to precompute.
func (*Copy) Prepare(in, out frame.Info) error {
	return nil
}

// Process copies the smaller of the two buffer sizes, skipping entirely
// when input and output alias the same storage.
func (*Copy) Process(in, out *frame.Buffer, settings *frame.Settings) error {
	src := in.Pixels()
	dst := out.Pixels()
	if src == dst {
		return nil
	}

	n := len(src.Data)
	if len(dst.Data) < n {
		n = len(dst.Data)
	}
	copy(dst.Data[:n], src.Data[:n])

	logrus.WithFields(logrus.Fields{
		"function": "Copy.Process",
		"bytes":    n,
	}).Debug("Copied frame buffer")

	return nil
}
