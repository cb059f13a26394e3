package framepipe

import "errors"

// Sentinel errors for pipeline operations. These enable reliable error
// classification using errors.Is().

var (
	// ErrInvalidRegime indicates API misuse, such as adding an external
	// output buffer to a node that does not use external buffers. The
	// call returns immediately with no state change.
	ErrInvalidRegime = errors.New("operation not valid for node buffer regime")

	// ErrUnknownTransform indicates the graph builder encountered a
	// transform bit it has no kernel for. The stage is skipped.
	ErrUnknownTransform = errors.New("unknown transform type")

	// ErrUnknownNode indicates a node handle that is not part of the
	// pipeline.
	ErrUnknownNode = errors.New("node not owned by this pipeline")

	// ErrUnknownStream indicates an output buffer whose stream identity
	// was not part of the prepared stream set.
	ErrUnknownStream = errors.New("no terminal node for stream")

	// ErrNotPrepared indicates processFrame was called before a
	// successful prepare.
	ErrNotPrepared = errors.New("pipeline not prepared")
)
