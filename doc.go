// Package framepipe assembles per-session graphs of frame
// post-processing stages for camera capture paths.
//
// A Pipeline is built from the device Capabilities and the session's
// output Stream descriptors: common stages (digital zoom, lens shading,
// rotation) form a shared prefix chain, and per-stream stages (scale,
// JPEG encode, bare copy) branch off it, one terminal node per stream.
// Captured frames are pushed in with ProcessFrame together with the
// application's destination buffers, flow through the graph on per-node
// worker goroutines, and come back through the registered Listener
// exactly once per destination buffer, on success, failure and flush
// alike.
//
// Pixel buffers are reference counted (package frame) and kernels
// (package kernel) are pure frame-to-frame transforms, so the pipeline
// itself only manages queueing, buffer ownership and fan-out.
package framepipe
