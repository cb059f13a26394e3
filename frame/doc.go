// Package frame provides the buffer primitives for the post-processing
// pipeline: pixel buffers and their allocator, reference-counted frame
// buffers, bounded buffer pools, and immutable per-frame settings.
//
// A frame.Buffer is the unit of flow through the pipeline graph. Buffers
// are either pool-owned (cycling pool -> node -> pool) or externally
// supplied (delivered to the completion listener exactly once). The
// underlying frame.PixelBuffer is shared between aliased stream outputs
// and its identity is what the output synchronization handler keys on.
package frame
