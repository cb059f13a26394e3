// Package kernel provides the pluggable transform strategies hosted by
// pipeline processing nodes: plain copy, crop/scale/rotate, digital zoom,
// software lens-shading correction, and JPEG encoding.
//
// Each kernel implements the one-method-varies Kernel interface. Kernels
// that can offload to a hardware crop/scale accelerator accept an
// Accelerator and fall back to the software path when the accelerator
// fails, surfacing an error only when the software path fails too.
package kernel
