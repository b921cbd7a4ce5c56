// Package ortrt runs offline models on ONNX Runtime. It registers the "ort"
// backend. The process memory is the device memory, so the runtime always
// reports device run mode and Memcpy is a plain copy.
//
// The real implementation needs cgo and the 'ort' build tag; otherwise the
// backend fails to open with acl.ErrDependencyUnavailable.
package ortrt
