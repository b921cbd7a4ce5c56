// Package acl describes the accelerator runtime consumed by the driver. The
// runtime is treated as an opaque capability set and is split by concern:
//
//   - Process: init/finalize, device, context, stream and run-mode queries.
//   - Memory: device and host allocation, copies between address spaces.
//   - Models: size query, load/unload, descriptors, datasets and execution.
//
// Handles returned by a Runtime are opaque integers. Callers pass them back to
// the runtime and never dereference device memory themselves; View is the only
// way to obtain bytes and it refuses device memory in host run mode.
//
// Backends register themselves by name (see Register/Open):
//
//   - "acl": the vendor runtime through cgo. Enabled with `-tags=acl`; a stub
//     returning ErrDependencyUnavailable is built otherwise.
//   - "sim": an in-process simulated runtime (package acl/sim).
//   - "ort": ONNX Runtime CPU sessions (package acl/ortrt, `-tags=ort`).
package acl
