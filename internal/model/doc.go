// Package model owns one loaded offline model and the device memory around
// it. It is structured into small files by concern:
//
//   - process.go: Process type, options, state reporting.
//   - lifecycle.go: Load, Describe, Unload and Close.
//   - dataset.go: borrowing input and owning output bindings.
//   - execute.go: BindInput, AllocateOutputs, Execute, CollectOutputs.
//   - rank.go, decode.go, dump.go: post-processing of collected outputs.
//   - events.go: lifecycle events for observers and tests.
//
// Operations must be called in order: Load, Describe, AllocateOutputs, then
// BindInput/Execute/CollectOutputs/ReleaseInput once per inference. A Process
// is not safe for concurrent use; callers serialize access.
package model
