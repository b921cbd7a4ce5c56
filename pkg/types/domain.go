package types

// TopEntry is one ranked element of an output tensor.
type TopEntry struct {
	// Element index within the output.
	// example: 161
	Index int `json:"index" example:"161"`
	// Decoded element value.
	// example: 0.8125
	Value float32 `json:"value" example:"0.8125"`
}

// OutputReport summarizes one output tensor of one inference.
type OutputReport struct {
	// Output index in model order.
	// example: 0
	Index int `json:"index" example:"0"`
	// Output size in bytes.
	// example: 4000
	Bytes uint64 `json:"bytes" example:"4000"`
	// Largest elements, largest first. Empty when ranking is disabled.
	Top []TopEntry `json:"top,omitempty"`
	// File the raw output was written to, when dumping is enabled.
	DumpPath string `json:"dump_path,omitempty"`
}

// RunReport is the result of one inference over one input.
type RunReport struct {
	// Unique identifier of the inference.
	// example: 6f1c2a9e-3c1b-4f57-9f3e-0c7b8d1d2a4e
	RunID string `json:"run_id"`
	// Input file path, or "request" for HTTP bodies.
	Input string `json:"input"`
	// Input size in bytes.
	InputBytes uint64 `json:"input_bytes"`
	// Per-output summaries.
	Outputs []OutputReport `json:"outputs"`
	// Wall time of execute, in milliseconds.
	// example: 3.2
	ExecuteMS float64 `json:"execute_ms" example:"3.2"`
}
