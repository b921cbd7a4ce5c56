package types

// InferResponse is returned by POST /infer.
type InferResponse struct {
	RunReport
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: input is 12 bytes, model expects 3145728
	Error string `json:"error" example:"input is 12 bytes, model expects 3145728"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Runtime backend name.
	// example: acl
	Backend string `json:"backend" example:"acl"`
	// Run mode reported by the runtime (host or device).
	// example: host
	RunMode string `json:"run_mode" example:"host"`
	// Path of the loaded model.
	Model string `json:"model"`
	// Lifecycle state (empty, loaded, ready, executing).
	// example: ready
	State string `json:"state" example:"ready"`
	// Input sizes in bytes, in model order.
	Inputs []uint64 `json:"inputs"`
	// Output sizes in bytes, in model order.
	Outputs []uint64 `json:"outputs"`
	// Work memory held by the model.
	WorkBytes uint64 `json:"work_bytes"`
	// Weight memory held by the model.
	WeightBytes uint64 `json:"weight_bytes"`
	// Completed inferences since start.
	// example: 12
	InferencesTotal uint64 `json:"inferences_total" example:"12"`
	// Last inference error, if any.
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
}
