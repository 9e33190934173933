package job

import "encoding/json"

// Result is the structured outcome of a single execution attempt. It is
// produced exactly once per attempt and never mutated afterward.
type Result struct {
	// Success reports whether the handler completed without error.
	Success bool `json:"success"`

	// Data is the JSON-encoded value returned by the handler on success.
	Data json.RawMessage `json:"data,omitempty"`

	// Error holds the failure message when Success is false.
	Error string `json:"error,omitempty"`

	// Metadata carries free-form diagnostic attributes (duration,
	// attempt number, timeout flag).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Succeeded builds a success Result from handler output. A nil value or
// unserializable output leaves Data empty; the execution still counts as
// a success.
func Succeeded(out any, metadata map[string]string) *Result {
	r := &Result{Success: true, Metadata: metadata}
	if out != nil {
		if data, err := json.Marshal(out); err == nil {
			r.Data = data
		}
	}
	return r
}

// Failed builds a failure Result from a handler error.
func Failed(err error, metadata map[string]string) *Result {
	return &Result{Success: false, Error: err.Error(), Metadata: metadata}
}
